package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	arxivcompiler "github.com/arXiv/arxiv-compiler"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/api"
	"github.com/arXiv/arxiv-compiler/compiler/auth"
	"github.com/arXiv/arxiv-compiler/compiler/config"
	"github.com/arXiv/arxiv-compiler/compiler/creds"
	"github.com/arXiv/arxiv-compiler/compiler/dispatch"
	"github.com/arXiv/arxiv-compiler/compiler/metric"
	"github.com/arXiv/arxiv-compiler/compiler/runner"
	"github.com/arXiv/arxiv-compiler/compiler/sourceclient"
	"github.com/arXiv/arxiv-compiler/compiler/store"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
	"code.cloudfoundry.org/lager/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/arXiv/arxiv-compiler/tracing"
	flags "github.com/jessevdk/go-flags"
)

// CompileServerCommand is the root command, modeled on cmd/concourse's
// ConcourseCommand: a single go-flags destination covering every
// subsystem, resolved into a running server by Execute.
type CompileServerCommand struct {
	Version func() `short:"v" long:"version" description:"Print the version of the compile service and exit"`

	config.Config
}

func (cmd *CompileServerCommand) Execute(_ []string) error {
	logger, _ := newLogger()
	ctx := context.Background()

	shutdownTracing, err := tracing.ConfigureTracerProvider(ctx, tracing.Config{
		Enabled:  cmd.Tracing.Enabled,
		Endpoint: cmd.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("configuring tracer provider: %w", err)
	}
	defer shutdownTracing(ctx)

	s3Client, err := store.NewClient(ctx, cmd.Store)
	if err != nil {
		return fmt.Errorf("building store client: %w", err)
	}
	objectStore := store.New(logger, cmd.Store, s3Client)
	if err := objectStore.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	source := sourceclient.New(logger, cmd.SourceClient)
	credsProvider := creds.NewProvider(cmd.Creds)
	conv := runner.New(logger, cmd.Runner, credsProvider)
	compileWorker := worker.New(logger, cmd.Worker, source, conv, objectStore)

	queue := dispatch.NewInProcessQueue(logger, cmd.Queue.Concurrency, cmd.Queue.BufferSize)
	backend := dispatch.NewInMemoryBackend()
	dispatcher := dispatch.New(logger, queue, backend, objectStore, compileWorker)

	defaultFormat, err := compiler.ParseFormat(cmd.DefaultOutputFormat)
	if err != nil {
		return fmt.Errorf("parsing default-output-format: %w", err)
	}

	metric.InitCompileMetrics()
	metricsRegistry := metric.NewRegistry(prometheus.DefaultRegisterer)
	apiCfg := api.Config{
		ChecksumVerificationEnabled: cmd.Auth.ChecksumVerification,
		DefaultOutputFormat:         defaultFormat,
	}
	server := api.NewServer(logger, apiCfg, dispatcher, objectStore, source, auth.Default, metricsRegistry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Router())

	httpServer := &http.Server{Addr: cmd.Server.BindAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", lager.Data{"addr": cmd.Server.BindAddr, "version": arxivcompiler.Version})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting-down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cmd.StatusPollInterval)
		defer cancel()
		queue.Close()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func newLogger() (lager.Logger, *lager.ReconfigurableSink) {
	logger, sink := lager.NewLogger("arxiv-compiler"), lager.NewReconfigurableSink(lager.NewWriterSink(os.Stdout, lager.DEBUG), lager.INFO)
	logger.RegisterSink(sink)
	return logger, sink
}

func (cmd *CompileServerCommand) LessenRequirements(parser *flags.Parser) {
	// No required flags are relaxed for local/dev use at this time; present
	// for parity with cmd/concourse's per-subcommand hook.
	_ = parser
}
