// Package worker implements the Task Worker: the single entry point that
// drives one compilation job through its state machine end to end and
// writes the result via the Object Store Gateway.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/metric"
	"github.com/arXiv/arxiv-compiler/compiler/runner"
	"github.com/arXiv/arxiv-compiler/compiler/sourceclient"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// SourceFetcher is the subset of sourceclient.Client the worker depends on.
type SourceFetcher interface {
	GetSourceContent(ctx context.Context, sourceID, token, saveTo string) (compiler.SourcePackage, error)
}

// ConverterRunner is the subset of runner.Runner the worker depends on.
type ConverterRunner interface {
	IsAvailable() bool
	Run(ctx context.Context, pkg compiler.SourcePackage, format compiler.Format, opts runner.Options) (runner.Result, error)
}

// Store is the subset of store.Gateway the worker depends on.
type Store interface {
	GetStatus(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error)
	SetStatus(ctx context.Context, task compiler.Task) error
	StoreArtifact(ctx context.Context, sourceID, checksum string, format compiler.Format, content []byte) error
	StoreLog(ctx context.Context, sourceID, checksum string, format compiler.Format, content []byte) error
}

// Config controls the worker's scratch-directory placement and whether
// fetched-source verification is enforced.
type Config struct {
	WorkerSourceRoot      string `long:"worker-source-root"             description:"root directory under which the worker writes scratch source trees"`
	ChecksumVerification  bool   `long:"worker-checksum-verification"   description:"verify the fetched source's etag against the requested checksum" default:"true"`
}

// Request is do_compile's argument tuple.
type Request struct {
	SourceID     string
	Checksum     string
	OutputFormat compiler.Format
	StampLabel   string
	StampLink    string
	Token        string
	Owner        string
}

// Worker executes do_compile.
type Worker struct {
	logger  lager.Logger
	cfg     Config
	source  SourceFetcher
	runner  ConverterRunner
	store   Store
}

func New(logger lager.Logger, cfg Config, source SourceFetcher, conv ConverterRunner, store Store) *Worker {
	return &Worker{logger: logger.Session("worker"), cfg: cfg, source: source, runner: conv, store: store}
}

// Compile runs the full state machine for req and returns the final Task.
// It never returns an error: every failure mode is translated, exactly
// once, into a terminal Task with a Reason (spec §7 "classification rules
// are single-site").
func (w *Worker) Compile(ctx context.Context, req Request) compiler.Task {
	taskID := compiler.TaskID(req.SourceID, req.Checksum, req.OutputFormat)
	log := w.logger.Session("compile", lager.Data{"task_id": taskID})

	if existing, err := w.store.GetStatus(ctx, req.SourceID, req.Checksum, req.OutputFormat); err == nil && existing.IsTerminal() {
		log.Info("short-circuit-terminal")
		return existing
	}

	task := compiler.NewInProgressTask(req.SourceID, req.Checksum, req.OutputFormat, req.Owner)

	scratchDir := filepath.Join(w.cfg.WorkerSourceRoot, uuid.NewString())
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return w.finish(ctx, log, task.Failed(compiler.ReasonDocker, "Failed to create scratch directory"), nil, "")
	}
	defer w.cleanup(log, scratchDir)

	fetchStart := time.Now()
	pkg, err := w.source.GetSourceContent(ctx, req.SourceID, req.Token, scratchDir)
	if err != nil {
		reason := fetchReason(err)
		metric.RecordFetchDuration(ctx, time.Since(fetchStart), string(req.OutputFormat), string(reason))
		return w.finish(ctx, log, task.Failed(reason, fetchDescription(err)), nil, "")
	}
	metric.RecordFetchDuration(ctx, time.Since(fetchStart), string(req.OutputFormat), "")

	if w.cfg.ChecksumVerification && !compiler.ChecksumMatchesETag(req.Checksum, pkg.ETag) {
		log.Info("checksum-mismatch", lager.Data{"etag": pkg.ETag})
		return w.finish(ctx, log, task.Failed(compiler.ReasonMissingSource, "Fetched source does not match requested checksum"), nil, "")
	}

	if !w.runner.IsAvailable() {
		return w.finish(ctx, log, task.Failed(compiler.ReasonDocker, "Converter runtime is unavailable"), nil, "")
	}

	convertStart := time.Now()
	result, err := w.runner.Run(ctx, pkg, req.OutputFormat, runner.Options{
		StampLabel:       req.StampLabel,
		StampLink:        req.StampLink,
		TexTreeTimestamp: req.Checksum,
	})
	if err != nil {
		var corrupted compiler.CorruptedSourceError
		if asCorruptedSource(err, &corrupted) {
			metric.RecordConvertDuration(ctx, time.Since(convertStart), string(req.OutputFormat), string(compiler.ReasonCorruptedSource))
			return w.finish(ctx, log, task.Failed(compiler.ReasonCorruptedSource, corrupted.Error()), nil, result.LogPath)
		}
		metric.RecordConvertDuration(ctx, time.Since(convertStart), string(req.OutputFormat), string(compiler.ReasonDocker))
		return w.finish(ctx, log, task.Failed(compiler.ReasonDocker, "Converter invocation failed"), nil, result.LogPath)
	}
	metric.RecordConvertDuration(ctx, time.Since(convertStart), string(req.OutputFormat), "")

	if result.ArtifactPath == "" {
		return w.finish(ctx, log, task.Failed(compiler.ReasonCompilationErrors, "Converter produced no output artifact"), nil, result.LogPath)
	}

	artifact, err := os.ReadFile(result.ArtifactPath)
	if err != nil {
		return w.finish(ctx, log, task.Failed(compiler.ReasonDocker, "Failed to read compiled artifact"), nil, result.LogPath)
	}

	return w.finish(ctx, log, task.Completed(int64(len(artifact))), artifact, result.LogPath)
}

// finish performs §4.2's STORING -> DONE transition: write the artifact
// (if any), the log (if any), then the final status, with the status
// write attempted a best-effort second time on failure.
func (w *Worker) finish(ctx context.Context, log lager.Logger, task compiler.Task, artifact []byte, logPath string) compiler.Task {
	storeStart := time.Now()
	defer func() { metric.RecordStoreDuration(ctx, time.Since(storeStart), string(task.OutputFormat)) }()

	var storeErr error

	if task.IsCompleted() && artifact != nil {
		if err := w.store.StoreArtifact(ctx, task.SourceID, task.Checksum, task.OutputFormat, artifact); err != nil {
			storeErr = err
		}
	}

	if logPath != "" {
		if content, err := os.ReadFile(logPath); err == nil {
			if err := w.store.StoreLog(ctx, task.SourceID, task.Checksum, task.OutputFormat, content); err != nil {
				storeErr = combine(storeErr, err)
			}
		}
	}

	if storeErr != nil {
		log.Error("store-failed", storeErr)
		task = task.Failed(compiler.ReasonStorage, "Failed to store result")
	}

	if err := w.store.SetStatus(ctx, task); err != nil {
		log.Error("set-status-failed", err)
		// Best-effort second attempt; its own failure is logged, never
		// returned, per the open-question decision recorded in SPEC_FULL.md §9.
		if err := w.store.SetStatus(ctx, task.Failed(compiler.ReasonStorage, "Failed to store result")); err != nil {
			log.Error("set-status-retry-failed", err)
		}
	}

	return task
}

func (w *Worker) cleanup(log lager.Logger, scratchDir string) {
	if err := os.RemoveAll(scratchDir); err != nil {
		log.Error("scratch-cleanup-failed", err)
	}
}

func combine(existing, next error) error {
	if existing == nil {
		return next
	}
	return multierror.Append(existing, next)
}

func fetchReason(err error) compiler.Reason {
	switch err.(type) {
	case sourceclient.RequestUnauthorizedError, sourceclient.RequestForbiddenError:
		return compiler.ReasonAuthError
	case sourceclient.NotFoundError:
		return compiler.ReasonMissingSource
	case sourceclient.ConnectionFailedError, sourceclient.SecurityExceptionError:
		return compiler.ReasonNetworkError
	default:
		return compiler.ReasonNetworkError
	}
}

func fetchDescription(err error) string {
	switch err.(type) {
	case sourceclient.RequestUnauthorizedError, sourceclient.RequestForbiddenError:
		return "There was a problem authorizing your request."
	case sourceclient.NotFoundError:
		return "The requested source could not be found."
	default:
		return fmt.Sprintf("A network error occurred while fetching the source: %s", err.Error())
	}
}

func asCorruptedSource(err error, target *compiler.CorruptedSourceError) bool {
	if cs, ok := err.(compiler.CorruptedSourceError); ok {
		*target = cs
		return true
	}
	return false
}
