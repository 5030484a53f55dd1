// Package runner implements the Converter Runner: it bind-mounts a
// worker-writable workspace into a converter container, runs the image
// with the fixed flag vector the converter accepts, and classifies the
// resulting artifact and log.
//
// Execution is built on code.cloudfoundry.org/garden rather than the
// teacher's own Kubernetes-Pod-based worker backends
// (atc/worker/jetbridge, atc/worker/k8sruntime): a Garden container maps
// directly onto "bind one directory, run one process, capture output and
// exit code", where a Pod is built for long-lived multi-container
// orchestration the spec does not call for.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/garden"
	gardenclient "code.cloudfoundry.org/garden/client"
	gardenconn "code.cloudfoundry.org/garden/client/connection"
	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/creds"
	"github.com/google/uuid"
)

// Options carries the per-invocation inputs that vary across
// compilations: the stamp text/link, the dvips pass-through flags and the
// decryption/tree-timestamp identifiers.
type Options struct {
	StampLabel       string
	StampLink        string
	DecryptionID     string
	TexTreeTimestamp string
	DvipsU           bool
	DvipsP           bool
	DvipsD           bool
}

// Result is what the worker needs back from one invocation: the discovered
// artifact and log paths, either of which may be empty.
type Result struct {
	ArtifactPath string
	LogPath      string
}

// Runner executes the converter image exactly once per call and reports
// where its output landed.
type Runner struct {
	logger lager.Logger
	cfg    Config
	client garden.Client
	creds  *creds.Provider
}

func New(logger lager.Logger, cfg Config, credsProvider *creds.Provider) *Runner {
	conn := gardenconn.New(cfg.GardenNetwork, cfg.GardenAddress)
	return &Runner{
		logger: logger.Session("converter-runner"),
		cfg:    cfg,
		client: gardenclient.New(conn),
		creds:  credsProvider,
	}
}

// IsAvailable pings the container runtime API; any error, API or
// connection, is treated as unavailable.
func (r *Runner) IsAvailable() bool {
	if err := r.client.Ping(); err != nil {
		r.logger.Info("not-available", lager.Data{"error": err.Error()})
		return false
	}
	return true
}

// Run binds pkg's workspace into a fresh container, invokes the converter
// with the flag vector built from format and opts, and classifies its
// output. A nil error with an empty Result.ArtifactPath means the
// container ran but produced no artifact — the worker reports this as
// Reason "compilation_errors", not a runner-level failure.
func (r *Runner) Run(ctx context.Context, pkg compiler.SourcePackage, format compiler.Format, opts Options) (Result, error) {
	log := r.logger.Session("run", lager.Data{"source_id": pkg.SourceID})

	workspace := filepath.Dir(pkg.Path)
	hostBind, err := translatePath(workspace, r.cfg.WorkerSourceRoot, r.cfg.DindSourceRoot)
	if err != nil {
		return Result{}, wrapRuntimeError(err)
	}

	if r.cfg.PullEnabled && r.creds != nil && r.creds.Enabled() {
		if _, err := r.creds.Resolve(ctx); err != nil {
			log.Error("registry-credentials-failed", err)
			return Result{}, wrapRuntimeError(err)
		}
		// The resolved credentials are not used further and no image is
		// pulled here; Garden creates the container from RootFSPath on its
		// own. This call only surfaces credential failures early.
	}

	args := buildArgs(pkg.SourceID, format, r.cfg, opts)

	handle := "arxiv-compiler-" + uuid.NewString()
	container, err := r.client.Create(garden.ContainerSpec{
		Handle:     handle,
		RootFSPath: "docker:///" + r.cfg.Image,
		BindMounts: []garden.BindMount{
			{
				SrcPath: hostBind,
				DstPath: "/autotex",
				Mode:    garden.BindMountModeRW,
				Origin:  garden.BindMountOriginHost,
			},
		},
	})
	if err != nil {
		return Result{}, wrapRuntimeError(err)
	}
	defer func() {
		if err := r.client.Destroy(handle); err != nil {
			log.Error("destroy-container-failed", err)
		}
	}()

	var stdout, stderr bytes.Buffer
	process, err := container.Run(garden.ProcessSpec{
		Path: "/bin/autotex.pl",
		Args: args,
		Dir:  "/autotex",
	}, garden.ProcessIO{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		return Result{}, wrapRuntimeError(err)
	}

	if _, err := process.Wait(); err != nil {
		return Result{}, wrapRuntimeError(err)
	}

	if marker := findCorruptionMarker(stderr.String(), r.cfg.corruptionMarkers()); marker != "" {
		output, _ := discoverOutput(workspace, format, stdout.Bytes())
		return Result{LogPath: output.LogPath}, compiler.CorruptedSourceError{Detail: marker}
	}

	return discoverOutput(workspace, format, stdout.Bytes())
}

func buildArgs(sourceID string, format compiler.Format, cfg Config, opts Options) []string {
	props := compiler.Props(format)
	args := []string{"-S", "/autotex", "-p", sourceID, "-f", props.Ext}

	if opts.StampLabel != "" {
		args = append(args, "-l", opts.StampLabel)
	}
	if opts.StampLink != "" {
		args = append(args, "-L", opts.StampLink)
	}

	timeout := cfg.timeout()
	args = append(args, "-T", strconv.Itoa(int(timeout.Seconds())))
	args = append(args, "-t", cfg.layout())
	args = append(args, "-q")

	if cfg.Verbose {
		args = append(args, "-v")
	}
	if !cfg.StampsEnabled {
		args = append(args, "-s")
	}
	if opts.DvipsU {
		args = append(args, "-u")
	}
	if opts.DvipsP {
		args = append(args, "-P")
	}
	if opts.DvipsD {
		args = append(args, "-D")
	}
	if opts.DecryptionID != "" {
		args = append(args, "-d", opts.DecryptionID)
	}
	if opts.TexTreeTimestamp != "" {
		args = append(args, "-U", opts.TexTreeTimestamp)
	}

	return args
}

func findCorruptionMarker(stderr string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(stderr, m) {
			return m
		}
	}
	return ""
}

// discoverOutput implements §4.3's output-discovery step: scan tex_cache
// for the first file with the requested extension, and fall back to
// captured stdout when tex_logs/autotex.log is missing or empty.
func discoverOutput(workspace string, format compiler.Format, capturedStdout []byte) (Result, error) {
	props := compiler.Props(format)
	result := Result{}

	cacheDir := filepath.Join(workspace, "tex_cache")
	entries, err := os.ReadDir(cacheDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.HasSuffix(entry.Name(), "."+props.Ext) {
				result.ArtifactPath = filepath.Join(cacheDir, entry.Name())
				break
			}
		}
	}

	logPath := filepath.Join(workspace, "tex_logs", "autotex.log")
	info, statErr := os.Stat(logPath)
	if statErr == nil && info.Size() > 0 {
		result.LogPath = logPath
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return result, fmt.Errorf("runner: creating log directory: %w", err)
	}
	if err := os.WriteFile(logPath, capturedStdout, 0o644); err != nil {
		return result, fmt.Errorf("runner: writing fallback log: %w", err)
	}
	result.LogPath = logPath
	return result, nil
}
