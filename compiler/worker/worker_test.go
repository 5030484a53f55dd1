package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/runner"
	"github.com/arXiv/arxiv-compiler/compiler/sourceclient"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	err      error
	etag     string
	writeErr error
}

func (f *fakeSource) GetSourceContent(ctx context.Context, sourceID, token, saveTo string) (compiler.SourcePackage, error) {
	if f.err != nil {
		return compiler.SourcePackage{}, f.err
	}
	path := filepath.Join(saveTo, sourceID+".tar.gz")
	if err := os.WriteFile(path, []byte("source"), 0o644); err != nil {
		return compiler.SourcePackage{}, err
	}
	return compiler.SourcePackage{SourceID: sourceID, Path: path, ETag: f.etag}, nil
}

type fakeRunner struct {
	available bool
	result    runner.Result
	err       error
}

func (f *fakeRunner) IsAvailable() bool { return f.available }

func (f *fakeRunner) Run(ctx context.Context, pkg compiler.SourcePackage, format compiler.Format, opts runner.Options) (runner.Result, error) {
	return f.result, f.err
}

type fakeStore struct {
	statuses     map[string]compiler.Task
	setStatusErr error
	storeErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]compiler.Task{}}
}

func (f *fakeStore) GetStatus(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error) {
	task, ok := f.statuses[compiler.TaskID(sourceID, checksum, format)]
	if !ok {
		return compiler.Task{}, compiler.DoesNotExistError{}
	}
	return task, nil
}

func (f *fakeStore) SetStatus(ctx context.Context, task compiler.Task) error {
	if f.setStatusErr != nil {
		return f.setStatusErr
	}
	f.statuses[task.TaskID] = task
	return nil
}

func (f *fakeStore) StoreArtifact(ctx context.Context, sourceID, checksum string, format compiler.Format, content []byte) error {
	return f.storeErr
}

func (f *fakeStore) StoreLog(ctx context.Context, sourceID, checksum string, format compiler.Format, content []byte) error {
	return nil
}

func newWorker(t *testing.T, source worker.SourceFetcher, conv worker.ConverterRunner, store worker.Store) *worker.Worker {
	t.Helper()
	return worker.New(lager.NewLogger("test"), worker.Config{
		WorkerSourceRoot:     t.TempDir(),
		ChecksumVerification: true,
	}, source, conv, store)
}

func artifactResult(t *testing.T, workspace string) runner.Result {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "tex_cache"), 0o755))
	path := filepath.Join(workspace, "tex_cache", "54.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	return runner.Result{ArtifactPath: path}
}

func TestCompileSuccess(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{etag: "chk"}

	// the runner's Run is only invoked after source fetch writes the
	// scratch dir, so point the fake artifact at the worker's scratch root
	// indirectly via a shared directory the fake runner controls.
	workspace := t.TempDir()
	conv := &fakeRunner{available: true, result: artifactResult(t, workspace)}

	w := worker.New(lager.NewLogger("test"), worker.Config{WorkerSourceRoot: t.TempDir(), ChecksumVerification: true}, source, conv, store)

	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsCompleted())
	require.Equal(t, int64(4), task.SizeBytes)
	require.Equal(t, compiler.StatusCompleted, store.statuses[task.TaskID].Status)
}

func TestCompileAuthFailure(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{err: sourceclient.RequestUnauthorizedError{}}
	conv := &fakeRunner{available: true}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonAuthError, task.Reason)
	require.Equal(t, "There was a problem authorizing your request.", task.Description)
}

func TestCompileMissingSource(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{err: sourceclient.NotFoundError{}}
	conv := &fakeRunner{available: true}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonMissingSource, task.Reason)
}

func TestCompileChecksumMismatch(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{etag: "different-etag"}
	conv := &fakeRunner{available: true}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonMissingSource, task.Reason)
}

func TestCompileRunnerUnavailable(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{etag: "chk"}
	conv := &fakeRunner{available: false}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonDocker, task.Reason)
}

func TestCompileCorruptedSource(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{etag: "chk"}
	conv := &fakeRunner{available: true, err: compiler.CorruptedSourceError{Detail: "malicious content detected"}}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonCorruptedSource, task.Reason)
}

func TestCompileNoArtifact(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{etag: "chk"}
	conv := &fakeRunner{available: true, result: runner.Result{}}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonCompilationErrors, task.Reason)
}

func TestCompileStorageFailure(t *testing.T) {
	store := newFakeStore()
	store.storeErr = os.ErrPermission
	source := &fakeSource{etag: "chk"}

	workspace := t.TempDir()
	conv := &fakeRunner{available: true, result: artifactResult(t, workspace)}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.True(t, task.IsFailed())
	require.Equal(t, compiler.ReasonStorage, task.Reason)
	require.Equal(t, "Failed to store result", task.Description)
}

func TestCompileShortCircuitsOnTerminalRecord(t *testing.T) {
	store := newFakeStore()
	existing := compiler.NewInProgressTask("54", "chk", compiler.FormatPDF, "").Completed(10)
	store.statuses[existing.TaskID] = existing

	// A source client that would error if called at all.
	source := &fakeSource{err: sourceclient.RequestFailedError{}}
	conv := &fakeRunner{available: true}

	w := newWorker(t, source, conv, store)
	task := w.Compile(t.Context(), worker.Request{SourceID: "54", Checksum: "chk", OutputFormat: compiler.FormatPDF})

	require.Equal(t, existing, task)
}
