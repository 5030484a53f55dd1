package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/api"
	"github.com/arXiv/arxiv-compiler/compiler/auth"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
	"github.com/stretchr/testify/require"
)

type fakeDispatch struct {
	tasks     map[string]compiler.Task
	startErr  error
	available bool
}

func newFakeDispatch() *fakeDispatch {
	return &fakeDispatch{tasks: map[string]compiler.Task{}, available: true}
}

func (f *fakeDispatch) Start(ctx context.Context, req worker.Request) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	taskID := compiler.TaskID(req.SourceID, req.Checksum, req.OutputFormat)
	f.tasks[taskID] = compiler.NewInProgressTask(req.SourceID, req.Checksum, req.OutputFormat, req.Owner)
	return taskID, nil
}

func (f *fakeDispatch) Get(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error) {
	taskID := compiler.TaskID(sourceID, checksum, format)
	task, ok := f.tasks[taskID]
	if !ok {
		return compiler.Task{}, compiler.NoSuchTaskError{TaskID: taskID}
	}
	return task, nil
}

func (f *fakeDispatch) IsAvailable(ctx context.Context) bool { return f.available }

type fakeStore struct {
	artifacts map[string]compiler.Product
	available bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{artifacts: map[string]compiler.Product{}, available: true}
}

func (f *fakeStore) RetrieveArtifact(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Product, error) {
	p, ok := f.artifacts[compiler.TaskID(sourceID, checksum, format)]
	if !ok {
		return compiler.Product{}, compiler.DoesNotExistError{Key: sourceID}
	}
	return p, nil
}

func (f *fakeStore) RetrieveLog(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Product, error) {
	return compiler.Product{Stream: []byte("log output")}, nil
}

func (f *fakeStore) IsAvailable(ctx context.Context) bool { return f.available }

type fakeOwners struct {
	owner string
	err   error
}

func (f *fakeOwners) Owner(ctx context.Context, sourceID, checksum, token string) (string, error) {
	return f.owner, f.err
}

func newTestServer(d *fakeDispatch, st *fakeStore, ow *fakeOwners) http.Handler {
	cfg := api.Config{ChecksumVerificationEnabled: false, DefaultOutputFormat: compiler.FormatPDF}
	srv := api.NewServer(lager.NewLogger("test"), cfg, d, st, ow, auth.Default, nil)
	return srv.Router()
}

func TestCompileCreatesNewTask(t *testing.T) {
	d, st, ow := newFakeDispatch(), newFakeStore(), &fakeOwners{owner: "84843"}
	router := newTestServer(d, st, ow)

	body, _ := json.Marshal(map[string]string{"source_id": "1401.1234", "checksum": "abc123"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Location"))
}

func TestCompileRedirectsOnExisting(t *testing.T) {
	d, st, ow := newFakeDispatch(), newFakeStore(), &fakeOwners{owner: "84843"}
	checksum := "abc123"
	d.tasks[compiler.TaskID("1401.1234", checksum, compiler.FormatPDF)] = compiler.NewInProgressTask("1401.1234", checksum, compiler.FormatPDF, "")
	router := newTestServer(d, st, ow)

	body, _ := json.Marshal(map[string]string{"source_id": "1401.1234", "checksum": "abc123"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestCompileRejectsInvalidSourceID(t *testing.T) {
	router := newTestServer(newFakeDispatch(), newFakeStore(), &fakeOwners{})

	body, _ := json.Marshal(map[string]string{"source_id": "bad id!", "checksum": "abc"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatusNotFound(t *testing.T) {
	router := newTestServer(newFakeDispatch(), newFakeStore(), &fakeOwners{})

	req := httptest.NewRequest(http.MethodGet, "/1401.1234/abc123/pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatusForbiddenForOtherOwner(t *testing.T) {
	d := newFakeDispatch()
	task := compiler.NewInProgressTask("1401.1234", "abc123", compiler.FormatPDF, "84843")
	d.tasks[task.TaskID] = task
	router := newTestServer(d, newFakeStore(), &fakeOwners{})

	req := httptest.NewRequest(http.MethodGet, "/1401.1234/abc123/pdf", nil)
	req.Header.Set("Authorization", "Bearer someone-else")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetStatusOKPublicTask(t *testing.T) {
	d := newFakeDispatch()
	task := compiler.NewInProgressTask("1401.1234", "abc123", compiler.FormatPDF, "")
	d.tasks[task.TaskID] = task
	router := newTestServer(d, newFakeStore(), &fakeOwners{})

	req := httptest.NewRequest(http.MethodGet, "/1401.1234/abc123/pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProductNotReadyReturnsNotFound(t *testing.T) {
	d := newFakeDispatch()
	task := compiler.NewInProgressTask("1401.1234", "abc123", compiler.FormatPDF, "")
	d.tasks[task.TaskID] = task
	router := newTestServer(d, newFakeStore(), &fakeOwners{})

	req := httptest.NewRequest(http.MethodGet, "/1401.1234/abc123/pdf/product", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProductStreamsArtifact(t *testing.T) {
	d, st := newFakeDispatch(), newFakeStore()
	task := compiler.NewInProgressTask("1401.1234", "abc123", compiler.FormatPDF, "").Completed(3)
	d.tasks[task.TaskID] = task
	st.artifacts[task.TaskID] = compiler.Product{Stream: []byte("pdf"), Checksum: "etag123"}
	router := newTestServer(d, st, &fakeOwners{})

	req := httptest.NewRequest(http.MethodGet, "/1401.1234/abc123/pdf/product", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pdf", rec.Body.String())
	require.Equal(t, `"etag123"`, rec.Header().Get("ETag"))
}

func TestHealthReflectsDependencies(t *testing.T) {
	d, st := newFakeDispatch(), newFakeStore()
	st.available = false
	router := newTestServer(d, st, &fakeOwners{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
