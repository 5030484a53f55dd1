package api

import (
	"fmt"
	"net/http"

	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/gorilla/mux"
)

// pathTriple extracts and validates the {src}/{chk}/{fmt} path variables
// shared by get_status, get_product and get_log.
func (s *Server) pathTriple(w http.ResponseWriter, r *http.Request) (sourceID, checksum string, format compiler.Format, ok bool) {
	vars := mux.Vars(r)
	sourceID, checksum = vars["src"], vars["chk"]

	if !compiler.ValidSourceID(sourceID) {
		writeJSONError(w, http.StatusBadRequest, "invalid source_id")
		return "", "", "", false
	}
	if !compiler.ValidChecksum(checksum) {
		writeJSONError(w, http.StatusBadRequest, "invalid checksum")
		return "", "", "", false
	}

	format, err := compiler.ParseFormat(vars["fmt"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return "", "", "", false
	}
	return sourceID, checksum, format, true
}

// lookupAuthorized fetches the task for (sourceID, checksum, format) and
// checks it against the injected authorization predicate, writing 404/403
// responses itself on failure.
func (s *Server) lookupAuthorized(w http.ResponseWriter, r *http.Request, sourceID, checksum string, format compiler.Format) (compiler.Task, bool) {
	task, err := s.dispatch.Get(r.Context(), sourceID, checksum, format)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "no such task")
		return compiler.Task{}, false
	}
	if !s.IsAuthorized(authContext(r), task) {
		writeJSONError(w, http.StatusForbidden, "not authorized for this task")
		return compiler.Task{}, false
	}
	return task, true
}

// handleGetStatus implements spec §4.6's get_status operation.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	sourceID, checksum, format, ok := s.pathTriple(w, r)
	if !ok {
		return
	}
	task, ok := s.lookupAuthorized(w, r, sourceID, checksum, format)
	if !ok {
		return
	}

	if task.Owner != "" {
		w.Header().Set("ARXIV-OWNER", task.Owner)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = writeTaskJSON(w, task)
}

// handleGetProduct implements spec §4.6's get_product operation: streams
// the compiled artifact for a completed task.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	sourceID, checksum, format, ok := s.pathTriple(w, r)
	if !ok {
		return
	}
	task, ok := s.lookupAuthorized(w, r, sourceID, checksum, format)
	if !ok {
		return
	}
	if !task.IsCompleted() {
		writeJSONError(w, http.StatusNotFound, "task has no product")
		return
	}

	product, err := s.store.RetrieveArtifact(r.Context(), sourceID, checksum, format)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "product not found")
		return
	}

	props := compiler.Props(format)
	w.Header().Set("Content-Type", props.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, sourceID, props.Ext))
	if product.Checksum != "" {
		w.Header().Set("ETag", `"`+product.Checksum+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(product.Stream)
}

// handleGetLog implements spec §4.6's get_log operation: streams the
// compilation log regardless of the task's terminal status.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	sourceID, checksum, format, ok := s.pathTriple(w, r)
	if !ok {
		return
	}
	if _, ok := s.lookupAuthorized(w, r, sourceID, checksum, format); !ok {
		return
	}

	product, err := s.store.RetrieveLog(r.Context(), sourceID, checksum, format)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "log not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.log"`, sourceID))
	if product.Checksum != "" {
		w.Header().Set("ETag", `"`+product.Checksum+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(product.Stream)
}
