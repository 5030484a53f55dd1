package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/sourceclient"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
)

// compileRequest is the JSON body of POST / (spec §4.6 compile).
type compileRequest struct {
	SourceID     string `json:"source_id"`
	Checksum     string `json:"checksum"`
	OutputFormat string `json:"output_format"`
	StampLabel   string `json:"stamp_label"`
	StampLink    string `json:"stamp_link"`
	Force        bool   `json:"force"`
}

// handleCompile implements spec §4.6's compile operation: idempotent
// dedup against an existing task unless force is set, followed by owner
// resolution and enqueueing.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if !compiler.ValidSourceID(req.SourceID) {
		writeJSONError(w, http.StatusBadRequest, "invalid source_id")
		return
	}

	checksum := req.Checksum
	if !compiler.ValidChecksum(checksum) {
		if s.cfg.ChecksumVerificationEnabled {
			writeJSONError(w, http.StatusBadRequest, "invalid checksum")
			return
		}
		checksum = compiler.EncodeOpaqueChecksum(checksum)
	}

	format := s.cfg.DefaultOutputFormat
	if req.OutputFormat != "" {
		parsed, err := compiler.ParseFormat(req.OutputFormat)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = parsed
	}

	ctx := r.Context()
	token := bearerToken(r)

	if !req.Force {
		if existing, err := s.dispatch.Get(ctx, req.SourceID, checksum, format); err == nil {
			if !s.IsAuthorized(authContext(r), existing) {
				writeJSONError(w, http.StatusForbidden, "not authorized for this task")
				return
			}
			redirectToStatus(w, r, existing.TaskID)
			return
		}
	}

	owner, err := s.owners.Owner(ctx, req.SourceID, checksum, token)
	if err != nil {
		switch err.(type) {
		case sourceclient.RequestUnauthorizedError:
			writeJSONError(w, http.StatusUnauthorized, "not authorized to fetch source")
		case sourceclient.RequestForbiddenError:
			writeJSONError(w, http.StatusForbidden, "not authorized to fetch source")
		case sourceclient.NotFoundError:
			writeJSONError(w, http.StatusNotFound, "source not found")
		default:
			writeJSONError(w, http.StatusInternalServerError, "failed to resolve source owner")
		}
		return
	}

	taskID, err := s.dispatch.Start(ctx, worker.Request{
		SourceID:     req.SourceID,
		Checksum:     checksum,
		OutputFormat: format,
		StampLabel:   req.StampLabel,
		StampLink:    req.StampLink,
		Token:        token,
		Owner:        owner,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	w.Header().Set("Location", statusPath(taskID))
	w.WriteHeader(http.StatusAccepted)
}

func redirectToStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	http.Redirect(w, r, statusPath(taskID), http.StatusSeeOther)
}

func statusPath(taskID string) string {
	segments := strings.Split(taskID, "/")
	for i, s := range segments {
		segments[i] = url.QueryEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}
