package api

import (
	"encoding/json"
	"net/http"

	"github.com/arXiv/arxiv-compiler/compiler"
)

func writeTaskJSON(w http.ResponseWriter, task compiler.Task) error {
	return json.NewEncoder(w).Encode(task)
}

type healthResponse struct {
	Store    bool `json:"store"`
	Dispatch bool `json:"dispatch"`
}

// handleStatus implements the service healthcheck: both the Object Store
// Gateway and Task Dispatch must answer a short round trip for the service
// to be considered up.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Store:    s.store.IsAvailable(r.Context()),
		Dispatch: s.dispatch.IsAvailable(r.Context()),
	}

	code := http.StatusOK
	if !resp.Store || !resp.Dispatch {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
