// Package api implements the API Controllers: HTTP handlers translating
// requests into dispatch/store operations, with validation and injected
// authorization, grounded on atc/api/agentfeedback's plain net/http
// handler shape and routed with gorilla/mux.
package api

import (
	"context"
	"net/http"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/auth"
	"github.com/arXiv/arxiv-compiler/compiler/metric"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dispatcher is the subset of dispatch.Dispatch the API depends on.
type Dispatcher interface {
	Start(ctx context.Context, req worker.Request) (string, error)
	Get(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error)
	IsAvailable(ctx context.Context) bool
}

// Store is the subset of store.Gateway the API depends on for reads.
type Store interface {
	RetrieveArtifact(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Product, error)
	RetrieveLog(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Product, error)
	IsAvailable(ctx context.Context) bool
}

// OwnerResolver is the subset of sourceclient.Client the compile
// controller depends on to record a new task's owner.
type OwnerResolver interface {
	Owner(ctx context.Context, sourceID, checksum, token string) (string, error)
}

// Config carries feature flags the controllers need directly, as opposed
// to collaborator behavior.
type Config struct {
	ChecksumVerificationEnabled bool
	DefaultOutputFormat         compiler.Format
}

// Server holds the API Controllers' dependencies. IsAuthorized is the
// injected predicate (spec §9: "model as a function-typed parameter on
// the controller struct, not inheritance").
type Server struct {
	logger       lager.Logger
	cfg          Config
	dispatch     Dispatcher
	store        Store
	owners       OwnerResolver
	IsAuthorized auth.Predicate
	metrics      *metric.Registry
}

func NewServer(logger lager.Logger, cfg Config, dispatch Dispatcher, store Store, owners OwnerResolver, isAuthorized auth.Predicate, metrics *metric.Registry) *Server {
	if cfg.DefaultOutputFormat == "" {
		cfg.DefaultOutputFormat = compiler.FormatPDF
	}
	if isAuthorized == nil {
		isAuthorized = auth.Default
	}
	return &Server{
		logger:       logger.Session("api"),
		cfg:          cfg,
		dispatch:     dispatch,
		store:        store,
		owners:       owners,
		IsAuthorized: isAuthorized,
		metrics:      metrics,
	}
}

// Router builds the HTTP routing table described in spec §6.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	s.route(r, "status", "GET", "/status", s.handleStatus)
	s.route(r, "compile", "POST", "/", s.handleCompile)
	s.route(r, "get_status", "GET", "/{src}/{chk}/{fmt}", s.handleGetStatus)
	s.route(r, "get_product", "GET", "/{src}/{chk}/{fmt}/product", s.handleGetProduct)
	s.route(r, "get_log", "GET", "/{src}/{chk}/{fmt}/log", s.handleGetLog)

	return r
}

// route wraps h with, from innermost to outermost, the prometheus/lager
// request metrics middleware and OTel span creation (grounded on wrappa's
// per-route otelhttp wrapper), so the metrics middleware sees the span's
// trace id, then registers it under name.
func (s *Server) route(r *mux.Router, name, method, path string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.metrics != nil {
		handler = metric.WrapHandler(s.logger, s.metrics, name, handler)
	}
	handler = otelhttp.NewHandler(handler, name)
	r.Handle(path, handler).Methods(method)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return h
}

// authContext builds an auth.Context from the request. Token validation
// proper is an external collaborator (spec §1); the bearer token is taken
// directly as the caller's user id, which is sufficient for the
// authorization predicate this package implements.
func authContext(r *http.Request) auth.Context {
	return auth.Context{UserID: bearerToken(r)}
}

func writeJSONError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"reason":"` + jsonEscape(reason) + `"}`))
}

func jsonEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
