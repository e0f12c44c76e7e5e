// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/AlexBiobelemo/Project-Andrew/internal/app"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/types"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Endpoint names used for rate limits, behaviour tracking and metrics.
const (
	EndpointCheckDuplicates = "check_duplicates"
	EndpointSearch          = "search"
	EndpointReportIssue     = "report_issue"
	EndpointTopIssues       = "top_issues"
	EndpointGetIssue        = "get_issue"
	EndpointUpvote          = "upvote"
	EndpointUpdateStatus    = "update_status"
	EndpointComputePriority = "compute_priority"
	EndpointSuspicion       = "suspicion"
	EndpointStats           = "stats"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the engine.
type Dependencies interface {
	CheckDuplicate(ctx context.Context, q model.DuplicateQuery) (model.DuplicateVerdict, error)
	ReportIssue(ctx context.Context, in service.NewIssue) (service.Report, error)
	Issue(ctx context.Context, id string) (model.Issue, error)
	TopIssues(ctx context.Context, n int) ([]types.Entry, error)
	Search(ctx context.Context, q model.SearchQuery) (model.SearchResult, error)
	Upvote(ctx context.Context, id, identity string) (model.Issue, bool, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (model.Issue, error)
	ComputePriority(ctx context.Context, issue *model.Issue) float64

	EvaluateRequest(ctx context.Context, identity, endpoint, userAgent string) model.Admission
	RecordEvent(ctx context.Context, ev model.BehaviorEvent) model.SuspicionState
	Suspicion(ctx context.Context, identity string) (model.SuspicionState, error)
}

// Server wires HTTP routes for the triage API.
type Server struct {
	deps  Dependencies
	stats StatsProvider

	maxTopLimit int
	trustProxy  bool
	log         logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMaxTopLimit caps ?limit on GET /issues/top.
func WithMaxTopLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxTopLimit = n
		}
	}
}

// WithTrustProxyHeaders makes the identity key use X-Forwarded-For.
func WithTrustProxyHeaders(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		stats:       stats,
		maxTopLimit: 100,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	health := NewHealthHandler()
	mux.HandleFunc("GET /healthz", MetricsMiddleware(health.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", health.HandleMetrics)
	mux.HandleFunc("GET /stats", s.route(EndpointStats, NewStatsHandler(s.stats).HandleStats))

	mux.HandleFunc("POST /issues/check-duplicates", s.route(EndpointCheckDuplicates, s.handleCheckDuplicates))
	mux.HandleFunc("POST /issues", s.route(EndpointReportIssue, s.handleReportIssue))
	mux.HandleFunc("GET /issues/top", s.route(EndpointTopIssues, s.handleTopIssues))
	mux.HandleFunc("GET /issues/search", s.route(EndpointSearch, s.handleSearch))
	mux.HandleFunc("GET /issues/{id}", s.route(EndpointGetIssue, s.handleGetIssue))
	mux.HandleFunc("POST /issues/{id}/upvote", s.route(EndpointUpvote, s.handleUpvote))
	mux.HandleFunc("POST /issues/{id}/status", s.route(EndpointUpdateStatus, s.handleUpdateStatus))
	mux.HandleFunc("POST /issues/{id}/priority", s.route(EndpointComputePriority, s.handleComputePriority))
	mux.HandleFunc("GET /admin/suspicion/{identity}", s.route(EndpointSuspicion, s.handleSuspicion))
}

// route applies the standard chain: request id, metrics, admission.
func (s *Server) route(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return RequestIDMiddleware(MetricsMiddleware(s.AdmissionMiddleware(endpoint, h), endpoint))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
