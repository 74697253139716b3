// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/holdout/internal/adapters/dataset"
	"github.com/okian/holdout/internal/adapters/identity"
	"github.com/okian/holdout/internal/adapters/repository"
	service "github.com/okian/holdout/internal/app"
	"github.com/okian/holdout/internal/domain/admission"
	"github.com/okian/holdout/internal/domain/scoring"
	"github.com/okian/holdout/internal/domain/selection"
	"github.com/okian/holdout/internal/domain/types"
)

const defaultMaxUploadBytes = 16 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmissionDependencies
	LeaderboardDependencies
	SelectionDependencies
	StageDependencies
	StatsProvider
}

// Board mirrors the read shape returned by leaderboard queries.
type Board = types.Board

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes bounds the size of an uploaded prediction file.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	auth           identity.Provider
	maxUploadBytes int64

	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	stageHandler       *StageHandler
	submissionsHandler *SubmissionsHandler
	selectionHandler   *SelectionHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, auth identity.Provider, opts ...Option) *Server {
	s := &Server{auth: auth, maxUploadBytes: defaultMaxUploadBytes}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.stageHandler = NewStageHandler(deps)
	s.submissionsHandler = NewSubmissionsHandler(deps, s.maxUploadBytes)
	s.selectionHandler = NewSelectionHandler(deps)
	s.leaderboardHandler = NewLeaderboardHandler(deps)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	authed := func(h participantHandler) http.HandlerFunc { return Authenticate(s.auth, h) }
	optional := func(h optionalHandler) http.HandlerFunc { return OptionalAuthenticate(s.auth, h) }

	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/stage", MetricsMiddleware(s.stageHandler.HandleGetStage, "stage"))
	mux.HandleFunc("/submissions", MetricsMiddleware(authed(s.submissionsHandler.HandleSubmissions), "submissions"))
	mux.HandleFunc("/selection", MetricsMiddleware(authed(s.selectionHandler.HandlePutSelection), "selection"))
	mux.HandleFunc("/leaderboard/final", MetricsMiddleware(authed(s.leaderboardHandler.HandleGetFinal), "leaderboard_final"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(optional(s.leaderboardHandler.HandleGetLive), "leaderboard"))
}

type selectionRequest struct {
	SubmissionIDs []int64 `json:"submission_ids"`
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
	if err != nil {
		msg = message(err)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a domain error onto a status and error code.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var deny *admission.DenyError
	if errors.As(err, &deny) && deny.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(deny.RetryAfter.Seconds())))
	}
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		if errors.Is(err, scoring.ErrInconsistentData) {
			err = ErrUnexpected
		} else {
			err = ErrInternal
		}
	}
	writeError(w, status, code, Wrap(op, err))
}

func classify(err error) (int, string) {
	var dup *service.DuplicateError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &dup):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, admission.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, admission.ErrStageClosed):
		return http.StatusForbidden, "stage_closed"
	case errors.Is(err, admission.ErrQuotaExceeded):
		return http.StatusForbidden, "quota_exceeded"
	case errors.As(err, &maxBytes), errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, dataset.ErrUnsupportedFormat):
		return http.StatusBadRequest, "unsupported_format"
	case errors.Is(err, dataset.ErrInvalidSubmission):
		return http.StatusBadRequest, "invalid_submission"
	case errors.Is(err, selection.ErrTooManySelections):
		return http.StatusBadRequest, "too_many_selections"
	case errors.Is(err, repository.ErrSubmissionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrLeaderboardUnavailable):
		return http.StatusForbidden, "not_available"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, scoring.ErrInconsistentData):
		return http.StatusInternalServerError, "inconsistent_data"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
