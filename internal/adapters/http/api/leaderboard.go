package api

import (
	"context"
	"net/http"

	"github.com/okian/holdout/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	LiveLeaderboard(ctx context.Context, viewer *model.Participant) (Board, error)
	FinalLeaderboard(ctx context.Context, viewer model.Participant) (Board, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps LeaderboardDependencies
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

// HandleGetLive handles GET /leaderboard requests. Anonymous callers are allowed.
func (h *LeaderboardHandler) HandleGetLive(w http.ResponseWriter, r *http.Request, viewer *model.Participant) {
	const op = "api.get_leaderboard"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	board, err := h.deps.LiveLeaderboard(r.Context(), viewer)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleGetFinal handles GET /leaderboard/final requests.
func (h *LeaderboardHandler) HandleGetFinal(w http.ResponseWriter, r *http.Request, viewer model.Participant) {
	const op = "api.get_final_leaderboard"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	board, err := h.deps.FinalLeaderboard(r.Context(), viewer)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
