package api

import (
	"context"
	"net/http"

	service "github.com/okian/holdout/internal/app"
)

// StageDependencies exposes the competition clock.
type StageDependencies interface {
	Stage(ctx context.Context) service.StageInfo
}

// StageHandler handles stage requests.
type StageHandler struct {
	deps StageDependencies
}

// NewStageHandler creates a new stage handler.
func NewStageHandler(deps StageDependencies) *StageHandler {
	return &StageHandler{deps: deps}
}

// HandleGetStage handles GET /stage requests.
func (h *StageHandler) HandleGetStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Stage(r.Context()))
}
