package api

import (
	"context"
	"net/http"

	"github.com/okian/holdout/internal/domain/model"
)

// SelectionDependencies replaces a participant's final selection.
type SelectionDependencies interface {
	SetFinalSelection(ctx context.Context, p model.Participant, ids []int64) error
}

// SelectionHandler handles selection requests.
type SelectionHandler struct {
	deps SelectionDependencies
}

// NewSelectionHandler creates a new selection handler.
func NewSelectionHandler(deps SelectionDependencies) *SelectionHandler {
	return &SelectionHandler{deps: deps}
}

// HandlePutSelection handles PUT /selection requests. An empty list clears
// the selection.
func (h *SelectionHandler) HandlePutSelection(w http.ResponseWriter, r *http.Request, p model.Participant) {
	const op = "api.put_selection"
	if r.Method != http.MethodPut {
		http.NotFound(w, r)
		return
	}
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SetFinalSelection(r.Context(), p, req.SubmissionIDs); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
