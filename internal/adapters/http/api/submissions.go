package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	service "github.com/okian/holdout/internal/app"
	"github.com/okian/holdout/internal/domain/model"
)

const (
	formFileField     = "file"
	idempotencyHeader = "Idempotency-Key"
)

// SubmissionDependencies accepts uploads and lists a participant's history.
type SubmissionDependencies interface {
	AttemptSubmission(ctx context.Context, p model.Participant, filename string, body io.Reader, idemKey string) (service.SubmissionResult, error)
	Submissions(ctx context.Context, p model.Participant) (service.Listing, error)
}

// SubmissionsHandler handles submission requests.
type SubmissionsHandler struct {
	deps     SubmissionDependencies
	maxBytes int64
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(deps SubmissionDependencies, maxBytes int64) *SubmissionsHandler {
	return &SubmissionsHandler{deps: deps, maxBytes: maxBytes}
}

// HandleSubmissions dispatches /submissions by method.
func (h *SubmissionsHandler) HandleSubmissions(w http.ResponseWriter, r *http.Request, p model.Participant) {
	switch r.Method {
	case http.MethodPost:
		h.HandlePostSubmission(w, r, p)
	case http.MethodGet:
		h.HandleListSubmissions(w, r, p)
	default:
		http.NotFound(w, r)
	}
}

// HandlePostSubmission handles POST /submissions with a multipart "file" field.
func (h *SubmissionsHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request, p model.Participant) {
	const op = "api.post_submission"
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile(formFileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", NewKind(op, ErrPayloadTooLarge))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	defer file.Close()

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	res, err := h.deps.AttemptSubmission(r.Context(), p, header.Filename, file, key)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	status := http.StatusCreated
	if res.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandleListSubmissions handles GET /submissions.
func (h *SubmissionsHandler) HandleListSubmissions(w http.ResponseWriter, r *http.Request, p model.Participant) {
	const op = "api.list_submissions"
	listing, err := h.deps.Submissions(r.Context(), p)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
