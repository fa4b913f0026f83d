package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/tipsync/backend/internal/eligibility"
	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/services"
	"github.com/kimhsiao/tipsync/backend/internal/sync"
)

// TipHandler handles tip submission and listing.
type TipHandler struct {
	svc *services.TipService
}

// NewTipHandler creates a new TipHandler.
func NewTipHandler(svc *services.TipService) *TipHandler {
	return &TipHandler{svc: svc}
}

// RegisterRoutes mounts the tip and worker routes.
func (h *TipHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/tips", h.CreateTip)
	r.Get("/api/tips", h.ListTips)
	r.Put("/api/workers/{id}", h.PutWorker)
}

// CreateTip handles POST /api/tips
// Both submitted and queued outcomes are successes: 201 and 202.
func (h *TipHandler) CreateTip(w http.ResponseWriter, r *http.Request) {
	var req eligibility.TipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.svc.SubmitTip(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if outcome.Status == sync.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

// ListTips handles GET /api/tips?worker_id=&status=&limit=
func (h *TipHandler) ListTips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	tips, err := h.svc.ListTips(r.Context(), q.Get("worker_id"), models.TipStatus(q.Get("status")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tips == nil {
		tips = []*models.Tip{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": tips,
		"total": len(tips),
	})
}

// PutWorker handles PUT /api/workers/{id}
// Caches the worker profile for offline eligibility checks.
func (h *TipHandler) PutWorker(w http.ResponseWriter, r *http.Request) {
	var worker models.Worker
	if err := decode(r, &worker); err != nil {
		writeError(w, r, err)
		return
	}
	worker.ID = chi.URLParam(r, "id")

	if err := h.svc.PutWorker(r.Context(), &worker); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}
