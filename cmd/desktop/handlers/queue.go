package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/services"
)

// QueueHandler exposes the offline queue and connectivity controls.
type QueueHandler struct {
	svc *services.TipService
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(svc *services.TipService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

// RegisterRoutes mounts the queue, network and status routes.
func (h *QueueHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/queue", h.ListQueue)
	r.Delete("/api/queue/{id}", h.RemoveEntry)
	r.Post("/api/queue/retry", h.Retry)
	r.Post("/api/network", h.SetNetwork)
	r.Get("/api/sync/status", h.GetStatus)
}

// ListQueue handles GET /api/queue
func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.QueueEntries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": entries,
		"total": len(entries),
	})
}

// RemoveEntry handles DELETE /api/queue/{id}
func (h *QueueHandler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveQueueEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retry handles POST /api/queue/retry
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.svc.RetryNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// SetNetwork handles POST /api/network
// Platform glue reports connectivity changes here.
func (h *QueueHandler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := decode(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	if request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}

	h.svc.SetOnline(*request.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *request.Online})
}

// GetStatus handles GET /api/sync/status
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
