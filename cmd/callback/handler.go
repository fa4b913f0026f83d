package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/lifecycle"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
)

// CallbackPath is where the gateway posts settlement results.
const CallbackPath = "/api/payments/callback"

// maxBodyBytes bounds callback bodies.
const maxBodyBytes = 64 << 10

// Settler applies a parsed settlement.
type Settler interface {
	Apply(ctx context.Context, s *models.Settlement) (*lifecycle.Transition, error)
}

// CallbackHandler receives gateway callbacks.
type CallbackHandler struct {
	settler Settler
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(settler Settler) *CallbackHandler {
	return &CallbackHandler{settler: settler}
}

// RegisterRoutes mounts the callback route.
func (h *CallbackHandler) RegisterRoutes(r chi.Router) {
	r.Post(CallbackPath, h.Receive)
}

// Receive handles POST /api/payments/callback
// The gateway always gets 200 Accepted. Failures are only logged.
func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	defer acknowledge(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	r.Body.Close()
	if err != nil {
		logging.Warn("Failed to read callback body", map[string]interface{}{"error": err.Error()})
		return
	}

	settlement, err := gateway.ParseCallback(body)
	if err != nil {
		logging.ErrorWithCode("Invalid gateway callback", string(errors.CodeOf(err)), err, map[string]interface{}{
			"bytes": len(body),
		})
		return
	}

	transition, err := h.settler.Apply(r.Context(), settlement)
	if err != nil {
		logging.ErrorWithCode("Failed to apply settlement", string(errors.CodeOf(err)), err, map[string]interface{}{
			"transaction_id": settlement.TransactionID,
		})
		return
	}

	logging.Debug("Callback processed", map[string]interface{}{
		"transaction_id": settlement.TransactionID,
		"result":         string(transition.Result),
	})
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(gateway.Accepted)
}
