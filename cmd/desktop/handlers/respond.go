// Package handlers provides REST API handlers for the device-local tip API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an application error code to an HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrGateway:
		status = http.StatusBadGateway
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Validation("invalid request body: %v", err)
	}
	return nil
}
