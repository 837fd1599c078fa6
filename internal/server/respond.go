package server

import (
	"encoding/json"
	"net/http"

	"github.com/desertthunder/rhythm/internal/models"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  models.Code `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its reason code and status.
func writeError(w http.ResponseWriter, err error) {
	code, status := models.CodeFor(err)
	if code.Transient() && status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
