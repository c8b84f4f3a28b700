// Package httpserver serves the web admin surface: query CRUD, runtime
// configuration, pool and governor status, and the in-memory log views.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// statusResponse is the envelope every mutating endpoint answers with.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: message})
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, statusResponse{Status: "error", Message: err.Error()})
}
