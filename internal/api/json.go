package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"bustrack/internal/registry"
	"bustrack/internal/store"
	"bustrack/internal/tracker"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeDomainErr maps domain sentinels onto problem responses. Unknown errors
// become a 500 with the supplied title.
func writeDomainErr(w http.ResponseWriter, err error, title, instance string) {
	switch {
	case errors.Is(err, tracker.ErrInvalidInput):
		writeProblem(w, http.StatusBadRequest, "Invalid observation", err.Error(), instance)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), instance)
	case errors.Is(err, registry.ErrAlreadyAssigned):
		writeProblem(w, http.StatusConflict, "Already assigned", err.Error(), instance)
	case errors.Is(err, registry.ErrPoolExhausted):
		writeProblem(w, http.StatusConflict, "Handle pool exhausted", err.Error(), instance)
	case errors.Is(err, store.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error(), instance)
	default:
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), instance)
	}
}
