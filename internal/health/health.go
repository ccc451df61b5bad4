// Package health provides HTTP health and status handlers for the
// dictation process.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /statusz — current dictation status: session state, bound backend
//     and which backends are configured.
//
// Responses are JSON objects with a top-level "status" field.
package health

import (
	"encoding/json"
	"net/http"
)

// statusResult is the JSON response body for /statusz.
type statusResult struct {
	Status   string   `json:"status"`
	State    string   `json:"state"`
	Backend  string   `json:"backend"`
	Backends []string `json:"backends,omitempty"`
}

// Handler serves the health and status endpoints. It is safe for
// concurrent use; the configuration is fixed at construction time.
type Handler struct {
	state    func() string
	backend  func() string
	backends []string
}

// New creates a [Handler]. state and backend report the live session;
// backends lists the backend names available in this process ("local",
// "remote").
func New(state, backend func() string, backends []string) *Handler {
	return &Handler{
		state:    state,
		backend:  backend,
		backends: append([]string(nil), backends...),
	}
}

// Healthz is a liveness probe that always returns 200 OK. A running
// process that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResult{Status: "ok"})
}

// Statusz reports the current session state and backend bindings.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResult{
		Status:   "ok",
		State:    h.state(),
		Backend:  h.backend(),
		Backends: h.backends,
	})
}

// Register adds the /healthz and /statusz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
