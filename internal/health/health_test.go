package health_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prepstage/dictation/internal/health"
)

func newTestHandler() *health.Handler {
	return health.New(
		func() string { return "listening" },
		func() string { return "local" },
		[]string{"local", "remote"},
	)
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := newTestHandler()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusz_ReportsSessionState(t *testing.T) {
	t.Parallel()
	h := newTestHandler()

	rec := httptest.NewRecorder()
	h.Statusz(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status   string   `json:"status"`
		State    string   `json:"state"`
		Backend  string   `json:"backend"`
		Backends []string `json:"backends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.State != "listening" || body.Backend != "local" {
		t.Errorf("body = %+v", body)
	}
	if len(body.Backends) != 2 {
		t.Errorf("backends = %v", body.Backends)
	}
}

func TestRegister_RoutesBothEndpoints(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	newTestHandler().Register(mux)

	for _, path := range []string{"/healthz", "/statusz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
