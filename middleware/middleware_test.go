package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auth "builderbuddy-backend/storage/auth"
)

func TestAPIAuth(t *testing.T) {
	keys := auth.NewAPIKeyStore()
	keys.Seed("alice-key", "0xalice", "config")

	var seen string
	h := APIAuth(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header map[string]string
		status int
		caller string
	}{
		{"missing key", nil, http.StatusUnauthorized, ""},
		{"unknown key", map[string]string{"X-API-Key": "bogus"}, http.StatusForbidden, ""},
		{"header key", map[string]string{"X-API-Key": "alice-key"}, http.StatusNoContent, "0xalice"},
		{"bearer key", map[string]string{"Authorization": "Bearer alice-key"}, http.StatusNoContent, "0xalice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d but got %d", tt.status, rec.Code)
			}
			if seen != tt.caller {
				t.Errorf("Expected caller %q but got %q", tt.caller, seen)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 but got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if called || rec.Code != http.StatusOK {
		t.Errorf("Expected preflight answered without calling next, got called=%v status=%d", called, rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("Expected allow headers to be set")
	}
}

func TestTimeoutSkipsStreams(t *testing.T) {
	var deadline bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !deadline {
		t.Error("Expected deadline on plain request")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/event-stream")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if deadline {
		t.Error("Expected no deadline on event stream")
	}
}

func TestLoggingKeepsFlusher(t *testing.T) {
	var flushable bool
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithCaller(context.Background(), "0xbob")))
	if !flushable {
		t.Error("Expected wrapped writer to implement http.Flusher")
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Expected body ok but got %q", rec.Body.String())
	}
}
