package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "config", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "audio", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["config"] != "ok" {
		t.Errorf("config check = %q, want %q", body.Checks["config"], "ok")
	}
	if body.Checks["audio"] != "ok" {
		t.Errorf("audio check = %q, want %q", body.Checks["audio"], "ok")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "config", Check: func(_ context.Context) error {
			return errors.New("config file missing")
		}},
		Checker{Name: "audio", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["config"] != "fail: config file missing" {
		t.Errorf("config check = %q, want %q", body.Checks["config"], "fail: config file missing")
	}
	if body.Checks["audio"] != "ok" {
		t.Errorf("audio check = %q, want %q", body.Checks["audio"], "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	h := New(
		Checker{Name: "config", Check: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "audio", Check: func(_ context.Context) error {
			return errors.New("no input device")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["config"] != "fail: timeout" {
		t.Errorf("config check = %q", body.Checks["config"])
	}
	if body.Checks["audio"] != "fail: no input device" {
		t.Errorf("audio check = %q", body.Checks["audio"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestFlag_GatesReadiness(t *testing.T) {
	t.Parallel()

	audio := NewFlag("audio")
	h := New(audio.Checker())

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before Set: status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	audio.Set()
	if !audio.IsSet() {
		t.Fatal("IsSet() = false after Set")
	}
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("after Set: status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Checks["audio"] != "ok" {
		t.Errorf("checks[audio] = %q, want ok", body.Checks["audio"])
	}
}

func TestHealthz_ReportsInfo(t *testing.T) {
	t.Parallel()

	h := New().WithInfo(func() map[string]string {
		return map[string]string{"session": "listening"}
	})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Info["session"] != "listening" {
		t.Errorf("info[session] = %q, want listening", body.Info["session"])
	}
}
