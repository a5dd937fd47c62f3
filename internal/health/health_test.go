package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "ok" {
		t.Errorf("status = %q", res.Status)
	}
}

func TestReadyzAllChecksPass(t *testing.T) {
	h := New(
		Checker{Name: "postgres", Check: func(context.Context) error { return nil }},
		Checker{Name: "redis", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	h := New(
		Checker{Name: "postgres", Check: func(context.Context) error { return nil }},
		Checker{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var res struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "fail" {
		t.Errorf("status = %q", res.Status)
	}
	if res.Checks["postgres"] != "ok" {
		t.Errorf("postgres = %q", res.Checks["postgres"])
	}
	if res.Checks["redis"] != "fail: connection refused" {
		t.Errorf("redis = %q", res.Checks["redis"])
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	c := PingChecker("postgres", fakePinger{})
	if c.Name != "postgres" {
		t.Errorf("name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("check: %v", err)
	}

	c = PingChecker("redis", fakePinger{err: errors.New("down")})
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected failure")
	}
}
