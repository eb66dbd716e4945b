package healthz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct {
	name string
	err  error
}

func (f fakePinger) Name() string { return f.name }
func (f fakePinger) Ping(context.Context) error { return f.err }

func TestCheckAllHealthy(t *testing.T) {
	c := NewChecker(time.Second, fakePinger{name: "state-store"}, fakePinger{name: "provider"})
	report := c.Check(context.Background())
	if !report.Healthy {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
}

func TestCheckReportsFailingDependency(t *testing.T) {
	c := NewChecker(time.Second, fakePinger{name: "state-store", err: errors.New("connection refused")})
	report := c.Check(context.Background())
	if report.Healthy {
		t.Fatalf("expected unhealthy report")
	}
	if report.Checks[0].Error == "" {
		t.Fatalf("expected error message on failing check")
	}
}

func TestHandlerRespondsWithStatusCode(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register(fakePinger{name: "ok"})
	c.Register(fakePinger{name: "broken", err: errors.New("boom")})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if report.Healthy {
		t.Fatalf("expected decoded report to be unhealthy")
	}
}

func TestHandlerRespondsOKWhenEmpty(t *testing.T) {
	c := NewChecker(time.Second)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	c.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
