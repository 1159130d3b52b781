package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOverallStatusAggregation(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, CustomCheck(func() error { return nil }))
	c.RegisterFunc("backlog", false, CustomCheck(func() error { return nil }))

	c.Check(context.Background())
	if got := c.OverallStatus(); got != StatusHealthy {
		t.Fatalf("status = %s, want healthy", got)
	}

	// A failing non-critical check degrades; a failing critical one kills.
	c.RegisterFunc("backlog", false, CustomCheck(func() error { return errors.New("backlog") }))
	c.Check(context.Background())
	if got := c.OverallStatus(); got != StatusDegraded {
		t.Fatalf("status = %s, want degraded", got)
	}

	c.RegisterFunc("store", true, CustomCheck(func() error { return errors.New("down") }))
	c.Check(context.Background())
	if got := c.OverallStatus(); got != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", got)
	}
}

func TestCheckRecoversFromPanic(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("explosive", true, func(ctx context.Context) CheckResult {
		panic("boom")
	})

	results := c.Check(context.Background())
	r, ok := results["explosive"]
	if !ok {
		t.Fatal("panicking check produced no result")
	}
	if r.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", r.Status)
	}
	if r.Error != "boom" {
		t.Fatalf("error = %q", r.Error)
	}
}

func TestCheckTimesOut(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "slow",
		Critical: true,
		Timeout:  20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	if results["slow"].Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy after timeout", results["slow"].Status)
	}
}

func TestStoreCheck(t *testing.T) {
	ok := StoreCheck(func(ctx context.Context) error { return nil })
	if r := ok(context.Background()); r.Status != StatusHealthy {
		t.Fatalf("status = %s", r.Status)
	}

	bad := StoreCheck(func(ctx context.Context) error { return errors.New("locked") })
	r := bad(context.Background())
	if r.Status != StatusUnhealthy || r.Error != "locked" {
		t.Fatalf("result = %+v", r)
	}
}

func TestAnchorBacklogCheck(t *testing.T) {
	failed := 0
	check := AnchorBacklogCheck(func() int { return failed }, 5)

	if r := check(context.Background()); r.Status != StatusHealthy {
		t.Fatalf("status = %s with empty backlog", r.Status)
	}

	failed = 5
	r := check(context.Background())
	if r.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded at threshold", r.Status)
	}
	if r.Details["failed_batches"] != 5 {
		t.Fatalf("details = %v", r.Details)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()

	rec := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("not-ready status = %d, want 503", rec.Code)
	}

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("ready status = %d, want 200", rec.Code)
	}
}
