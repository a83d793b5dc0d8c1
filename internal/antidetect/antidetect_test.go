package antidetect_test

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobmate/discovery-pipeline/internal/antidetect"
)

func TestHeadersForRequest_RotatesFromPool(t *testing.T) {
	l := antidetect.New(antidetect.Config{Seed: 42})
	pool := antidetect.UserAgents()

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		h := l.HeadersForRequest()
		ua := h.Get("User-Agent")
		if !slices.Contains(pool, ua) {
			t.Fatalf("User-Agent %q not in pool", ua)
		}
		seen[ua] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected rotation across the pool, saw %d distinct agents", len(seen))
	}
}

func TestHeadersForRequest_ConsistentTriplet(t *testing.T) {
	l := antidetect.New(antidetect.Config{Seed: 7})
	first := l.HeadersForRequest()
	for i := 0; i < 20; i++ {
		h := l.HeadersForRequest()
		for _, k := range []string{"Accept", "Accept-Language", "Accept-Encoding"} {
			if h.Get(k) == "" {
				t.Fatalf("%s header missing", k)
			}
			if h.Get(k) != first.Get(k) {
				t.Errorf("%s changed between requests: %q vs %q", k, h.Get(k), first.Get(k))
			}
		}
	}
}

func TestJitter_WithinConfiguredRange(t *testing.T) {
	l := antidetect.New(antidetect.Config{MinDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond, Seed: 1})
	for i := 0; i < 500; i++ {
		d := l.Jitter()
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Fatalf("Jitter() = %v, outside [10ms, 30ms]", d)
		}
	}
}

func TestJitter_DefaultRange(t *testing.T) {
	l := antidetect.New(antidetect.Config{Seed: 1})
	for i := 0; i < 100; i++ {
		d := l.Jitter()
		if d < antidetect.DefaultMinDelay || d > antidetect.DefaultMaxDelay {
			t.Fatalf("Jitter() = %v, outside default range", d)
		}
	}
}

func TestDelayBeforeRequest_HonoursCancellation(t *testing.T) {
	l := antidetect.New(antidetect.Config{MinDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := l.DelayBeforeRequest(ctx); err == nil {
		t.Fatal("DelayBeforeRequest on a cancelled context should return an error")
	}
	if time.Since(start) > time.Second {
		t.Error("DelayBeforeRequest did not return promptly after cancellation")
	}
}

func TestDelayBeforeRequest_DisabledJitter(t *testing.T) {
	l := antidetect.New(antidetect.Config{MinDelay: -1, MaxDelay: -1})
	if err := l.DelayBeforeRequest(context.Background()); err != nil {
		t.Fatalf("DelayBeforeRequest: %v", err)
	}
}

// ── Budget ─────────────────────────────────────────────────────────────────

func TestBudget_CeilingEnforced(t *testing.T) {
	b := antidetect.NewBudget(3)
	for i := 0; i < 3; i++ {
		if !b.CanIssue() {
			t.Fatalf("CanIssue() #%d should succeed", i+1)
		}
	}
	if b.CanIssue() {
		t.Error("CanIssue() past the ceiling should fail")
	}
	if b.Issued() != 3 {
		t.Errorf("Issued() = %d, want 3", b.Issued())
	}
}

func TestBudget_ConcurrentCallers(t *testing.T) {
	b := antidetect.NewBudget(10)
	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.CanIssue() {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 10 {
		t.Errorf("granted = %d, want 10", ok.Load())
	}
}

func TestLayer_NewBudgetIsPerRun(t *testing.T) {
	l := antidetect.New(antidetect.Config{MaxRequestsRun: 1})
	a, b := l.NewBudget(), l.NewBudget()
	if !a.CanIssue() || !b.CanIssue() {
		t.Fatal("each run should get its own budget")
	}
	if a.CanIssue() {
		t.Error("budget a should be exhausted")
	}
}

func TestBudget_NilIsUnlimited(t *testing.T) {
	var b *antidetect.Budget
	for i := 0; i < 5; i++ {
		if !b.CanIssue() {
			t.Fatal("nil budget should always allow")
		}
	}
}
