// Package antidetect supplies per-request browser identity and pacing for
// outbound scraping traffic.
//
// A single Layer is shared by every pipeline run in the process. Each run
// draws its own Budget, which caps how many requests that run may issue.
package antidetect

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMinDelay       = 1500 * time.Millisecond
	DefaultMaxDelay       = 3500 * time.Millisecond
	DefaultMaxRequestsRun = 50
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// UserAgents returns a copy of the rotation pool.
func UserAgents() []string {
	out := make([]string, len(userAgents))
	copy(out, userAgents)
	return out
}

// Config tunes a Layer. Zero values fall back to the package defaults;
// set MinDelay and MaxDelay to a negative value to disable jitter.
type Config struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	MaxRequestsRun int
	Seed           int64
}

// Layer is safe for concurrent use.
type Layer struct {
	mu          sync.Mutex
	rng         *rand.Rand
	minDelay    time.Duration
	maxDelay    time.Duration
	maxRequests int
}

// New builds a Layer from cfg.
func New(cfg Config) *Layer {
	if cfg.MinDelay == 0 && cfg.MaxDelay == 0 {
		cfg.MinDelay, cfg.MaxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.MaxRequestsRun <= 0 {
		cfg.MaxRequestsRun = DefaultMaxRequestsRun
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Layer{
		rng:         rand.New(rand.NewSource(seed)),
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		maxRequests: cfg.MaxRequestsRun,
	}
}

// HeadersForRequest returns a realistic browser header bundle with a
// rotated User-Agent.
//
// Accept-Encoding is limited to gzip: net/http only decodes bodies
// transparently when it set the header itself, so callers decode gzip
// bodies themselves.
func (l *Layer) HeadersForRequest() http.Header {
	l.mu.Lock()
	ua := userAgents[l.rng.Intn(len(userAgents))]
	l.mu.Unlock()

	h := make(http.Header)
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip")
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	return h
}

// Jitter draws the next delay uniformly from [min, max].
func (l *Layer) Jitter() time.Duration {
	span := l.maxDelay - l.minDelay
	if span <= 0 {
		return l.minDelay
	}
	l.mu.Lock()
	d := l.minDelay + time.Duration(l.rng.Int63n(int64(span)+1))
	l.mu.Unlock()
	return d
}

// DelayBeforeRequest blocks for a jittered duration, returning early with
// ctx.Err() if ctx is done first.
func (l *Layer) DelayBeforeRequest(ctx context.Context) error {
	d := l.Jitter()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewBudget returns a fresh per-run request ceiling.
func (l *Layer) NewBudget() *Budget {
	return &Budget{max: int64(l.maxRequests)}
}

// Budget counts requests issued by one run. It is shared by that run's
// concurrent tasks.
type Budget struct {
	max    int64
	issued atomic.Int64
}

// NewBudget returns a standalone ceiling of max requests.
func NewBudget(max int) *Budget {
	return &Budget{max: int64(max)}
}

// CanIssue reserves one request slot, returning false once the ceiling is
// reached. A nil Budget is unlimited.
func (b *Budget) CanIssue() bool {
	if b == nil {
		return true
	}
	for {
		cur := b.issued.Load()
		if cur >= b.max {
			return false
		}
		if b.issued.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Issued reports how many slots have been taken.
func (b *Budget) Issued() int {
	if b == nil {
		return 0
	}
	return int(b.issued.Load())
}
