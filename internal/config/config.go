// Package config loads and validates environment variables at startup.
// Fail-fast: if a variable is malformed, the process exits.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"jobmate/discovery-pipeline/internal/antidetect"
	"jobmate/discovery-pipeline/internal/pipeline"
	"jobmate/discovery-pipeline/internal/quota"
	"jobmate/discovery-pipeline/internal/scraper"
)

// Config holds all runtime configuration for the discovery pipeline.
type Config struct {
	Port     string
	GRPCPort string

	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no quota checkpoint, no events

	RapidAPIKey       string
	RapidAPIHost      string
	StructuredAPIURL  string
	TextSearchURL     string
	QuotaMonthlyLimit int

	MaxRequestsPerRun     int
	DelayMin              time.Duration
	DelayMax              time.Duration
	ValidationConcurrency int
	RunTimeout            time.Duration
	RetryMaxAttempts      int
	RetryBase             time.Duration
	ClosedPhrases         []string
	RepostedPhrases       []string
	DedupTieBreak         pipeline.TieBreak

	ScrapeIntervalHours int // 0 disables the cron job
}

// Retry returns the retry policy shared by the tiers and the validator.
func (c *Config) Retry() scraper.RetryPolicy {
	p := scraper.DefaultRetryPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.BaseDelay = c.RetryBase
	return p
}

// Load reads an optional .env file (or the given files), then environment
// variables, and returns a validated Config. Variables already set in the
// environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		log.Println("[config] Loaded .env")
	}

	var (
		p   parser
		cfg = &Config{
			Port:                  getenv("DISCOVERY_PORT", "8081"),
			GRPCPort:              getenv("DISCOVERY_GRPC_PORT", "9081"),
			DatabaseURL:           os.Getenv("DATABASE_URL"),
			RedisURL:              os.Getenv("REDIS_URL"),
			RapidAPIKey:           os.Getenv("RAPIDAPI_KEY"),
			RapidAPIHost:          getenv("RAPIDAPI_HOST", scraper.DefaultStructuredHost),
			StructuredAPIURL:      getenv("STRUCTURED_API_URL", scraper.DefaultStructuredURL),
			TextSearchURL:         getenv("TEXT_SEARCH_URL", scraper.DefaultTextSearchURL),
			QuotaMonthlyLimit:     p.intVar("QUOTA_MONTHLY_LIMIT", quota.DefaultMonthlyLimit, 0),
			MaxRequestsPerRun:     p.intVar("MAX_REQUESTS_PER_RUN", antidetect.DefaultMaxRequestsRun, 1),
			DelayMin:              p.msVar("DELAY_MIN_MS", antidetect.DefaultMinDelay),
			DelayMax:              p.msVar("DELAY_MAX_MS", antidetect.DefaultMaxDelay),
			ValidationConcurrency: p.intVar("VALIDATION_CONCURRENCY", scraper.DefaultValidationConcurrency, 1),
			RunTimeout:            time.Duration(p.intVar("RUN_TIMEOUT_SECONDS", int(pipeline.DefaultRunTimeout/time.Second), 1)) * time.Second,
			RetryMaxAttempts:      p.intVar("RETRY_MAX_ATTEMPTS", 3, 1),
			RetryBase:             p.msVar("RETRY_BASE_MS", time.Second),
			ClosedPhrases:         splitList(os.Getenv("CLOSED_PHRASES")),
			RepostedPhrases:       splitList(os.Getenv("REPOSTED_PHRASES")),
			ScrapeIntervalHours:   p.intVar("SCRAPE_INTERVAL_HOURS", 6, 0),
		}
	)
	if p.err != nil {
		return nil, p.err
	}

	tb, err := pipeline.ParseTieBreak(os.Getenv("DEDUP_TIE_BREAK"))
	if err != nil {
		return nil, fmt.Errorf("DEDUP_TIE_BREAK: %w", err)
	}
	cfg.DedupTieBreak = tb

	if cfg.DelayMax < cfg.DelayMin {
		return nil, fmt.Errorf("DELAY_MAX_MS (%d) must be >= DELAY_MIN_MS (%d)",
			cfg.DelayMax.Milliseconds(), cfg.DelayMin.Milliseconds())
	}
	if len(cfg.ClosedPhrases) == 0 {
		cfg.ClosedPhrases = scraper.DefaultClosedPhrases
	}
	if len(cfg.RepostedPhrases) == 0 {
		cfg.RepostedPhrases = scraper.DefaultRepostedPhrases
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser keeps the first malformed variable.
type parser struct{ err error }

func (p *parser) intVar(key string, def, min int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" || p.err != nil {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min {
		p.err = fmt.Errorf("%s must be an integer >= %d, got %q", key, min, s)
		return def
	}
	return v
}

func (p *parser) msVar(key string, def time.Duration) time.Duration {
	ms := p.intVar(key, int(def/time.Millisecond), 0)
	return time.Duration(ms) * time.Millisecond
}

// splitList splits a "|"-separated override, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
