// jobmate-discovery-pipeline
//
// Two-tier job discovery: a quota-limited structured search API, with a free
// text-search fallback whose results are validated against the live job
// pages. Results are deduplicated, filtered, scored and upserted into
// job_listings.
//
// Exposes a REST API used by the Gateway:
//   - POST /scrape          synchronous run
//   - POST /scrape/start    async run, polled via /scrape/status/{id}
//   - GET  /scrape/quota    structured-tier budget
//
// Saved searches are re-run on a cron schedule. Each finished run publishes
// EVENT_JOBS_DISCOVERED to Redis. A gRPC health service reports readiness.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"jobmate/discovery-pipeline/internal/antidetect"
	"jobmate/discovery-pipeline/internal/api"
	"jobmate/discovery-pipeline/internal/config"
	"jobmate/discovery-pipeline/internal/db"
	"jobmate/discovery-pipeline/internal/events"
	"jobmate/discovery-pipeline/internal/grpcserver"
	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/pipeline"
	"jobmate/discovery-pipeline/internal/quota"
	"jobmate/discovery-pipeline/internal/scheduler"
	"jobmate/discovery-pipeline/internal/scraper"
	"jobmate/discovery-pipeline/internal/store"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[discovery] Config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probes := map[string]grpcserver.Probe{}

	// ── Job store ────────────────────────────────────────────────────────────
	var (
		jobs pipeline.Upserter
		pool *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		log.Println("[discovery] Connecting to PostgreSQL…")
		pool, err = db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[discovery] PostgreSQL: %v", err)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("[discovery] Schema: %v", err)
		}
		jobs = pg
		probes["postgres"] = pg.Ping
		log.Println("[discovery] PostgreSQL connected ✓")
	} else {
		jobs = store.NewMemoryStore()
		log.Println("[discovery] DATABASE_URL not set, using in-memory job store")
	}

	// ── Quota ────────────────────────────────────────────────────────────────
	tracker := quota.NewTracker(cfg.QuotaMonthlyLimit)

	// ── Redis ────────────────────────────────────────────────────────────────
	var (
		checkpoint pipeline.QuotaCheckpoint
		publisher  pipeline.Publisher
	)
	if cfg.RedisURL != "" {
		log.Println("[discovery] Connecting to Redis…")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("[discovery] Redis: %v", err)
		}
		defer rdb.Close()

		cp := quota.NewRedisCheckpoint(rdb, "")
		if s, ok, err := cp.Load(ctx); err != nil {
			log.Printf("[discovery] Quota checkpoint unreadable, starting full: %v", err)
		} else if ok {
			tracker.Restore(s)
		}
		checkpoint = cp
		publisher = events.NewRedisPublisher(rdb)
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Println("[discovery] Redis connected ✓")
	} else {
		log.Println("[discovery] REDIS_URL not set, quota is not checkpointed and events are disabled")
	}
	q := tracker.Snapshot()
	log.Printf("[discovery] Structured quota: %d/%d, resets %s", q.RequestsRemaining, q.MonthlyLimit, q.ResetsAt.Format(time.DateOnly))

	// ── Pipeline ─────────────────────────────────────────────────────────────
	orch, err := newOrchestrator(cfg, tracker, checkpoint, jobs, publisher)
	if err != nil {
		log.Fatalf("[discovery] Pipeline: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	h := api.NewHandler(ctx, orch, tracker, cfg.RapidAPIKey != "")
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// POST /scrape blocks for a whole run.
		WriteTimeout: cfg.RunTimeout + pipeline.DefaultMergeTimeout + 10*time.Second,
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	health := grpcserver.NewServer(probes)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("[discovery] gRPC listen: %v", err)
	}

	// ── Scheduler ────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	switch {
	case cfg.ScrapeIntervalHours == 0:
		log.Println("[discovery] SCRAPE_INTERVAL_HOURS=0, scheduler disabled")
	case pool == nil:
		log.Println("[discovery] No database, saved searches cannot be loaded; scheduler disabled")
	default:
		load := func(ctx context.Context) ([]model.SearchConfig, error) {
			return store.LoadActiveConfigs(ctx, pool)
		}
		sched, err = scheduler.New(load, scheduler.NewWorker(orch), cfg.ScrapeIntervalHours)
		if err != nil {
			log.Fatalf("[discovery] Scheduler: %v", err)
		}
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("[discovery] Scheduler start: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[discovery] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("[discovery] gRPC health listening on :%s", cfg.GRPCPort)
		return health.Serve(lis)
	})
	g.Go(func() error {
		health.Watch(gctx, 0)
		return nil
	})

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[discovery] Shutting down…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if sched != nil {
			sched.Stop()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[discovery] Shutdown error: %v", err)
		}
		health.Stop()
		h.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("[discovery] Stopped with error: %v", err)
		return
	}
	log.Println("[discovery] Stopped.")
}

// newOrchestrator assembles the tiers around one shared anti-detection layer.
func newOrchestrator(cfg *config.Config, tracker *quota.Tracker, checkpoint pipeline.QuotaCheckpoint,
	jobs pipeline.Upserter, publisher pipeline.Publisher) (*pipeline.Orchestrator, error) {

	minDelay, maxDelay := cfg.DelayMin, cfg.DelayMax
	if minDelay == 0 && maxDelay == 0 {
		minDelay, maxDelay = -1, -1
	}
	layer := antidetect.New(antidetect.Config{
		MinDelay:       minDelay,
		MaxDelay:       maxDelay,
		MaxRequestsRun: cfg.MaxRequestsPerRun,
	})
	client := scraper.NewHTTPClient()
	retry := cfg.Retry()

	structured := scraper.NewStructuredTier(scraper.StructuredConfig{
		Endpoint: cfg.StructuredAPIURL,
		Host:     cfg.RapidAPIHost,
		APIKey:   cfg.RapidAPIKey,
		Retry:    retry,
		Client:   client,
	}, tracker)
	if !structured.Configured() {
		log.Println("[discovery] RAPIDAPI_KEY not set, every run uses text search")
	}

	return pipeline.New(pipeline.Config{
		Quota:      tracker,
		Checkpoint: checkpoint,
		Structured: structured,
		Text:       scraper.NewTextSearchTier(cfg.TextSearchURL, layer, retry, client),
		Validator: scraper.NewPageValidator(layer, scraper.ValidatorConfig{
			ClosedPhrases:   cfg.ClosedPhrases,
			RepostedPhrases: cfg.RepostedPhrases,
			Concurrency:     cfg.ValidationConcurrency,
			Retry:           retry,
			Client:          client,
		}),
		Layer:      layer,
		Store:      jobs,
		Publisher:  publisher,
		TieBreak:   cfg.DedupTieBreak,
		RunTimeout: cfg.RunTimeout,
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "discovery-pipeline",
		"version": version,
	})
}
