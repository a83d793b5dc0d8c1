// Package scheduler wires up the cron job that periodically runs discovery
// for all active SearchConfigs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"jobmate/discovery-pipeline/internal/model"
)

// ConfigLoader returns the saved searches to run.
type ConfigLoader func(ctx context.Context) ([]model.SearchConfig, error)

// Scheduler wraps robfig/cron and manages the discovery loop.
type Scheduler struct {
	cron   *cron.Cron
	load   ConfigLoader
	worker *Worker
	spec   string // cron spec, e.g. "@every 6h"
}

// New creates a Scheduler that fires every intervalHours hours. Overlapping
// cycles are skipped.
func New(load ConfigLoader, worker *Worker, intervalHours int) (*Scheduler, error) {
	if intervalHours < 1 {
		return nil, fmt.Errorf("scheduler: interval must be at least 1h, got %d", intervalHours)
	}
	if load == nil {
		return nil, errors.New("scheduler: config loader is required")
	}
	logger := cron.DefaultLogger
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		load:   load,
		worker: worker,
		spec:   fmt.Sprintf("@every %dh", intervalHours),
	}, nil
}

// Start registers the job and starts the scheduler. Also runs one cycle
// immediately so the store is populated without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started, spec: %s", s.spec)

	// Run immediately on startup (non-blocking)
	go s.RunCycle(ctx)

	return nil
}

// Stop shuts down the scheduler and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] Cron stopped")
}

// RunCycle loads all active configs and runs the Worker for each one.
func (s *Scheduler) RunCycle(ctx context.Context) {
	log.Println("[scheduler] Discovery cycle started")

	configs, err := s.load(ctx)
	if err != nil {
		log.Printf("[scheduler] LoadActiveConfigs error: %v", err)
		return
	}

	if len(configs) == 0 {
		log.Println("[scheduler] No active search configs, nothing to discover")
		return
	}

	log.Printf("[scheduler] Running discovery for %d config(s)", len(configs))
	for _, cfg := range configs {
		if ctx.Err() != nil {
			log.Printf("[scheduler] Cycle interrupted: %v", ctx.Err())
			return
		}
		s.worker.Run(ctx, cfg)
	}

	log.Println("[scheduler] Discovery cycle complete")
}
