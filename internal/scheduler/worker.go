package scheduler

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/pipeline"
)

// maxResultsPerSearch caps each (title × location) run of a saved search.
const maxResultsPerSearch = 20

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, q model.JobQuery, opts ...pipeline.RunOption) (*model.ScrapeResult, error)
}

// Worker runs the full discovery cycle for a single SearchConfig.
type Worker struct {
	runner Runner
}

// NewWorker constructs a Worker.
func NewWorker(runner Runner) *Worker {
	return &Worker{runner: runner}
}

// CycleStats totals one SearchConfig's runs.
type CycleStats struct {
	Runs     int
	Failed   int
	Found    int
	Dropped  int
	Inserted int
}

// Run executes one cycle for cfg. Every (jobTitle × location) pair goes
// through the pipeline; a failing pair is logged and skipped.
func (w *Worker) Run(ctx context.Context, cfg model.SearchConfig) CycleStats {
	log.Printf("[worker] Starting discovery for config %s (user %s): titles=%v locations=%v",
		cfg.ID, cfg.UserID, cfg.JobTitles, cfg.Locations)

	var stats CycleStats
	for _, q := range Queries(cfg) {
		if ctx.Err() != nil {
			break
		}
		stats.Runs++
		res, err := w.runner.Run(ctx, q, pipeline.WithRunID("sched-"+uuid.NewString()))
		if err != nil {
			stats.Failed++
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				log.Printf("[worker] Invalid query (%q, %q): %v, skipping", q.Keywords, q.Location, err)
			} else {
				log.Printf("[worker] Error discovering (%q, %q): %v, continuing", q.Keywords, q.Location, err)
			}
			continue
		}
		stats.Found += res.JobsFound
		stats.Dropped += res.Dropped
		if res.Upsert != nil {
			stats.Inserted += res.Upsert.Inserted
		}
	}

	log.Printf("[worker] Config %s done: runs=%d failed=%d found=%d inserted=%d dropped=%d",
		cfg.ID, stats.Runs, stats.Failed, stats.Found, stats.Inserted, stats.Dropped)
	return stats
}

// Queries expands a saved search into one query per title and location. A
// config without locations searches each title with no location.
func Queries(cfg model.SearchConfig) []model.JobQuery {
	locations := cfg.Locations
	if len(locations) == 0 {
		locations = []string{""}
	}
	days := cfg.PostedWithinDays
	if days < 1 {
		days = 1
	}

	out := make([]model.JobQuery, 0, len(cfg.JobTitles)*len(locations))
	for _, title := range cfg.JobTitles {
		for _, location := range locations {
			out = append(out, model.JobQuery{
				Keywords:         title,
				Location:         location,
				MaxResults:       maxResultsPerSearch,
				PostedWithinDays: days,
				MaxApplicants:    cfg.MaxApplicants,
				WorkplaceTypes:   cfg.WorkplaceTypes,
				RedFlags:         cfg.RedFlags,
			})
		}
	}
	return out
}
