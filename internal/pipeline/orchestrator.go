package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"jobmate/discovery-pipeline/internal/antidetect"
	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/scraper"
)

// ErrTotalDiscoveryFailure is returned when neither tier produced a usable
// answer. The accompanying result is still populated.
var ErrTotalDiscoveryFailure = errors.New("both discovery tiers failed")

const (
	DefaultRunTimeout   = 120 * time.Second
	DefaultMergeTimeout = 30 * time.Second

	reasonOverLimit = "over max_results"
)

// QuotaSource exposes the structured-tier budget.
type QuotaSource interface {
	Snapshot() model.QuotaState
}

// QuotaCheckpoint persists the budget after it changes.
type QuotaCheckpoint interface {
	Save(ctx context.Context, s model.QuotaState) error
}

// StructuredSearcher is the quota-limited tier.
type StructuredSearcher interface {
	Configured() bool
	Search(ctx context.Context, q model.JobQuery) ([]model.DiscoveredCandidate, error)
}

// TextSearcher is the free fallback tier.
type TextSearcher interface {
	Search(ctx context.Context, budget *antidetect.Budget, q model.JobQuery) scraper.Discovery
}

// Validator checks text-search candidates against their detail pages.
type Validator interface {
	NewSemaphore() *semaphore.Weighted
	ValidateAll(ctx context.Context, budget *antidetect.Budget, sem *semaphore.Weighted, cands []model.DiscoveredCandidate) []scraper.Validation
}

// Upserter persists a batch of jobs.
type Upserter interface {
	Upsert(ctx context.Context, jobs []model.ValidatedJob) model.UpsertOutcome
}

// Publisher announces finished runs.
type Publisher interface {
	JobsDiscovered(ctx context.Context, res *model.ScrapeResult) error
}

// Config wires an Orchestrator. Store, Publisher, Checkpoint and Structured
// are optional.
type Config struct {
	Quota        QuotaSource
	Checkpoint   QuotaCheckpoint
	Structured   StructuredSearcher
	Text         TextSearcher
	Validator    Validator
	Layer        *antidetect.Layer
	Store        Upserter
	Publisher    Publisher
	Scorer       Scorer
	TieBreak     TieBreak
	RunTimeout   time.Duration
	MergeTimeout time.Duration
}

// Orchestrator runs queries through the tiers, the validator, the
// deduplicator and the store. It is safe for concurrent use; each Run owns
// its own runContext.
type Orchestrator struct {
	quota        QuotaSource
	checkpoint   QuotaCheckpoint
	structured   StructuredSearcher
	text         TextSearcher
	validator    Validator
	layer        *antidetect.Layer
	store        Upserter
	publisher    Publisher
	scorer       Scorer
	dedup        *Deduplicator
	runTimeout   time.Duration
	mergeTimeout time.Duration
	now          func() time.Time
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Quota == nil:
		return nil, errors.New("pipeline: Quota is required")
	case cfg.Text == nil:
		return nil, errors.New("pipeline: Text tier is required")
	case cfg.Validator == nil:
		return nil, errors.New("pipeline: Validator is required")
	case cfg.Layer == nil:
		return nil, errors.New("pipeline: Layer is required")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = SkillScorer{}
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.MergeTimeout <= 0 {
		cfg.MergeTimeout = DefaultMergeTimeout
	}
	return &Orchestrator{
		quota:        cfg.Quota,
		checkpoint:   cfg.Checkpoint,
		structured:   cfg.Structured,
		text:         cfg.Text,
		validator:    cfg.Validator,
		layer:        cfg.Layer,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		scorer:       cfg.Scorer,
		dedup:        NewDeduplicator(cfg.TieBreak),
		runTimeout:   cfg.RunTimeout,
		mergeTimeout: cfg.MergeTimeout,
		now:          time.Now,
	}, nil
}

// RunOption tags a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID string
}

// WithRunID stamps the result and its event with id.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// Run executes one query. A *model.ValidationError is returned for a bad
// query with a nil result. ErrTotalDiscoveryFailure comes with a FAILED
// result; every other outcome is a COMPLETED result and a nil error.
func (o *Orchestrator) Run(ctx context.Context, q model.JobQuery, opts ...RunOption) (*model.ScrapeResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	start := o.now()
	rc := newRunContext(ctx, o.runTimeout, o.layer.NewBudget(), o.validator.NewSemaphore())
	defer rc.cancel()

	m := newMachine()
	res := &model.ScrapeResult{
		RunID:        ro.runID,
		Keywords:     q.Keywords,
		Location:     q.Location,
		Jobs:         []model.ValidatedJob{},
		SearchMethod: model.MethodTextSearch,
		DropReasons:  map[string]int{},
	}
	drop := func(reason string, n int) {
		res.Dropped += n
		res.DropReasons[reason] += n
	}
	finish := func() {
		res.DurationSeconds = o.now().Sub(start).Seconds()
		if len(res.DropReasons) == 0 {
			res.DropReasons = nil
		}
	}

	var (
		active       []model.ValidatedJob
		inactive     []model.ValidatedJob
		structuredOK bool
	)

	if notice, usable := o.structuredUsable(); !usable {
		res.FallbackNotice = notice
	} else {
		if err := m.advance(StateDiscoveringStructured); err != nil {
			return nil, err
		}
		cands, err := o.structured.Search(rc.ctx, q)
		o.saveQuota(ctx)
		if err != nil {
			if !scraper.IsFallbackSignal(err) {
				slog.Warn("structured tier failed, falling back", "keywords", q.Keywords, "err", err)
			}
			res.FallbackNotice = fallbackNotice(err)
		} else {
			structuredOK = true
			res.SearchMethod = model.MethodStructured
			for _, c := range cands {
				active = append(active, c.ToJob())
			}
		}
	}

	if !structuredOK {
		if err := m.advance(StateDiscoveringText); err != nil {
			return nil, err
		}
		d := o.text.Search(rc.ctx, rc.budget, q)
		if d.Failed() && len(d.Candidates) == 0 {
			if err := m.advance(StateError); err != nil {
				return nil, err
			}
			res.Status = model.StatusFailed
			res.FallbackNotice = joinNotice(res.FallbackNotice, "Text search failed: "+d.Failure)
			finish()
			slog.Error("scrape run failed", "run_id", ro.runID, "keywords", q.Keywords, "err", d.Failure)
			return res, fmt.Errorf("%w: %s", ErrTotalDiscoveryFailure, d.Failure)
		}
		if d.Excluded > 0 {
			drop(ReasonLocationMismatch, d.Excluded)
		}

		if err := m.advance(StateValidating); err != nil {
			return nil, err
		}
		for _, v := range o.validator.ValidateAll(rc.ctx, rc.budget, rc.sem, d.Candidates) {
			switch {
			case v.Dropped:
				drop(v.Reason, 1)
			case !v.Job.IsActive:
				drop(v.Reason, 1)
				inactive = append(inactive, v.Job)
			default:
				active = append(active, v.Job)
			}
		}
		if rc.expired() {
			slog.Warn("run deadline exceeded during validation", "run_id", ro.runID, "deadline", rc.deadline)
		}
	}

	if err := m.advance(StateMerging); err != nil {
		return nil, err
	}
	now := o.now()
	kept := make([]model.ValidatedJob, 0, len(active))
	for _, j := range o.dedup.Deduplicate(active) {
		if reason := postFilter(q, j, now); reason != "" {
			drop(reason, 1)
			continue
		}
		if len(q.UserSkills) > 0 {
			j.MatchScore = clampScore(o.scorer.Score(j, q.UserSkills))
		}
		kept = append(kept, j)
	}
	if len(q.UserSkills) > 0 {
		sort.SliceStable(kept, func(a, b int) bool { return kept[a].MatchScore > kept[b].MatchScore })
	}
	if over := len(kept) - q.MaxResults; over > 0 {
		drop(reasonOverLimit, over)
		kept = kept[:q.MaxResults]
	}

	if o.store != nil {
		persist := append(o.dedup.Deduplicate(inactive), kept...)
		if len(persist) > 0 {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.mergeTimeout)
			out := o.store.Upsert(mctx, persist)
			cancel()
			res.Upsert = &out.Stats
			for _, r := range out.Records {
				if r.Err != nil {
					slog.Warn("job not persisted", "external_id", r.ExternalID, "err", r.Err)
				}
			}
		}
	}

	if err := m.advance(StateDone); err != nil {
		return nil, err
	}
	res.Status = model.StatusCompleted
	res.Jobs = kept
	res.JobsFound = len(kept)
	finish()

	if o.publisher != nil && len(kept) > 0 {
		if err := o.publisher.JobsDiscovered(context.WithoutCancel(ctx), res); err != nil {
			slog.Warn("publish jobs discovered failed", "err", err)
		}
	}

	slog.Info("scrape run complete",
		"run_id", ro.runID, "keywords", q.Keywords, "location", q.Location,
		"method", res.SearchMethod, "jobs", res.JobsFound, "dropped", res.Dropped,
		"states", m.history)
	return res, nil
}

// structuredUsable decides whether the structured tier is attempted at all.
func (o *Orchestrator) structuredUsable() (notice string, ok bool) {
	if o.structured == nil || !o.structured.Configured() {
		return "Structured search API is not configured; results come from free text search and may be less complete.", false
	}
	snap := o.quota.Snapshot()
	if snap.RequestsRemaining <= 0 {
		return fmt.Sprintf("Monthly structured search quota exhausted (0 of %d left, resets %s); results come from free text search and may be less complete.",
			snap.MonthlyLimit, snap.ResetsAt.Format("2006-01-02")), false
	}
	return "", true
}

func (o *Orchestrator) saveQuota(ctx context.Context) {
	if o.checkpoint == nil {
		return
	}
	if err := o.checkpoint.Save(context.WithoutCancel(ctx), o.quota.Snapshot()); err != nil {
		slog.Warn("quota checkpoint failed", "err", err)
	}
}

func fallbackNotice(err error) string {
	var rl *scraper.RateLimitedError
	switch {
	case errors.Is(err, scraper.ErrStructuredUnconfigured):
		return "Structured search API is not configured; results come from free text search and may be less complete."
	case errors.Is(err, scraper.ErrQuotaUnavailable):
		return "Monthly structured search quota exhausted; results come from free text search and may be less complete."
	case errors.As(err, &rl):
		return fmt.Sprintf("Structured search was rate limited (HTTP %d); results come from free text search.", rl.StatusCode)
	}
	return fmt.Sprintf("Structured search failed (%v); results come from free text search.", err)
}

func joinNotice(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
