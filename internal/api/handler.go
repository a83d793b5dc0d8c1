// Package api implements the HTTP handlers for the discovery pipeline.
//
// Routes:
//
//	POST /scrape                   → run one query synchronously
//	POST /scrape/start             → queue an async run, returns run_id
//	GET  /scrape/status/{id}       → state and result of an async run
//	GET  /scrape/runs              → all async runs, without job payloads
//	POST /scrape/cancel/{id}       → cancel a queued or running run
//	GET  /scrape/quota             → structured-tier budget
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/pipeline"
)

// Request defaults when the body leaves a field out.
const (
	DefaultMaxResults       = 20
	DefaultPostedWithinDays = 7
)

// ─── Dependencies ────────────────────────────────────────────────────────────

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, q model.JobQuery, opts ...pipeline.RunOption) (*model.ScrapeResult, error)
}

// QuotaReporter exposes the structured-tier budget.
type QuotaReporter interface {
	Snapshot() model.QuotaState
}

// ─── Request / response types ────────────────────────────────────────────────

// ScrapeRequest is the JSON body of POST /scrape and /scrape/start.
type ScrapeRequest struct {
	Keywords         string   `json:"keywords"`
	Location         string   `json:"location"`
	MaxResults       *int     `json:"max_results"`
	PostedWithinDays *int     `json:"posted_within_days"`
	MaxApplicants    *int     `json:"max_applicants"`
	ExperienceLevels []string `json:"experience_levels"`
	JobTypes         []string `json:"job_types"`
	WorkplaceTypes   []string `json:"workplace_types"`
	EasyApply        bool     `json:"easy_apply"`
	RedFlags         []string `json:"red_flags"`
	UserSkills       []string `json:"user_skills"`
}

// Query converts the request, applying defaults for omitted values.
func (r ScrapeRequest) Query() model.JobQuery {
	q := model.JobQuery{
		Keywords:         strings.TrimSpace(r.Keywords),
		Location:         strings.TrimSpace(r.Location),
		MaxResults:       DefaultMaxResults,
		PostedWithinDays: DefaultPostedWithinDays,
		MaxApplicants:    r.MaxApplicants,
		ExperienceLevels: r.ExperienceLevels,
		JobTypes:         r.JobTypes,
		WorkplaceTypes:   r.WorkplaceTypes,
		EasyApply:        r.EasyApply,
		RedFlags:         r.RedFlags,
		UserSkills:       r.UserSkills,
	}
	if r.MaxResults != nil {
		q.MaxResults = *r.MaxResults
	}
	if r.PostedWithinDays != nil {
		q.PostedWithinDays = *r.PostedWithinDays
	}
	return q
}

// QuotaResponse is the body of GET /scrape/quota.
type QuotaResponse struct {
	RequestsRemaining int       `json:"requests_remaining"`
	MonthlyLimit      int       `json:"monthly_limit"`
	ResetsAt          time.Time `json:"resets_at"`
	APIConfigured     bool      `json:"api_configured"`
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	runner        Runner
	quota         QuotaReporter
	apiConfigured bool
	runs          *runRegistry

	// base outlives individual requests; async runs derive from it.
	base context.Context
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewHandler returns a configured Handler. Async runs are cancelled when
// base is done.
func NewHandler(base context.Context, runner Runner, quota QuotaReporter, apiConfigured bool) *Handler {
	return &Handler{
		runner:        runner,
		quota:         quota,
		apiConfigured: apiConfigured,
		runs:          newRunRegistry(defaultMaxRuns),
		base:          base,
		now:           time.Now,
	}
}

// RegisterRoutes mounts all pipeline routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/scrape", h.handleScrape)
	mux.HandleFunc("/scrape/", h.handleScrapeAction)
}

// Wait blocks until every async run has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// ─── Route dispatch ──────────────────────────────────────────────────────────

// handleScrape handles POST /scrape
func (h *Handler) handleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.scrape(w, r)
}

// handleScrapeAction handles /scrape/start|runs|quota and /scrape/status|cancel/{id}
func (h *Handler) handleScrapeAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[1] == "start":
		if r.Method != http.MethodPost {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.startRun(w, r)
	case len(parts) == 2 && parts[1] == "runs":
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		jsonOK(w, h.runs.list())
	case len(parts) == 2 && parts[1] == "quota":
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.quotaStatus(w)
	case len(parts) == 3 && parts[1] == "status":
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.runStatus(w, parts[2])
	case len(parts) == 3 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.cancelRun(w, parts[2])
	default:
		jsonError(w, "invalid path", http.StatusNotFound)
	}
}

// ─── Individual handlers ─────────────────────────────────────────────────────

func (h *Handler) scrape(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	res, err := h.runner.Run(r.Context(), q)
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, pipeline.ErrTotalDiscoveryFailure) && res != nil:
		jsonStatus(w, http.StatusBadGateway, res)
	case err != nil:
		log.Printf("[api] scrape %q failed: %v", q.Keywords, err)
		jsonError(w, "scrape failed", http.StatusInternalServerError)
	default:
		jsonOK(w, res)
	}
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	if err := q.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(h.base)
	run := h.runs.add(id, q, cancel, h.now())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.execute(ctx, id, q)
	}()

	jsonStatus(w, http.StatusAccepted, run)
}

// execute drives one async run to a terminal state.
func (h *Handler) execute(ctx context.Context, id string, q model.JobQuery) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[api] run %s panicked: %v", id, p)
			h.runs.finish(id, RunFailed, nil, fmt.Sprint(p), h.now())
		}
	}()

	if ctx.Err() != nil {
		h.runs.finish(id, RunCancelled, nil, "cancelled before start", h.now())
		return
	}
	h.runs.start(id, h.now())

	res, err := h.runner.Run(ctx, q, pipeline.WithRunID(id))
	switch {
	case ctx.Err() != nil:
		h.runs.finish(id, RunCancelled, res, "cancelled", h.now())
	case err != nil:
		h.runs.finish(id, RunFailed, res, err.Error(), h.now())
	default:
		h.runs.finish(id, RunCompleted, res, "", h.now())
	}
}

func (h *Handler) runStatus(w http.ResponseWriter, id string) {
	run, ok := h.runs.get(id)
	if !ok {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonOK(w, run)
}

func (h *Handler) cancelRun(w http.ResponseWriter, id string) {
	run, ok := h.runs.cancel(id)
	if !ok {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Status.finished() {
		jsonError(w, fmt.Sprintf("run already %s", run.Status), http.StatusConflict)
		return
	}
	jsonStatus(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func (h *Handler) quotaStatus(w http.ResponseWriter) {
	s := h.quota.Snapshot()
	jsonOK(w, QuotaResponse{
		RequestsRemaining: s.RequestsRemaining,
		MonthlyLimit:      s.MonthlyLimit,
		ResetsAt:          s.ResetsAt,
		APIConfigured:     h.apiConfigured,
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func decodeQuery(w http.ResponseWriter, r *http.Request) (model.JobQuery, bool) {
	var body ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return model.JobQuery{}, false
	}
	return body.Query(), true
}

func jsonOK(w http.ResponseWriter, v any) {
	jsonStatus(w, http.StatusOK, v)
}

func jsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
