package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"jobmate/discovery-pipeline/internal/antidetect"
	"jobmate/discovery-pipeline/internal/model"
)

const DefaultValidationConcurrency = 3

// Drop and inactivity reasons reported by the validator.
const (
	ReasonClosed          = model.InactiveClosed
	ReasonReposted        = "reposted"
	ReasonRateLimited     = "rate limited"
	ReasonDeadline        = "deadline exceeded"
	ReasonFetchFailed     = "fetch failed"
	ReasonBudgetExhausted = "request budget exhausted"
	ReasonParseFailed     = "parse failed"
)

// errReposted marks a page advertising a relisted offer.
var errReposted = errors.New("job was reposted")

// Validation is the isolated outcome for one candidate. A dropped candidate
// has no Job; an inactive one has a Job with IsActive false and a Reason.
type Validation struct {
	ExternalID string
	Job        model.ValidatedJob
	Dropped    bool
	Reason     string
	Err        error
}

// PageValidator fetches candidate detail pages over plain HTTP and
// classifies them as active or closed.
type PageValidator struct {
	layer           *antidetect.Layer
	retry           RetryPolicy
	client          *http.Client
	closedPhrases   []string
	repostedPhrases []string
	concurrency     int64
}

// ValidatorConfig configures a PageValidator. Zero values use defaults.
type ValidatorConfig struct {
	ClosedPhrases   []string
	RepostedPhrases []string
	Concurrency     int
	Retry           RetryPolicy
	Client          *http.Client
}

// NewPageValidator constructs a validator sharing layer with the tiers.
func NewPageValidator(layer *antidetect.Layer, cfg ValidatorConfig) *PageValidator {
	if len(cfg.ClosedPhrases) == 0 {
		cfg.ClosedPhrases = DefaultClosedPhrases
	}
	if len(cfg.RepostedPhrases) == 0 {
		cfg.RepostedPhrases = DefaultRepostedPhrases
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultValidationConcurrency
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	return &PageValidator{
		layer:           layer,
		retry:           cfg.Retry,
		client:          cfg.Client,
		closedPhrases:   cfg.ClosedPhrases,
		repostedPhrases: cfg.RepostedPhrases,
		concurrency:     int64(cfg.Concurrency),
	}
}

// NewSemaphore returns a semaphore sized to the validator's concurrency.
func (v *PageValidator) NewSemaphore() *semaphore.Weighted {
	return semaphore.NewWeighted(v.concurrency)
}

// ValidateAll validates cands in parallel, bounded by sem. Every candidate
// gets exactly one Validation, in input order; one failure never cancels
// its siblings. A nil sem gets a fresh one sized to the validator.
func (v *PageValidator) ValidateAll(ctx context.Context, budget *antidetect.Budget, sem *semaphore.Weighted, cands []model.DiscoveredCandidate) []Validation {
	if sem == nil {
		sem = v.NewSemaphore()
	}
	out := make([]Validation, len(cands))

	var wg sync.WaitGroup
	for i, c := range cands {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("validator panic", "external_id", c.ExternalID, "panic", r)
					out[i] = dropped(c, ReasonParseFailed, fmt.Errorf("panic: %v", r))
				}
			}()

			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = dropped(c, ReasonDeadline, errors.Join(ErrValidationTimeout, err))
				return
			}
			defer sem.Release(1)
			out[i] = v.Validate(ctx, budget, c)
		}()
	}
	wg.Wait()
	return out
}

// Validate fetches one candidate page. Candidates that do not need
// validation pass straight through as active jobs.
func (v *PageValidator) Validate(ctx context.Context, budget *antidetect.Budget, c model.DiscoveredCandidate) Validation {
	if !c.NeedsValidation {
		return Validation{ExternalID: c.ExternalID, Job: c.ToJob()}
	}

	var body []byte
	err := v.retry.Do(ctx, "validate", func(ctx context.Context) error {
		if !budget.CanIssue() {
			return ErrRequestBudgetExhausted
		}
		if err := v.layer.DelayBeforeRequest(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
		if err != nil {
			return err
		}
		req.Header = v.layer.HeadersForRequest()

		status, b, err := doRequest(v.client, req)
		if err == nil {
			err = statusError(status, b)
		}
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return v.classifyFailure(ctx, c, err)
	}

	job, err := v.parsePage(c, body)
	if errors.Is(err, errReposted) {
		slog.Debug("candidate dropped", "external_id", c.ExternalID, "reason", ReasonReposted)
		return dropped(c, ReasonReposted, err)
	}
	if err != nil {
		slog.Debug("candidate dropped", "external_id", c.ExternalID, "reason", ReasonParseFailed, "err", err)
		return dropped(c, ReasonParseFailed, err)
	}
	if !job.IsActive {
		return Validation{ExternalID: c.ExternalID, Job: job, Reason: ReasonClosed}
	}
	return Validation{ExternalID: c.ExternalID, Job: job}
}

// classifyFailure turns a failed fetch into an outcome. A non-2xx answer
// other than a rate limit marks the job inactive; everything else, rate
// limits included, drops the candidate so nothing is persisted for it.
func (v *PageValidator) classifyFailure(ctx context.Context, c model.DiscoveredCandidate, err error) Validation {
	var (
		rl *RateLimitedError
		ue *UpstreamError
	)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		slog.Debug("candidate dropped", "external_id", c.ExternalID, "reason", ReasonDeadline)
		return dropped(c, ReasonDeadline, errors.Join(ErrValidationTimeout, err))
	case errors.Is(err, ErrRequestBudgetExhausted):
		slog.Debug("candidate dropped", "external_id", c.ExternalID, "reason", ReasonBudgetExhausted)
		return dropped(c, ReasonBudgetExhausted, err)
	case errors.As(err, &rl):
		slog.Debug("candidate dropped", "external_id", c.ExternalID, "reason", ReasonRateLimited, "status", rl.StatusCode)
		return dropped(c, ReasonRateLimited, err)
	case errors.As(err, &ue) && ue.StatusCode != 0:
		return inactive(c, ue.StatusCode)
	}
	slog.Debug("candidate dropped", "external_id", c.ExternalID, "reason", ReasonFetchFailed, "err", err)
	return dropped(c, ReasonFetchFailed, err)
}

func dropped(c model.DiscoveredCandidate, reason string, err error) Validation {
	return Validation{ExternalID: c.ExternalID, Dropped: true, Reason: reason, Err: err}
}

func inactive(c model.DiscoveredCandidate, status int) Validation {
	job := c.ToJob()
	job.IsActive = false
	job.RawData = candidateRaw(c)
	job.InactiveReason = fmt.Sprintf("http_%d", status)
	return Validation{ExternalID: c.ExternalID, Job: job, Reason: job.InactiveReason}
}

// Detail-page selectors, most specific first.
var (
	titleSelectors       = []string{"h1.top-card-layout__title", "h1.topcard__title", "h1"}
	companySelectors     = []string{"a.topcard__org-name-link", ".topcard__flavor a", ".top-card-layout__second-subline a"}
	locationSelectors    = []string{".topcard__flavor--bullet", ".top-card-layout__second-subline .topcard__flavor--bullet"}
	applicantSelectors   = []string{".num-applicants__caption", ".topcard__flavor--metadata"}
	postedSelectors      = []string{".posted-time-ago__text"}
	descriptionSelectors = []string{".show-more-less-html__markup", ".description__text", "#job-details"}
)

// parsePage classifies a fetched page and fills the fields discovery left
// empty. Page values win over search-result guesses.
func (v *PageValidator) parsePage(c model.DiscoveredCandidate, body []byte) (model.ValidatedJob, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.ValidatedJob{}, &ParseError{What: "job page", Err: err}
	}
	pageText := whitespaceRunRe.ReplaceAllString(doc.Find("body").Text(), " ")

	job := c.ToJob()
	job.RawData = candidateRaw(c)
	if ContainsClosedPhrase(pageText, v.closedPhrases) {
		job.IsActive = false
		job.InactiveReason = ReasonClosed
		return job, nil
	}
	if ContainsClosedPhrase(pageText, v.repostedPhrases) {
		return job, errReposted
	}

	if s := firstText(doc, titleSelectors); s != "" {
		job.Title = truncate(s, maxTitleLen)
	}
	if s := firstText(doc, companySelectors); s != "" {
		job.Company = truncate(s, maxCompanyLen)
	}
	if s := firstText(doc, locationSelectors); s != "" {
		job.Location = s
	}

	applicantText := firstText(doc, applicantSelectors)
	if n, ok := ParseApplicantCount(applicantText); ok {
		job.Applicants = &n
	} else if n, ok := ParseApplicantCount(pageText); ok {
		job.Applicants = &n
	}

	posted := firstText(doc, postedSelectors)
	if label, _, ok := ParsePostedLabel(posted); ok {
		job.PostedLabel = label
	} else if label, _, ok := ParsePostedLabel(pageText); ok {
		job.PostedLabel = label
	}

	desc := firstText(doc, descriptionSelectors)
	if desc == "" {
		desc, _ = doc.Find(`meta[name="description"]`).Attr("content")
	}
	if desc == "" {
		desc = c.Snippet
	}
	job.Description = truncate(desc, maxDescriptionLen)
	job.IsActive = true
	return job, nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if s := strings.TrimSpace(doc.Find(sel).First().Text()); s != "" {
			return whitespaceRunRe.ReplaceAllString(s, " ")
		}
	}
	return ""
}

// candidateRaw keeps the search hit that led to the page for auditing.
func candidateRaw(c model.DiscoveredCandidate) json.RawMessage {
	if len(c.Raw) > 0 {
		return c.Raw
	}
	b, err := json.Marshal(struct {
		Title   string `json:"title"`
		Company string `json:"company"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	}{c.Title, c.Company, c.URL, c.Snippet})
	if err != nil {
		return nil
	}
	return b
}
