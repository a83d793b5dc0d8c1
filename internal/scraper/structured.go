package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jobmate/discovery-pipeline/internal/model"
)

const (
	DefaultStructuredURL  = "https://linkedin-jobs-search.p.rapidapi.com/"
	DefaultStructuredHost = "linkedin-jobs-search.p.rapidapi.com"
)

// QuotaBudget is the part of quota.Tracker the structured tier needs.
type QuotaBudget interface {
	TryReserve(n int) bool
	Release(n int)
}

// StructuredTier queries the quota-limited jobs API. Listings it returns
// are presumed live and skip page validation.
type StructuredTier struct {
	endpoint string
	host     string
	apiKey   string
	quota    QuotaBudget
	retry    RetryPolicy
	client   *http.Client
	now      func() time.Time
}

// StructuredConfig configures a StructuredTier. Empty fields use defaults.
type StructuredConfig struct {
	Endpoint string
	Host     string
	APIKey   string
	Retry    RetryPolicy
	Client   *http.Client
}

// NewStructuredTier constructs the tier. With an empty APIKey every Search
// returns ErrStructuredUnconfigured.
func NewStructuredTier(cfg StructuredConfig, quota QuotaBudget) *StructuredTier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultStructuredURL
	}
	if cfg.Host == "" {
		cfg.Host = DefaultStructuredHost
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	return &StructuredTier{
		endpoint: cfg.Endpoint,
		host:     cfg.Host,
		apiKey:   cfg.APIKey,
		quota:    quota,
		retry:    cfg.Retry,
		client:   cfg.Client,
		now:      time.Now,
	}
}

// Configured reports whether an API key is set.
func (t *StructuredTier) Configured() bool { return t.apiKey != "" }

// StructuredRequest is the native parameter set sent upstream.
type StructuredRequest struct {
	SearchTerms   string `json:"search_terms"`
	Location      string `json:"location,omitempty"`
	Page          string `json:"page"`
	FetchFullText string `json:"fetch_full_text"`
	TimePosted    string `json:"f_TPR"`
	Experience    string `json:"f_E,omitempty"`
	JobType       string `json:"f_JT,omitempty"`
	Workplace     string `json:"f_WT,omitempty"`
	EasyApply     string `json:"f_EA,omitempty"`
	SortBy        string `json:"sortBy"`
}

// BuildStructuredRequest maps a query's filters onto the API's enums.
func BuildStructuredRequest(q model.JobQuery) StructuredRequest {
	req := StructuredRequest{
		SearchTerms:   q.Keywords,
		Location:      q.Location,
		Page:          "1",
		FetchFullText: "yes",
		TimePosted:    RecencyParam(q.PostedWithinDays),
		Experience:    filterCodes(q.ExperienceLevels, experienceCodes),
		JobType:       filterCodes(q.JobTypes, jobTypeCodes),
		Workplace:     filterCodes(q.WorkplaceTypes, workplaceCodes),
		SortBy:        "DD",
	}
	if q.EasyApply {
		req.EasyApply = "true"
	}
	return req
}

// Search reserves one call of quota and queries the API. It returns
// ErrQuotaUnavailable without touching the network when the budget is spent.
// Quota is released again whenever the call yields no usable data.
func (t *StructuredTier) Search(ctx context.Context, q model.JobQuery) ([]model.DiscoveredCandidate, error) {
	if !t.Configured() {
		return nil, ErrStructuredUnconfigured
	}

	payload, err := json.Marshal(BuildStructuredRequest(q))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out []model.DiscoveredCandidate
	err = t.retry.Do(ctx, "structured-search", func(ctx context.Context) error {
		if !t.quota.TryReserve(1) {
			return ErrQuotaUnavailable
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			t.quota.Release(1)
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-RapidAPI-Key", t.apiKey)
		req.Header.Set("X-RapidAPI-Host", t.host)

		status, body, err := doRequest(t.client, req)
		if err == nil {
			err = statusError(status, body)
		}
		if err != nil {
			t.quota.Release(1)
			return err
		}

		cands, err := t.parse(body, q.MaxResults)
		if err != nil {
			return err
		}
		out = cands
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("structured search complete", "keywords", q.Keywords, "location", q.Location, "results", len(out))
	return out, nil
}

// structuredListing mirrors one listing of the API response.
type structuredListing struct {
	JobID       flexString `json:"job_id"`
	JobURL      string     `json:"job_url"`
	CleanURL    string     `json:"linkedin_job_url_cleaned"`
	Title       string     `json:"job_title"`
	Company     string     `json:"company_name"`
	Location    string     `json:"job_location"`
	Description string     `json:"job_description"`
	PostedDate  string     `json:"posted_date"`
	Applicants  flexString `json:"applicants"`
}

// parse accepts either a bare JSON array or an object wrapping it under
// "jobs" or "data".
func (t *StructuredTier) parse(body []byte, limit int) ([]model.DiscoveredCandidate, error) {
	var items []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &ParseError{What: "structured response", Err: err}
		}
	} else {
		var wrapped struct {
			Jobs []json.RawMessage `json:"jobs"`
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, &ParseError{What: "structured response", Err: err}
		}
		items = wrapped.Jobs
		if len(items) == 0 {
			items = wrapped.Data
		}
	}

	now := t.now()
	out := make([]model.DiscoveredCandidate, 0, min(len(items), max(limit, 0)))
	for _, raw := range items {
		if limit > 0 && len(out) >= limit {
			break
		}
		var l structuredListing
		if err := json.Unmarshal(raw, &l); err != nil {
			slog.Debug("skipping malformed listing", "err", err)
			continue
		}

		id := NormalizeExternalID(string(l.JobID))
		if id == "" {
			id, _ = ExternalIDFromURL(firstNonEmpty(l.CleanURL, l.JobURL))
		}
		if id == "" {
			continue
		}

		c := model.DiscoveredCandidate{
			SourceTier:   model.TierStructured,
			ExternalID:   id,
			Title:        truncate(l.Title, maxTitleLen),
			Company:      truncate(l.Company, maxCompanyLen),
			Location:     strings.TrimSpace(l.Location),
			URL:          firstNonEmpty(l.CleanURL, l.JobURL, jobViewURL(id)),
			Description:  truncate(l.Description, maxDescriptionLen),
			PostedLabel:  strings.TrimSpace(l.PostedDate),
			DiscoveredAt: now,
			Raw:          append(json.RawMessage(nil), raw...),
		}
		if n, ok := parseApplicantsField(string(l.Applicants)); ok {
			c.Applicants = &n
		}
		out = append(out, c)
	}
	return out, nil
}

func parseApplicantsField(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	return ParseApplicantCount(s)
}

func jobViewURL(externalID string) string {
	return "https://www.linkedin.com/jobs/view/" + strings.TrimPrefix(externalID, "linkedin-")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}
