// Package model defines shared data structures for the discovery pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SourceTier identifies which discovery strategy produced a record.
type SourceTier string

const (
	TierStructured SourceTier = "structured"
	TierTextSearch SourceTier = "text-search"
)

// JobQuery is the immutable set of search criteria for one pipeline run.
type JobQuery struct {
	Keywords         string
	Location         string
	MaxResults       int
	PostedWithinDays int
	MaxApplicants    *int // nil disables the applicant post-filter
	ExperienceLevels []string
	JobTypes         []string
	WorkplaceTypes   []string
	EasyApply        bool
	RedFlags         []string // exclusion terms; any match discards the offer
	UserSkills       []string // fed to the match scorer
}

// Validate enforces the query invariants.
func (q JobQuery) Validate() error {
	if strings.TrimSpace(q.Keywords) == "" {
		return &ValidationError{Msg: "keywords is required"}
	}
	if q.MaxResults < 1 {
		return &ValidationError{Msg: fmt.Sprintf("max_results must be >= 1, got %d", q.MaxResults)}
	}
	if q.PostedWithinDays < 1 {
		return &ValidationError{Msg: fmt.Sprintf("posted_within_days must be >= 1, got %d", q.PostedWithinDays)}
	}
	if q.MaxApplicants != nil && *q.MaxApplicants < 0 {
		return &ValidationError{Msg: "max_applicants must not be negative"}
	}
	return nil
}

// DiscoveredCandidate is one result from either tier before validation.
type DiscoveredCandidate struct {
	SourceTier      SourceTier
	ExternalID      string
	Title           string
	Company         string
	Location        string
	URL             string
	Snippet         string
	Description     string
	Applicants      *int
	PostedLabel     string
	NeedsValidation bool
	DiscoveredAt    time.Time
	Raw             json.RawMessage
}

// InactiveClosed is the InactiveReason of a job whose own page says it no
// longer accepts applications. Any other reason (an HTTP status) is weaker
// evidence and never closes a structured record.
const InactiveClosed = "closed"

// ValidatedJob is the canonical, persistence-ready record.
type ValidatedJob struct {
	ExternalID   string          `json:"external_id"`
	Title        string          `json:"title"`
	Company      string          `json:"company"`
	Location     string          `json:"location"`
	Description  string          `json:"description"`
	Applicants   *int            `json:"applicants"`
	PostedLabel  string          `json:"posted_label,omitempty"`
	Source       SourceTier      `json:"source"`
	URL          string          `json:"url"`
	IsActive     bool            `json:"is_active"`
	MatchScore   int             `json:"match_score"`
	RawData      json.RawMessage `json:"raw_data,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`

	// InactiveReason says why IsActive is false. It is carried to the store
	// for merging and is not persisted.
	InactiveReason string `json:"-"`
}

// PopulatedFields counts the optional fields that carry a value. It drives
// duplicate resolution when two records share an ExternalID.
func (j ValidatedJob) PopulatedFields() int {
	n := 0
	for _, s := range []string{j.Title, j.Company, j.Location, j.Description, j.PostedLabel, j.URL} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if j.Applicants != nil {
		n++
	}
	if len(j.RawData) > 0 {
		n++
	}
	return n
}

// QuotaState is a point-in-time view of the structured-tier budget.
type QuotaState struct {
	RequestsRemaining int       `json:"requests_remaining"`
	MonthlyLimit      int       `json:"monthly_limit"`
	ResetsAt          time.Time `json:"resets_at"`
}

// SearchMethod reports which tier produced a result set.
type SearchMethod string

const (
	MethodStructured SearchMethod = "structured"
	MethodTextSearch SearchMethod = "text-search"
)

// UpsertStats summarises a ResultMerger batch.
type UpsertStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// UpsertAction is what the merger did with one record.
type UpsertAction string

const (
	ActionInserted  UpsertAction = "inserted"
	ActionUpdated   UpsertAction = "updated"
	ActionUnchanged UpsertAction = "unchanged"
	ActionFailed    UpsertAction = "failed"
)

// RecordOutcome is the per-record result of an upsert batch.
type RecordOutcome struct {
	ExternalID string
	Action     UpsertAction
	Err        error
}

// UpsertOutcome reports a whole batch. A batch never fails as a unit.
type UpsertOutcome struct {
	Stats   UpsertStats
	Records []RecordOutcome
}

// Add records one outcome and updates the counters.
func (o *UpsertOutcome) Add(r RecordOutcome) {
	o.Records = append(o.Records, r)
	switch r.Action {
	case ActionInserted:
		o.Stats.Inserted++
	case ActionUpdated:
		o.Stats.Updated++
	case ActionUnchanged:
		o.Stats.Unchanged++
	default:
		o.Stats.Failed++
	}
}

// ScrapeResult is the terminal output of one pipeline run.
type ScrapeResult struct {
	RunID           string         `json:"run_id,omitempty"`
	Status          string         `json:"status"`
	Keywords        string         `json:"keywords"`
	Location        string         `json:"location"`
	JobsFound       int            `json:"jobs_found"`
	Jobs            []ValidatedJob `json:"jobs"`
	SearchMethod    SearchMethod   `json:"search_method"`
	FallbackNotice  string         `json:"fallback_notice,omitempty"`
	Dropped         int            `json:"dropped"`
	DropReasons     map[string]int `json:"drop_reasons,omitempty"`
	Upsert          *UpsertStats   `json:"upsert,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// Result status values.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// SearchConfig mirrors the search_configs table row relevant to scheduled scraping.
type SearchConfig struct {
	ID               string
	UserID           string
	JobTitles        []string
	Locations        []string
	WorkplaceTypes   []string
	RedFlags         []string
	MaxApplicants    *int
	PostedWithinDays int
}

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ToJob converts a candidate into a ValidatedJob without a page visit. It is
// used for structured-tier listings, which are presumed live.
func (c DiscoveredCandidate) ToJob() ValidatedJob {
	return ValidatedJob{
		ExternalID:   c.ExternalID,
		Title:        c.Title,
		Company:      c.Company,
		Location:     c.Location,
		Description:  c.Description,
		Applicants:   c.Applicants,
		PostedLabel:  c.PostedLabel,
		Source:       c.SourceTier,
		URL:          c.URL,
		IsActive:     true,
		RawData:      c.Raw,
		DiscoveredAt: c.DiscoveredAt,
	}
}
