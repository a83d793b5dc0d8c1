// Package store persists validated jobs keyed by external_id.
//
// Both implementations share Merge, which decides how an incoming
// observation of a job is folded into the stored record.
package store

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"jobmate/discovery-pipeline/internal/model"
)

// ErrNotFound is returned when no record exists for an external_id.
var ErrNotFound = errors.New("job not found")

// Store is an upsert-capable job store. Upsert never fails as a whole; each
// record carries its own outcome.
type Store interface {
	Upsert(ctx context.Context, jobs []model.ValidatedJob) model.UpsertOutcome
	Get(ctx context.Context, externalID string) (model.ValidatedJob, error)
}

// Merge folds incoming into existing and reports whether anything changed.
//
// Empty stored fields are always filled. Populated fields are overwritten
// only by a structured record replacing a text-search one. A description is
// never replaced by an empty one, and within the same tier only by a longer
// one. Applicant counts and the active flag follow the newest observation
// unless that would replace structured data with text-search data. The one
// exception: a text-search page that itself says the job is closed still
// deactivates a structured record, while a bare HTTP status does not.
func Merge(existing, incoming model.ValidatedJob) (model.ValidatedJob, bool) {
	merged := existing
	upgrade := incoming.Source == model.TierStructured && existing.Source != model.TierStructured
	downgrade := incoming.Source != model.TierStructured && existing.Source == model.TierStructured

	mergeString(&merged.Title, incoming.Title, upgrade)
	mergeString(&merged.Company, incoming.Company, upgrade)
	mergeString(&merged.Location, incoming.Location, upgrade)
	mergeString(&merged.URL, incoming.URL, upgrade)
	mergeString(&merged.PostedLabel, incoming.PostedLabel, upgrade)

	if d := strings.TrimSpace(incoming.Description); d != "" {
		switch {
		case strings.TrimSpace(merged.Description) == "":
			merged.Description = incoming.Description
		case upgrade:
			merged.Description = incoming.Description
		case !downgrade && len([]rune(incoming.Description)) > len([]rune(merged.Description)):
			merged.Description = incoming.Description
		}
	}

	if incoming.Applicants != nil && (merged.Applicants == nil || !downgrade) {
		n := *incoming.Applicants
		merged.Applicants = &n
	}

	if !downgrade || incoming.IsActive || incoming.InactiveReason == model.InactiveClosed {
		merged.IsActive = incoming.IsActive
	}

	if incoming.MatchScore > 0 {
		merged.MatchScore = incoming.MatchScore
	}

	if len(incoming.RawData) > 0 && (len(merged.RawData) == 0 || upgrade) {
		merged.RawData = incoming.RawData
	}

	if upgrade {
		merged.Source = model.TierStructured
	}
	if merged.DiscoveredAt.IsZero() {
		merged.DiscoveredAt = incoming.DiscoveredAt
	}

	return merged, !equal(existing, merged)
}

func mergeString(dst *string, incoming string, overwrite bool) {
	if strings.TrimSpace(incoming) == "" {
		return
	}
	if strings.TrimSpace(*dst) == "" || overwrite {
		*dst = incoming
	}
}

func equal(a, b model.ValidatedJob) bool {
	if a.Title != b.Title || a.Company != b.Company || a.Location != b.Location ||
		a.Description != b.Description || a.PostedLabel != b.PostedLabel ||
		a.Source != b.Source || a.URL != b.URL || a.IsActive != b.IsActive ||
		a.MatchScore != b.MatchScore || !a.DiscoveredAt.Equal(b.DiscoveredAt) {
		return false
	}
	if (a.Applicants == nil) != (b.Applicants == nil) {
		return false
	}
	if a.Applicants != nil && *a.Applicants != *b.Applicants {
		return false
	}
	return bytes.Equal(a.RawData, b.RawData)
}
