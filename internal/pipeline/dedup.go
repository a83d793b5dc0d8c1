package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/scraper"
)

// TieBreak picks between two equally populated duplicates.
type TieBreak string

const (
	TieBreakNewest TieBreak = "newest"
	TieBreakOldest TieBreak = "oldest"
)

// ParseTieBreak accepts "newest" or "oldest"; empty means newest.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(s))) {
	case "", TieBreakNewest:
		return TieBreakNewest, nil
	case TieBreakOldest:
		return TieBreakOldest, nil
	}
	return "", fmt.Errorf("unknown dedup tie-break %q", s)
}

// Deduplicator collapses records sharing a normalized external_id.
type Deduplicator struct {
	tieBreak TieBreak
}

// NewDeduplicator returns a Deduplicator using tb for equal candidates.
func NewDeduplicator(tb TieBreak) *Deduplicator {
	if tb == "" {
		tb = TieBreakNewest
	}
	return &Deduplicator{tieBreak: tb}
}

// Deduplicate returns one record per external_id in first-seen order.
// Records whose id cannot be normalized are discarded.
func (d *Deduplicator) Deduplicate(jobs []model.ValidatedJob) []model.ValidatedJob {
	index := make(map[string]int, len(jobs))
	out := make([]model.ValidatedJob, 0, len(jobs))

	for _, j := range jobs {
		id := scraper.NormalizeExternalID(j.ExternalID)
		if id == "" {
			id = scraper.NormalizeExternalID(j.URL)
		}
		if id == "" {
			slog.Debug("discarding job without external id", "title", j.Title, "url", j.URL)
			continue
		}
		j.ExternalID = id

		i, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, j)
			continue
		}
		if d.prefer(out[i], j) {
			out[i] = j
		}
	}
	return out
}

// prefer reports whether candidate should replace current.
func (d *Deduplicator) prefer(current, candidate model.ValidatedJob) bool {
	cs, ns := current.Source == model.TierStructured, candidate.Source == model.TierStructured
	if cs != ns {
		return ns
	}
	if cf, nf := current.PopulatedFields(), candidate.PopulatedFields(); cf != nf {
		return nf > cf
	}
	if d.tieBreak == TieBreakOldest {
		return candidate.DiscoveredAt.Before(current.DiscoveredAt)
	}
	return candidate.DiscoveredAt.After(current.DiscoveredAt)
}
