package pipeline

import (
	"time"

	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/scraper"
)

// Drop reasons recorded by the post-filters.
const (
	ReasonTooManyApplicants = "too many applicants"
	ReasonTooOld            = "too old"
	ReasonRedFlag           = "red flag"
	ReasonLocationMismatch  = "location mismatch"
)

// postFilter returns a drop reason for j, or "" to keep it. Unknown values
// never exclude a job.
func postFilter(q model.JobQuery, j model.ValidatedJob, now time.Time) string {
	if !WithinApplicantLimit(j.Applicants, q.MaxApplicants) {
		return ReasonTooManyApplicants
	}
	if hours, ok := scraper.PostedAge(j.PostedLabel, now); ok && hours > q.PostedWithinDays*24 {
		return ReasonTooOld
	}
	if scraper.JobHasRedFlag(j, q.RedFlags) {
		return ReasonRedFlag
	}
	return ""
}

// WithinApplicantLimit keeps jobs at or under the limit, and jobs whose
// applicant count is unknown.
func WithinApplicantLimit(applicants, limit *int) bool {
	if applicants == nil || limit == nil {
		return true
	}
	return *applicants <= *limit
}
