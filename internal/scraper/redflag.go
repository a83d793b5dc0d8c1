// Package scraper implements the two discovery tiers, detail-page
// validation, and the text parsing they share.
package scraper

import (
	"strings"

	"jobmate/discovery-pipeline/internal/model"
)

// ContainsRedFlag returns true if any red flag term appears (case-insensitive)
// anywhere in the combined title + company + description text.
func ContainsRedFlag(title, company, description string, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + company + " " + description)
	for _, flag := range redFlags {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

// JobHasRedFlag applies ContainsRedFlag to a validated job. Matching jobs are
// dropped before merge.
func JobHasRedFlag(j model.ValidatedJob, redFlags []string) bool {
	return ContainsRedFlag(j.Title, j.Company, j.Description, redFlags)
}
