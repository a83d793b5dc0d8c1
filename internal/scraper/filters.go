package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	secondsPerDay  = 86400
	maxRecencyDays = 30

	maxTitleLen       = 200
	maxCompanyLen     = 100
	maxSnippetLen     = 500
	maxDescriptionLen = 4000
)

// Native filter codes of the structured search API.
var (
	experienceCodes = map[string]string{
		"internship": "1",
		"entry":      "2",
		"associate":  "3",
		"mid-senior": "4",
		"director":   "5",
		"executive":  "6",
	}
	jobTypeCodes = map[string]string{
		"full-time":  "F",
		"part-time":  "P",
		"contract":   "C",
		"temporary":  "T",
		"internship": "I",
		"volunteer":  "V",
		"other":      "O",
	}
	workplaceCodes = map[string]string{
		"on-site": "1",
		"remote":  "2",
		"hybrid":  "3",
	}
)

// DefaultClosedPhrases mark a job page as no longer open. Matching is a
// case-insensitive substring test against the page text.
var DefaultClosedPhrases = []string{
	"no longer accepting applications",
	"applications are closed",
	"this job is no longer available",
	"job is no longer available",
	"posting has expired",
	"plus d'applications acceptées",
	"candidatures fermées",
	"ya no acepta solicitudes",
}

// DefaultRepostedPhrases mark a relisted offer, usually one that failed to
// hire the first time. Matched like DefaultClosedPhrases.
var DefaultRepostedPhrases = []string{
	"reposted",
	"republié",
	"publicado de nuevo",
}

// RecencySeconds converts a day window to the API's seconds window,
// clamped to 1..30 days.
func RecencySeconds(days int) int {
	if days < 1 {
		days = 1
	}
	if days > maxRecencyDays {
		days = maxRecencyDays
	}
	return days * secondsPerDay
}

// RecencyParam renders the recency window as the native "r<seconds>" value.
func RecencyParam(days int) string {
	return fmt.Sprintf("r%d", RecencySeconds(days))
}

// filterCodes maps user-facing names to native codes, skipping unknown ones.
func filterCodes(values []string, table map[string]string) string {
	codes := make([]string, 0, len(values))
	for _, v := range values {
		if c, ok := table[strings.ToLower(strings.TrimSpace(v))]; ok {
			codes = append(codes, c)
		}
	}
	return strings.Join(codes, ",")
}

var (
	applicantNoun   = `(?:applicants?|candidats?|candidatures?|postulantes?)`
	earlyRe         = regexp.MustCompile(`(?i)(?:be an? early applicant|be among the first)`)
	overRe          = regexp.MustCompile(`(?i)(?:over|more than|plus de)\s+(\d[\d,]*)\s*` + applicantNoun)
	plusRe          = regexp.MustCompile(`(?i)(\d[\d,]*)\+\s*` + applicantNoun)
	applicantsRe    = regexp.MustCompile(`(?i)(\d[\d,]*)\s*` + applicantNoun)
	postedRe        = regexp.MustCompile(`(?i)(\d+)\s*(minute|hour|day|week|month)s?\s+ago`)
	jobViewIDRe     = regexp.MustCompile(`/jobs/view/(?:[^/?#]*?-)?(\d+)(?:[/?#]|$)`)
	digitsOnlyRe    = regexp.MustCompile(`^\d+$`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// ParseApplicantCount extracts an applicant count from free text.
// "Over 100" and "100+" both mean at least 101; early-applicant banners
// mean 0. ok is false when no count is present.
func ParseApplicantCount(text string) (n int, ok bool) {
	if text == "" {
		return 0, false
	}
	if earlyRe.MatchString(text) {
		return 0, true
	}
	if m := overRe.FindStringSubmatch(text); m != nil {
		if v, err := atoiComma(m[1]); err == nil {
			return v + 1, true
		}
	}
	if m := plusRe.FindStringSubmatch(text); m != nil {
		if v, err := atoiComma(m[1]); err == nil {
			return v + 1, true
		}
	}
	if m := applicantsRe.FindStringSubmatch(text); m != nil {
		if v, err := atoiComma(m[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

func atoiComma(s string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(s, ",", ""))
}

// ParsePostedLabel finds a relative posting age such as "3 days ago" and
// returns the normalised label and its age in hours.
func ParsePostedLabel(text string) (label string, hours int, ok bool) {
	m := postedRe.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return "", 0, false
	}
	unit := strings.ToLower(m[2])
	switch unit {
	case "minute":
		hours = 0
	case "hour":
		hours = num
	case "day":
		hours = num * 24
	case "week":
		hours = num * 168
	case "month":
		hours = num * 720
	}
	if num != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s ago", num, unit), hours, true
}

// PostedAge returns the age in hours of a posted label, which is either
// relative ("2 weeks ago") or an absolute date as the structured API sends it.
func PostedAge(label string, now time.Time) (int, bool) {
	if _, h, ok := ParsePostedLabel(label); ok {
		return h, true
	}
	s := strings.TrimSpace(label)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			h := int(now.Sub(t).Hours())
			return max(h, 0), true
		}
	}
	return 0, false
}

// ExternalIDFromURL derives "linkedin-<digits>" from a job-detail URL.
func ExternalIDFromURL(rawURL string) (string, bool) {
	m := jobViewIDRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return "linkedin-" + m[1], true
}

// NormalizeExternalID maps the identifier shapes seen across tiers (bare
// numeric ids, prefixed ids, full URLs) onto one canonical key.
func NormalizeExternalID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case digitsOnlyRe.MatchString(s):
		return "linkedin-" + s
	case strings.HasPrefix(s, "linkedin-"):
		return s
	}
	if id, ok := ExternalIDFromURL(s); ok {
		return id
	}
	return s
}

// ContainsClosedPhrase reports whether text carries any of phrases. It
// serves the reposted phrase list as well.
func ContainsClosedPhrase(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// truncate caps s at n runes after collapsing whitespace runs.
func truncate(s string, n int) string {
	s = strings.TrimSpace(whitespaceRunRe.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
