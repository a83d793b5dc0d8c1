package scraper_test

import (
	"testing"
	"time"

	"jobmate/discovery-pipeline/internal/scraper"
)

// ── Recency window ─────────────────────────────────────────────────────────

func TestRecencyParam_WeekMatchesSeconds(t *testing.T) {
	if got := scraper.RecencySeconds(7); got != 604800 {
		t.Errorf("RecencySeconds(7) = %d, want 604800", got)
	}
	if got := scraper.RecencyParam(7); got != "r604800" {
		t.Errorf("RecencyParam(7) = %q, want r604800", got)
	}
}

func TestRecencyParam_Bounds(t *testing.T) {
	cases := []struct {
		days int
		want string
	}{
		{1, "r86400"},
		{0, "r86400"},
		{30, "r2592000"},
		{90, "r2592000"},
	}
	for _, c := range cases {
		if got := scraper.RecencyParam(c.days); got != c.want {
			t.Errorf("RecencyParam(%d) = %q, want %q", c.days, got, c.want)
		}
	}
}

// ── Applicant counts ───────────────────────────────────────────────────────

func TestParseApplicantCount(t *testing.T) {
	cases := []struct {
		text string
		want int
		ok   bool
	}{
		{"50 applicants", 50, true},
		{"1 applicant", 1, true},
		{"100+ applicants", 101, true},
		{"Over 200 applicants", 201, true},
		{"1,234 applicants", 1234, true},
		{"Be an early applicant", 0, true},
		{"Posted 2 days ago · 37 applicants", 37, true},
		{"5+ years of experience", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := scraper.ParseApplicantCount(c.text)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseApplicantCount(%q) = (%d, %v), want (%d, %v)", c.text, got, ok, c.want, c.ok)
		}
	}
}

// ── Posted labels ──────────────────────────────────────────────────────────

func TestParsePostedLabel(t *testing.T) {
	cases := []struct {
		text  string
		label string
		hours int
	}{
		{"3 days ago", "3 days ago", 72},
		{"Reposted 1 week ago", "1 week ago", 168},
		{"2 hours ago", "2 hours ago", 2},
		{"45 minutes ago", "45 minutes ago", 0},
		{"1 month ago", "1 month ago", 720},
	}
	for _, c := range cases {
		label, hours, ok := scraper.ParsePostedLabel(c.text)
		if !ok || label != c.label || hours != c.hours {
			t.Errorf("ParsePostedLabel(%q) = (%q, %d, %v), want (%q, %d, true)", c.text, label, hours, ok, c.label, c.hours)
		}
	}
	if _, _, ok := scraper.ParsePostedLabel("recently"); ok {
		t.Error("ParsePostedLabel(\"recently\") should not parse")
	}
}

func TestPostedAge_AbsoluteDates(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		label string
		want  int
	}{
		{"2025-03-09", 36},
		{"2025-03-10T06:00:00Z", 6},
		{"2025-03-08T12:00:00", 48},
		{"2 days ago", 48},
	}
	for _, c := range cases {
		got, ok := scraper.PostedAge(c.label, now)
		if !ok || got != c.want {
			t.Errorf("PostedAge(%q) = (%d, %v), want (%d, true)", c.label, got, ok, c.want)
		}
	}
	if _, ok := scraper.PostedAge("soon", now); ok {
		t.Error("PostedAge(\"soon\") should not parse")
	}
}

// ── External ids ───────────────────────────────────────────────────────────

func TestNormalizeExternalID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"3812345678", "linkedin-3812345678"},
		{"linkedin-3812345678", "linkedin-3812345678"},
		{"https://www.linkedin.com/jobs/view/3812345678", "linkedin-3812345678"},
		{"https://uk.linkedin.com/jobs/view/backend-engineer-at-acme-3812345678?trk=abc", "linkedin-3812345678"},
		{"  LinkedIn-3812345678 ", "linkedin-3812345678"},
		{"", ""},
	}
	for _, c := range cases {
		if got := scraper.NormalizeExternalID(c.raw); got != c.want {
			t.Errorf("NormalizeExternalID(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestExternalIDFromURL_RejectsSearchPages(t *testing.T) {
	for _, u := range []string{
		"https://www.linkedin.com/jobs/search?keywords=go",
		"https://www.linkedin.com/jobs/collections/recommended",
		"https://www.linkedin.com/company/acme",
	} {
		if id, ok := scraper.ExternalIDFromURL(u); ok {
			t.Errorf("ExternalIDFromURL(%q) = %q, want no match", u, id)
		}
	}
}

// ── Closed phrases and red flags ───────────────────────────────────────────

func TestContainsClosedPhrase(t *testing.T) {
	page := "Senior Go Engineer · Acme · No longer accepting applications"
	if !scraper.ContainsClosedPhrase(page, scraper.DefaultClosedPhrases) {
		t.Error("default phrases should match a closed banner")
	}
	if scraper.ContainsClosedPhrase("Apply now", scraper.DefaultClosedPhrases) {
		t.Error("open page should not match")
	}
	if !scraper.ContainsClosedPhrase("Role filled", []string{"role filled"}) {
		t.Error("custom phrase list should be honoured")
	}
}

func TestContainsRedFlag(t *testing.T) {
	flags := []string{"unpaid", "", "Commission Only"}
	if !scraper.ContainsRedFlag("Unpaid internship", "Acme", "", flags) {
		t.Error("title match expected")
	}
	if !scraper.ContainsRedFlag("Sales", "Acme", "This role is commission only.", flags) {
		t.Error("description match expected, case-insensitive")
	}
	if scraper.ContainsRedFlag("Go Engineer", "Acme", "Great team", flags) {
		t.Error("no flag should match")
	}
	if scraper.ContainsRedFlag("anything", "", "", nil) {
		t.Error("empty flag list never matches")
	}
}
