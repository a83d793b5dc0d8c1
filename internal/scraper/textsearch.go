package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jobmate/discovery-pipeline/internal/antidetect"
	"jobmate/discovery-pipeline/internal/model"
)

const (
	DefaultTextSearchURL = "https://html.duckduckgo.com/html/"

	overFetchFactor = 3
	maxRawResults   = 50
)

// Locations that rule a result out for a UK or US search. Remote and other
// targets have no exclusions.
var (
	ukExclusions = []string{
		"united states", "usa", "u.s.", "california", "new york", "texas", "florida",
		"san francisco", "seattle", "boston", "chicago", "los angeles", "denver",
		"austin", "atlanta", "new jersey", "ohio", "pennsylvania", "michigan",
		"india", "bangalore", "hyderabad", "mumbai", "delhi", "pune",
	}
	usExclusions = []string{
		"united kingdom", "london", "manchester", "birmingham", "uk", "england",
		"india", "bangalore", "hyderabad", "mumbai",
	}
)

// Discovery is the outcome of a text search. It never carries an error: a
// provider failure is reported through Failure with no candidates.
type Discovery struct {
	Candidates []model.DiscoveredCandidate
	RawResults int
	Excluded   int
	Failure    string
}

// Failed reports whether the provider itself could not be queried.
func (d Discovery) Failed() bool { return d.Failure != "" }

// TextSearchTier discovers job-detail URLs through a free search engine.
type TextSearchTier struct {
	endpoint string
	layer    *antidetect.Layer
	retry    RetryPolicy
	client   *http.Client
	now      func() time.Time
}

// NewTextSearchTier constructs the fallback tier. An empty endpoint uses
// DefaultTextSearchURL.
func NewTextSearchTier(endpoint string, layer *antidetect.Layer, retry RetryPolicy, client *http.Client) *TextSearchTier {
	if endpoint == "" {
		endpoint = DefaultTextSearchURL
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if client == nil {
		client = NewHTTPClient()
	}
	return &TextSearchTier{endpoint: endpoint, layer: layer, retry: retry, client: client, now: time.Now}
}

// BuildSearchQuery restricts results to job-detail pages and quotes the
// keyword phrase. Country abbreviations expand to an OR group, and reposted
// listings are excluded up front.
func BuildSearchQuery(keywords, location string) string {
	return fmt.Sprintf(`site:linkedin.com/jobs/view "%s" %s -"reposted"`, strings.TrimSpace(keywords), locationTerms(location))
}

func locationTerms(location string) string {
	loc := strings.ToLower(strings.TrimSpace(location))
	switch loc {
	case "", "remote":
		return "remote"
	case "uk", "united kingdom":
		return `("United Kingdom" OR "London" OR "UK")`
	case "us", "usa":
		return `("United States" OR "USA")`
	}
	return `"` + strings.TrimSpace(location) + `"`
}

func exclusionsFor(location string) []string {
	switch strings.ToLower(strings.TrimSpace(location)) {
	case "uk", "united kingdom", "london", "england":
		return ukExclusions
	case "us", "usa", "united states":
		return usExclusions
	}
	return nil
}

// Search runs one query through the engine. It keeps every distinct
// detail-page candidate of the over-fetched result list, up to three times
// MaxResults, so pages that later prove closed can be backfilled. The caller
// truncates to MaxResults after validation.
func (t *TextSearchTier) Search(ctx context.Context, budget *antidetect.Budget, q model.JobQuery) Discovery {
	query := BuildSearchQuery(q.Keywords, q.Location)
	fetch := min(q.MaxResults*overFetchFactor, maxRawResults)

	var body []byte
	err := t.retry.Do(ctx, "text-search", func(ctx context.Context) error {
		if !budget.CanIssue() {
			return ErrRequestBudgetExhausted
		}
		if err := t.layer.DelayBeforeRequest(ctx); err != nil {
			return err
		}

		form := url.Values{"q": {query}, "kl": {"wt-wt"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header = t.layer.HeadersForRequest()
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		status, b, err := doRequest(t.client, req)
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
		slog.Warn("text search failed", "query", query, "err", err)
		return Discovery{Failure: err.Error()}
	}

	results, err := parseSearchResults(body, fetch)
	if err != nil {
		slog.Warn("text search results unreadable", "query", query, "err", err)
		return Discovery{Failure: err.Error()}
	}

	out := Discovery{RawResults: len(results)}
	exclusions := exclusionsFor(q.Location)
	seen := make(map[string]struct{})
	now := t.now()
	for _, r := range results {
		if len(out.Candidates) >= fetch {
			break
		}
		id, ok := ExternalIDFromURL(r.URL)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		title, company := splitResultTitle(r.Title)
		if excluded(exclusions, title, company, r.Snippet) {
			out.Excluded++
			continue
		}
		seen[id] = struct{}{}
		out.Candidates = append(out.Candidates, model.DiscoveredCandidate{
			SourceTier:      model.TierTextSearch,
			ExternalID:      id,
			Title:           truncate(title, maxTitleLen),
			Company:         truncate(company, maxCompanyLen),
			URL:             canonicalJobURL(r.URL),
			Snippet:         truncate(r.Snippet, maxSnippetLen),
			NeedsValidation: true,
			DiscoveredAt:    now,
		})
	}

	slog.Info("text search complete",
		"query", query, "raw", out.RawResults, "kept", len(out.Candidates), "excluded", out.Excluded)
	return out
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

// parseSearchResults reads up to limit organic results from the engine's
// HTML result page.
func parseSearchResults(body []byte, limit int) ([]searchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{What: "search results", Err: err}
	}

	var out []searchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		a := s.Find("a.result__a").First()
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		out = append(out, searchResult{
			Title:   strings.TrimSpace(a.Text()),
			URL:     unwrapRedirect(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(out) < limit
	})
	return out, nil
}

// unwrapRedirect resolves the engine's "/l/?uddg=<target>" links.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// canonicalJobURL drops tracking query parameters from a detail URL.
func canonicalJobURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// splitResultTitle separates role and company from result titles shaped
// like "Company hiring Role in City", "Role at Company" or "Role - Company".
func splitResultTitle(title string) (role, company string) {
	title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), "| LinkedIn"))
	role, company = title, ""

	switch {
	case hiringRe.MatchString(title):
		m := hiringRe.FindStringSubmatch(title)
		company, role = m[1], m[2]
		if j := strings.LastIndex(role, " in "); j > 0 {
			role = role[:j]
		}
	case strings.Contains(title, " at "):
		i := strings.Index(title, " at ")
		role = title[:i]
		company = title[i+len(" at "):]
		if j := strings.Index(company, " - "); j > 0 {
			company = company[:j]
		}
	case strings.Contains(title, " - "):
		parts := strings.Split(title, " - ")
		role, company = parts[0], parts[1]
	}

	role = strings.TrimSpace(strings.Split(role, " | ")[0])
	company = strings.TrimSpace(strings.Split(company, " | ")[0])
	return role, company
}

var hiringRe = regexp.MustCompile(`(?i)^(.+?)\s+hiring\s+(.+)$`)

func excluded(exclusions []string, fields ...string) bool {
	if len(exclusions) == 0 {
		return false
	}
	text := " " + strings.ToLower(strings.Join(fields, " ")) + " "
	for _, ex := range exclusions {
		if containsWord(text, ex) {
			return true
		}
	}
	return false
}

// containsWord matches term on word boundaries so "uk" does not hit "duke".
func containsWord(text, term string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], term)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(term)
		if (start == 0 || !isWordByte(text[start-1])) && (end >= len(text) || !isWordByte(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
