package scraper

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	httpTimeout  = 15 * time.Second
	maxBodyBytes = 4 << 20

	// statusBotBlocked is LinkedIn's non-standard answer to suspected bots.
	statusBotBlocked = 999
)

// NewHTTPClient returns the client shared by the tiers and the validator.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// doRequest sends req and returns the status code and decoded body. A
// transport failure is reported as an *UpstreamError with StatusCode 0.
func doRequest(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, &UpstreamError{Err: fmt.Errorf("http %s: %w", req.Method, err)}
	}
	defer resp.Body.Close()

	// The cap applies to the decoded body.
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("gzip: %w", err)}
		}
		defer gz.Close()
		r = gz
	}
	r = io.LimitReader(r, maxBodyBytes)

	body, err := io.ReadAll(r)
	if err != nil {
		return resp.StatusCode, nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return resp.StatusCode, body, nil
}

// statusError classifies a non-2xx status. It returns nil for 2xx.
func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusForbidden || code == statusBotBlocked:
		return &RateLimitedError{StatusCode: code}
	default:
		return &UpstreamError{StatusCode: code, Err: fmt.Errorf("%s", truncate(string(body), 200))}
	}
}
