package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"jobmate/discovery-pipeline/internal/api"
	"jobmate/discovery-pipeline/internal/model"
	"jobmate/discovery-pipeline/internal/pipeline"
	"jobmate/discovery-pipeline/internal/quota"
)

// ── Fakes ──────────────────────────────────────────────────────────────────

type runnerFunc func(ctx context.Context, q model.JobQuery, opts ...pipeline.RunOption) (*model.ScrapeResult, error)

func (f runnerFunc) Run(ctx context.Context, q model.JobQuery, opts ...pipeline.RunOption) (*model.ScrapeResult, error) {
	return f(ctx, q, opts...)
}

func completed(q model.JobQuery) *model.ScrapeResult {
	return &model.ScrapeResult{
		Status:       model.StatusCompleted,
		Keywords:     q.Keywords,
		Location:     q.Location,
		JobsFound:    1,
		Jobs:         []model.ValidatedJob{{ExternalID: "linkedin-1", Title: q.Keywords, IsActive: true}},
		SearchMethod: model.MethodTextSearch,
	}
}

func newServer(t *testing.T, runner api.Runner) (*httptest.Server, *api.Handler) {
	t.Helper()
	h := api.NewHandler(context.Background(), runner, quota.NewTracker(100), true)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		h.Wait()
	})
	return srv, h
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// ── POST /scrape ───────────────────────────────────────────────────────────

func TestScrape_AppliesDefaults(t *testing.T) {
	var got model.JobQuery
	srv, _ := newServer(t, runnerFunc(func(_ context.Context, q model.JobQuery, _ ...pipeline.RunOption) (*model.ScrapeResult, error) {
		got = q
		return completed(q), nil
	}))

	resp := post(t, srv.URL+"/scrape", `{"keywords":" go engineer ","location":"London","max_applicants":50,"user_skills":["go"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res model.ScrapeResult
	decode(t, resp, &res)

	if got.Keywords != "go engineer" || got.MaxResults != api.DefaultMaxResults || got.PostedWithinDays != api.DefaultPostedWithinDays {
		t.Errorf("query = %+v", got)
	}
	if got.MaxApplicants == nil || *got.MaxApplicants != 50 || len(got.UserSkills) != 1 {
		t.Errorf("filters not forwarded: %+v", got)
	}
	if res.JobsFound != len(res.Jobs) || res.SearchMethod != model.MethodTextSearch {
		t.Errorf("res = %+v", res)
	}
}

func TestScrape_ValidationErrorIs400(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(_ context.Context, q model.JobQuery, _ ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return nil, q.Validate()
	}))

	resp := post(t, srv.URL+"/scrape", `{"keywords":"go","max_results":0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if !strings.Contains(body["error"], "max_results") {
		t.Errorf("error = %q", body["error"])
	}
}

func TestScrape_InvalidJSON(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(context.Context, model.JobQuery, ...pipeline.RunOption) (*model.ScrapeResult, error) {
		t.Error("runner must not be called")
		return nil, nil
	}))
	resp := post(t, srv.URL+"/scrape", `{not json`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestScrape_TotalFailureReturnsBody(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(_ context.Context, q model.JobQuery, _ ...pipeline.RunOption) (*model.ScrapeResult, error) {
		res := &model.ScrapeResult{Status: model.StatusFailed, Keywords: q.Keywords, Jobs: []model.ValidatedJob{}, FallbackNotice: "down"}
		return res, fmt.Errorf("%w: down", pipeline.ErrTotalDiscoveryFailure)
	}))

	resp := post(t, srv.URL+"/scrape", `{"keywords":"go"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	var res model.ScrapeResult
	decode(t, resp, &res)
	if res.Status != model.StatusFailed || res.Jobs == nil {
		t.Errorf("res = %+v", res)
	}
}

func TestScrape_MethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(context.Context, model.JobQuery, ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return nil, nil
	}))
	for _, path := range []string{"/scrape", "/scrape/start"} {
		resp := get(t, srv.URL+path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, resp.StatusCode)
		}
	}
	resp := get(t, srv.URL+"/scrape/unknown")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /scrape/unknown = %d, want 404", resp.StatusCode)
	}
}

// ── GET /scrape/quota ──────────────────────────────────────────────────────

func TestQuota(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(context.Context, model.JobQuery, ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return nil, nil
	}))
	resp := get(t, srv.URL+"/scrape/quota")
	var body api.QuotaResponse
	decode(t, resp, &body)
	if body.RequestsRemaining != 100 || body.MonthlyLimit != 100 || !body.APIConfigured {
		t.Errorf("quota = %+v", body)
	}
}

// ── Async runs ─────────────────────────────────────────────────────────────

func waitForStatus(t *testing.T, base, id string, want api.RunStatus) api.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var run api.Run
		decode(t, get(t, base+"/scrape/status/"+id), &run)
		if run.Status == want {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s status = %s, want %s", id, run.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRun_CompletesWithRunID(t *testing.T) {
	var (
		mu    sync.Mutex
		nopts int
	)
	srv, _ := newServer(t, runnerFunc(func(_ context.Context, q model.JobQuery, opts ...pipeline.RunOption) (*model.ScrapeResult, error) {
		mu.Lock()
		nopts = len(opts)
		mu.Unlock()
		return completed(q), nil
	}))

	resp := post(t, srv.URL+"/scrape/start", `{"keywords":"go"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var started api.Run
	decode(t, resp, &started)
	if started.ID == "" || started.Status != api.RunQueued {
		t.Fatalf("started = %+v", started)
	}

	run := waitForStatus(t, srv.URL, started.ID, api.RunCompleted)
	if run.Result == nil || run.JobsFound != 1 || run.FinishedAt == nil {
		t.Errorf("run = %+v", run)
	}
	mu.Lock()
	defer mu.Unlock()
	if nopts != 1 {
		t.Errorf("runner received %d options, want the run id option", nopts)
	}
}

func TestStartRun_InvalidQueryRejected(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(context.Context, model.JobQuery, ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return nil, nil
	}))
	resp := post(t, srv.URL+"/scrape/start", `{"keywords":""}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartRun_Failed(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(_ context.Context, q model.JobQuery, _ ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return &model.ScrapeResult{Status: model.StatusFailed, Jobs: []model.ValidatedJob{}}, pipeline.ErrTotalDiscoveryFailure
	}))
	var started api.Run
	decode(t, post(t, srv.URL+"/scrape/start", `{"keywords":"go"}`), &started)

	run := waitForStatus(t, srv.URL, started.ID, api.RunFailed)
	if run.Error == "" {
		t.Error("failed run must carry an error message")
	}
}

func TestCancelRun(t *testing.T) {
	entered := make(chan struct{})
	srv, _ := newServer(t, runnerFunc(func(ctx context.Context, q model.JobQuery, _ ...pipeline.RunOption) (*model.ScrapeResult, error) {
		close(entered)
		<-ctx.Done()
		return completed(q), nil
	}))

	var started api.Run
	decode(t, post(t, srv.URL+"/scrape/start", `{"keywords":"go"}`), &started)
	<-entered

	resp := post(t, srv.URL+"/scrape/cancel/"+started.ID, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202", resp.StatusCode)
	}
	waitForStatus(t, srv.URL, started.ID, api.RunCancelled)

	resp = post(t, srv.URL+"/scrape/cancel/"+started.ID, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel = %d, want 409", resp.StatusCode)
	}
}

func TestRunStatus_NotFound(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(context.Context, model.JobQuery, ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return nil, nil
	}))
	for _, r := range []*http.Response{
		get(t, srv.URL+"/scrape/status/nope"),
		post(t, srv.URL+"/scrape/cancel/nope", ""),
	} {
		r.Body.Close()
		if r.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", r.StatusCode)
		}
	}
}

func TestListRuns_OmitsJobs(t *testing.T) {
	srv, _ := newServer(t, runnerFunc(func(_ context.Context, q model.JobQuery, _ ...pipeline.RunOption) (*model.ScrapeResult, error) {
		return completed(q), nil
	}))
	var a, b api.Run
	decode(t, post(t, srv.URL+"/scrape/start", `{"keywords":"first"}`), &a)
	decode(t, post(t, srv.URL+"/scrape/start", `{"keywords":"second"}`), &b)
	waitForStatus(t, srv.URL, a.ID, api.RunCompleted)
	waitForStatus(t, srv.URL, b.ID, api.RunCompleted)

	var runs []api.Run
	decode(t, get(t, srv.URL+"/scrape/runs"), &runs)
	if len(runs) != 2 || runs[0].ID != b.ID {
		t.Fatalf("runs = %+v, want newest first", runs)
	}
	for _, r := range runs {
		if r.Result != nil {
			t.Errorf("run %s listed with its result payload", r.ID)
		}
		if r.JobsFound != 1 {
			t.Errorf("run %s jobs_found = %d", r.ID, r.JobsFound)
		}
	}
}
