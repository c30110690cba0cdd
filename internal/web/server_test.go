package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/JonMunkholm/propstage/internal/ingest"
	"github.com/JonMunkholm/propstage/internal/pipeline"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRunner struct {
	mu   sync.Mutex
	jobs []pipeline.Job
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, job pipeline.Job) (pipeline.RunResult, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	result := pipeline.RunResult{
		ID:      uuid.New(),
		Dataset: job.Dataset,
		Mode:    job.Mode,
		Trigger: job.Trigger,
		Status:  pipeline.StatusSucceeded,
	}
	if f.err != nil {
		result.Status = pipeline.StatusFailed
		result.Error = f.err.Error()
		return result, f.err
	}
	result.RowsLoaded = 2
	return result, nil
}

func newTestServer(t *testing.T, runner *fakeRunner, mutate func(*Options)) (*httptest.Server, *pipeline.MemoryHistory) {
	t.Helper()
	history := pipeline.NewMemoryHistory(10)
	opts := Options{
		Runner:     runner,
		History:    history,
		Limiter:    pipeline.NewRunLimiter(1, time.Second),
		DefaultJob: pipeline.Job{Dataset: "prop_extract", Mode: pipeline.ModeReplace, Selection: ingest.SelectLatest},
		Logger:     quiet,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts := httptest.NewServer(NewServer(opts).Router())
	t.Cleanup(ts.Close)
	return ts, history
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := decode[map[string]string](t, resp); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security header missing")
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, func(o *Options) {
		o.Ping = func(context.Context) error {
			return errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
		}
	})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if got := decode[ErrorResponse](t, resp); got.Code != "DB005" {
		t.Errorf("code = %q, want DB005", got.Code)
	}
}

func TestTriggerRun_Defaults(t *testing.T) {
	runner := &fakeRunner{}
	ts, _ := newTestServer(t, runner, nil)

	resp := post(t, ts.URL+"/api/runs", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[pipeline.RunResult](t, resp)
	if got.Status != pipeline.StatusSucceeded || got.RowsLoaded != 2 {
		t.Errorf("result = %+v", got)
	}

	want := []pipeline.Job{{
		Dataset:   "prop_extract",
		Mode:      pipeline.ModeReplace,
		Selection: ingest.SelectLatest,
		Trigger:   pipeline.TriggerAPI,
	}}
	if diff := cmp.Diff(want, runner.jobs); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
}

func TestTriggerRun_Body(t *testing.T) {
	runner := &fakeRunner{}
	ts, _ := newTestServer(t, runner, nil)

	resp := post(t, ts.URL+"/api/runs", `{"dataset":"prop_latest","mode":"dedup","selection":"all"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	job := runner.jobs[0]
	if job.Dataset != "prop_latest" || job.Mode != pipeline.ModeDedup || job.Selection != ingest.SelectAll {
		t.Errorf("job = %+v", job)
	}
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		runErr     error
		wantStatus int
		wantCode   string
		wantRun    bool
	}{
		{"bad json", `{"mode":`, nil, http.StatusBadRequest, "REQ001", false},
		{"bad mode", `{"mode":"upsert"}`, nil, http.StatusBadRequest, "REQ001", false},
		{"busy", "", pipeline.ErrRunInProgress, http.StatusConflict, "RUN001", false},
		{"unknown dataset", `{"dataset":"parcels"}`, &pipeline.UnknownDatasetError{Key: "parcels"}, http.StatusNotFound, "DS001", true},
		{"no files", "", &ingest.NotFoundError{Dir: "/in"}, http.StatusUnprocessableEntity, "FILE001", true},
		{"db failure", "", errors.New("something odd"), http.StatusInternalServerError, "ERR000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeRunner{err: tt.runErr}, nil)
			resp := post(t, ts.URL+"/api/runs", tt.body, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			got := decode[ErrorResponse](t, resp)
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if (got.Run != nil) != tt.wantRun {
				t.Errorf("run present = %v, want %v", got.Run != nil, tt.wantRun)
			}
		})
	}
}

func TestTriggerRun_APIKey(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, func(o *Options) {
		o.APIKeys = []string{"k1", "k2"}
	})

	tests := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"k2", http.StatusOK},
	}
	for _, tt := range tests {
		header := http.Header{}
		if tt.key != "" {
			header.Set("X-API-Key", tt.key)
		}
		resp := post(t, ts.URL+"/api/runs", "", header)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("key %q: status = %d, want %d", tt.key, resp.StatusCode, tt.want)
		}
	}

	// Reads stay open.
	resp, err := http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/runs status = %d, want 200", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	ts, history := newTestServer(t, &fakeRunner{}, nil)
	ctx := context.Background()
	for _, ds := range []string{"a", "b", "c"} {
		if err := history.Record(ctx, pipeline.RunResult{ID: uuid.New(), Dataset: ds}); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(ts.URL + "/api/runs?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	runs := decode[[]pipeline.RunResult](t, resp)
	var got []string
	for _, r := range runs {
		got = append(got, r.Dataset)
	}
	if diff := cmp.Diff([]string{"c", "b"}, got); diff != "" {
		t.Errorf("runs (-want +got):\n%s", diff)
	}
}

func TestListDatasets(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{}, nil)
	resp, err := http.Get(ts.URL + "/api/datasets")
	if err != nil {
		t.Fatal(err)
	}
	views := decode[[]datasetView](t, resp)

	byKey := make(map[string]datasetView)
	for _, v := range views {
		byKey[v.Key] = v
	}
	latest, ok := byKey["prop_latest"]
	if !ok {
		t.Fatalf("prop_latest missing from %v", views)
	}
	if latest.Table != "stg.prop_latest" || latest.UniqueKey != "property_id" {
		t.Errorf("prop_latest = %+v", latest)
	}
	if latest.Types["last_sale_amount"] != "numeric" {
		t.Errorf("last_sale_amount type = %q, want numeric", latest.Types["last_sale_amount"])
	}
}

func TestStatus(t *testing.T) {
	scheduler := pipeline.NewScheduler(&fakeRunner{}, quiet)
	if err := scheduler.Add("nightly", "0 2 * * *", pipeline.Job{Dataset: "prop_extract"}); err != nil {
		t.Fatal(err)
	}
	ts, _ := newTestServer(t, &fakeRunner{}, func(o *Options) { o.Schedules = scheduler })

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[statusResponse](t, resp)
	if got.Limiter == nil || got.Limiter.MaxConcurrent != 1 {
		t.Errorf("limiter = %+v", got.Limiter)
	}
	if len(got.Schedules) != 1 || got.Schedules[0].Name != "nightly" {
		t.Errorf("schedules = %+v", got.Schedules)
	}
	if got.LastRun != nil {
		t.Errorf("last run = %+v, want none", got.LastRun)
	}
}
