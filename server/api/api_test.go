package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PeladoCollado/cpuload/load"
	"github.com/PeladoCollado/cpuload/metrics"
	"github.com/PeladoCollado/cpuload/server/middleware"
	"github.com/PeladoCollado/cpuload/server/sessions"
	"github.com/PeladoCollado/cpuload/types"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeRunner struct {
	lock  sync.Mutex
	calls int
	err   error
}

func (f *fakeRunner) Plan(utilization int) load.Plan {
	return load.Plan{RequestedUtilization: utilization, Utilization: utilization, Workers: 1, Iterations: 1, Interval: time.Millisecond}
}

func (f *fakeRunner) Execute(_ context.Context, _ string, plan load.Plan) (load.Result, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls++
	return load.Result{Plan: plan, StartedAt: time.Now(), Elapsed: 1250 * time.Millisecond, Canceled: f.err != nil}, f.err
}

type blockingRunner struct {
	fakeRunner
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Execute(ctx context.Context, id string, plan load.Plan) (load.Result, error) {
	close(b.started)
	<-b.release
	return b.fakeRunner.Execute(ctx, id, plan)
}

func fastGenerator(iterations int, interval time.Duration) *load.Generator {
	return load.NewGenerator(load.Config{Iterations: iterations, Interval: interval, Workers: 2, Clamp: true}, metrics.Noop())
}

func decodeString(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unable to decode string body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestRootReturnsGreeting(t *testing.T) {
	handler := NewHandler(context.Background(), Options{Runner: &fakeRunner{}})

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
		}
		if got := decodeString(t, resp); got != Greeting {
			t.Fatalf("expected %q, got %q", Greeting, got)
		}
		if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected json content type, got %q", ct)
		}
	}
}

func TestIntenseRejectsNonInteger(t *testing.T) {
	runner := &fakeRunner{}
	registry := sessions.NewRegistry()
	handler := NewHandler(context.Background(), Options{Runner: runner, Registry: registry})

	for _, value := range []string{"abc", "1.5", "50%25", "99999999999999999999"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/"+value, nil))
		if resp.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected status %d, got %d", value, http.StatusUnprocessableEntity, resp.Code)
		}
		var body validationError
		if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
			t.Fatalf("unable to decode validation body: %v", err)
		}
		if len(body.Detail) != 1 || body.Detail[0].Loc[1] != "utilization" {
			t.Fatalf("unexpected validation body: %+v", body)
		}
	}
	if runner.calls != 0 {
		t.Fatalf("expected no session to start, got %d", runner.calls)
	}
}

func TestIntenseValidatesBeforeWaitingForSessionSlot(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	handler := NewHandler(context.Background(), Options{
		Runner:      runner,
		Concurrency: middleware.ConcurrencyOptions{Max: 1},
	})

	held := make(chan int)
	go func() {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/50", nil))
		held <- resp.Code
	}()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first session to start")
	}

	resp := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/abc", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		close(runner.release)
		<-held
		t.Fatalf("non-integer request waited for a session slot")
	}
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d while slot is held, got %d", http.StatusUnprocessableEntity, resp.Code)
	}

	close(runner.release)
	if code := <-held; code != http.StatusOK {
		t.Fatalf("expected held session to finish with %d, got %d", http.StatusOK, code)
	}
}

func TestIntenseRejectsNonIntegerWithoutSpendingRateLimit(t *testing.T) {
	runner := &fakeRunner{}
	handler := NewHandler(context.Background(), Options{
		Runner:    runner,
		RateLimit: middleware.RateLimitOptions{RPS: 0.01, Burst: 1},
	})

	expected := []struct {
		path   string
		status int
	}{
		{path: "/intense/abc", status: http.StatusUnprocessableEntity},
		{path: "/intense/abc", status: http.StatusUnprocessableEntity},
		{path: "/intense/10", status: http.StatusOK},
		{path: "/intense/10", status: http.StatusTooManyRequests},
		{path: "/intense/abc", status: http.StatusUnprocessableEntity},
	}
	for i, tc := range expected {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if resp.Code != tc.status {
			t.Fatalf("request %d %s: expected status %d, got %d", i, tc.path, tc.status, resp.Code)
		}
	}
	if runner.calls != 1 {
		t.Fatalf("expected exactly one session, got %d", runner.calls)
	}
}

func TestIntenseRunsSessionAndRecordsHistory(t *testing.T) {
	history := sessions.NewMemoryStore(10)
	registry := sessions.NewRegistry()
	handler := NewHandler(context.Background(), Options{
		Runner:   fastGenerator(3, 10*time.Millisecond),
		Registry: registry,
		History:  history,
	})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/50", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	body := decodeString(t, resp)
	if !strings.HasPrefix(body, "Ran for ") || !strings.HasSuffix(body, "s") {
		t.Fatalf("unexpected body %q", body)
	}
	sessionID := resp.Header().Get(SessionIDHeader)
	if sessionID == "" {
		t.Fatalf("expected session id header")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no active sessions after response, got %d", registry.Len())
	}

	listResp := httptest.NewRecorder()
	handler.ServeHTTP(listResp, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, listResp.Code)
	}
	var list types.SessionList
	if err := json.Unmarshal(listResp.Body.Bytes(), &list); err != nil {
		t.Fatalf("unable to decode sessions: %v", err)
	}
	if len(list.Active) != 0 || len(list.Recent) != 1 {
		t.Fatalf("unexpected sessions payload: %+v", list)
	}
	report := list.Recent[0]
	if report.ID != sessionID || report.Utilization != 50 || report.Workers != 2 || report.Iterations != 3 {
		t.Fatalf("unexpected session report: %+v", report)
	}
	if report.Elapsed() < 30*time.Millisecond {
		t.Fatalf("expected session to last at least 30ms, got %s", report.Elapsed())
	}
}

func TestIntenseClampsOutOfRangeUtilization(t *testing.T) {
	history := sessions.NewMemoryStore(10)
	handler := NewHandler(context.Background(), Options{Runner: fastGenerator(1, 5*time.Millisecond), History: history})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/250", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}

	recent, _ := history.Recent(context.Background(), 1)
	if recent[0].RequestedUtilization != 250 || recent[0].Utilization != 100 {
		t.Fatalf("expected clamp 250 -> 100, got %+v", recent[0])
	}
}

func TestIntenseReportsFormattedElapsed(t *testing.T) {
	handler := NewHandler(context.Background(), Options{Runner: &fakeRunner{}})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/10", nil))
	if got := decodeString(t, resp); got != "Ran for 1.25s" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestIntenseMapsRunnerErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: fmt.Errorf("%w: %w", load.ErrCanceled, context.Canceled), status: http.StatusServiceUnavailable},
		{err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		history := sessions.NewMemoryStore(10)
		handler := NewHandler(context.Background(), Options{Runner: &fakeRunner{err: tc.err}, History: history})

		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/10", nil))
		if resp.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, resp.Code)
		}
		recent, _ := history.Recent(context.Background(), 0)
		if len(recent) != 1 || !recent[0].Canceled {
			t.Fatalf("expected failed session to be recorded as canceled, got %+v", recent)
		}
	}
}

func TestIntenseStopsOnServerShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := NewHandler(ctx, Options{Runner: fastGenerator(1000, 50*time.Millisecond)})

	time.AfterFunc(30*time.Millisecond, cancel)
	resp := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/intense/20", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session to stop on shutdown")
	}
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestIntenseCancelOnDisconnect(t *testing.T) {
	handler := NewHandler(context.Background(), Options{
		Runner:             fastGenerator(1000, 50*time.Millisecond),
		CancelOnDisconnect: true,
	})

	reqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/intense/20", nil).WithContext(reqCtx)
	resp := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(resp, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session to stop after disconnect")
	}
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := NewHandler(context.Background(), Options{Runner: &fakeRunner{}})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := NewHandler(context.Background(), Options{Runner: &fakeRunner{}})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/intense/10", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector(registry)
	handler := NewHandler(context.Background(), Options{Runner: &fakeRunner{}, Collector: collector, Gatherer: registry})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `cpuload_http_requests_total{code="200",route="/"} 1`) {
		t.Fatalf("expected request counter in exposition, got:\n%s", resp.Body.String())
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := FormatElapsed(30*time.Second + 12*time.Millisecond); got != "Ran for 30.012s" {
		t.Fatalf("unexpected format %q", got)
	}
}
