package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

// recorded is a single request seen by the fake upstream
type recorded struct {
	Path string
	Body map[string]any
}

// fakeUpstream replies with the queued responses in order, the last one is
// repeated once the queue is exhausted
type fakeUpstream struct {
	t *testing.T

	mu       sync.Mutex
	requests []recorded
	replies  []fakeReply
}

type fakeReply struct {
	status int
	body   string
	delay  time.Duration
}

func newFakeUpstream(t *testing.T, replies ...fakeReply) (*fakeUpstream, *httptest.Server) {
	f := &fakeUpstream{t: t, replies: replies}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("read request body: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		f.t.Errorf("request body is not JSON: %v", err)
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		f.t.Errorf("expected JSON content type, got %q", ct)
	}

	f.mu.Lock()
	f.requests = append(f.requests, recorded{Path: r.URL.Path, Body: body})
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	if reply.delay > 0 {
		select {
		case <-time.After(reply.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	io.WriteString(w, reply.body)
}

func (f *fakeUpstream) seen() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

// testConfig uses a transport owned by the test so idle connections are
// closed before the leak check
func testConfig(t *testing.T) Config {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	t.Cleanup(tr.CloseIdleConnections)
	return Config{
		HTTPClient: &http.Client{Transport: tr},
		Timeout:    2 * time.Second,
		Logger:     zaptest.NewLogger(t),
	}
}

func TestExecute(t *testing.T) {
	f, srv := newFakeUpstream(t, fakeReply{
		status: http.StatusOK,
		body:   `{"language":"python","version":"3.10.0","run":{"stdout":"1\n","stderr":"","output":"1\n","code":0,"signal":null}}`,
	})
	e := NewExecutor(srv.URL+"/api/v2/piston/execute", "", testConfig(t))

	res, err := e.Execute(context.Background(), "python", "print(1)")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Output != "1\n" {
		t.Errorf("expected output %q, got %q", "1\n", res.Output)
	}
	if res.Error != nil {
		t.Errorf("expected nil error, got %q", *res.Error)
	}

	reqs := f.seen()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	want := map[string]any{
		"language": "python",
		"version":  "*",
		"files":    []any{map[string]any{"content": "print(1)"}},
	}
	if reqs[0].Path != "/api/v2/piston/execute" {
		t.Errorf("unexpected path %q", reqs[0].Path)
	}
	if diff := cmp.Diff(want, reqs[0].Body); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Defaults(t *testing.T) {
	_, srv := newFakeUpstream(t, fakeReply{
		status: http.StatusOK,
		body:   `{"run":{"output":"","stderr":""}}`,
	})
	e := NewExecutor(srv.URL, "", testConfig(t))

	res, err := e.Execute(context.Background(), "python", "x")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Output != NoOutput {
		t.Errorf("expected %q, got %q", NoOutput, res.Output)
	}
	if res.Error != nil {
		t.Errorf("expected nil error, got %q", *res.Error)
	}
}

func TestExecute_Stderr(t *testing.T) {
	f, srv := newFakeUpstream(t, fakeReply{
		status: http.StatusOK,
		body:   `{"run":{"output":"Traceback\n","stderr":"Traceback\n"}}`,
	})
	e := NewExecutor(srv.URL, "3.10.0", testConfig(t))

	res, err := e.Execute(context.Background(), "python", "raise")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Error == nil || *res.Error != "Traceback\n" {
		t.Errorf("expected stderr to be propagated, got %v", res.Error)
	}
	if v := f.seen()[0].Body["version"]; v != "3.10.0" {
		t.Errorf("expected configured version, got %v", v)
	}
}

func TestExecute_MissingRun(t *testing.T) {
	_, srv := newFakeUpstream(t, fakeReply{status: http.StatusOK, body: `{"language":"python"}`})
	e := NewExecutor(srv.URL, "", testConfig(t))

	_, err := e.Execute(context.Background(), "python", "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Service != ServicePiston {
		t.Errorf("expected service %q, got %q", ServicePiston, ue.Service)
	}
}

func TestExecute_UpstreamMessage(t *testing.T) {
	_, srv := newFakeUpstream(t, fakeReply{
		status: http.StatusBadRequest,
		body:   `{"message":"ruby-* runtime is unknown"}`,
	})
	e := NewExecutor(srv.URL, "", testConfig(t))

	_, err := e.Execute(context.Background(), "ruby", "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", ue.StatusCode)
	}
	if ue.Message != "ruby-* runtime is unknown" {
		t.Errorf("unexpected message %q", ue.Message)
	}
}

func TestExecute_MalformedReply(t *testing.T) {
	_, srv := newFakeUpstream(t, fakeReply{status: http.StatusOK, body: `<html>`})
	e := NewExecutor(srv.URL, "", testConfig(t))

	_, err := e.Execute(context.Background(), "python", "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !strings.HasPrefix(ue.Message, "invalid response") {
		t.Errorf("unexpected message %q", ue.Message)
	}
}

func TestExecute_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := NewExecutor(url, "", testConfig(t))
	_, err := e.Execute(context.Background(), "python", "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != 0 {
		t.Errorf("expected no status code, got %d", ue.StatusCode)
	}
	if ue.Message == "" {
		t.Error("expected transport error message")
	}
}

func TestExecute_Idempotent(t *testing.T) {
	_, srv := newFakeUpstream(t, fakeReply{
		status: http.StatusOK,
		body:   `{"run":{"output":"1\n","stderr":""}}`,
	})
	e := NewExecutor(srv.URL, "", testConfig(t))

	first, err := e.Execute(context.Background(), "python", "print(1)")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	second, err := e.Execute(context.Background(), "python", "print(1)")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated execution differs (-first +second):\n%s", diff)
	}
}

func TestClient_Retry(t *testing.T) {
	tests := []struct {
		name     string
		retry    int
		replies  []fakeReply
		wantErr  bool
		wantSeen int
	}{
		{
			name:     "no retry by default",
			retry:    0,
			replies:  []fakeReply{{status: 502, body: `{}`}, {status: 200, body: `{"run":{"output":"ok"}}`}},
			wantErr:  true,
			wantSeen: 1,
		},
		{
			name:     "retry server error once",
			retry:    1,
			replies:  []fakeReply{{status: 502, body: `{}`}, {status: 200, body: `{"run":{"output":"ok"}}`}},
			wantSeen: 2,
		},
		{
			name:     "retry is clamped to one extra attempt",
			retry:    5,
			replies:  []fakeReply{{status: 500, body: `{}`}, {status: 500, body: `{}`}, {status: 200, body: `{"run":{"output":"ok"}}`}},
			wantErr:  true,
			wantSeen: 2,
		},
		{
			name:     "client error is not retried",
			retry:    1,
			replies:  []fakeReply{{status: 400, body: `{"message":"bad"}`}, {status: 200, body: `{"run":{"output":"ok"}}`}},
			wantErr:  true,
			wantSeen: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeUpstream(t, tt.replies...)
			conf := testConfig(t)
			conf.Retry = tt.retry

			var obs []Observation
			conf.Observer = func(o Observation) { obs = append(obs, o) }

			e := NewExecutor(srv.URL, "", conf)
			_, err := e.Execute(context.Background(), "python", "x")
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if n := len(f.seen()); n != tt.wantSeen {
				t.Errorf("expected %d requests, got %d", tt.wantSeen, n)
			}
			if len(obs) != 1 {
				t.Fatalf("expected 1 observation, got %d", len(obs))
			}
			if obs[0].Attempts != tt.wantSeen {
				t.Errorf("expected %d attempts observed, got %d", tt.wantSeen, obs[0].Attempts)
			}
			if obs[0].Service != ServicePiston || obs[0].Op != opExecute {
				t.Errorf("unexpected observation %+v", obs[0])
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	f, srv := newFakeUpstream(t, fakeReply{status: 200, body: `{"run":{}}`, delay: 5 * time.Second})
	conf := testConfig(t)
	conf.Timeout = 50 * time.Millisecond
	e := NewExecutor(srv.URL, "", conf)

	start := time.Now()
	_, err := e.Execute(context.Background(), "python", "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("timeout not applied, call took %v", d)
	}
	if n := len(f.seen()); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestClient_CanceledNotRetried(t *testing.T) {
	f, srv := newFakeUpstream(t, fakeReply{status: 200, body: `{"run":{}}`, delay: 5 * time.Second})
	conf := testConfig(t)
	conf.Retry = 1
	e := NewExecutor(srv.URL, "", conf)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.Execute(ctx, "python", "x"); err == nil {
		t.Fatal("expected error")
	}
	if n := len(f.seen()); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestClient_MaxResponseSize(t *testing.T) {
	_, srv := newFakeUpstream(t, fakeReply{
		status: http.StatusOK,
		body:   `{"run":{"output":"` + strings.Repeat("a", 1024) + `"}}`,
	})
	conf := testConfig(t)
	conf.MaxResponseSize = 128
	e := NewExecutor(srv.URL, "", conf)

	_, err := e.Execute(context.Background(), "python", "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !strings.Contains(ue.Message, "exceeds") {
		t.Errorf("unexpected message %q", ue.Message)
	}
}

func newTestAnalyzer(t *testing.T, replies ...fakeReply) (*fakeUpstream, *Analyzer) {
	f, srv := newFakeUpstream(t, replies...)
	a, err := NewAnalyzer(srv.URL, testConfig(t))
	if err != nil {
		t.Fatalf("NewAnalyzer error: %v", err)
	}
	return f, a
}

func TestAnalyze(t *testing.T) {
	f, a := newTestAnalyzer(t, fakeReply{
		status: http.StatusOK,
		body:   `{"analysis_result":[{"line":1,"msg":"x"},{"line":3,"msg":"unused variable"}]}`,
	})

	comments, err := a.Analyze(context.Background(), "x = 1", "")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if string(comments[0]) != `{"line":1,"msg":"x"}` {
		t.Errorf("comment not passed through: %s", comments[0])
	}

	reqs := f.seen()
	if reqs[0].Path != "/analyze" {
		t.Errorf("unexpected path %q", reqs[0].Path)
	}
	if diff := cmp.Diff(map[string]any{"code": "x = 1"}, reqs[0].Body); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_MissingResult(t *testing.T) {
	for _, body := range []string{`{}`, `{"analysis_result":null}`} {
		_, a := newTestAnalyzer(t, fakeReply{status: http.StatusOK, body: body})
		comments, err := a.Analyze(context.Background(), "x", "")
		if err != nil {
			t.Fatalf("Analyze(%s) error: %v", body, err)
		}
		if comments == nil || len(comments) != 0 {
			t.Errorf("Analyze(%s) expected empty non-nil comments, got %v", body, comments)
		}
	}
}

func TestAnalyze_Failure(t *testing.T) {
	_, a := newTestAnalyzer(t, fakeReply{status: http.StatusInternalServerError, body: `oops`})
	_, err := a.Analyze(context.Background(), "x", "")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Service != ServiceAnalysis || ue.Op != opAnalyze {
		t.Errorf("unexpected error origin %s %s", ue.Service, ue.Op)
	}
	if ue.Message != "Request failed with status code 500" {
		t.Errorf("unexpected message %q", ue.Message)
	}
}

func TestCreateReport(t *testing.T) {
	f, a := newTestAnalyzer(t,
		fakeReply{status: http.StatusOK, body: `{"analysis_result":[{"line":1,"msg":"x"}]}`},
		fakeReply{status: http.StatusOK, body: `{"report":"Report body"}`},
	)

	report, err := a.CreateReport(context.Background(), "x", "python")
	if err != nil {
		t.Fatalf("CreateReport error: %v", err)
	}
	if report != "Report body" {
		t.Errorf("expected %q, got %q", "Report body", report)
	}

	want := []recorded{
		{Path: "/analyze", Body: map[string]any{"code": "x", "language": "python"}},
		{Path: "/report", Body: map[string]any{
			"code":     "x",
			"code_sum": []any{map[string]any{"line": float64(1), "msg": "x"}},
		}},
	}
	if diff := cmp.Diff(want, f.seen()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateReport_EmptyAnalysis(t *testing.T) {
	f, a := newTestAnalyzer(t,
		fakeReply{status: http.StatusOK, body: `{}`},
		fakeReply{status: http.StatusOK, body: `{"report":"clean"}`},
	)
	if _, err := a.CreateReport(context.Background(), "x", "python"); err != nil {
		t.Fatalf("CreateReport error: %v", err)
	}
	reqs := f.seen()
	if diff := cmp.Diff([]any{}, reqs[1].Body["code_sum"]); diff != "" {
		t.Errorf("expected empty code_sum (-want +got):\n%s", diff)
	}
}

func TestCreateReport_MissingReport(t *testing.T) {
	for _, body := range []string{`{}`, `{"report":null}`} {
		_, a := newTestAnalyzer(t,
			fakeReply{status: http.StatusOK, body: `{"analysis_result":[]}`},
			fakeReply{status: http.StatusOK, body: body},
		)
		report, err := a.CreateReport(context.Background(), "x", "python")
		if err != nil {
			t.Fatalf("CreateReport(%s) error: %v", body, err)
		}
		if report != "" {
			t.Errorf("CreateReport(%s) expected empty report, got %q", body, report)
		}
	}
}

func TestCreateReport_AnalyzeFailureStopsChain(t *testing.T) {
	f, a := newTestAnalyzer(t,
		fakeReply{status: http.StatusServiceUnavailable, body: `{}`},
		fakeReply{status: http.StatusOK, body: `{"report":"Report body"}`},
	)
	if _, err := a.CreateReport(context.Background(), "x", "python"); err == nil {
		t.Fatal("expected error")
	}
	reqs := f.seen()
	if len(reqs) != 1 || reqs[0].Path != "/analyze" {
		t.Errorf("expected only the analyze request, got %+v", reqs)
	}
}

func TestCreateReport_ReportFailure(t *testing.T) {
	_, a := newTestAnalyzer(t,
		fakeReply{status: http.StatusOK, body: `{"analysis_result":[{"line":1,"msg":"x"}]}`},
		fakeReply{status: http.StatusInternalServerError, body: `{"error":"model unavailable"}`},
	)
	report, err := a.CreateReport(context.Background(), "x", "python")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Op != opReport {
		t.Errorf("expected failure in report, got %q", ue.Op)
	}
	if report != "" {
		t.Errorf("expected no partial report, got %q", report)
	}
}

func TestNewAnalyzer_JoinsPath(t *testing.T) {
	a, err := NewAnalyzer("http://localhost:5000/", Config{})
	if err != nil {
		t.Fatalf("NewAnalyzer error: %v", err)
	}
	if a.analyzeURL != "http://localhost:5000/analyze" || a.reportURL != "http://localhost:5000/report" {
		t.Errorf("unexpected urls %q %q", a.analyzeURL, a.reportURL)
	}
}
