package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper-Claude/internal/dispatch"
	"VaultKeeper-Claude/internal/llm/anthropic"
	"VaultKeeper-Claude/internal/observability/metrics"
	"VaultKeeper-Claude/internal/task"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []task.Task
	panic bool
}

func (d *recordingDispatcher) Process(_ context.Context, t task.Task) task.Envelope {
	if d.panic {
		panic("dispatcher exploded")
	}
	d.mu.Lock()
	d.tasks = append(d.tasks, t)
	d.mu.Unlock()
	if t.ID == "" {
		t = t.WithID(t.AgentName + "_20250601_120000_001")
	}
	return task.Succeeded(t, "ok", 3, fixedNow)
}

func (d *recordingDispatcher) ProcessBatch(ctx context.Context, tasks []task.Task) task.BatchEnvelope {
	results := make([]task.Envelope, 0, len(tasks))
	for _, t := range tasks {
		results = append(results, d.Process(ctx, t))
	}
	return task.BatchEnvelope{
		BatchID:    task.BatchID(fixedNow),
		TotalTasks: len(tasks),
		Results:    results,
		Timestamp:  fixedNow,
	}
}

type fakeProber struct {
	ok  bool
	err error
}

func (p fakeProber) Probe(context.Context) (bool, error) {
	return p.ok, p.err
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(d Dispatcher, opts ...Option) http.Handler {
	base := []Option{
		WithLogger(quiet()),
		WithAuditLogger(quiet()),
		WithClock(func() time.Time { return fixedNow }),
	}
	return NewServer(":0", d, append(base, opts...)...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRoot(t *testing.T) {
	rec := do(t, newTestServer(&recordingDispatcher{}), http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, "VaultKeeper Claude Integration", body["service"])
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "2025-06-01T12:00:00Z", body["timestamp"])
	eps, ok := body["endpoints"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/claude/patent/collaborate", eps["patent"])
	assert.Equal(t, "/claude/batch/process", eps["batch"])
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name      string
		prober    fakeProber
		status    string
		claudeAPI string
	}{
		{"healthy", fakeProber{ok: true}, "healthy", "connected"},
		{"non 200", fakeProber{ok: false}, "degraded", "disconnected"},
		{"probe error", fakeProber{err: stdErrors.New("dial tcp: refused")}, "degraded", "disconnected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&recordingDispatcher{}, WithProber(tc.prober, true))
			rec := do(t, h, http.MethodGet, "/health", "")

			require.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.status, body["status"])
			assert.Equal(t, tc.claudeAPI, body["claude_api"])
			assert.Equal(t, true, body["api_key_configured"])
			assert.Equal(t, "VaultKeeper Claude Integration", body["service"])
			assert.NotEmpty(t, body["uptime"])
		})
	}
}

func TestHealthWithoutProber(t *testing.T) {
	rec := do(t, newTestServer(&recordingDispatcher{}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["api_key_configured"])
}

func TestAgentRoutesApplyDefaults(t *testing.T) {
	cases := []struct {
		path    string
		profile task.Profile
	}{
		{"/claude/monique/delegate", task.MoniqueProfile},
		{"/claude/coordinator/handoff", task.CoordinatorProfile},
		{"/claude/patent/collaborate", task.PatentProfile},
		{"/claude/cfo/consult", task.CFOProfile},
	}
	for _, tc := range cases {
		t.Run(tc.profile.Agent, func(t *testing.T) {
			d := &recordingDispatcher{}
			rec := do(t, newTestServer(d), http.MethodPost, tc.path, `{}`)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, d.tasks, 1)
			got := d.tasks[0]
			assert.Equal(t, tc.profile.Agent, got.AgentName)
			assert.Equal(t, tc.profile.TaskType, got.TaskType)
			assert.Equal(t, tc.profile.Priority, got.Priority)
			assert.Equal(t, tc.profile.Context, got.Context)
			assert.Equal(t, map[string]any{}, got.Content)
			assert.Empty(t, got.ID)

			body := decode(t, rec)
			assert.Equal(t, "completed", body["status"])
			assert.Equal(t, tc.profile.Agent, body["agent"])
		})
	}
}

func TestAgentRouteIgnoresAgentNameInBody(t *testing.T) {
	d := &recordingDispatcher{}
	rec := do(t, newTestServer(d), http.MethodPost, "/claude/cfo/consult",
		`{"agent_name":"Impostor","task_type":"valuation","task_id":"T-1","priority":"low","context":"","content":{"ip":"US123"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.tasks, 1)
	got := d.tasks[0]
	assert.Equal(t, "CFOAI", got.AgentName)
	assert.Equal(t, "valuation", got.TaskType)
	assert.Equal(t, "T-1", got.ID)
	assert.Equal(t, "low", got.Priority)
	assert.Equal(t, "", got.Context)
	assert.Equal(t, map[string]any{"ip": "US123"}, got.Content)
	assert.Equal(t, "T-1", decode(t, rec)["task_id"])
}

func TestAgentRouteUnparseableBody(t *testing.T) {
	d := &recordingDispatcher{}
	h := newTestServer(d)

	for _, body := range []string{"", "not json", `{"content":"not an object"}`, `{"task_type":"x"} garbage`, `{} {}`} {
		rec := do(t, h, http.MethodPost, "/claude/patent/collaborate", body)

		require.Equal(t, http.StatusInternalServerError, rec.Code, body)
		got := decode(t, rec)
		assert.Equal(t, "error", got["status"])
		assert.Equal(t, "PatentAI", got["agent"])
		assert.Contains(t, got["error"], "invalid request body")
	}
	assert.Empty(t, d.tasks)
}

func TestAgentRouteKeepsNumberLiterals(t *testing.T) {
	d := &recordingDispatcher{}
	rec := do(t, newTestServer(d), http.MethodPost, "/claude/patent/collaborate",
		`{"content":{"patent_no":12345678901234567,"big":1e21,"claims":[1,2.50]}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.tasks, 1)
	got := d.tasks[0]
	assert.Equal(t, json.Number("12345678901234567"), got.Content["patent_no"])

	prompt := task.BuildPrompt(got)
	assert.Contains(t, prompt, `"patent_no": 12345678901234567`)
	assert.Contains(t, prompt, `"big": 1e21`)
	assert.Contains(t, prompt, "2.50")
}

func TestBatch(t *testing.T) {
	d := &recordingDispatcher{}
	rec := do(t, newTestServer(d), http.MethodPost, "/claude/batch/process",
		`{"tasks":[{"content":{"n":1}},{"agent_name":"CFOAI","task_type":"valuation"},{"agent_name":"Monique"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.tasks, 3)
	assert.Equal(t, "BatchProcessor", d.tasks[0].AgentName)
	assert.Equal(t, "batch_analysis", d.tasks[0].TaskType)
	assert.Equal(t, "medium", d.tasks[0].Priority)
	assert.Equal(t, "Batch processing operation", d.tasks[0].Context)
	assert.Equal(t, "CFOAI", d.tasks[1].AgentName)
	assert.Equal(t, "valuation", d.tasks[1].TaskType)
	assert.Equal(t, "Monique", d.tasks[2].AgentName)

	body := decode(t, rec)
	assert.Equal(t, "BATCH_20250601_120000", body["batch_id"])
	assert.Equal(t, float64(3), body["total_tasks"])
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, "CFOAI", results[1].(map[string]any)["agent"])
}

func TestBatchEdgeCases(t *testing.T) {
	h := newTestServer(&recordingDispatcher{})

	rec := do(t, h, http.MethodPost, "/claude/batch/process", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(0), body["total_tasks"])
	assert.Equal(t, []any{}, body["results"])

	rec = do(t, h, http.MethodPost, "/claude/batch/process", `{"tasks":"nope"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "error", body["status"])
	_, hasAgent := body["agent"]
	assert.False(t, hasAgent)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestServer(&recordingDispatcher{})

	rec := do(t, h, http.MethodGet, "/claude/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Endpoint not found", body["error"])
	assert.Contains(t, body["available_endpoints"], "/claude/monique/delegate")

	rec = do(t, h, http.MethodGet, "/claude/monique/delegate", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", decode(t, rec)["error"])
}

func TestPanicBecomesJSON500(t *testing.T) {
	rec := do(t, newTestServer(&recordingDispatcher{panic: true}), http.MethodPost, "/claude/monique/delegate", `{}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, "Check logs for details", body["message"])
}

func TestRequestID(t *testing.T) {
	h := newTestServer(&recordingDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-trace-1", rec.Header().Get(RequestIDHeader))

	rec = do(t, h, http.MethodGet, "/", "")
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	h := newTestServer(&recordingDispatcher{}, WithMetrics(m), WithProber(fakeProber{ok: true}, true))

	do(t, h, http.MethodGet, "/health", "")
	do(t, h, http.MethodGet, "/nowhere", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `vaultkeeper_http_requests_total{code="200",handler="/health",method="GET"} 1`)
	assert.Contains(t, text, `vaultkeeper_http_requests_total{code="404",handler="unmatched",method="GET"} 1`)
	assert.Contains(t, text, "vaultkeeper_upstream_healthy 1")
}

func TestMetricsRouteDisabled(t *testing.T) {
	rec := do(t, newTestServer(&recordingDispatcher{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndToEndAgainstSimulatedUpstream(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Findings: ..."}],"usage":{"input_tokens":50,"output_tokens":120}}`))
	}))
	defer upstream.Close()

	client, err := anthropic.NewClient(anthropic.Config{APIKey: "sk-test", BaseURL: upstream.URL, Timeout: time.Second})
	require.NoError(t, err)
	svc := dispatch.New(client, dispatch.WithLogger(quiet()), dispatch.WithAuditLogger(quiet()))

	rec := do(t, newTestServer(svc, WithProber(client, true)), http.MethodPost, "/claude/patent/collaborate",
		`{"task_type":"prior_art_search","content":{"query":"battery cooling"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "PatentAI", body["agent"])
	assert.Equal(t, "prior_art_search", body["task_type"])
	assert.Equal(t, "Findings: ...", body["claude_analysis"])
	assert.Equal(t, float64(170), body["tokens_used"])
	assert.Regexp(t, `^PatentAI_\d{8}_\d{6}_\d{3}$`, body["task_id"])
	assert.Equal(t, "sk-test", gotKey)

	rec = do(t, newTestServer(svc, WithProber(client, true)), http.MethodGet, "/health", "")
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}
