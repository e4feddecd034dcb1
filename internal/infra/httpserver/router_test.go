package httpserver

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appai "github.com/HwangHoYoon/trust/internal/application/ai"
	appscans "github.com/HwangHoYoon/trust/internal/application/scans"
	domai "github.com/HwangHoYoon/trust/internal/domain/ai"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
	"github.com/HwangHoYoon/trust/internal/infra/db/memory"
	"github.com/HwangHoYoon/trust/internal/middleware"
)

const output = `{"template-id":"git-config","info":{"name":"Git Config","severity":"medium"},"matched-at":"https://example.com/.git/config"}` + "\n" +
	"[INF] Templates loaded\n" +
	`{"template-id": broken` + "\n" +
	`{"percent":"100"}` + "\n"

type stubProcess struct{ out io.Reader }

func (p *stubProcess) Output() io.Reader               { return p.out }
func (p *stubProcess) Wait(time.Duration) (int, error) { return 0, nil }
func (p *stubProcess) Close() error                    { return nil }

type stubRunner struct{}

func (stubRunner) Start(context.Context, string) (domain.Process, error) {
	return &stubProcess{out: strings.NewReader(output)}, nil
}

func (stubRunner) Version(context.Context) (string, error) { return "v3.4.2", nil }

type stubModel struct{ err error }

func (m stubModel) Analyze(context.Context, domai.Request) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return `{"description":"exposed git","impact":"source leak","category":"exposure","fix_steps":["deny /.git"],"fix_complexity":"simple","confidence":0.8}`, nil
}

func (stubModel) Model() string { return "stub-model" }

type env struct {
	handler http.Handler
	store   *memory.Store
	scans   *appscans.Service
}

func newEnv(t *testing.T, model domai.Client, opts Options) *env {
	t.Helper()
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)
	svc := &appscans.Service{Repo: store, Runner: stubRunner{}, Errors: store.Errors(), Logger: logger}
	var aiSvc *appai.Service
	if model != nil {
		aiSvc = appai.NewService(model, store, store, nil, logger)
		svc.Enricher = aiSvc
	}
	return &env{handler: NewRouter(svc, aiSvc, opts, logger), store: store, scans: svc}
}

func (e *env) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// sseEvents returns the event names in order.
func sseEvents(t *testing.T, body string) []string {
	t.Helper()
	var names []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	require.NoError(t, sc.Err())
	return names
}

func TestStream(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodGet, "/api/scan/stream?url=example.com", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"init", "progress", "warning", "progress", "complete"}, sseEvents(t, rec.Body.String()))
	assert.Contains(t, rec.Body.String(), `"grade":"A"`)
}

func TestStreamAllEnriches(t *testing.T) {
	e := newEnv(t, stubModel{}, Options{})
	rec := e.do(t, http.MethodGet, "/api/scan/streamAll?url=https://example.com", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"aiAnalyzed":true`)
	assert.Contains(t, rec.Body.String(), `"aiDescription":"exposed git"`)
}

func TestStreamAllWithoutModel(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodGet, "/api/scan/streamAll?url=https://example.com", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamRejectsPrivateTarget(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodGet, "/api/scan/stream?url=http://127.0.0.1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/scan/stream?url=", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollect(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodPost, "/api/scan/mcpAll", `{"url":"example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 5)
	assert.Equal(t, domain.EventStart, events[0].Type)
	assert.Equal(t, domain.EventEnd, events[4].Type)
	require.NotNil(t, events[4].Score)
	assert.Equal(t, 95, *events[4].Score)
}

func TestTriggerAndLookup(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodPost, "/api/scans/", `{"url":"example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted domain.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, domain.StatusProcessing, accepted.Status)

	require.Eventually(t, func() bool {
		j, err := e.scans.Get(context.Background(), accepted.ID)
		return err == nil && j.Status == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rec = e.do(t, http.MethodGet, "/api/scans/"+string(accepted.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job domain.ScanJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "A", job.Grade)

	rec = e.do(t, http.MethodGet, "/api/scans/"+string(accepted.ID)+"/findings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var findings []domain.Finding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &findings))
	require.Len(t, findings, 1)
	assert.Equal(t, "git-config", findings[0].TemplateID)

	rec = e.do(t, http.MethodGet, "/api/scans/"+string(accepted.ID)+"/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"parse"`)

	rec = e.do(t, http.MethodGet, "/api/scans/latest?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(accepted.ID))
}

func TestLookupErrors(t *testing.T) {
	e := newEnv(t, nil, Options{})
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/scans/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/scans/0b0f8e38-6a4b-4c4e-9f55-4a7f0d7b2d11", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/scans/", `{`).Code)
}

func TestVersion(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodGet, "/api/scan/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"v3.4.2"}`, rec.Body.String())
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t, stubModel{}, Options{})
	job, _, err := e.scans.Collect(context.Background(), "example.com", false)
	require.NoError(t, err)
	findings, err := e.store.FindingsByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	rec := e.do(t, http.MethodGet, "/api/ai/analyzeScan?scanId="+string(job.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAI, events[0].Type)

	rec = e.do(t, http.MethodPost, "/api/ai/analyzeScanDetail", `{"scanDetailId": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"aiCategory":"exposure"`)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/ai/analyzeScanDetail?scanDetailId=abc", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/ai/analyzeScanDetail?scanDetailId=99", "").Code)
}

func TestAnalyzeQuota(t *testing.T) {
	e := newEnv(t, stubModel{err: domai.ErrQuotaExceeded}, Options{})
	job, _, err := e.scans.Collect(context.Background(), "example.com", false)
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/ai/analyzeScan?scanId="+string(job.ID), "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAnalyzeWithoutModel(t *testing.T) {
	e := newEnv(t, nil, Options{})
	rec := e.do(t, http.MethodGet, "/api/ai/analyzeScanDetail?scanDetailId=1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthAndProbes(t *testing.T) {
	metrics := middleware.NewMetrics()
	e := newEnv(t, nil, Options{APIKeys: map[string]string{"ci": "k"}, Metrics: metrics})

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/livez", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/scan/version", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/scan/version", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, uint64(4), metrics.RequestsTotal.Load())
}
