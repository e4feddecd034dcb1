package scans

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/HwangHoYoon/trust/internal/application"
	"github.com/HwangHoYoon/trust/internal/domain/analyst"
	"github.com/HwangHoYoon/trust/internal/domain/scanerrors"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
	"github.com/HwangHoYoon/trust/internal/infra/db/memory"
	"github.com/HwangHoYoon/trust/internal/infra/executor/nuclei"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const scannerOutput = "\x1b[34m[INF]\x1b[0m nuclei started\n" +
	`{"stats":{},"percent":"10"}` + "\n" +
	`{"template-id":"cve-2021-44228","info":{"name":"Log4Shell","severity":"critical"},"matched-at":"https://example.com"}` + "\n" +
	"\n" +
	`{"template-id":"broken","info":{"name":` + "\n" +
	`{"template-id":"exposed-panel","info":{"name":"Admin Panel","severity":"high"},"matched-at":"https://example.com/admin"}` + "\n" +
	`{"duration":"0:00:05","percent":"100"}`

type fakeProcess struct {
	out     io.Reader
	code    int
	waitErr error
	closed  atomic.Int32
}

func (p *fakeProcess) Output() io.Reader { return p.out }

func (p *fakeProcess) Wait(time.Duration) (int, error) { return p.code, p.waitErr }

func (p *fakeProcess) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeRunner struct {
	proc     *fakeProcess
	startErr error
	started  atomic.Int32
	// onStart runs in the scan goroutine before Start returns.
	onStart func(ctx context.Context, p *fakeProcess)
}

func (r *fakeRunner) Start(ctx context.Context, target string) (domain.Process, error) {
	r.started.Add(1)
	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.onStart != nil {
		r.onStart(ctx, r.proc)
	}
	return r.proc, nil
}

func (r *fakeRunner) Version(context.Context) (string, error) { return "v3.0.0", nil }

type testEnv struct {
	svc    *Service
	store  *memory.Store
	runner *fakeRunner
}

func newEnv(t *testing.T, proc *fakeProcess) *testEnv {
	t.Helper()
	store := memory.NewStore()
	runner := &fakeRunner{proc: proc}
	svc := &Service{
		Repo:   store,
		Runner: runner,
		Errors: store.Errors(),
		Clock:  application.ClockFunc(func() time.Time { return fixedNow }),
		Logger: zaptest.NewLogger(t),
	}
	return &testEnv{svc: svc, store: store, runner: runner}
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestCollectCompletesAndScores(t *testing.T) {
	defer goleak.VerifyNone(t)
	proc := &fakeProcess{out: strings.NewReader(scannerOutput)}
	env := newEnv(t, proc)

	job, events, err := env.svc.Collect(context.Background(), "example.com", false)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventStart,
		domain.EventProgress,
		domain.EventFind,
		domain.EventWarning,
		domain.EventFind,
		domain.EventProgress,
		domain.EventEnd,
	}, eventTypes(events))

	assert.Equal(t, "10", events[1].Percent)
	assert.Equal(t, "Log4Shell", events[2].Name)
	assert.Equal(t, domain.SeverityCritical, events[2].Severity)
	assert.NotEmpty(t, events[2].ScanDetailID)
	assert.Equal(t, 5, events[3].LineNumber)
	assert.Contains(t, events[3].RawLine, `"template-id":"broken"`)

	end := events[len(events)-1]
	require.NotNil(t, end.Score)
	assert.Equal(t, 60, *end.Score)
	assert.Equal(t, "B-", end.Grade)

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, "https://example.com", job.Target)
	assert.Equal(t, 60, *job.Score)
	assert.Equal(t, fixedNow, *job.CompletedAt)

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "B-", stored.Grade)

	findings, err := env.store.FindingsByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "Log4Shell", findings[0].Name)
	assert.Equal(t, "Admin Panel", findings[1].Name)

	logged, err := env.store.Errors().ListByScan(context.Background(), string(job.ID), 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, scanerrors.PhaseParse, logged[0].Phase)
	assert.Equal(t, 5, logged[0].LineNumber)

	assert.EqualValues(t, 1, proc.closed.Load())
}

func TestRunScanRejectsBlankTarget(t *testing.T) {
	env := newEnv(t, &fakeProcess{out: strings.NewReader("")})
	_, err := env.svc.RunScan(context.Background(), "  ", nil, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	assert.Zero(t, env.runner.started.Load())
}

func TestRunScanRequiresEnricherForEnrichment(t *testing.T) {
	env := newEnv(t, &fakeProcess{out: strings.NewReader("")})
	_, err := env.svc.RunScan(context.Background(), "example.com", nil, true)
	assert.ErrorIs(t, err, ErrEnrichmentUnavailable)
	assert.Zero(t, env.runner.started.Load())
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name    string
		proc    *fakeProcess
		message string
	}{
		{name: "non-zero exit", proc: &fakeProcess{out: strings.NewReader("[ERR] no templates\n"), code: 2}, message: "scanner exited with code 2"},
		{name: "wait timeout", proc: &fakeProcess{out: strings.NewReader(""), code: -1, waitErr: domain.ErrScannerTimeout}, message: "timed out"},
		{name: "wait error", proc: &fakeProcess{out: strings.NewReader(""), waitErr: errors.New("wait: no child")}, message: "no child"},
		{name: "stream error", proc: &fakeProcess{out: io.MultiReader(strings.NewReader("[INF] ok\n"), iotest{}), code: 0}, message: "reading scanner output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			env := newEnv(t, tt.proc)

			job, events, err := env.svc.Collect(context.Background(), "https://example.com", false)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusError, job.Status)
			assert.Contains(t, job.ErrorMessage, tt.message)
			assert.Nil(t, job.Score)

			last := events[len(events)-1]
			assert.Equal(t, domain.EventError, last.Type)
			assert.Contains(t, last.Message, tt.message)
			assert.NotContains(t, eventTypes(events), domain.EventEnd)
			assert.EqualValues(t, 1, tt.proc.closed.Load())

			stored, err := env.store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusError, stored.Status)
		})
	}
}

// iotest fails every read.
type iotest struct{}

func (iotest) Read([]byte) (int, error) { return 0, errors.New("pipe broken") }

func TestStartFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	env.runner.startErr = errors.New("exec: \"nuclei\": executable file not found in $PATH")

	job, events, err := env.svc.Collect(context.Background(), "example.com", false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "executable file not found")
	assert.Equal(t, []domain.EventType{domain.EventStart, domain.EventError}, eventTypes(events))
}

func TestInterruptionMarksJobError(t *testing.T) {
	defer goleak.VerifyNone(t)
	pr, pw := io.Pipe()
	proc := &fakeProcess{out: pr, code: -1}
	env := newEnv(t, proc)
	env.runner.onStart = func(ctx context.Context, _ *fakeProcess) {
		go func() {
			<-ctx.Done()
			pw.Close()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &CollectSink{}
	job, err := env.svc.RunScan(ctx, "example.com", sink, false)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)

	_, err = pw.Write([]byte(`{"template-id":"a","info":{"severity":"low"}}` + "\n"))
	require.NoError(t, err)
	cancel()

	state, err := job.Wait(context.Background())
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusError, state.Status)
	assert.Equal(t, "scan interrupted", state.ErrorMessage)

	stored, err = env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)

	events := sink.Events()
	assert.Equal(t, domain.EventError, events[len(events)-1].Type)
}

type recordingEnricher struct {
	mu       sync.Mutex
	active   int
	maxSeen  int
	enriched []string
}

func (e *recordingEnricher) Enrich(_ context.Context, f *domain.Finding) *analyst.Remediation {
	e.mu.Lock()
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	e.enriched = append(e.enriched, f.Name)
	e.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	return analyst.Fallback(f.Subject(), "offline", "test-model", fixedNow)
}

func TestEnrichmentRunsInlineAndSequentially(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, &fakeProcess{out: strings.NewReader(scannerOutput)})
	enricher := &recordingEnricher{}
	env.svc.Enricher = enricher

	job, events, err := env.svc.Collect(context.Background(), "example.com", true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)

	assert.Equal(t, []string{"Log4Shell", "Admin Panel"}, enricher.enriched)
	assert.Equal(t, 1, enricher.maxSeen)

	var finds []domain.Event
	for _, e := range events {
		if e.Type == domain.EventFind {
			finds = append(finds, e)
		}
	}
	require.Len(t, finds, 2)
	for _, e := range finds {
		assert.True(t, e.AIAnalyzed)
		require.NotNil(t, e.AIConfidence)
		assert.Zero(t, *e.AIConfidence)
		assert.Contains(t, e.AIDescription, e.Name)
	}
}

func TestSinkFailuresDoNotAbort(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, &fakeProcess{out: strings.NewReader(scannerOutput)})

	var calls atomic.Int32
	sink := FuncSink(func(domain.Event) error {
		calls.Add(1)
		return errors.New("client went away")
	})
	job, err := env.svc.RunScan(context.Background(), "example.com", sink, false)
	require.NoError(t, err)
	state, err := job.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
	assert.EqualValues(t, 7, calls.Load())
}

type flakyRepo struct {
	*memory.Store
	failSaves bool
}

func (r *flakyRepo) FindingsByJob(context.Context, domain.JobID) ([]*domain.Finding, error) {
	return nil, errors.New("db down")
}

func (r *flakyRepo) SaveFinding(ctx context.Context, f *domain.Finding) error {
	if r.failSaves {
		return errors.New("db down")
	}
	return r.Store.SaveFinding(ctx, f)
}

func TestScoreFallsBackToInRunFindings(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, &fakeProcess{out: strings.NewReader(scannerOutput)})
	env.svc.Repo = &flakyRepo{Store: env.store, failSaves: true}

	job, events, err := env.svc.Collect(context.Background(), "example.com", false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 60, *job.Score)
	assert.Equal(t, 2, job.Counts.Total)
	assert.Len(t, events, 7)
}

type captureStore struct {
	content string
	key     string
}

func (c *captureStore) UploadAndCleanup(_ context.Context, localPath, key string) (string, error) {
	b, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	c.content = string(b)
	c.key = key
	if err := os.Remove(localPath); err != nil {
		return "", err
	}
	return "http://minio.local/scans/" + key, nil
}

func TestRawOutputIsArchived(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, &fakeProcess{out: strings.NewReader(scannerOutput)})
	artifacts := &captureStore{}
	env.svc.Artifacts = artifacts

	job, _, err := env.svc.Collect(context.Background(), "example.com", false)
	require.NoError(t, err)

	assert.Equal(t, string(job.ID)+"/output.jsonl", artifacts.key)
	assert.Equal(t, "http://minio.local/scans/"+artifacts.key, job.ArtifactURL)
	lines := strings.Split(strings.TrimSpace(artifacts.content), "\n")
	assert.Len(t, lines, 6)
	assert.Equal(t, "[INF] nuclei started", lines[0])
}

func TestJobWaitHonoursContext(t *testing.T) {
	j := newJob(domain.NewScanJob("id", "t", fixedNow))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := j.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHungScannerIsKilledAtWaitTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	script := filepath.Join(t.TempDir(), "nuclei")
	body := "#!/bin/sh\necho '{\"percent\":\"1\"}'\nexec sleep 20\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	env := newEnv(t, nil)
	env.svc.Runner = nuclei.NewRunner(nuclei.ModeLocal, script, "", zaptest.NewLogger(t))
	env.svc.Options = Options{WaitTimeout: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	started := time.Now()
	job, events, err := env.svc.Collect(ctx, "https://example.com", false)
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, "scanner timed out after 1s and was killed", job.ErrorMessage)
	assert.Equal(t, []domain.EventType{domain.EventStart, domain.EventProgress, domain.EventError}, eventTypes(events))

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status)
}
