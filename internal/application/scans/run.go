package scans

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HwangHoYoon/trust/internal/domain/scanerrors"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// finalWriteTimeout bounds terminal persistence, which runs even after the
// job context was cancelled.
const finalWriteTimeout = 10 * time.Second

// scanRun is the state of one job's sequential processing loop. Lines are
// handled strictly in output order.
type scanRun struct {
	svc    *Service
	job    *Job
	sink   domain.Sink
	enrich bool
	opts   Options
	log    *zap.Logger

	findings []*domain.Finding
	archive  *os.File
}

func (r *scanRun) execute(ctx context.Context) {
	defer close(r.job.done)

	r.emit(domain.StartEvent(r.job.Snapshot(), r.svc.now()))
	r.log.Info("scan started")

	proc, err := r.svc.Runner.Start(ctx, r.job.Target)
	if err != nil {
		if ctx.Err() != nil {
			r.interrupted(ctx)
			return
		}
		r.fail(ctx, "failed to start scanner: "+err.Error(), err)
		return
	}
	defer func() {
		if err := proc.Close(); err != nil {
			r.log.Debug("closing scanner process", zap.Error(err))
		}
	}()

	r.openArchive()
	defer r.discardArchive()

	// The wait timeout runs from spawn, so a scanner that hangs with its
	// output still open is killed as well.
	var expired atomic.Bool
	watchdog := time.AfterFunc(r.opts.WaitTimeout, func() {
		expired.Store(true)
		r.log.Warn("scanner exceeded wait timeout, killing process", zap.Duration("timeout", r.opts.WaitTimeout))
		if err := proc.Close(); err != nil {
			r.log.Debug("closing scanner process", zap.Error(err))
		}
	})
	defer watchdog.Stop()
	deadline := time.Now().Add(r.opts.WaitTimeout)

	streamErr := r.consume(ctx, proc.Output())
	switch {
	case ctx.Err() != nil:
		r.interrupted(ctx)
		return
	case expired.Load():
		r.timedOut(ctx, domain.ErrScannerTimeout)
		return
	case streamErr != nil:
		r.fail(ctx, "reading scanner output: "+streamErr.Error(), streamErr)
		return
	}

	code, err := proc.Wait(time.Until(deadline))
	watchdog.Stop()
	switch {
	case ctx.Err() != nil:
		r.interrupted(ctx)
	case errors.Is(err, domain.ErrScannerTimeout), expired.Load():
		r.timedOut(ctx, domain.ErrScannerTimeout)
	case err != nil:
		r.fail(ctx, "waiting for scanner: "+err.Error(), err)
	case code != 0:
		r.fail(ctx, fmt.Sprintf("scanner exited with code %d", code), fmt.Errorf("scanner exit code %d", code))
	default:
		r.complete(ctx)
	}
}

func (r *scanRun) timedOut(ctx context.Context, cause error) {
	r.fail(ctx, fmt.Sprintf("scanner timed out after %s and was killed", r.opts.WaitTimeout), cause)
}

// consume reads the merged output until EOF. Lines have no length limit.
func (r *scanRun) consume(ctx context.Context, out io.Reader) error {
	reader := bufio.NewReader(out)
	n := 0
	for {
		raw, err := reader.ReadString('\n')
		if raw != "" {
			n++
			r.handle(ctx, domain.Classify(n, raw))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *scanRun) handle(ctx context.Context, l domain.Line) {
	if l.Kind == domain.LineEmpty {
		return
	}
	r.archiveLine(l.Text)

	switch l.Kind {
	case domain.LineText:
		r.log.Debug("scanner output", zap.Int("line", l.Number), zap.String("text", l.Text))
	case domain.LineMalformed:
		r.log.Warn("unparseable scanner line", zap.Int("line", l.Number), zap.Error(l.Err))
		r.svc.recordError(ctx, &scanerrors.ScanError{
			ScanID:     string(r.job.ID),
			Phase:      scanerrors.PhaseParse,
			LineNumber: l.Number,
			Message:    "JSON parse failed: " + l.Err.Error(),
		}, map[string]any{"raw_line": l.Text})
		r.emit(domain.WarningEvent(r.job.Snapshot(), l, r.svc.now()))
	case domain.LineStats, domain.LineProgress:
		r.emit(domain.ProgressEvent(r.job.Snapshot(), l, r.svc.now()))
	case domain.LineFinding:
		r.handleFinding(ctx, l)
	}
}

func (r *scanRun) handleFinding(ctx context.Context, l domain.Line) {
	f, err := domain.BuildFinding(r.job.ID, l.Payload, r.opts.buildOptions())
	if err != nil {
		r.log.Warn("skipping finding", zap.Int("line", l.Number), zap.Error(err))
		return
	}
	f.CreatedAt = r.svc.now()

	if err := r.svc.Repo.SaveFinding(ctx, f); err != nil {
		r.log.Warn("failed to save finding", zap.String("template_id", f.TemplateID), zap.Error(err))
	}
	if r.enrich {
		if err := f.AttachRemediation(r.svc.Enricher.Enrich(ctx, f)); err != nil {
			r.log.Warn("remediation not attached", zap.Int64("finding_id", f.ID), zap.Error(err))
		}
	}
	r.findings = append(r.findings, f)

	r.log.Info("finding detected",
		zap.String("name", f.Name),
		zap.String("severity", string(f.Severity)),
		zap.String("template_id", f.TemplateID))
	r.emit(domain.FindEvent(f, r.svc.now()))
}

// complete scores the persisted findings of the job. If the store cannot
// list them, the findings seen during this run are used instead.
func (r *scanRun) complete(ctx context.Context) {
	findings, err := r.svc.Repo.FindingsByJob(ctx, r.job.ID)
	if err != nil {
		r.log.Warn("listing findings for score, using in-run findings", zap.Error(err))
		findings = r.findings
	}
	res := r.opts.scorer().Score(findings)
	url := r.upload(ctx)

	now := r.svc.now()
	state, err := r.job.transition(func(j *domain.ScanJob) error {
		j.ArtifactURL = url
		return j.Complete(res, now)
	}, nil)
	if err != nil {
		r.log.Error("completing scan job", zap.Error(err))
		return
	}
	r.saveFinal(ctx, state)

	r.log.Info("scan completed",
		zap.Int("score", res.Score),
		zap.String("grade", res.Grade),
		zap.Int("findings", res.Counts.Total))
	r.emit(domain.EndEvent(state, now))
}

func (r *scanRun) interrupted(ctx context.Context) {
	r.fail(ctx, ErrInterrupted.Error(), fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx)))
}

func (r *scanRun) fail(ctx context.Context, msg string, cause error) {
	url := r.upload(ctx)
	now := r.svc.now()
	state, err := r.job.transition(func(j *domain.ScanJob) error {
		j.ArtifactURL = url
		return j.Fail(msg, now)
	}, cause)
	if err != nil {
		r.log.Error("failing scan job", zap.Error(err))
		return
	}

	wctx, cancel := finalContext(ctx)
	defer cancel()
	r.svc.recordError(wctx, &scanerrors.ScanError{
		ScanID:  string(r.job.ID),
		Phase:   scanerrors.PhaseRun,
		Message: msg,
	}, map[string]any{"cause": cause.Error()})
	r.saveFinal(ctx, state)

	r.log.Error("scan failed", zap.String("reason", msg), zap.Error(cause))
	r.emit(domain.ErrorEvent(state, now))
}

func (r *scanRun) saveFinal(ctx context.Context, state *domain.ScanJob) {
	wctx, cancel := finalContext(ctx)
	defer cancel()
	if err := r.svc.Repo.SaveJob(wctx, state); err != nil {
		r.log.Error("failed to save final job state", zap.String("status", string(state.Status)), zap.Error(err))
	}
}

func (r *scanRun) emit(e domain.Event) {
	if err := r.sink.Accept(e); err != nil {
		r.log.Warn("event delivery failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}

// openArchive starts a temp file holding the sanitized output. Without an
// artifact store nothing is archived.
func (r *scanRun) openArchive() {
	if r.svc.Artifacts == nil {
		return
	}
	f, err := os.CreateTemp("", "scan-*.jsonl")
	if err != nil {
		r.log.Warn("raw output will not be archived", zap.Error(err))
		return
	}
	r.archive = f
}

func (r *scanRun) archiveLine(text string) {
	if r.archive == nil {
		return
	}
	if _, err := r.archive.WriteString(text + "\n"); err != nil {
		r.log.Warn("archive write failed, dropping archive", zap.Error(err))
		r.discardArchive()
	}
}

// upload ships the archive and returns its URL, or "" when there is none.
func (r *scanRun) upload(ctx context.Context) string {
	if r.archive == nil {
		return ""
	}
	path := r.archive.Name()
	if err := r.archive.Close(); err != nil {
		r.log.Warn("closing archive", zap.Error(err))
	}
	r.archive = nil

	wctx, cancel := finalContext(ctx)
	defer cancel()
	key := fmt.Sprintf("%s/output.jsonl", r.job.ID)
	url, err := r.svc.Artifacts.UploadAndCleanup(wctx, path, key)
	if err != nil {
		_ = os.Remove(path)
		r.log.Warn("uploading raw output", zap.String("key", key), zap.Error(err))
		r.svc.recordError(wctx, &scanerrors.ScanError{
			ScanID:  string(r.job.ID),
			Phase:   scanerrors.PhaseArchive,
			Message: err.Error(),
		}, nil)
		return ""
	}
	return url
}

func (r *scanRun) discardArchive() {
	if r.archive == nil {
		return
	}
	path := r.archive.Name()
	_ = r.archive.Close()
	_ = os.Remove(path)
	r.archive = nil
}

func finalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
}
