// Package nuclei runs the nuclei scanner as a local binary or through docker.
package nuclei

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

const (
	ModeLocal  = "local"
	ModeDocker = "docker"

	DefaultPath  = "nuclei"
	DefaultImage = "projectdiscovery/nuclei:latest"

	// VersionUnknown is reported when no version token can be found.
	VersionUnknown = "unknown"
)

var versionPattern = regexp.MustCompile(`v[0-9]+\.[0-9]+\.[0-9]+`)

type Runner struct {
	Mode   string
	Path   string
	Image  string
	logger *zap.Logger
}

func NewRunner(mode, path, image string, logger *zap.Logger) *Runner {
	if mode == "" {
		mode = ModeLocal
	}
	if path == "" {
		path = DefaultPath
	}
	if image == "" {
		image = DefaultImage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Mode: mode, Path: path, Image: image, logger: logger}
}

// command builds the invocation for the given scanner arguments.
func (r *Runner) command(ctx context.Context, args ...string) (*exec.Cmd, error) {
	switch r.Mode {
	case ModeLocal:
		return exec.CommandContext(ctx, r.Path, args...), nil
	case ModeDocker:
		full := append([]string{"run", "--rm", r.Image}, args...)
		return exec.CommandContext(ctx, "docker", full...), nil
	default:
		return nil, fmt.Errorf("unsupported scanner mode: %s", r.Mode)
	}
}

// Start launches a scan with line-structured output, statistics and quiet
// mode. Stdout and stderr share one pipe.
func (r *Runner) Start(ctx context.Context, target string) (domain.Process, error) {
	cmd, err := r.command(ctx, "-u", target, "-jsonl", "-stats", "-silent")
	if err != nil {
		return nil, err
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start scanner: %w", err)
	}
	// The child holds its own copy; ours must go so EOF arrives on exit.
	pw.Close()

	p := &process{cmd: cmd, out: pr, done: make(chan struct{}), logger: r.logger}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	r.logger.Debug("scanner started", zap.Int("pid", cmd.Process.Pid), zap.Strings("args", cmd.Args))
	return p, nil
}

// Version runs the scanner with -version and extracts vX.Y.Z from its output.
func (r *Runner) Version(ctx context.Context) (string, error) {
	cmd, err := r.command(ctx, "-version")
	if err != nil {
		return VersionUnknown, err
	}
	out, err := cmd.CombinedOutput()
	if v := versionPattern.FindString(domain.Sanitize(string(out))); v != "" {
		return v, nil
	}
	if err != nil {
		return VersionUnknown, fmt.Errorf("scanner version: %w", err)
	}
	return VersionUnknown, nil
}

type process struct {
	cmd    *exec.Cmd
	out    *os.File
	done   chan struct{}
	logger *zap.Logger

	waitErr   error
	closeOnce sync.Once
	closeErr  error
}

func (p *process) Output() io.Reader { return p.out }

// Wait returns the exit code. When timeout expires first the process is
// killed and ErrScannerTimeout is returned.
func (p *process) Wait(timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Warn("scanner wait timed out, killing process", zap.Duration("timeout", timeout))
		p.kill()
		<-p.done
		return -1, domain.ErrScannerTimeout
	}

	var exitErr *exec.ExitError
	switch {
	case p.waitErr == nil:
		return 0, nil
	case errors.As(p.waitErr, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, p.waitErr
	}
}

// Close releases the output pipe and kills the process if it is alive.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		select {
		case <-p.done:
		default:
			p.kill()
			<-p.done
		}
		p.closeErr = p.out.Close()
	})
	return p.closeErr
}

func (p *process) kill() {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("killing scanner process", zap.Error(err))
	}
}
