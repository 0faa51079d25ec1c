package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/nightshift/backend/internal/infrastructure/logger"
)

type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// stopTimeout bounds the kill and rm calls issued after a run is abandoned.
const stopTimeout = 10 * time.Second

// Runner executes an invocation. A zero timeout means no deadline.
type Runner interface {
	Run(ctx context.Context, inv *Invocation, timeout time.Duration) (*RunResult, error)
}

// DockerRunner shells out to a docker-compatible CLI.
type DockerRunner struct {
	Binary string
	Logger *logger.Logger
}

func NewDockerRunner(binary string, log *logger.Logger) *DockerRunner {
	if binary == "" {
		binary = "docker"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DockerRunner{Binary: binary, Logger: log}
}

func (r *DockerRunner) Run(ctx context.Context, inv *Invocation, timeout time.Duration) (*RunResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, inv.Args()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopTimeout

	start := time.Now()
	r.Logger.Infow("sandbox_run_start", "image", inv.Image, "mounts", len(inv.Mounts), "timeout", timeout)
	err := cmd.Run()
	res := &RunResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Killing the CLI does not stop the container it started.
		r.stopContainer(ctx, inv.Name)
		if ctxErr == context.DeadlineExceeded {
			r.Logger.Warnw("sandbox_run_timeout", "timeout", timeout, "container", inv.Name)
			return res, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return res, fmt.Errorf("sandbox: run abandoned: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.Logger.Infow("sandbox_run_exit", "code", res.ExitCode, "duration", res.Duration)
			return res, nil
		}
		return res, fmt.Errorf("sandbox: run %s: %w", r.Binary, err)
	}
	r.Logger.Infow("sandbox_run_exit", "code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

func (r *DockerRunner) stopContainer(ctx context.Context, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if out, err := exec.CommandContext(ctx, r.Binary, "kill", name).CombinedOutput(); err != nil {
		r.Logger.Debugw("sandbox_kill_failed", "container", name, "error", err, "output", string(out))
	}
	// --rm normally removes it; this covers a runtime that never got the kill.
	if out, err := exec.CommandContext(ctx, r.Binary, "rm", "-f", name).CombinedOutput(); err != nil {
		r.Logger.Debugw("sandbox_rm_failed", "container", name, "error", err, "output", string(out))
	}
	r.Logger.Infow("sandbox_container_stopped", "container", name)
}

// ImageExists reports whether the image is present locally.
func (r *DockerRunner) ImageExists(ctx context.Context, image string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, r.Binary, "image", "inspect", image).Run() == nil
}

// Execute builds an invocation, runs it and removes its temporary files on
// every exit path, including panics inside the runner.
func Execute(ctx context.Context, b *Builder, r Runner, in BuildInput, timeout time.Duration) (res *RunResult, err error) {
	inv, err := b.Build(ctx, in)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := inv.Cleanup(); cerr != nil {
			b.log.Warnw("sandbox_cleanup_failed", "error", cerr)
		}
	}()
	return r.Run(ctx, inv, timeout)
}
