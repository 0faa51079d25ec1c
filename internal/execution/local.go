package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/agentcli"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/sandbox"
)

// LocalBackend runs the agent inside a container on this host.
type LocalBackend struct {
	builder *sandbox.Builder
	runner  sandbox.Runner
	mounts  []sandbox.MountRequest
	env     map[string]string
	timeout time.Duration
	logger  *logger.Logger
}

type LocalBackendConfig struct {
	Builder          *sandbox.Builder
	Runner           sandbox.Runner
	AdditionalMounts []sandbox.MountRequest
	Env              map[string]string
	Timeout          time.Duration
	Logger           *logger.Logger
}

func NewLocalBackend(cfg LocalBackendConfig) *LocalBackend {
	return &LocalBackend{
		builder: cfg.Builder,
		runner:  cfg.Runner,
		mounts:  cfg.AdditionalMounts,
		env:     cfg.Env,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (b *LocalBackend) Provider() Provider { return ProviderLocal }

func (b *LocalBackend) Run(ctx context.Context, task *domain.Task) (*Outcome, error) {
	res, err := sandbox.Execute(ctx, b.builder, b.runner, sandbox.BuildInput{
		TaskID:           task.TaskID,
		AgentArgs:        agentcli.TaskArgs(task),
		Env:              b.env,
		AdditionalMounts: b.mounts,
	}, b.timeout)
	if err != nil {
		if res != nil {
			return &Outcome{
				Stdout:   res.Stdout,
				Stderr:   res.Stderr,
				ExitCode: res.ExitCode,
				Duration: res.Duration,
				Error:    err.Error(),
			}, nil
		}
		return nil, err
	}

	out := &Outcome{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
		Success:  res.ExitCode == 0,
	}
	if parsed, perr := agentcli.ParseResult(res.Stdout); perr == nil {
		out.Result = parsed.Result
		tokens := parsed.TotalTokens()
		out.TokenUsage = &tokens
		if parsed.IsError {
			out.Success = false
		}
	} else {
		b.logger.Warnw("local_backend_result_unparsed", "task_id", task.TaskID, "error", perr)
	}
	if !out.Success {
		out.Error = failureMessage(res)
	}
	return out, nil
}

func failureMessage(res *sandbox.RunResult) string {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if len(msg) > 2000 {
		msg = msg[len(msg)-2000:]
	}
	return fmt.Sprintf("agent exited with code %d: %s", res.ExitCode, msg)
}
