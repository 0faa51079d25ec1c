package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/sandbox"
)

var ErrPlanUnparseable = errors.New("planner: could not parse plan")

const planningPrompt = `You are planning a task for an autonomous coding agent.
Respond with a single JSON object and nothing else, with these keys:
  enhanced_prompt (string): a precise, self-contained rewrite of the task
  allowed_tools (array of strings): the agent tools the task needs
  system_prompt (string): guidance for the executing agent
  estimated_tokens (integer)
  estimated_time (integer, seconds)
  execution_environment (object, optional)
  software_stack (object, optional)
  containerization (object, optional)

Task:
`

// NewPlanner returns the planner selected by cfg.Mode.
func NewPlanner(cfg config.PlannerConfig, agentBinary string, log *logger.Logger) (ports.Planner, error) {
	static := &StaticPlanner{
		DefaultTools:    cfg.DefaultTools,
		EstimatedTokens: cfg.EstimatedTokens,
		EstimatedTime:   cfg.EstimatedTime,
	}
	switch cfg.Mode {
	case "static":
		return static, nil
	case "", "agent":
		return &CLIPlanner{
			Binary:   agentBinary,
			Timeout:  cfg.Timeout,
			Run:      sandbox.RunCommand,
			Defaults: static,
			Logger:   log,
		}, nil
	}
	return nil, fmt.Errorf("unknown planner mode %q", cfg.Mode)
}

// StaticPlanner keeps the description and applies configured defaults.
type StaticPlanner struct {
	DefaultTools    []string
	EstimatedTokens int
	EstimatedTime   int
}

func (p *StaticPlanner) PlanTask(_ context.Context, description string) (*domain.TaskPlan, error) {
	return &domain.TaskPlan{
		EnhancedPrompt:  strings.TrimSpace(description),
		AllowedTools:    append([]string(nil), p.DefaultTools...),
		EstimatedTokens: p.EstimatedTokens,
		EstimatedTime:   p.EstimatedTime,
	}, nil
}

// CLIPlanner asks the agent CLI for a plan. Missing plan fields fall back
// to Defaults.
type CLIPlanner struct {
	Binary   string
	Timeout  time.Duration
	Run      sandbox.CommandFunc
	Defaults *StaticPlanner
	Logger   *logger.Logger
}

func (p *CLIPlanner) PlanTask(ctx context.Context, description string) (*domain.TaskPlan, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	out, err := p.Run(ctx, p.Binary, "-p", planningPrompt+description, "--output-format", "json")
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	res, err := ParseResult(out)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, fmt.Errorf("planner: agent reported error: %s", res.Result)
	}

	plan, err := ParsePlan(res.Result)
	if err != nil {
		return nil, err
	}
	if plan.EnhancedPrompt == "" {
		plan.EnhancedPrompt = strings.TrimSpace(description)
	}
	if p.Defaults != nil {
		if len(plan.AllowedTools) == 0 {
			plan.AllowedTools = append([]string(nil), p.Defaults.DefaultTools...)
		}
		if plan.EstimatedTokens == 0 {
			plan.EstimatedTokens = p.Defaults.EstimatedTokens
		}
		if plan.EstimatedTime == 0 {
			plan.EstimatedTime = p.Defaults.EstimatedTime
		}
	}
	if p.Logger != nil {
		p.Logger.Infow("planner_plan_ok", "tools", len(plan.AllowedTools), "estimated_tokens", plan.EstimatedTokens)
	}
	return plan, nil
}

// ParsePlan extracts the first JSON object from text, which may be wrapped
// in prose or a fenced code block.
func ParsePlan(text string) (*domain.TaskPlan, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrPlanUnparseable
	}
	var plan domain.TaskPlan
	if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanUnparseable, err)
	}
	return &plan, nil
}
