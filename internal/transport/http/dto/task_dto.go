package dto

import (
	"strings"
	"time"

	"github.com/nightshift/backend/internal/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type SubmitRequest struct {
	Description string `json:"description"`
	AutoApprove bool   `json:"auto_approve"`
}

func (r *SubmitRequest) Validate() []string {
	var errors []string
	if strings.TrimSpace(r.Description) == "" {
		errors = append(errors, "description is required")
	}
	return errors
}

type SubmitResponse struct {
	TaskID    string                  `json:"task_id"`
	Status    domain.TaskStatus       `json:"status"`
	Task      TaskResponse            `json:"task"`
	Execution *domain.ExecutionResult `json:"execution,omitempty"`
}

type TaskResponse struct {
	TaskID          string            `json:"task_id"`
	Description     string            `json:"description"`
	Status          domain.TaskStatus `json:"status"`
	AllowedTools    []string          `json:"allowed_tools"`
	SystemPrompt    *string           `json:"system_prompt,omitempty"`
	EstimatedTokens *int              `json:"estimated_tokens,omitempty"`
	EstimatedTime   *int              `json:"estimated_time,omitempty"`
	SubmittedBy     *string           `json:"submitted_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	ResultPath      *string           `json:"result_path,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	TokenUsage      *int              `json:"token_usage,omitempty"`
	ExecutionTime   *float64          `json:"execution_time,omitempty"`
}

func TaskToResponse(t *domain.Task) TaskResponse {
	tools := []string(t.AllowedTools)
	if tools == nil {
		tools = []string{}
	}
	return TaskResponse{
		TaskID:          t.TaskID,
		Description:     t.Description,
		Status:          t.Status,
		AllowedTools:    tools,
		SystemPrompt:    t.SystemPrompt,
		EstimatedTokens: t.EstimatedTokens,
		EstimatedTime:   t.EstimatedTime,
		SubmittedBy:     t.SubmittedBy,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		ResultPath:      t.ResultPath,
		ErrorMessage:    t.ErrorMessage,
		TokenUsage:      t.TokenUsage,
		ExecutionTime:   t.ExecutionTime,
	}
}

func TasksToResponse(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, len(tasks))
	for i := range tasks {
		out[i] = TaskToResponse(&tasks[i])
	}
	return out
}

type PlanUpdateRequest struct {
	Description     string   `json:"description"`
	AllowedTools    []string `json:"allowed_tools"`
	SystemPrompt    string   `json:"system_prompt"`
	EstimatedTokens int      `json:"estimated_tokens"`
	EstimatedTime   int      `json:"estimated_time"`
}

func (r *PlanUpdateRequest) Validate() []string {
	var errors []string
	if strings.TrimSpace(r.Description) == "" {
		errors = append(errors, "description is required")
	}
	if r.EstimatedTokens < 0 {
		errors = append(errors, "estimated_tokens must not be negative")
	}
	if r.EstimatedTime < 0 {
		errors = append(errors, "estimated_time must not be negative")
	}
	return errors
}

func (r *PlanUpdateRequest) ToPlan() domain.TaskPlan {
	return domain.TaskPlan{
		EnhancedPrompt:  strings.TrimSpace(r.Description),
		AllowedTools:    r.AllowedTools,
		SystemPrompt:    r.SystemPrompt,
		EstimatedTokens: r.EstimatedTokens,
		EstimatedTime:   r.EstimatedTime,
	}
}

type TransitionResponse struct {
	TaskID  string            `json:"task_id"`
	Status  domain.TaskStatus `json:"status"`
	Changed bool              `json:"changed"`
}
