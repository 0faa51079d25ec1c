package domain

import "time"

// Task is a unit of agent work. Its status only moves along the edges
// listed in taskTransitions.
type Task struct {
	TaskID          string     `gorm:"column:task_id;primaryKey;size:64" json:"task_id"`
	Description     string     `gorm:"type:text;not null" json:"description"`
	Status          TaskStatus `gorm:"size:20;not null;index" json:"status"`
	SkillName       *string    `gorm:"size:255" json:"skill_name,omitempty"`
	AllowedTools    StringList `gorm:"type:text" json:"allowed_tools,omitempty"`
	SystemPrompt    *string    `gorm:"type:text" json:"system_prompt,omitempty"`
	EstimatedTokens *int       `json:"estimated_tokens,omitempty"`
	EstimatedTime   *int       `json:"estimated_time,omitempty"`
	SubmittedBy     *string    `gorm:"size:255;index" json:"submitted_by,omitempty"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ResultPath    *string  `gorm:"type:text" json:"result_path,omitempty"`
	ErrorMessage  *string  `gorm:"type:text" json:"error_message,omitempty"`
	TokenUsage    *int     `json:"token_usage,omitempty"`
	ExecutionTime *float64 `json:"execution_time,omitempty"`

	ExecutionEnvironment JSONB `gorm:"type:text" json:"execution_environment,omitempty"`
	SoftwareStack        JSONB `gorm:"type:text" json:"software_stack,omitempty"`
	Containerization     JSONB `gorm:"type:text" json:"containerization,omitempty"`

	Logs []TaskLog `gorm:"foreignKey:TaskID;references:TaskID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Task) TableName() string { return "tasks" }

// TaskLog is one line of the per-task execution log.
type TaskLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID    string    `gorm:"column:task_id;size:64;not null;index" json:"task_id"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	Level     LogLevel  `gorm:"column:log_level;size:20;not null" json:"log_level"`
	Message   string    `gorm:"type:text;not null" json:"message"`
}

func (TaskLog) TableName() string { return "task_logs" }

// TaskPlan is what a planner produces for a free-text description.
type TaskPlan struct {
	EnhancedPrompt       string   `json:"enhanced_prompt"`
	AllowedTools         []string `json:"allowed_tools"`
	SystemPrompt         string   `json:"system_prompt"`
	EstimatedTokens      int      `json:"estimated_tokens"`
	EstimatedTime        int      `json:"estimated_time"`
	ExecutionEnvironment JSONB    `json:"execution_environment,omitempty"`
	SoftwareStack        JSONB    `json:"software_stack,omitempty"`
	Containerization     JSONB    `json:"containerization,omitempty"`
}

// ExecutionResult is what the execution collaborator reports for a task.
type ExecutionResult struct {
	TaskID        string   `json:"task_id"`
	Success       bool     `json:"success"`
	OutputPath    string   `json:"output_path,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
	TokenUsage    *int     `json:"token_usage,omitempty"`
	ExecutionTime *float64 `json:"execution_time,omitempty"`
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusStaged:    {TaskStatusCommitted, TaskStatusRunning, TaskStatusCancelled},
	TaskStatusCommitted: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:   {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusStaged, TaskStatusCommitted, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may move directly to target.
func TransitionSources(target TaskStatus) []TaskStatus {
	var out []TaskStatus
	for _, from := range []TaskStatus{TaskStatusStaged, TaskStatusCommitted, TaskStatusRunning} {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}
