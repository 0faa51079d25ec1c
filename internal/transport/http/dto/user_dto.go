package dto

type QuotaRequest struct {
	MaxTasksPerDay     *int `json:"max_tasks_per_day"`
	MaxTokensPerTask   *int `json:"max_tokens_per_task"`
	MaxConcurrentTasks *int `json:"max_concurrent_tasks"`
}

func (r *QuotaRequest) Validate() []string {
	var errors []string
	check := func(name string, v *int) {
		if v != nil && *v < 0 {
			errors = append(errors, name+" must not be negative")
		}
	}
	check("max_tasks_per_day", r.MaxTasksPerDay)
	check("max_tokens_per_task", r.MaxTokensPerTask)
	check("max_concurrent_tasks", r.MaxConcurrentTasks)
	if r.MaxTasksPerDay == nil && r.MaxTokensPerTask == nil && r.MaxConcurrentTasks == nil {
		errors = append(errors, "at least one limit is required")
	}
	return errors
}

type PermissionRequest struct {
	Permission string `json:"permission"`
}
