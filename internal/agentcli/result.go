package agentcli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nightshift/backend/internal/domain"
)

// Result is the agent's --output-format json document.
type Result struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	DurationMS int64   `json:"duration_ms"`
	NumTurns   int     `json:"num_turns"`
	TotalCost  float64 `json:"total_cost_usd"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// TotalTokens is input plus output tokens.
func (r *Result) TotalTokens() int {
	return r.Usage.InputTokens + r.Usage.OutputTokens
}

// ParseResult decodes the last JSON object printed by the agent. Verbose
// runs may print other lines first.
func ParseResult(stdout string) (*Result, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var r Result
		if err := json.Unmarshal([]byte(line), &r); err == nil {
			return &r, nil
		}
	}
	var r Result
	if err := json.Unmarshal([]byte(stdout), &r); err != nil {
		return nil, fmt.Errorf("agentcli: no result document in output: %w", err)
	}
	return &r, nil
}

// TaskArgs builds the agent argument vector for a task.
func TaskArgs(task *domain.Task) []string {
	args := []string{"-p", task.Description, "--output-format", "json"}
	if len(task.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(task.AllowedTools, ","))
	}
	if task.SystemPrompt != nil && *task.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", *task.SystemPrompt)
	}
	return args
}
