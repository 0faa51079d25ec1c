package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

func TestParseMCPList(t *testing.T) {
	t.Parallel()
	out := "Checking MCP server health...\n\n" +
		"filesystem: /home/u/.venv/bin/mcp-fs --root /work - \x1b[32m✓ Connected\x1b[0m\n" +
		"github: npx -y @modelcontextprotocol/server-github - ✓ Connected\n" +
		"calendar: uvx calendar-mcp - ✗ Failed to connect\n" +
		"garbage line\n"

	got := ParseMCPList(out)
	if len(got) != 3 {
		t.Fatalf("tools = %+v", got)
	}
	if got[0].Name != "filesystem" || got[0].Command != "/home/u/.venv/bin/mcp-fs" || !reflect.DeepEqual(got[0].Args, []string{"--root", "/work"}) {
		t.Errorf("filesystem = %+v", got[0])
	}
	if got[1].Command != "npx" || got[2].Command != "uvx" {
		t.Errorf("commands = %q %q", got[1].Command, got[2].Command)
	}
	if len(ParseMCPList("No MCP servers configured.")) != 0 {
		t.Error("empty listing produced tools")
	}
}

func TestMCPListerUsesRunner(t *testing.T) {
	t.Parallel()
	var gotArgs []string
	l := &MCPLister{Binary: "agent", Run: func(_ context.Context, name string, args ...string) (string, error) {
		gotArgs = append([]string{name}, args...)
		return "fs: mcp-fs - ok", nil
	}}
	tools, err := l.ListTools(context.Background())
	if err != nil || len(tools) != 1 {
		t.Fatalf("tools = %v, %v", tools, err)
	}
	if strings.Join(gotArgs, " ") != "agent mcp list" {
		t.Fatalf("ran %v", gotArgs)
	}
}

func TestParseResultTakesLastDocument(t *testing.T) {
	t.Parallel()
	out := `{"type":"system","subtype":"init"}
some progress text
{"type":"result","subtype":"success","is_error":false,"result":"done","usage":{"input_tokens":120,"output_tokens":30}}
`
	r, err := ParseResult(out)
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != "result" || r.Result != "done" || r.TotalTokens() != 150 {
		t.Fatalf("result = %+v", r)
	}

	if _, err := ParseResult("not json at all"); err == nil {
		t.Fatal("garbage parsed")
	}
}

func TestParsePlan(t *testing.T) {
	t.Parallel()
	text := "Here is the plan:\n```json\n" +
		`{"enhanced_prompt":"Summarize repo X","allowed_tools":["Read","Grep"],"estimated_tokens":5000,"estimated_time":120,"software_stack":{"lang":"go"}}` +
		"\n```\nLet me know."
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatal(err)
	}
	if plan.EnhancedPrompt != "Summarize repo X" || len(plan.AllowedTools) != 2 || plan.EstimatedTime != 120 {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.SoftwareStack["lang"] != "go" {
		t.Fatalf("software stack = %v", plan.SoftwareStack)
	}

	for _, bad := range []string{"no braces", "} backwards {", "{not: json}"} {
		if _, err := ParsePlan(bad); !errors.Is(err, ErrPlanUnparseable) {
			t.Errorf("%q: err = %v", bad, err)
		}
	}
}

func agentOutput(t *testing.T, result string, isError bool) string {
	t.Helper()
	doc := map[string]interface{}{"type": "result", "is_error": isError, "result": result}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCLIPlannerFillsDefaults(t *testing.T) {
	t.Parallel()
	p := &CLIPlanner{
		Binary:   "agent",
		Defaults: &StaticPlanner{DefaultTools: []string{"Read"}, EstimatedTokens: 100, EstimatedTime: 10},
		Logger:   logger.NewNop(),
		Run: func(_ context.Context, _ string, args ...string) (string, error) {
			if !strings.HasSuffix(args[1], "write docs") {
				t.Errorf("prompt = %q", args[1])
			}
			return agentOutput(t, `{"system_prompt":"be brief"}`, false), nil
		},
	}
	plan, err := p.PlanTask(context.Background(), "write docs")
	if err != nil {
		t.Fatal(err)
	}
	want := domain.TaskPlan{
		EnhancedPrompt:  "write docs",
		AllowedTools:    []string{"Read"},
		SystemPrompt:    "be brief",
		EstimatedTokens: 100,
		EstimatedTime:   10,
	}
	if !reflect.DeepEqual(*plan, want) {
		t.Fatalf("plan = %+v, want %+v", *plan, want)
	}
}

func TestCLIPlannerErrors(t *testing.T) {
	t.Parallel()
	cases := map[string]func(context.Context, string, ...string) (string, error){
		"run fails":   func(context.Context, string, ...string) (string, error) { return "", errors.New("exit 1") },
		"agent error": func(context.Context, string, ...string) (string, error) { return agentOutput(t, "rate limited", true), nil },
		"no plan":     func(context.Context, string, ...string) (string, error) { return agentOutput(t, "I cannot help", false), nil },
	}
	for name, run := range cases {
		p := &CLIPlanner{Binary: "agent", Run: run}
		if _, err := p.PlanTask(context.Background(), "x"); err == nil {
			t.Errorf("%s: no error", name)
		}
	}
}

func TestNewPlannerModes(t *testing.T) {
	t.Parallel()
	cfg := config.PlannerConfig{Mode: "static", DefaultTools: []string{"Bash"}, EstimatedTokens: 7, EstimatedTime: 3}
	p, err := NewPlanner(cfg, "claude", logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	plan, _ := p.PlanTask(context.Background(), "  tidy up  ")
	if plan.EnhancedPrompt != "tidy up" || plan.AllowedTools[0] != "Bash" || plan.EstimatedTokens != 7 {
		t.Fatalf("static plan = %+v", plan)
	}

	cfg.Mode = "agent"
	if p, err := NewPlanner(cfg, "claude", logger.NewNop()); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(*CLIPlanner); !ok {
		t.Fatalf("agent mode planner = %T", p)
	}

	cfg.Mode = "oracle"
	if _, err := NewPlanner(cfg, "claude", logger.NewNop()); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestTaskArgs(t *testing.T) {
	t.Parallel()
	sys := "stay in /work"
	task := &domain.Task{Description: "fix bug", AllowedTools: domain.StringList{"Read", "Edit"}, SystemPrompt: &sys}
	want := []string{"-p", "fix bug", "--output-format", "json", "--allowedTools", "Read,Edit", "--append-system-prompt", "stay in /work"}
	if got := TaskArgs(task); !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %q", got)
	}
	if got := TaskArgs(&domain.Task{Description: "x"}); len(got) != 4 {
		t.Fatalf("minimal args = %q", got)
	}
}
