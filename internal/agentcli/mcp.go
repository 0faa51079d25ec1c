package agentcli

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/sandbox"
)

const listTimeout = 10 * time.Second

var (
	ansiRe    = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	mcpLineRe = regexp.MustCompile(`^([^:]+):\s+(.+?)\s+-\s`)
)

// MCPLister lists tool integrations by running "<agent> mcp list".
type MCPLister struct {
	Binary string
	Run    sandbox.CommandFunc
}

func NewMCPLister(binary string) *MCPLister {
	if binary == "" {
		binary = "claude"
	}
	return &MCPLister{Binary: binary, Run: sandbox.RunCommand}
}

func (l *MCPLister) ListTools(ctx context.Context) ([]sandbox.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	out, err := l.Run(ctx, l.Binary, "mcp", "list")
	if err != nil {
		return nil, err
	}
	return ParseMCPList(out), nil
}

// ParseMCPList reads "name: command args - status" lines. Lines that do not
// match are ignored.
func ParseMCPList(output string) []sandbox.Tool {
	var tools []sandbox.Tool
	for _, line := range strings.Split(ansiRe.ReplaceAllString(output, ""), "\n") {
		m := mcpLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		fields := strings.Fields(m[2])
		if len(fields) == 0 {
			continue
		}
		tools = append(tools, sandbox.Tool{
			Name:    strings.TrimSpace(m[1]),
			Command: fields[0],
			Args:    fields[1:],
		})
	}
	return tools
}
