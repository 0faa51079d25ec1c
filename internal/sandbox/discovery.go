package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// Tool is one registered auxiliary tool integration.
type Tool struct {
	Name    string
	Command string
	Args    []string
}

// ToolLister returns the tool integrations registered with the agent.
type ToolLister interface {
	ListTools(ctx context.Context) ([]Tool, error)
}

// CommandFunc runs a short host command and returns its trimmed stdout.
type CommandFunc func(ctx context.Context, name string, args ...string) (string, error)

// registryIndirection is launched through the package registry and is
// mounted by the image rather than from the host.
const registryIndirection = "npx"

const npmQueryTimeout = 5 * time.Second

type Discoverer struct {
	lister   ToolLister
	lookPath func(string) (string, error)
	run      CommandFunc
	policy   PathPolicy
	logger   *logger.Logger
}

type DiscovererConfig struct {
	Lister ToolLister
	Policy PathPolicy
	Logger *logger.Logger
	// LookPath and Run default to exec.LookPath and RunCommand.
	LookPath func(string) (string, error)
	Run      CommandFunc
}

func NewDiscoverer(cfg DiscovererConfig) *Discoverer {
	d := &Discoverer{
		lister:   cfg.Lister,
		lookPath: cfg.LookPath,
		run:      cfg.Run,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
	}
	if d.lookPath == nil {
		d.lookPath = exec.LookPath
	}
	if d.run == nil {
		d.run = RunCommand
	}
	if d.logger == nil {
		d.logger = logger.NewNop()
	}
	return d
}

// RunCommand executes name with args and returns trimmed stdout.
func RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Discover computes the sorted, de-duplicated set of host directories the
// registered tools need. It never fails: problems with individual tools,
// the lister or the npm query are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context) []string {
	set := map[string]struct{}{}

	if d.lister != nil {
		tools, err := d.lister.ListTools(ctx)
		if err != nil {
			d.logger.Warnw("mount_discovery_list_failed", "error", err)
		}
		for _, t := range tools {
			paths, err := d.MountsForTool(t)
			if err != nil {
				d.logger.Warnw("mount_discovery_tool_skipped", "tool", t.Name, "command", t.Command, "error", err)
				continue
			}
			for _, p := range paths {
				set[p] = struct{}{}
			}
		}
	}

	for _, p := range d.npmPaths(ctx) {
		set[p] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	d.logger.Infow("mount_discovery_done", "count", len(out))
	return out
}

// MountsForTool returns the directories one tool needs. A nil slice with a
// nil error means the tool needs nothing from the host.
func (d *Discoverer) MountsForTool(t Tool) ([]string, error) {
	if t.Command == "" || t.Command == registryIndirection {
		return nil, nil
	}

	exe, err := d.resolve(t.Command)
	if err != nil {
		return nil, err
	}

	cls, err := Classify(exe, d.lookPath)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", exe, err)
	}

	switch cls.Kind {
	case KindNotExecutable:
		d.logger.Debugw("mount_discovery_not_executable", "tool", t.Name, "path", exe)
		return nil, nil
	case KindScript:
		if root, ok := FindVenvRoot(cls.Interpreter); ok && d.policy.IsUserPath(root) {
			d.logger.Debugw("mount_discovery_venv", "tool", t.Name, "root", root)
			return []string{root}, nil
		}
	}

	dir := filepath.Dir(exe)
	if !d.policy.IsUserPath(dir) {
		d.logger.Debugw("mount_discovery_system_path", "tool", t.Name, "dir", dir)
		return nil, nil
	}
	return []string{dir}, nil
}

// resolve uses absolute commands as-is when they exist and otherwise
// searches the executable path.
func (d *Discoverer) resolve(command string) (string, error) {
	if filepath.IsAbs(command) {
		if _, err := os.Stat(command); err == nil {
			return command, nil
		}
	}
	p, err := d.lookPath(command)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", command, err)
	}
	if !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	return p, nil
}

// npmPaths returns npm's global prefix and module root when they exist and
// are user-owned.
func (d *Discoverer) npmPaths(ctx context.Context) []string {
	var out []string
	queries := [][]string{
		{"config", "get", "prefix"},
		{"root", "-g"},
	}
	for _, args := range queries {
		pctx, cancel := context.WithTimeout(ctx, npmQueryTimeout)
		p, err := d.run(pctx, "npm", args...)
		cancel()
		if err != nil || p == "" {
			d.logger.Debugw("mount_discovery_npm_query_failed", "args", args, "error", err)
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if d.policy.IsUserPath(p) {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}
