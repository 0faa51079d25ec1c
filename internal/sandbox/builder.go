package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/pkg/utils/keygen"
)

type MountMode string

const (
	MountReadOnly  MountMode = "ro"
	MountReadWrite MountMode = "rw"
)

// ContainerWorkDir is where the working directory appears in the sandbox.
const ContainerWorkDir = "/work"

// CredentialEnvVars are passed through from the host environment when set.
var CredentialEnvVars = []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"}

type Mount struct {
	HostPath      string
	ContainerPath string
	Mode          MountMode
}

func (m Mount) String() string {
	return fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, m.Mode)
}

// MountRequest is a caller-supplied extra mount. ContainerPath defaults to
// HostPath and Mode to read-only.
type MountRequest struct {
	HostPath      string
	ContainerPath string
	Mode          MountMode
}

// ParseMountSpec parses host[:container[:mode]].
func ParseMountSpec(spec string) (MountRequest, error) {
	parts := strings.Split(spec, ":")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 3 {
		return MountRequest{}, fmt.Errorf("%w: bad mount spec %q", ErrInvalidConfig, spec)
	}
	req := MountRequest{HostPath: parts[0]}
	if len(parts) > 1 {
		req.ContainerPath = parts[1]
	}
	if len(parts) > 2 {
		req.Mode = MountMode(parts[2])
		if req.Mode != MountReadOnly && req.Mode != MountReadWrite {
			return MountRequest{}, fmt.Errorf("%w: bad mount mode %q", ErrInvalidConfig, parts[2])
		}
	}
	return req, nil
}

// Invocation is a fully specified sandbox run. It is not executed here;
// Cleanup must be called once the run is over.
type Invocation struct {
	// Name is the container name, unique per invocation so a timed out run
	// can be killed by name.
	Name       string
	Image      string
	User       string
	WorkDir    string
	Mounts     []Mount
	Env        []EnvVar
	Entrypoint []string

	mu        sync.Mutex
	tempFiles []string
}

// EnvVar with an empty Value and Passthrough set is forwarded by name from
// the runner's environment.
type EnvVar struct {
	Name        string
	Value       string
	Passthrough bool
}

// Args renders the container runtime arguments after "run".
func (inv *Invocation) Args() []string {
	args := []string{"run", "--rm"}
	if inv.Name != "" {
		args = append(args, "--name", inv.Name)
	}
	args = append(args, "--read-only", "--tmpfs", "/tmp")
	if inv.User != "" {
		args = append(args, "-u", inv.User)
	}
	for _, m := range inv.Mounts {
		args = append(args, "-v", m.String())
	}
	args = append(args, "-w", inv.WorkDir)
	for _, e := range inv.Env {
		if e.Passthrough {
			args = append(args, "-e", e.Name)
		} else {
			args = append(args, "-e", e.Name+"="+e.Value)
		}
	}
	args = append(args, inv.Image)
	return append(args, inv.Entrypoint...)
}

// TempFiles lists the files Cleanup will remove.
func (inv *Invocation) TempFiles() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]string(nil), inv.tempFiles...)
}

// Cleanup removes temporary files created for this invocation. It is safe
// to call more than once.
func (inv *Invocation) Cleanup() error {
	inv.mu.Lock()
	files := inv.tempFiles
	inv.tempFiles = nil
	inv.mu.Unlock()

	var firstErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type BuilderConfig struct {
	Image          string
	WorkingDir     string
	ConfigDir      string
	RegistryConfig string
	// HostOS defaults to runtime.GOOS.
	HostOS       string
	SystemMounts []string
	Policy       PathPolicy
	Discoverer   *Discoverer
	Logger       *logger.Logger
	LookPath     func(string) (string, error)
	Getenv       func(string) string
	// UIDGID is rendered as -u; empty means no user mapping.
	UIDGID string
}

type Builder struct {
	cfg BuilderConfig
	log *logger.Logger
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if strings.TrimSpace(cfg.Image) == "" || strings.ContainsAny(cfg.Image, " \t\n") {
		return nil, fmt.Errorf("%w: image %q", ErrInvalidConfig, cfg.Image)
	}
	if cfg.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: working directory: %v", ErrInvalidConfig, err)
		}
		cfg.WorkingDir = wd
	}
	abs, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("%w: working directory: %v", ErrInvalidConfig, err)
	}
	cfg.WorkingDir = abs
	if cfg.HostOS == "" {
		cfg.HostOS = runtime.GOOS
	}
	if cfg.Policy.Home == "" {
		cfg.Policy = DefaultPathPolicy()
	}
	if cfg.ConfigDir == "" && cfg.Policy.Home != "" {
		cfg.ConfigDir = filepath.Join(cfg.Policy.Home, ".claude")
	}
	if cfg.RegistryConfig == "" && cfg.Policy.Home != "" {
		cfg.RegistryConfig = filepath.Join(cfg.Policy.Home, ".claude.json")
	}
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{cfg: cfg, log: log}, nil
}

// UseContainerTools reports whether tool integrations come from the image
// instead of the host. Host binaries are only reusable on Linux.
func (b *Builder) UseContainerTools() bool {
	return b.cfg.HostOS != "linux"
}

type BuildInput struct {
	// TaskID, when set, is folded into the container name.
	TaskID           string
	AgentArgs        []string
	Env              map[string]string
	AdditionalMounts []MountRequest
}

// Build assembles the invocation. Only structural config errors fail; a
// skipped mount or failed discovery just narrows what the sandbox sees.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*Invocation, error) {
	inv := &Invocation{
		Name:       containerName(in.TaskID),
		Image:      b.cfg.Image,
		User:       b.cfg.UIDGID,
		WorkDir:    ContainerWorkDir,
		Entrypoint: append([]string(nil), in.AgentArgs...),
	}
	seen := map[string]bool{}
	add := func(m Mount) {
		key := m.ContainerPath
		if seen[key] {
			return
		}
		seen[key] = true
		inv.Mounts = append(inv.Mounts, m)
	}

	for _, dir := range b.systemMounts() {
		if _, err := os.Stat(dir); err == nil {
			add(Mount{HostPath: dir, ContainerPath: dir, Mode: MountReadOnly})
		}
	}

	if b.UseContainerTools() {
		b.log.Infow("sandbox_container_tools", "host_os", b.cfg.HostOS)
	} else if b.cfg.Discoverer != nil {
		for _, p := range b.cfg.Discoverer.Discover(ctx) {
			add(Mount{HostPath: p, ContainerPath: p, Mode: MountReadOnly})
		}
	}

	if b.cfg.ConfigDir != "" {
		if _, err := os.Stat(b.cfg.ConfigDir); err == nil {
			add(Mount{HostPath: b.cfg.ConfigDir, ContainerPath: b.cfg.ConfigDir, Mode: MountReadWrite})
		}
	}

	if b.cfg.RegistryConfig != "" {
		if _, err := os.Stat(b.cfg.RegistryConfig); err == nil {
			rw, nerr := NormalizeRegistryConfig(b.cfg.RegistryConfig, b.UseContainerTools(), b.lookPath())
			if nerr != nil {
				b.log.Warnw("sandbox_registry_normalize_failed", "path", b.cfg.RegistryConfig, "error", nerr)
			}
			if rw.Temporary {
				inv.mu.Lock()
				inv.tempFiles = append(inv.tempFiles, rw.Path)
				inv.mu.Unlock()
				b.log.Infow("sandbox_registry_normalized", "servers", rw.Rewritten)
			}
			add(Mount{HostPath: rw.Path, ContainerPath: b.cfg.RegistryConfig, Mode: MountReadWrite})
		}
	}

	add(Mount{HostPath: b.cfg.WorkingDir, ContainerPath: ContainerWorkDir, Mode: MountReadWrite})

	for _, m := range b.credentialMounts() {
		add(m)
	}

	for _, req := range in.AdditionalMounts {
		mode := req.Mode
		if mode == "" {
			mode = MountReadOnly
		}
		flagged, err := b.cfg.Policy.ValidateMount(req.HostPath, mode)
		if err != nil {
			b.log.Warnw("sandbox_mount_rejected", "path", req.HostPath, "mode", mode, "error", err)
			continue
		}
		if flagged {
			b.log.Warnw("sandbox_mount_home_rw", "path", req.HostPath)
		}
		host, _ := filepath.Abs(expandHome(req.HostPath, b.cfg.Policy.Home))
		target := req.ContainerPath
		if target == "" {
			target = host
		}
		add(Mount{HostPath: host, ContainerPath: target, Mode: mode})
	}

	inv.Env = b.environment(in.Env)
	b.log.Infow("sandbox_build_ok", "mounts", len(inv.Mounts), "temp_files", len(inv.tempFiles))
	return inv, nil
}

func containerName(taskID string) string {
	if taskID == "" {
		return "nightshift-" + keygen.GenerateShortId()
	}
	return "nightshift-" + taskID + "-" + keygen.GenerateShortId()
}

func (b *Builder) lookPath() func(string) (string, error) {
	if b.cfg.LookPath != nil {
		return b.cfg.LookPath
	}
	if b.cfg.Discoverer != nil {
		return b.cfg.Discoverer.lookPath
	}
	return nil
}

func (b *Builder) systemMounts() []string {
	dirs := append([]string(nil), b.cfg.SystemMounts...)
	if b.cfg.HostOS == "linux" {
		dirs = append(dirs, "/opt")
	}
	return dirs
}

// credentialMounts exposes the host's git, GitHub CLI, SSH and Google
// Calendar credentials when they exist.
func (b *Builder) credentialMounts() []Mount {
	home := b.cfg.Policy.Home
	var out []Mount
	addIfExists := func(path string, mode MountMode) {
		if path == "" {
			return
		}
		if _, err := os.Stat(path); err == nil {
			out = append(out, Mount{HostPath: path, ContainerPath: path, Mode: mode})
		}
	}
	addIfExists(b.cfg.Getenv("GOOGLE_CALENDAR_CREDENTIALS_PATH"), MountReadOnly)
	addIfExists(b.cfg.Getenv("GOOGLE_CALENDAR_TOKEN_PATH"), MountReadWrite)
	if home != "" {
		addIfExists(filepath.Join(home, ".gitconfig"), MountReadOnly)
		addIfExists(filepath.Join(home, ".config", "gh"), MountReadOnly)
		addIfExists(filepath.Join(home, ".ssh"), MountReadOnly)
	}
	return out
}

// environment returns HOME, PATH, then credentials in a stable order.
// Explicit values win; allow-listed variables are forwarded by name only
// when present on the host.
func (b *Builder) environment(explicit map[string]string) []EnvVar {
	home := b.cfg.Policy.Home
	pathDirs := []string{ContainerToolPrefix}
	if home != "" {
		hostVenv := filepath.Join(home, ".claude_venv", "bin")
		if _, err := os.Stat(hostVenv); err == nil {
			pathDirs = append(pathDirs, hostVenv)
		}
	}
	pathDirs = append(pathDirs, "/usr/local/bin", "/usr/bin", "/bin")

	env := []EnvVar{
		{Name: "HOME", Value: home},
		{Name: "PATH", Value: strings.Join(pathDirs, ":")},
	}

	keys := make([]string, 0, len(explicit))
	for k := range explicit {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if explicit[k] != "" && k != "HOME" && k != "PATH" {
			env = append(env, EnvVar{Name: k, Value: explicit[k]})
		}
	}
	for _, k := range CredentialEnvVars {
		if _, ok := explicit[k]; ok {
			continue
		}
		if b.cfg.Getenv(k) != "" {
			env = append(env, EnvVar{Name: k, Passthrough: true})
		}
	}
	return env
}
