// Package app assembles the services shared by the HTTP server and the CLI.
package app

import (
	"fmt"
	"os"

	"github.com/nightshift/backend/internal/agentcli"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/execution"
	"github.com/nightshift/backend/internal/infrastructure/db"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/platforms"
	"github.com/nightshift/backend/internal/sandbox"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *gorm.DB

	Tasks         ports.TaskRepository
	Users         ports.UserRepository
	Queue         *services.TaskQueueService
	UserMapper    *services.UserMapperService
	Authenticator *services.Authenticator
	Planner       ports.Planner
	Discoverer    *sandbox.Discoverer
	Builder       *sandbox.Builder
	Runner        *sandbox.DockerRunner
	Executor      *execution.Manager
	Trigger       *services.TriggerService
	Handlers      []ports.PlatformHandler
}

// Options lets callers swap collaborators, mostly for tests.
type Options struct {
	DB       *gorm.DB
	Logger   *logger.Logger
	Planner  ports.Planner
	Backend  execution.Backend
	Handlers []ports.PlatformHandler
}

// New opens storage, runs migrations and wires every service from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		var err error
		if log, err = logger.New(cfg.Logger); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	database := opts.DB
	if database == nil {
		var err error
		if database, err = db.Connect(cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}
	if err := db.RunMigrations(database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &App{Config: cfg, Logger: log, DB: database}
	a.Tasks = db.NewTaskRepository(database, log)
	a.Users = db.NewUserRepository(database, log)
	a.Queue = services.NewTaskQueueService(services.TaskQueueServiceConfig{Repository: a.Tasks, Logger: log})
	a.UserMapper = services.NewUserMapperService(services.UserMapperServiceConfig{Repository: a.Users, Logger: log})
	a.Authenticator = services.NewAuthenticator(services.AuthenticatorConfig{Auth: cfg.Auth, Logger: log})

	a.Planner = opts.Planner
	if a.Planner == nil {
		p, err := agentcli.NewPlanner(cfg.Planner, cfg.Sandbox.AgentBinary, log.Named("planner"))
		if err != nil {
			return nil, err
		}
		a.Planner = p
	}

	backend := opts.Backend
	if backend == nil {
		b, err := a.buildBackend()
		if err != nil {
			return nil, err
		}
		backend = b
	}
	artifacts, err := execution.NewArtifactStore(cfg, log.Named("artifacts"))
	if err != nil {
		return nil, err
	}
	a.Executor = execution.NewManager(execution.ManagerConfig{
		Queue:     a.Queue,
		Backend:   backend,
		Artifacts: artifacts,
		Logger:    log.Named("execution"),
	})

	a.Handlers = opts.Handlers
	if a.Handlers == nil {
		h, err := platforms.Enabled(cfg.Platforms, a.Authenticator, log.Named("platforms"))
		if err != nil {
			return nil, err
		}
		a.Handlers = h
	}

	a.Trigger = services.NewTriggerService(services.TriggerServiceConfig{
		Queue:         a.Queue,
		Users:         a.UserMapper,
		Planner:       a.Planner,
		Executor:      a.Executor,
		Handlers:      a.Handlers,
		Logger:        log.Named("trigger"),
		EnforceQuotas: cfg.Features.EnforceQuotas,
	})
	return a, nil
}

func (a *App) buildBackend() (execution.Backend, error) {
	cfg := a.Config
	a.Discoverer = sandbox.NewDiscoverer(sandbox.DiscovererConfig{
		Lister: agentcli.NewMCPLister(cfg.Sandbox.AgentBinary),
		Policy: sandbox.DefaultPathPolicy(),
		Logger: a.Logger.Named("discovery"),
	})

	builder, err := NewBuilder(cfg, a.Discoverer, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Builder = builder
	a.Runner = sandbox.NewDockerRunner(cfg.Sandbox.Runtime, a.Logger.Named("sandbox"))

	mounts, err := ExtraMounts(cfg)
	if err != nil {
		return nil, err
	}
	local := execution.NewLocalBackend(execution.LocalBackendConfig{
		Builder:          builder,
		Runner:           a.Runner,
		AdditionalMounts: mounts,
		Timeout:          cfg.Sandbox.Timeout,
		Logger:           a.Logger.Named("local_backend"),
	})
	return execution.NewBackend(execution.Provider(cfg.Execution.Provider), execution.BackendDeps{Local: local})
}

// NewBuilder creates the sandbox builder described by cfg.Sandbox.
func NewBuilder(cfg *config.Config, d *sandbox.Discoverer, log *logger.Logger) (*sandbox.Builder, error) {
	uidgid := ""
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 && gid >= 0 {
		uidgid = fmt.Sprintf("%d:%d", uid, gid)
	}
	return sandbox.NewBuilder(sandbox.BuilderConfig{
		Image:          cfg.Sandbox.Image,
		WorkingDir:     cfg.Sandbox.WorkingDir,
		ConfigDir:      cfg.Sandbox.ConfigDir,
		RegistryConfig: cfg.Sandbox.RegistryConfig,
		SystemMounts:   cfg.Sandbox.SystemMounts,
		Policy:         sandbox.DefaultPathPolicy(),
		Discoverer:     d,
		Logger:         log.Named("sandbox"),
		UIDGID:         uidgid,
	})
}

// ExtraMounts converts sandbox.extra_mounts into mount requests.
func ExtraMounts(cfg *config.Config) ([]sandbox.MountRequest, error) {
	out := make([]sandbox.MountRequest, 0, len(cfg.Sandbox.ExtraMounts))
	for _, m := range cfg.Sandbox.ExtraMounts {
		mode := sandbox.MountMode(m.Mode)
		switch mode {
		case "":
			mode = sandbox.MountReadOnly
		case sandbox.MountReadOnly, sandbox.MountReadWrite:
		default:
			return nil, fmt.Errorf("sandbox.extra_mounts: bad mode %q for %s", m.Mode, m.HostPath)
		}
		out = append(out, sandbox.MountRequest{HostPath: m.HostPath, ContainerPath: m.ContainerPath, Mode: mode})
	}
	return out, nil
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return db.Close(a.DB)
}
