package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Platforms PlatformsConfig `mapstructure:"platforms" yaml:"platforms"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Planner   PlannerConfig   `mapstructure:"planner" yaml:"planner"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Features  FeaturesConfig  `mapstructure:"features" yaml:"features"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Path            string        `mapstructure:"path" yaml:"path"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level" yaml:"level"`
	Encoding         string   `mapstructure:"encoding" yaml:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths" yaml:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths" yaml:"error_output_paths"`
}

type PathsConfig struct {
	BaseDir   string `mapstructure:"base_dir" yaml:"base_dir"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

type APIKeyConfig struct {
	Key    string `mapstructure:"key" yaml:"key"`
	UserID string `mapstructure:"user_id" yaml:"user_id"`
}

type AuthConfig struct {
	APIKeys         []APIKeyConfig    `mapstructure:"api_keys" yaml:"api_keys"`
	PlatformSecrets map[string]string `mapstructure:"platform_secrets" yaml:"platform_secrets"`
	AllowedOrigins  []string          `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type SlackConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken      string `mapstructure:"bot_token" yaml:"bot_token"`
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`
	APIBase       string `mapstructure:"api_base" yaml:"api_base"`
}

type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken    string `mapstructure:"bot_token" yaml:"bot_token"`
	SecretToken string `mapstructure:"secret_token" yaml:"secret_token"`
	APIBase     string `mapstructure:"api_base" yaml:"api_base"`
}

type PlatformsConfig struct {
	Slack    SlackConfig    `mapstructure:"slack" yaml:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

type MountConfig struct {
	HostPath      string `mapstructure:"host_path" yaml:"host_path"`
	ContainerPath string `mapstructure:"container_path" yaml:"container_path"`
	Mode          string `mapstructure:"mode" yaml:"mode"`
}

type SandboxConfig struct {
	Runtime        string        `mapstructure:"runtime" yaml:"runtime"`
	Image          string        `mapstructure:"image" yaml:"image"`
	AgentBinary    string        `mapstructure:"agent_binary" yaml:"agent_binary"`
	WorkingDir     string        `mapstructure:"working_dir" yaml:"working_dir"`
	ConfigDir      string        `mapstructure:"config_dir" yaml:"config_dir"`
	RegistryConfig string        `mapstructure:"registry_config" yaml:"registry_config"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SystemMounts   []string      `mapstructure:"system_mounts" yaml:"system_mounts"`
	ExtraMounts    []MountConfig `mapstructure:"extra_mounts" yaml:"extra_mounts"`
}

type PlannerConfig struct {
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	DefaultTools    []string      `mapstructure:"default_tools" yaml:"default_tools"`
	EstimatedTokens int           `mapstructure:"estimated_tokens" yaml:"estimated_tokens"`
	EstimatedTime   int           `mapstructure:"estimated_time" yaml:"estimated_time"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ExecutionConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Region   string `mapstructure:"region" yaml:"region"`
	Project  string `mapstructure:"project" yaml:"project"`
}

type SFTPConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"password"`
	PrivateKeyPath string        `mapstructure:"private_key_path" yaml:"private_key_path"`
	KnownHostsPath string        `mapstructure:"known_hosts_path" yaml:"known_hosts_path"`
	RemoteDir      string        `mapstructure:"remote_dir" yaml:"remote_dir"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	Artifacts string     `mapstructure:"artifacts" yaml:"artifacts"`
	SFTP      SFTPConfig `mapstructure:"sftp" yaml:"sftp"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header" yaml:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging" yaml:"enable_request_logging"`
	EnforceQuotas        bool   `mapstructure:"enforce_quotas" yaml:"enforce_quotas"`
}

// DefaultPath is ~/.nightshift/config.yaml, or a relative path when the
// home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".nightshift", "config.yaml")
	}
	return filepath.Join(home, ".nightshift", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".nightshift")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Minute)
	v.SetDefault("server.idle_timeout", 2*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(base, "database", "nightshift.db"))
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nightshift")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "nightshift")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("paths.base_dir", base)
	v.SetDefault("paths.output_dir", filepath.Join(base, "output"))

	v.SetDefault("auth.api_keys", []APIKeyConfig{})
	v.SetDefault("auth.platform_secrets", map[string]string{})
	v.SetDefault("auth.allowed_origins", []string{})

	v.SetDefault("platforms.slack.enabled", false)
	v.SetDefault("platforms.slack.bot_token", "")
	v.SetDefault("platforms.slack.signing_secret", "")
	v.SetDefault("platforms.slack.api_base", "https://slack.com/api")
	v.SetDefault("platforms.telegram.enabled", false)
	v.SetDefault("platforms.telegram.bot_token", "")
	v.SetDefault("platforms.telegram.secret_token", "")
	v.SetDefault("platforms.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("sandbox.runtime", "docker")
	v.SetDefault("sandbox.image", "nightshift-claude-executor:latest")
	v.SetDefault("sandbox.agent_binary", "claude")
	v.SetDefault("sandbox.working_dir", "")
	v.SetDefault("sandbox.config_dir", filepath.Join(home, ".claude"))
	v.SetDefault("sandbox.registry_config", filepath.Join(home, ".claude.json"))
	v.SetDefault("sandbox.timeout", 30*time.Minute)
	v.SetDefault("sandbox.system_mounts", []string{"/lib", "/lib64"})
	v.SetDefault("sandbox.extra_mounts", []MountConfig{})

	v.SetDefault("planner.mode", "agent")
	v.SetDefault("planner.default_tools", []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"})
	v.SetDefault("planner.estimated_tokens", 10000)
	v.SetDefault("planner.estimated_time", 120)
	v.SetDefault("planner.timeout", 2*time.Minute)

	v.SetDefault("execution.provider", "local")
	v.SetDefault("execution.region", "")
	v.SetDefault("execution.project", "")

	v.SetDefault("storage.artifacts", "local")
	v.SetDefault("storage.sftp.host", "")
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.user", "")
	v.SetDefault("storage.sftp.password", "")
	v.SetDefault("storage.sftp.private_key_path", filepath.Join(base, "ssh", "id_ed25519"))
	v.SetDefault("storage.sftp.known_hosts_path", "")
	v.SetDefault("storage.sftp.remote_dir", "nightshift/results")
	v.SetDefault("storage.sftp.timeout", 30*time.Second)

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)
	v.SetDefault("features.enforce_quotas", true)
}

// Load reads the YAML file at path, overlays NIGHTSHIFT_* environment
// variables, and fills every unset key with its default. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NIGHTSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Sandbox.WorkingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Sandbox.WorkingDir = wd
		}
	}
	if cfg.Auth.PlatformSecrets == nil {
		cfg.Auth.PlatformSecrets = map[string]string{}
	}
	if _, ok := cfg.Auth.PlatformSecrets["slack"]; !ok && cfg.Platforms.Slack.SigningSecret != "" {
		cfg.Auth.PlatformSecrets["slack"] = cfg.Platforms.Slack.SigningSecret
	}
	if _, ok := cfg.Auth.PlatformSecrets["telegram"]; !ok && cfg.Platforms.Telegram.SecretToken != "" {
		cfg.Auth.PlatformSecrets["telegram"] = cfg.Platforms.Telegram.SecretToken
	}

	return &cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnabledPlatforms lists the platform names switched on in the config.
func (c *Config) EnabledPlatforms() []string {
	var out []string
	if c.Platforms.Slack.Enabled {
		out = append(out, "slack")
	}
	if c.Platforms.Telegram.Enabled {
		out = append(out, "telegram")
	}
	return out
}
