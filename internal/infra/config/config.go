package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger        LoggerConfig        `yaml:"logger"`
	Tracer        TracerConfig        `yaml:"tracer"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Authority     AuthorityConfig     `yaml:"authority"`
	Server        ServerConfig        `yaml:"server"`
	State         StateConfig         `yaml:"state"`
	Prerequisites PrerequisitesConfig `yaml:"prerequisites"`
	Install       InstallConfig       `yaml:"install"`
	Templates     TemplatesConfig     `yaml:"templates"`
	Validation    ValidationConfig    `yaml:"validation"`
	Secrets       SecretsConfig       `yaml:"secrets"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthorityConfig selects where versions, checkpoints and resume state live.
type AuthorityConfig struct {
	Mode       string        `yaml:"mode"` // "local" (sqlite) or "remote" (http)
	SQLitePath string        `yaml:"sqlite_path"`
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	Breaker    BreakerConfig `yaml:"breaker"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst  int           `yaml:"rate_burst"`
}

// BreakerConfig tunes the remote authority circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Interval    time.Duration `yaml:"interval"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// ServerConfig holds the authority server settings used by "serve".
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Token          string   `yaml:"token"`
	RequestsPerMin int      `yaml:"requests_per_min"` // per client, 0 = unlimited
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// StateConfig holds local durable files.
type StateConfig struct {
	DataDir        string `yaml:"data_dir"`
	PointerFile    string `yaml:"pointer_file"`    // latest checkpoint id
	OperationsFile string `yaml:"operations_file"` // operation log mirror
	// Autosave is how often the resume state is saved while the wizard
	// runs (duration or cron expression). Empty disables it.
	Autosave string `yaml:"autosave"`
}

// PrerequisitesConfig holds host requirements for the checklist step.
type PrerequisitesConfig struct {
	RuntimeBinary string `yaml:"runtime_binary"`
	ComposeBinary string `yaml:"compose_binary"` // "docker compose" selects the plugin form
	UseDockerAPI  bool   `yaml:"use_docker_api"`
	MinCPUs       int    `yaml:"min_cpus"`
	MinMemoryMB   int    `yaml:"min_memory_mb"`
	Ports         []int  `yaml:"ports"`
}

// InstallConfig holds installation watcher settings.
type InstallConfig struct {
	// PollSchedule is a cron expression or a Go duration ("5s").
	PollSchedule   string        `yaml:"poll_schedule"`
	RetryCountdown time.Duration `yaml:"retry_countdown"`
}

// TemplatesConfig holds the template catalog.
type TemplatesConfig struct {
	Include []string         `yaml:"include,omitempty"` // extra catalog files, globs allowed
	Catalog []TemplateConfig `yaml:"catalog"`
}

// TemplateConfig is one deployment template.
type TemplateConfig struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Profiles    []string       `yaml:"profiles"`
	Config      map[string]any `yaml:"config"`
}

// ValidationConfig holds local configuration rules.
type ValidationConfig struct {
	SchemaFile string      `yaml:"schema_file"`
	Rules      []FieldRule `yaml:"rules"`
	Remote     bool        `yaml:"remote"` // also ask the authority server
}

// FieldRule is a local pattern/length rule for one configuration key.
type FieldRule struct {
	Field     string `yaml:"field"`
	Required  bool   `yaml:"required"`
	Pattern   string `yaml:"pattern"`
	MinLength int    `yaml:"min_length"`
	MaxLength int    `yaml:"max_length"`
}

// SecretsConfig controls sealing of secret configuration values at rest.
type SecretsConfig struct {
	PassphraseEnv string   `yaml:"passphrase_env"`
	Fields        []string `yaml:"fields"` // key substrings treated as secret
}

// defaultDataDir returns the persistent data directory under $HOME/.setupwiz.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".setupwiz")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Authority: AuthorityConfig{
			Mode:       "local",
			SQLitePath: filepath.Join(dataDir, "authority.db"),
			Timeout:    10 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Interval:    60 * time.Second,
				OpenTimeout: 30 * time.Second,
			},
			RateLimit: 20,
			RateBurst: 5,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8740",
			RequestsPerMin: 600,
			Burst:          50,
		},
		State: StateConfig{
			DataDir:        dataDir,
			PointerFile:    filepath.Join(dataDir, "latest-checkpoint"),
			OperationsFile: filepath.Join(dataDir, "operations.json"),
			Autosave:       "1m",
		},
		Prerequisites: PrerequisitesConfig{
			RuntimeBinary: "docker",
			ComposeBinary: "docker compose",
			UseDockerAPI:  true,
			MinCPUs:       2,
			MinMemoryMB:   4096,
			Ports:         []int{80, 443},
		},
		Install: InstallConfig{
			PollSchedule:   "5s",
			RetryCountdown: 30 * time.Second,
		},
		Templates: TemplatesConfig{
			Catalog: defaultCatalog(),
		},
		Secrets: SecretsConfig{
			PassphraseEnv: "SETUPWIZ_SECRET_KEY",
			Fields:        []string{"password", "secret", "token", "api_key"},
		},
	}
}

func defaultCatalog() []TemplateConfig {
	return []TemplateConfig{
		{
			ID:          "minimal",
			Name:        "Minimal",
			Description: "Core services only",
			Profiles:    []string{"core"},
			Config:      map[string]any{"domain": "localhost"},
		},
		{
			ID:          "standard",
			Name:        "Standard",
			Description: "Core services with monitoring",
			Profiles:    []string{"core", "monitoring"},
			Config:      map[string]any{"domain": "localhost", "retention_days": 14},
		},
	}
}

// Load reads a YAML config file, applies env overrides, and validates.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Templates.Include) > 0 {
		extra, err := loadCatalogIncludes(cfg.Templates.Include, filepath.Dir(absPath))
		if err != nil {
			return nil, err
		}
		cfg.Templates.Catalog = mergeCatalog(cfg.Templates.Catalog, extra)
		cfg.Templates.Include = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps SETUPWIZ_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SETUPWIZ_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SETUPWIZ_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SETUPWIZ_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SETUPWIZ_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SETUPWIZ_METRICS_ENABLED"); v == "false" {
		cfg.Metrics.Enabled = false
	}
	if v := os.Getenv("SETUPWIZ_AUTHORITY_MODE"); v != "" {
		cfg.Authority.Mode = v
	}
	if v := os.Getenv("SETUPWIZ_AUTHORITY_URL"); v != "" {
		cfg.Authority.BaseURL = v
	}
	if v := os.Getenv("SETUPWIZ_AUTHORITY_TOKEN"); v != "" {
		cfg.Authority.Token = v
	}
	if v := os.Getenv("SETUPWIZ_AUTHORITY_SQLITE_PATH"); v != "" {
		cfg.Authority.SQLitePath = v
	}
	if v := os.Getenv("SETUPWIZ_AUTHORITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Authority.Timeout = d
		}
	}
	if v := os.Getenv("SETUPWIZ_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SETUPWIZ_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("SETUPWIZ_DATA_DIR"); v != "" {
		cfg.State.DataDir = v
		cfg.State.PointerFile = filepath.Join(v, "latest-checkpoint")
		cfg.State.OperationsFile = filepath.Join(v, "operations.json")
	}
	if v := os.Getenv("SETUPWIZ_PREREQ_MIN_CPUS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Prerequisites.MinCPUs = n
		}
	}
	if v := os.Getenv("SETUPWIZ_PREREQ_MIN_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Prerequisites.MinMemoryMB = n
		}
	}
	if v := os.Getenv("SETUPWIZ_PREREQ_PORTS"); v != "" {
		var ports []int
		for _, s := range splitAndTrim(v, ",") {
			if n, err := strconv.Atoi(s); err == nil {
				ports = append(ports, n)
			}
		}
		cfg.Prerequisites.Ports = ports
	}
	if v := os.Getenv("SETUPWIZ_PREREQ_DOCKER_API"); v == "false" {
		cfg.Prerequisites.UseDockerAPI = false
	}
	if v := os.Getenv("SETUPWIZ_INSTALL_POLL"); v != "" {
		cfg.Install.PollSchedule = v
	}
	if v := os.Getenv("SETUPWIZ_VALIDATION_SCHEMA"); v != "" {
		cfg.Validation.SchemaFile = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Template returns the catalog entry with id.
func (c *Config) Template(id string) (TemplateConfig, bool) {
	for _, t := range c.Templates.Catalog {
		if t.ID == id {
			return t, true
		}
	}
	return TemplateConfig{}, false
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
