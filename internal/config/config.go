// Package config loads the bridge configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file (with ${VAR} substitution), the AGENT_SECRET_KEY / OWNER_ID
// environment variables, and finally explicit command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr      = ":4000"
	DefaultAuditPath = "logs.txt"

	EnvSecret  = "AGENT_SECRET_KEY"
	EnvOwnerID = "OWNER_ID"
)

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the complete bridge configuration.
type Config struct {
	Addr      string          `yaml:"addr"`
	Secret    string          `yaml:"secret"`
	OwnerID   string          `yaml:"owner_id"`
	AuditLog  string          `yaml:"audit_log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Blacklist BlacklistConfig `yaml:"blacklist"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Shell     ShellConfig     `yaml:"shell"`
	Log       LogConfig       `yaml:"log"`
}

type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

type BlacklistConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ShellConfig overrides the spawned shell. Empty fields use host defaults.
type ShellConfig struct {
	Path string `yaml:"path"`
	Cols uint16 `yaml:"cols"`
	Rows uint16 `yaml:"rows"`
	Term string `yaml:"term"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:     DefaultAddr,
		AuditLog: DefaultAuditPath,
		RateLimit: RateLimitConfig{
			Window: 5 * time.Second,
			Max:    30,
		},
		Blacklist: BlacklistConfig{TTL: 5 * time.Minute},
		Telemetry: TelemetryConfig{Interval: 2 * time.Second},
		Shell: ShellConfig{
			Cols: 80,
			Rows: 30,
			Term: "xterm-color",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		if value := os.Getenv(match[2 : len(match)-1]); value != "" {
			return value
		}
		return match
	})

	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv(EnvSecret)
	}
	if cfg.OwnerID == "" {
		cfg.OwnerID = os.Getenv(EnvOwnerID)
	}
}

// Validate rejects settings the server cannot run with. A missing secret or
// owner is allowed: the guard fails closed and nobody can verify.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.AuditLog == "" {
		errs = append(errs, errors.New("audit_log is required"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("rate_limit.max must be positive"))
	}
	if c.Blacklist.TTL <= 0 {
		errs = append(errs, errors.New("blacklist.ttl must be positive"))
	}
	if c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry.interval must be positive"))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that leave the bridge unusable but not broken.
func (c Config) Warnings() []string {
	var w []string
	if c.Secret == "" {
		w = append(w, "no shared secret configured ("+EnvSecret+"); every request will be rejected")
	}
	if c.OwnerID == "" {
		w = append(w, "no owner identity configured ("+EnvOwnerID+"); verification will always fail")
	}
	return w
}
