package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"campaignflow/internal/infra/logger"
	"campaignflow/internal/infra/tracer"
)

// EngineConfig holds pipeline engine settings.
type EngineConfig struct {
	MaxDepth   int `yaml:"max_depth"`   // sub-workflow nesting bound (default 10)
	MaxRunning int `yaml:"max_running"` // concurrent runs; 0 = unlimited
}

// DomainConfig overrides one domain's keyword set. Order in the config file
// is the classifier's priority order.
type DomainConfig struct {
	Domain   string   `yaml:"domain"`
	Keywords []string `yaml:"keywords"`
}

// RouterConfig overrides the router's classification tables. Empty fields
// keep the built-in defaults.
type RouterConfig struct {
	ComplexityIndicators []string       `yaml:"complexity_indicators,omitempty"`
	UrgencyIndicators    []string       `yaml:"urgency_indicators,omitempty"`
	Domains              []DomainConfig `yaml:"domains,omitempty"`
	DefaultDomain        string         `yaml:"default_domain,omitempty"`
}

// BreakerConfig holds agent circuit-breaker settings.
type BreakerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxFailures uint32 `yaml:"max_failures"`
	Timeout     string `yaml:"timeout"`  // duration string, e.g. "30s"
	Interval    string `yaml:"interval"` // duration string, e.g. "60s"
}

// RateLimitConfig holds agent rate-limit settings.
type RateLimitConfig struct {
	RequestsPerMin float64 `yaml:"requests_per_min"`
	BurstSize      int     `yaml:"burst_size"`
}

// AgentsConfig holds settings for the agent invoker stack.
type AgentsConfig struct {
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ScheduleConfig declares one cron-triggered workflow run.
type ScheduleConfig struct {
	Name     string         `yaml:"name,omitempty"`
	Workflow string         `yaml:"workflow"`
	Cron     string         `yaml:"cron"`
	Trigger  map[string]any `yaml:"trigger,omitempty"`
	Enabled  *bool          `yaml:"enabled,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	WorkflowDir string           `yaml:"workflow_dir"`
	Engine      EngineConfig     `yaml:"engine"`
	Router      RouterConfig     `yaml:"router"`
	Agents      AgentsConfig     `yaml:"agents"`
	Schedules   []ScheduleConfig `yaml:"schedules,omitempty"`
	Logger      logger.Config    `yaml:"logger"`
	Tracer      tracer.Config    `yaml:"tracer"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		WorkflowDir: "./workflows",
		Engine: EngineConfig{
			MaxDepth:   10,
			MaxRunning: 8,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads configuration from path, layering file values over defaults and
// environment overrides over both. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Engine.MaxDepth <= 0 {
		cfg.Engine.MaxDepth = 10
	}
	if cfg.Engine.MaxRunning < 0 {
		cfg.Engine.MaxRunning = 0
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAMPAIGNFLOW_WORKFLOW_DIR"); v != "" {
		cfg.WorkflowDir = v
	}
	if v := os.Getenv("CAMPAIGNFLOW_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CAMPAIGNFLOW_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CAMPAIGNFLOW_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxDepth = n
		}
	}
	if v := os.Getenv("CAMPAIGNFLOW_TRACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = b
			if b && cfg.Tracer.Exporter == "" {
				cfg.Tracer.Exporter = "stdout"
			}
		}
	}
}
