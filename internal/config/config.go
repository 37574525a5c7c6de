package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/baicaiyihao/quant/internal/domain"
	"github.com/baicaiyihao/quant/internal/registry"
)

// Config is the process configuration. Values come from the environment
// (optionally seeded from a .env file); a YAML file named by CONFIG_FILE is
// layered on top when present.
type Config struct {
	Balancer    BalancerConfig    `yaml:"balancer"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Control     ControlConfig     `yaml:"control"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BalancerConfig contains the facade and call-path settings
type BalancerConfig struct {
	Strategy            string        `yaml:"strategy" envconfig:"LB_STRATEGY" default:"weighted_round_robin"`
	CallTimeout         time.Duration `yaml:"call_timeout" envconfig:"LB_CALL_TIMEOUT" default:"30s"`
	MaxFailoverAttempts int           `yaml:"max_failover_attempts" envconfig:"LB_MAX_FAILOVER_ATTEMPTS" default:"1"`
	EndpointPrefix      string        `yaml:"endpoint_prefix" envconfig:"LB_ENDPOINT_PREFIX" default:"RPC_URL"`
}

// HealthCheckConfig contains the background probe settings
type HealthCheckConfig struct {
	Interval     time.Duration `yaml:"interval" envconfig:"LB_HEALTH_CHECK_INTERVAL" default:"60s"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"LB_PROBE_TIMEOUT" default:"5s"`
	ProbeMethod  string        `yaml:"probe_method" envconfig:"LB_PROBE_METHOD" default:"rpc.discover"`
	ProbesPerSec float64       `yaml:"probes_per_sec" envconfig:"LB_PROBES_PER_SEC" default:"5"`
	ProbeBurst   int           `yaml:"probe_burst" envconfig:"LB_PROBE_BURST" default:"2"`
}

// TrackerConfig contains the failure accounting thresholds
type TrackerConfig struct {
	MaxFailures            int           `yaml:"max_failures" envconfig:"LB_MAX_FAILURES" default:"3"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" envconfig:"LB_MAX_CONSECUTIVE_FAILURES" default:"5"`
	RecoveryThreshold      int           `yaml:"recovery_threshold" envconfig:"LB_RECOVERY_THRESHOLD" default:"3"`
	FailureWeightPenalty   float64       `yaml:"failure_weight_penalty" envconfig:"LB_FAILURE_WEIGHT_PENALTY" default:"0.5"`
	MinEffectiveWeight     float64       `yaml:"min_effective_weight" envconfig:"LB_MIN_EFFECTIVE_WEIGHT" default:"0.1"`
	WeightCeiling          float64       `yaml:"weight_ceiling" envconfig:"LB_WEIGHT_CEILING" default:"5.0"`
	ResponseTimeAlpha      float64       `yaml:"response_time_alpha" envconfig:"LB_RESPONSE_TIME_ALPHA" default:"0.1"`
	BaseBackoffDelay       time.Duration `yaml:"base_backoff_delay" envconfig:"LB_BASE_BACKOFF_DELAY" default:"1s"`
	MaxBackoffDelay        time.Duration `yaml:"max_backoff_delay" envconfig:"LB_MAX_BACKOFF_DELAY" default:"5m"`
}

// ControlConfig contains the read-only control API settings
type ControlConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"LB_CONTROL_ENABLED" default:"true"`
	Port    int  `yaml:"port" envconfig:"LB_CONTROL_PORT" default:"9090"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"`
	Output string `yaml:"output" envconfig:"LOG_OUTPUT" default:"stdout"`
	File   string `yaml:"file" envconfig:"LOG_FILE"`
}

// Load reads configuration from the environment, seeding it from the .env
// file at path when one exists, then layering CONFIG_FILE on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(path)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		if err := cfg.mergeFile(file); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) mergeFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if !domain.ValidStrategy(domain.StrategyName(c.Balancer.Strategy)) {
		return fmt.Errorf("unsupported selection strategy: %s", c.Balancer.Strategy)
	}
	if c.Balancer.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive: %v", c.Balancer.CallTimeout)
	}
	if c.Balancer.MaxFailoverAttempts < 0 {
		return fmt.Errorf("max_failover_attempts cannot be negative: %d", c.Balancer.MaxFailoverAttempts)
	}
	if c.Balancer.EndpointPrefix == "" {
		return fmt.Errorf("endpoint_prefix cannot be empty")
	}

	if c.HealthCheck.Interval <= 0 {
		return fmt.Errorf("health_check.interval must be positive")
	}
	if c.HealthCheck.ProbeTimeout <= 0 {
		return fmt.Errorf("health_check.probe_timeout must be positive")
	}
	if c.HealthCheck.ProbesPerSec <= 0 {
		return fmt.Errorf("health_check.probes_per_sec must be positive")
	}

	if c.Tracker.MaxFailures <= 0 {
		return fmt.Errorf("tracker.max_failures must be positive")
	}
	if c.Tracker.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("tracker.max_consecutive_failures must be positive")
	}
	if c.Tracker.RecoveryThreshold <= 0 {
		return fmt.Errorf("tracker.recovery_threshold must be positive")
	}
	if c.Tracker.FailureWeightPenalty <= 0 || c.Tracker.FailureWeightPenalty >= 1 {
		return fmt.Errorf("tracker.failure_weight_penalty must be in (0, 1)")
	}
	if c.Tracker.MinEffectiveWeight <= 0 || c.Tracker.MinEffectiveWeight >= c.Tracker.WeightCeiling {
		return fmt.Errorf("tracker.min_effective_weight must be positive and below weight_ceiling")
	}
	if c.Tracker.ResponseTimeAlpha <= 0 || c.Tracker.ResponseTimeAlpha > 1 {
		return fmt.Errorf("tracker.response_time_alpha must be in (0, 1]")
	}
	if c.Tracker.BaseBackoffDelay <= 0 || c.Tracker.MaxBackoffDelay < c.Tracker.BaseBackoffDelay {
		return fmt.Errorf("tracker backoff delays must be positive with max >= base")
	}

	if c.Control.Enabled && (c.Control.Port <= 0 || c.Control.Port > 65535) {
		return fmt.Errorf("invalid control port: %d", c.Control.Port)
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// EndpointDescriptors scans the environment for endpoint descriptors: the
// bare prefix key plus keys formed by the prefix and a numeric suffix
// (PREFIX, PREFIX0, PREFIX1, ...). Enumeration order is decided by the
// registry, lexical by key.
func (c *Config) EndpointDescriptors(environ []string) []registry.Descriptor {
	var out []registry.Descriptor
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if !strings.HasPrefix(key, c.Balancer.EndpointPrefix) {
			continue
		}
		suffix := key[len(c.Balancer.EndpointPrefix):]
		if suffix != "" && !allDigits(suffix) {
			continue
		}
		out = append(out, registry.Descriptor{Key: key, Value: value})
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TrackerPolicy converts the tracker settings into a domain policy
func (c *Config) TrackerPolicy() domain.TrackerPolicy {
	return domain.TrackerPolicy{
		MaxFailures:            c.Tracker.MaxFailures,
		MaxConsecutiveFailures: c.Tracker.MaxConsecutiveFailures,
		RecoveryThreshold:      c.Tracker.RecoveryThreshold,
		FailureWeightPenalty:   c.Tracker.FailureWeightPenalty,
		MinEffectiveWeight:     c.Tracker.MinEffectiveWeight,
		WeightCeiling:          c.Tracker.WeightCeiling,
		ResponseTimeAlpha:      c.Tracker.ResponseTimeAlpha,
		BaseBackoffDelay:       c.Tracker.BaseBackoffDelay,
		MaxBackoffDelay:        c.Tracker.MaxBackoffDelay,
	}
}
