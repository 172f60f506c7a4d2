package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kirychukyurii/hv-balancer/internal/model"
)

// EnvPrefix is the prefix of environment variables overriding configuration keys.
// HVB_MIGRATION__POLL_INTERVAL=10s sets migration.poll_interval.
const EnvPrefix = "HVB_"

// probeEnvPrefix keeps the reachability-check variables of earlier drain scripts working
const probeEnvPrefix = "SYSDRAIN_PINGURL_"

// Config represents the application configuration
type Config struct {
	Log       LogConfig       `koanf:"log"`
	OpenStack OpenStackConfig `koanf:"openstack"`
	Balancer  BalancerConfig  `koanf:"balancer"`
	Migration MigrationConfig `koanf:"migration"`
	Probe     ProbeConfig     `koanf:"probe"`
	Retry     RetryConfig     `koanf:"retry"`
	Cache     CacheConfig     `koanf:"cache"`
	Daemon    DaemonConfig    `koanf:"daemon"`
	Server    ServerConfig    `koanf:"server"`
	Etcd      EtcdConfig      `koanf:"etcd"`
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // json | text
}

// OpenStackConfig selects the compute endpoint. Credentials come from the OS_* environment.
type OpenStackConfig struct {
	Region       string `koanf:"region"`
	EndpointType string `koanf:"endpoint_type"` // public | internal | admin
}

// BalancerConfig holds the placement policy
type BalancerConfig struct {
	// DomainSuffix reconciles the short host with the hypervisor FQDN, e.g. ".example.com"
	DomainSuffix string `koanf:"domain_suffix"`
	// DrainingHost switches to drain mode when set
	DrainingHost string `koanf:"draining_host"`
	// ExcludeInstances are never offered as migration candidates
	ExcludeInstances []string `koanf:"exclude_instances"`
}

// MigrationConfig controls the migration state machine timings
type MigrationConfig struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	PollMaxAttempts int           `koanf:"poll_max_attempts"` // 0 polls until ACTIVE
	PollTimeout     time.Duration `koanf:"poll_timeout"`      // 0 polls until ACTIVE
	SettleDuration  time.Duration `koanf:"settle_duration"`
	SettleTick      time.Duration `koanf:"settle_tick"`
}

// ProbeConfig represents the reachability check. It is active when BaseURL is set and Disabled is false.
type ProbeConfig struct {
	Disabled   bool          `koanf:"disabled"`
	BaseURL    string        `koanf:"base_url"`
	Path       string        `koanf:"path"`
	QueryParam string        `koanf:"query_param"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	Timeout    time.Duration `koanf:"timeout"`
	TLS        *TLSConfig    `koanf:"tls"`
}

// Enabled reports whether pre- and post-migration checks run
func (p ProbeConfig) Enabled() bool {
	return !p.Disabled && p.BaseURL != ""
}

// RetryConfig represents the backoff policy for compute API reads
type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"` // 1 disables retries
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	FlavorTTL time.Duration `koanf:"flavor_ttl"`
}

// DaemonConfig keeps the loop alive after an iteration with nothing to do
type DaemonConfig struct {
	Enabled      bool          `koanf:"enabled"`
	IdleInterval time.Duration `koanf:"idle_interval"`
}

// ServerConfig represents the status HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	BasePath     string        `koanf:"base_path"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// EtcdConfig represents the optional coordination backend. No endpoints disables it.
type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	LockKey     string        `koanf:"lock_key"`
	StatusKey   string        `koanf:"status_key"`
	SessionTTL  time.Duration `koanf:"session_ttl"`
	TLS         *TLSConfig    `koanf:"tls"`
}

// Enabled reports whether an etcd cluster is configured
func (e EtcdConfig) Enabled() bool {
	return len(e.Endpoints) > 0
}

// TLSConfig represents TLS client configuration
type TLSConfig struct {
	CA   string `koanf:"ca"`
	Cert string `koanf:"cert"`
	Key  string `koanf:"key"`
}

// Mode returns the balancing goal implied by the configuration
func (c *Config) Mode() model.Mode {
	if c.Balancer.DrainingHost != "" {
		return model.ModeDrain
	}
	return model.ModeBalance
}

// Defaults returns the built-in configuration values
func Defaults() map[string]any {
	return map[string]any{
		"log.level":                 "info",
		"log.format":                "text",
		"openstack.endpoint_type":   "public",
		"migration.poll_interval":   5 * time.Second,
		"migration.settle_duration": 10 * time.Second,
		"migration.settle_tick":     time.Second,
		"probe.path":                "/ping.php",
		"probe.query_param":         "hostname",
		"probe.timeout":             10 * time.Second,
		"retry.max_attempts":        3,
		"retry.initial_interval":    time.Second,
		"retry.max_interval":        30 * time.Second,
		"retry.multiplier":          2.0,
		"cache.flavor_ttl":          time.Hour,
		"daemon.idle_interval":      5 * time.Minute,
		"server.read_timeout":       10 * time.Second,
		"server.write_timeout":      10 * time.Second,
		"etcd.dial_timeout":         5 * time.Second,
		"etcd.lock_key":             "hv-balancer/lock",
		"etcd.status_key":           "hv-balancer/last-run",
		"etcd.session_ttl":          30 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional YAML file at configPath,
// the environment and finally overrides (command-line flags).
func Load(configPath string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := k.Load(env.Provider(probeEnvPrefix, ".", probeEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load probe environment: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps HVB_MIGRATION__POLL_INTERVAL to migration.poll_interval
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// probeEnvKey maps SYSDRAIN_PINGURL_{BASE,USERNAME,PASSWORD} to probe keys
func probeEnvKey(s string) string {
	switch strings.TrimPrefix(s, probeEnvPrefix) {
	case "BASE":
		return "probe.base_url"
	case "USERNAME":
		return "probe.username"
	case "PASSWORD":
		return "probe.password"
	}
	return ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Migration.PollInterval <= 0 {
		return &model.ConfigurationError{Field: "migration.poll_interval", Message: "must be positive"}
	}
	if c.Migration.PollMaxAttempts < 0 {
		return &model.ConfigurationError{Field: "migration.poll_max_attempts", Message: "must not be negative"}
	}
	if c.Migration.PollTimeout < 0 {
		return &model.ConfigurationError{Field: "migration.poll_timeout", Message: "must not be negative"}
	}
	if c.Migration.SettleDuration < 0 {
		return &model.ConfigurationError{Field: "migration.settle_duration", Message: "must not be negative"}
	}
	if c.Migration.SettleDuration > 0 && c.Migration.SettleTick <= 0 {
		return &model.ConfigurationError{Field: "migration.settle_tick", Message: "must be positive"}
	}

	if c.Retry.MaxAttempts < 1 {
		return &model.ConfigurationError{Field: "retry.max_attempts", Message: "must be at least 1"}
	}
	if c.Retry.Multiplier < 1 {
		return &model.ConfigurationError{Field: "retry.multiplier", Message: "must be at least 1"}
	}

	if c.Cache.FlavorTTL <= 0 {
		return &model.ConfigurationError{Field: "cache.flavor_ttl", Message: "must be positive"}
	}

	if c.Probe.Enabled() {
		u, err := url.Parse(c.Probe.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &model.ConfigurationError{Field: "probe.base_url", Message: "must be an absolute URL"}
		}
		if c.Probe.QueryParam == "" {
			return &model.ConfigurationError{Field: "probe.query_param", Message: "is required when the probe is enabled"}
		}
		if (c.Probe.Username == "") != (c.Probe.Password == "") {
			return &model.ConfigurationError{Field: "probe.username", Message: "username and password must be set together"}
		}
	}

	if c.Daemon.Enabled && c.Daemon.IdleInterval <= 0 {
		return &model.ConfigurationError{Field: "daemon.idle_interval", Message: "must be positive when daemon mode is enabled"}
	}

	if c.Etcd.Enabled() {
		if c.Etcd.LockKey == "" {
			return &model.ConfigurationError{Field: "etcd.lock_key", Message: "is required when etcd is configured"}
		}
		if c.Etcd.SessionTTL < time.Second {
			return &model.ConfigurationError{Field: "etcd.session_ttl", Message: "must be at least 1s"}
		}
	}

	return nil
}
