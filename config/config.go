// Package config loads the runtime configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/apache/karaf-sub011/errors"
)

// EnvPrefix prefixes environment overrides, e.g. SCR_LOGGING_LEVEL=debug.
const EnvPrefix = "SCR"

// Config is the runtime configuration.
//
// Sources in order of precedence:
//  1. Environment variables (SCR_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`
	NATS    NATSConfig    `mapstructure:"nats" yaml:"nats"`

	// Components holds initial configuration per component name. Nested
	// keys are flattened with dots, so "log: {target: ...}" and
	// "log.target: ..." are the same property. Keys are lower-cased.
	Components map[string]map[string]any `mapstructure:"components" yaml:"components,omitempty"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`
	Path    string `mapstructure:"path" validate:"omitempty,startswith=/" yaml:"path"`
}

// RuntimeConfig bounds container operations
type RuntimeConfig struct {
	// EnableTimeout bounds how long Start waits for components to settle
	EnableTimeout time.Duration `mapstructure:"enable_timeout" validate:"gt=0" yaml:"enable_timeout"`
	// ShutdownTimeout bounds how long Stop waits for disposal
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// NATSConfig configures the optional NATS connection used for
// configuration watching and state notifications. An empty URL disables
// NATS.
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url,omitempty"`
	ClientName    string        `mapstructure:"client_name" yaml:"client_name,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout,omitempty"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" validate:"gte=0" yaml:"reconnect_wait,omitempty"`
	PingInterval  time.Duration `mapstructure:"ping_interval" validate:"gte=0" yaml:"ping_interval,omitempty"`
	// DrainTimeout bounds the drain performed when the client closes
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gte=0" yaml:"drain_timeout,omitempty"`
	// ConfigBucket is the JetStream KV bucket holding component configuration
	ConfigBucket string `mapstructure:"config_bucket" validate:"excludesall=.*>" yaml:"config_bucket,omitempty"`
	// EventsSubject prefixes state change notifications
	EventsSubject string `mapstructure:"events_subject" yaml:"events_subject,omitempty"`
}

// Enabled reports whether a NATS URL is configured
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// Load loads configuration from path, the environment and defaults. An
// empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)

	if path != "" {
		if err := checkConfigFile(path); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "config path check")
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrConfigNotFound, path),
					"config", "Load", "read config file")
			}
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"config", "Load", "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "Load", "decode config")
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setViperDefaults registers every scalar key so environment overrides
// apply even when the file omits a section.
func setViperDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("runtime.enable_timeout", d.Runtime.EnableTimeout)
	v.SetDefault("runtime.shutdown_timeout", d.Runtime.ShutdownTimeout)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.client_name", d.NATS.ClientName)
	v.SetDefault("nats.timeout", d.NATS.Timeout)
	v.SetDefault("nats.max_reconnects", d.NATS.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", d.NATS.ReconnectWait)
	v.SetDefault("nats.ping_interval", d.NATS.PingInterval)
	v.SetDefault("nats.drain_timeout", d.NATS.DrainTimeout)
	v.SetDefault("nats.config_bucket", d.NATS.ConfigBucket)
	v.SetDefault("nats.events_subject", d.NATS.EventsSubject)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values and normalizes the rest.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Runtime.EnableTimeout == 0 {
		cfg.Runtime.EnableTimeout = 30 * time.Second
	}
	if cfg.Runtime.ShutdownTimeout == 0 {
		cfg.Runtime.ShutdownTimeout = 30 * time.Second
	}

	if cfg.NATS.ClientName == "" {
		cfg.NATS.ClientName = "scr"
	}
	if cfg.NATS.Timeout == 0 {
		cfg.NATS.Timeout = 5 * time.Second
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = -1
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = 2 * time.Second
	}
	if cfg.NATS.PingInterval == 0 {
		cfg.NATS.PingInterval = 30 * time.Second
	}
	if cfg.NATS.DrainTimeout == 0 {
		cfg.NATS.DrainTimeout = 10 * time.Second
	}
	if cfg.NATS.ConfigBucket == "" {
		cfg.NATS.ConfigBucket = "scr_config"
	}
	if cfg.NATS.EventsSubject == "" {
		cfg.NATS.EventsSubject = "scr.events"
	}

	for name, props := range cfg.Components {
		cfg.Components[name] = flattenProperties(props)
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	if err := validate.Struct(cfg); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "Validate", "config validation")
	}
	for name := range cfg.Components {
		if name == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: empty component name", errors.ErrInvalidConfig),
				"config", "Validate", "config validation")
		}
	}
	return nil
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "config", "Save", "marshal config")
	}
	if err := safeWriteFile(path, data); err != nil {
		return errors.Wrap(err, "config", "Save", "write config")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// ComponentProperties returns the configured properties of a component, or
// nil when it has no entry.
func (c *Config) ComponentProperties(name string) map[string]any {
	props, ok := c.Components[name]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// ChangedComponents returns the component configurations that differ
// between prev and next. A component present only in prev maps to nil.
func ChangedComponents(prev, next *Config) map[string]map[string]any {
	changed := make(map[string]map[string]any)
	for name, props := range next.Components {
		if old, ok := prev.Components[name]; !ok || !reflect.DeepEqual(old, props) {
			changed[name] = next.ComponentProperties(name)
		}
	}
	for name := range prev.Components {
		if _, ok := next.Components[name]; !ok {
			changed[name] = nil
		}
	}
	return changed
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil config", errors.ErrInvalidConfig),
			"SafeConfig", "Update", "config update")
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// flattenProperties joins nested maps into dotted keys.
func flattenProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok {
				walk(key, nested)
				continue
			}
			out[key] = v
		}
	}
	walk("", props)
	return out
}

// durationDecodeHook converts strings such as "30s" and raw numbers to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
