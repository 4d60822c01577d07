package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/telemetry"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "PCESCHED"

// LegacyIntervalEnv holds the check interval in whole seconds. It predates
// the PCESCHED_ variables and is honored when PCESCHED_CHECK_INTERVAL is unset.
const LegacyIntervalEnv = "ILLUMIO_CHECK_INTERVAL"

// Config is the application configuration.
type Config struct {
	PCEURL                string        `mapstructure:"pce_url" yaml:"pce_url" json:"pce_url" validate:"omitempty,url"`
	OrgID                 string        `mapstructure:"org_id" yaml:"org_id" json:"org_id"`
	APIKey                string        `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	APISecret             string        `mapstructure:"api_secret" yaml:"api_secret" json:"api_secret"`
	TLSInsecureSkipVerify bool          `mapstructure:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" validate:"gte=0"`
	RateLimit             float64       `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	RateBurst             int           `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst" validate:"gte=0"`

	DatabasePath  string        `mapstructure:"database_path" yaml:"database_path" json:"database_path" validate:"required"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval" json:"check_interval" validate:"min=1s"`

	// Timezone is an IANA zone name used to evaluate windows. Empty means the
	// host's local zone.
	Timezone string `mapstructure:"timezone" yaml:"timezone,omitempty" json:"timezone,omitempty"`

	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine" json:"engine"`
	Policy  PolicyConfig  `mapstructure:"policy" yaml:"policy" json:"policy"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http" json:"http"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// EngineConfig tunes reconciliation.
type EngineConfig struct {
	// RetainFailedExpiry keeps an expired one-time schedule until the object
	// has actually been disabled.
	RetainFailedExpiry bool `mapstructure:"retain_failed_expiry" yaml:"retain_failed_expiry" json:"retain_failed_expiry"`
}

// PolicyConfig lists admission policy files or directories.
type PolicyConfig struct {
	Paths []string `mapstructure:"paths" yaml:"paths,omitempty" json:"paths,omitempty"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen" validate:"required"`

	// CheckTimeout bounds a pass started through the API.
	CheckTimeout time.Duration `mapstructure:"check_timeout" yaml:"check_timeout" json:"check_timeout" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"oneof=console json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" json:"listen" validate:"required_if=Enabled true"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter" json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
}

// Default returns the configuration used when no file or environment
// overrides a key.
func Default() *Config {
	return &Config{
		Timeout:       30 * time.Second,
		DatabasePath:  "pcesched.db",
		CheckInterval: 300 * time.Second,
		HTTP:          HTTPConfig{Listen: ":5000", CheckTimeout: 5 * time.Minute},
		Log:           LogConfig{Level: "info", Format: "console"},
		Metrics:       MetricsConfig{Enabled: true, Listen: ":9108"},
		Tracing:       TracingConfig{Exporter: "none"},
	}
}

var validate = newValidator()

// newValidator reports fields by their config key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field formats. PCE credentials may be empty here; commands
// that talk to the PCE call ValidatePCE as well.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid configuration: timezone: %w", err)
		}
	}
	return nil
}

// ValidatePCE checks that the PCE connection settings are present.
func (c *Config) ValidatePCE() error {
	pcfg := c.ToPCEConfig()
	return pcfg.Validate()
}

// fieldPath turns "Config.log.level" into "log.level".
func fieldPath(ns string) string {
	return strings.TrimPrefix(ns, "Config.")
}

// hostLocal is the process's original local zone.
var hostLocal = time.Local

// Location returns the zone schedules are evaluated in. Without a timezone
// that is the host's zone, even after ApplyTimezone replaced time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return hostLocal, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ApplyTimezone sets time.Local to the configured zone so that zone-less
// expiry timestamps are read and written in it. An empty timezone restores
// the host's zone.
func (c *Config) ApplyTimezone() error {
	if c.Timezone == "" {
		time.Local = hostLocal
		return nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	time.Local = loc
	return nil
}

// ToPCEConfig returns the PCE client settings.
func (c *Config) ToPCEConfig() pce.Config {
	return pce.Config{
		BaseURL:            strings.TrimRight(c.PCEURL, "/"),
		OrgID:              c.OrgID,
		APIKey:             c.APIKey,
		APISecret:          c.APISecret,
		Timeout:            c.Timeout,
		InsecureSkipVerify: c.TLSInsecureSkipVerify,
		RateLimit:          c.RateLimit,
		RateBurst:          c.RateBurst,
	}
}

// ToTelemetryConfig returns the telemetry settings for version.
func (c *Config) ToTelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.Listen
	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	if !tc.Tracing.Enabled {
		tc.Tracing.Exporter = "none"
	}
	return tc
}

// Redacted returns a copy with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Policy.Paths = append([]string(nil), c.Policy.Paths...)
	if out.APIKey != "" {
		out.APIKey = mask(out.APIKey)
	}
	if out.APISecret != "" {
		out.APISecret = "********"
	}
	return &out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

// WriteFile writes cfg as YAML to path. Existing files are not overwritten
// unless force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// The file holds the API secret.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Loader reads configuration from a file, a .env file and the environment.
type Loader struct {
	// Path is the config file. When empty, the default locations are searched.
	Path string

	// EnvFile is loaded with godotenv before the environment is read. A
	// missing file is ignored.
	EnvFile string

	v    *viper.Viper
	used string
}

// NewLoader creates a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{Path: path, EnvFile: ".env"}
}

// Load reads configuration from path using the default loader.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// ConfigFileUsed returns the file read by the last Load, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.used
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := l.Path
	if path == "" {
		path = findConfigFile()
	}
	l.used = ""
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		l.used = path
	}

	if err := applyLegacyInterval(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.PCEURL = strings.TrimRight(cfg.PCEURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.v = v
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("pce_url", d.PCEURL)
	v.SetDefault("org_id", d.OrgID)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("api_secret", d.APISecret)
	v.SetDefault("tls_insecure_skip_verify", d.TLSInsecureSkipVerify)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_burst", d.RateBurst)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("check_interval", d.CheckInterval)
	v.SetDefault("timezone", d.Timezone)
	v.SetDefault("engine.retain_failed_expiry", d.Engine.RetainFailedExpiry)
	v.SetDefault("policy.paths", append([]string{}, d.Policy.Paths...))
	v.SetDefault("http.listen", d.HTTP.Listen)
	v.SetDefault("http.check_timeout", d.HTTP.CheckTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
}

// applyLegacyInterval reads ILLUMIO_CHECK_INTERVAL as whole seconds.
func applyLegacyInterval(v *viper.Viper) error {
	if _, ok := os.LookupEnv(EnvPrefix + "_CHECK_INTERVAL"); ok {
		return nil
	}
	raw, ok := os.LookupEnv(LegacyIntervalEnv)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", LegacyIntervalEnv, raw, err)
	}
	v.Set("check_interval", time.Duration(secs)*time.Second)
	return nil
}

// searchPaths lists candidate config files in priority order. config.json is
// the file written by earlier tools.
func searchPaths() []string {
	paths := []string{"pcesched.yaml", "pcesched.yml", "pcesched.json", "config.json"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "pcesched", "config.yaml"))
	}
	return append(paths, "/etc/pcesched/config.yaml")
}

func findConfigFile() string {
	for _, p := range searchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// DefaultPath is where config init writes when no path is given.
func DefaultPath() string {
	return "pcesched.yaml"
}
