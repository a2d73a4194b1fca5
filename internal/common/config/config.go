// Package config loads the daemon configuration. Sources from lowest to
// highest precedence: built-in defaults, an openwork.yaml file, and
// OPENWORK_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for openwork.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver selects between the embedded SQLite store (default) and PostgreSQL.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite3 or pgx
	Path     string `mapstructure:"path"`   // SQLite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig tunes the NATS event bus backend. An empty URL keeps events on
// the in-process bus instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// RuntimeConfig holds configuration for the managed jarvis runtime:
// where versions are installed, how child processes are addressed, and
// how often health is probed.
type RuntimeConfig struct {
	// RootDir is the directory that holds staged and promoted runtime versions.
	RootDir string `mapstructure:"rootDir"`

	// ManifestPath overrides the built-in release manifest when set.
	ManifestPath string `mapstructure:"manifestPath"`

	// BinaryName is the runtime executable name inside an install root.
	BinaryName string `mapstructure:"binaryName"`

	// LogDir is where per-deployment runtime output logs are written.
	LogDir string `mapstructure:"logDir"`

	// HealthIntervalMs is the delay between health probes (floor 2000).
	HealthIntervalMs int `mapstructure:"healthIntervalMs"`

	// HealthTimeoutMs is the per-probe request timeout (floor 1000).
	HealthTimeoutMs int `mapstructure:"healthTimeoutMs"`

	// GatewayHost is the host runtime child processes bind to.
	GatewayHost string `mapstructure:"gatewayHost"`

	// PortRangeStart/PortRangeEnd bound the ports handed to runtime children
	// that have no pinned gateway port.
	PortRangeStart int `mapstructure:"portRangeStart"`
	PortRangeEnd   int `mapstructure:"portRangeEnd"`

	// InstallTimeoutMinutes bounds a full install (build or download) run.
	InstallTimeoutMinutes int `mapstructure:"installTimeoutMinutes"`

	// CargoBin is the cargo executable used for source builds.
	CargoBin string `mapstructure:"cargoBin"`

	// EventRetentionHours bounds how long persisted runtime events are kept.
	EventRetentionHours int `mapstructure:"eventRetentionHours"`

	// DefaultProvider/DefaultModel seed new deployments that omit them.
	DefaultProvider string `mapstructure:"defaultProvider"`
	DefaultModel    string `mapstructure:"defaultModel"`
}

// PolicyConfig holds capability catalog configuration.
type PolicyConfig struct {
	// CatalogPath points at a YAML catalog of global skills/tools/connectors.
	// Empty means use the built-in catalog.
	CatalogPath string `mapstructure:"catalogPath"`
}

// LoggingConfig mirrors the logger package's settings as config file keys.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration converts ReadTimeout seconds to a Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration converts WriteTimeout seconds to a Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// HealthInterval converts HealthIntervalMs to a Duration.
func (r *RuntimeConfig) HealthInterval() time.Duration {
	return time.Duration(r.HealthIntervalMs) * time.Millisecond
}

// HealthTimeout converts HealthTimeoutMs to a Duration.
func (r *RuntimeConfig) HealthTimeout() time.Duration {
	return time.Duration(r.HealthTimeoutMs) * time.Millisecond
}

// InstallTimeout converts InstallTimeoutMinutes to a Duration.
func (r *RuntimeConfig) InstallTimeout() time.Duration {
	return time.Duration(r.InstallTimeoutMinutes) * time.Minute
}

// DSN renders the keyword/value connection string pgx expects.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// defaultLogFormat picks json when the daemon looks like it is running in a
// cluster or a declared production environment, console text otherwise.
func defaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("OPENWORK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultHome(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".openwork", sub)
	}
	return filepath.Join(home, ".openwork", sub)
}

// setDefaults seeds every key so Unmarshal always yields a fully populated
// Config.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - embedded SQLite unless a postgres driver is chosen
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", filepath.Join(defaultHome(""), "openwork.db"))
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "openwork")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "openwork")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// An empty NATS URL selects the in-process bus.
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "openwork-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("runtime.rootDir", defaultHome("runtime"))
	v.SetDefault("runtime.manifestPath", "")
	v.SetDefault("runtime.binaryName", "jarvis")
	v.SetDefault("runtime.logDir", defaultHome("logs"))
	v.SetDefault("runtime.healthIntervalMs", 5000)
	v.SetDefault("runtime.healthTimeoutMs", 2500)
	v.SetDefault("runtime.gatewayHost", "127.0.0.1")
	v.SetDefault("runtime.portRangeStart", 18800)
	v.SetDefault("runtime.portRangeEnd", 18899)
	v.SetDefault("runtime.installTimeoutMinutes", 20)
	v.SetDefault("runtime.cargoBin", "cargo")
	v.SetDefault("runtime.eventRetentionHours", 336)
	v.SetDefault("runtime.defaultProvider", "anthropic")
	v.SetDefault("runtime.defaultModel", "")

	v.SetDefault("policy.catalogPath", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", defaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from the default locations: openwork.yaml in the
// current directory, ~/.openwork/, or /etc/openwork/, with OPENWORK_
// environment variables layered on top.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is Load with an extra directory searched first for
// openwork.yaml.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OPENWORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv cannot map camelCase keys to SNAKE_CASE names on its own,
	// so keys whose spelling differs get explicit bindings.
	_ = v.BindEnv("database.dbName", "OPENWORK_DATABASE_DB_NAME")
	_ = v.BindEnv("runtime.rootDir", "OPENWORK_RUNTIME_ROOT_DIR")
	_ = v.BindEnv("runtime.manifestPath", "OPENWORK_RUNTIME_MANIFEST_PATH")
	_ = v.BindEnv("runtime.gatewayHost", "OPENWORK_RUNTIME_GATEWAY_HOST")
	_ = v.BindEnv("policy.catalogPath", "OPENWORK_POLICY_CATALOG_PATH")

	v.SetConfigName("openwork")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".openwork"))
	}
	v.AddConfigPath("/etc/openwork/")

	// A missing config file is fine; defaults plus env cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// validate rejects configs the daemon cannot start with. Database fields are
// checked only for the driver actually selected.
func validate(cfg *Config) error {
	var errs []string
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateRuntime(&cfg.Runtime)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s *ServerConfig) []string {
	var errs []string
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	return errs
}

func validateDatabase(d *DatabaseConfig) []string {
	var errs []string
	switch d.Driver {
	case "sqlite3":
		if d.Path == "" {
			errs = append(errs, "database.path is required for the sqlite3 driver")
		}
	case "pgx":
		if d.Host == "" {
			errs = append(errs, "database.host is required for the pgx driver")
		}
		if d.Port <= 0 || d.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if d.User == "" {
			errs = append(errs, "database.user is required for the pgx driver")
		}
		if d.DBName == "" {
			errs = append(errs, "database.dbName is required for the pgx driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite3, pgx")
	}
	return errs
}

func validateRuntime(r *RuntimeConfig) []string {
	var errs []string
	if r.RootDir == "" {
		errs = append(errs, "runtime.rootDir is required")
	}
	if r.BinaryName == "" {
		errs = append(errs, "runtime.binaryName is required")
	}
	if r.HealthIntervalMs <= 0 {
		errs = append(errs, "runtime.healthIntervalMs must be positive")
	}
	if r.HealthTimeoutMs <= 0 {
		errs = append(errs, "runtime.healthTimeoutMs must be positive")
	}
	if r.PortRangeStart <= 0 || r.PortRangeEnd > 65535 || r.PortRangeStart > r.PortRangeEnd {
		errs = append(errs, "runtime.portRangeStart/portRangeEnd must describe a valid port range")
	}
	return errs
}

func validateLogging(l *LoggingConfig) []string {
	var errs []string
	if !oneOf(l.Level, "debug", "info", "warn", "error") {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if !oneOf(l.Format, "json", "text") {
		errs = append(errs, "logging.format must be one of: json, text")
	}
	return errs
}

func oneOf(value string, allowed ...string) bool {
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
