package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Conflict scopes for the slot conflict detector
const (
	ConflictScopeShared    = "shared"
	ConflictScopeClinician = "clinician"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Redis configuration
	Redis RedisConfig `mapstructure:"redis"`

	// Scheduling rules
	Scheduling SchedulingConfig `mapstructure:"scheduling"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	CreateSchema    bool   `mapstructure:"create_schema"`
	SeedFile        string `mapstructure:"seed_file"`
}

// RedisConfig holds Redis configuration. An empty Host disables
// notification fan-out.
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	PoolSize      int    `mapstructure:"pool_size"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SchedulingConfig holds the engine's calendar rules
type SchedulingConfig struct {
	// TimeZone is the single facility-wide zone every "day" and "now" is evaluated in
	TimeZone                 string `mapstructure:"timezone"`
	ConflictScope            string `mapstructure:"conflict_scope"`
	StartWindowBeforeMinutes int    `mapstructure:"start_window_before_minutes"`
	StartWindowAfterMinutes  int    `mapstructure:"start_window_after_minutes"`
	HandoffTime              string `mapstructure:"handoff_time"`
	WorkdayStart             string `mapstructure:"workday_start"`
	WorkdayEnd               string `mapstructure:"workday_end"`
	SlotMinutes              int    `mapstructure:"slot_minutes"`
}

// Location resolves TimeZone
func (s SchedulingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.TimeZone)
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// TracingConfig holds tracing configuration. An empty Endpoint keeps
// spans in-process only.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/medrex")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8083)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)

	// Database defaults
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "medrex")
	v.SetDefault("database.user", "medrex")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.create_schema", false)
	v.SetDefault("database.seed_file", "")

	// Redis defaults
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.channel_prefix", "notifications")

	// Scheduling defaults
	v.SetDefault("scheduling.timezone", "UTC")
	v.SetDefault("scheduling.conflict_scope", ConflictScopeShared)
	v.SetDefault("scheduling.start_window_before_minutes", 15)
	v.SetDefault("scheduling.start_window_after_minutes", 30)
	v.SetDefault("scheduling.handoff_time", "09:00 AM")
	v.SetDefault("scheduling.workday_start", "09:00 AM")
	v.SetDefault("scheduling.workday_end", "05:00 PM")
	v.SetDefault("scheduling.slot_minutes", 30)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")

	// Tracing defaults
	v.SetDefault("tracing.service_name", "scheduling-service")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sampling_rate", 1.0)

	// Logging defaults
	v.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if tz := os.Getenv("SCHEDULING_TIMEZONE"); tz != "" {
		config.Scheduling.TimeZone = tz
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if config.Database.Password == "" {
			return fmt.Errorf("database password is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", config.Database.Driver)
	}

	if _, err := config.Scheduling.Location(); err != nil {
		return fmt.Errorf("invalid scheduling timezone %q: %w", config.Scheduling.TimeZone, err)
	}

	switch config.Scheduling.ConflictScope {
	case ConflictScopeShared, ConflictScopeClinician:
	default:
		return fmt.Errorf("unsupported conflict scope: %s", config.Scheduling.ConflictScope)
	}

	if config.Scheduling.StartWindowBeforeMinutes < 0 || config.Scheduling.StartWindowAfterMinutes < 0 {
		return fmt.Errorf("start window bounds must not be negative")
	}

	if config.Scheduling.SlotMinutes <= 0 {
		return fmt.Errorf("invalid slot length: %d", config.Scheduling.SlotMinutes)
	}

	return nil
}
