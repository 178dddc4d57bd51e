package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultChunkSize is the fixed chunk size shared by server and client.
const DefaultChunkSize int64 = 5 * 1024 * 1024

// Config holds the configuration for all services
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Upload   UploadConfig   `yaml:"upload"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// StorageConfig holds staging storage configuration
type StorageConfig struct {
	Type      string `yaml:"type"` // local
	LocalPath string `yaml:"local_path"`
}

// UploadConfig holds the chunked upload engine parameters
type UploadConfig struct {
	ChunkSize       int64         `yaml:"chunk_size"`
	MaxChunkBytes   int64         `yaml:"max_chunk_bytes"`
	InspectEntries  int           `yaml:"inspect_entries"`
	JanitorEnabled  bool          `yaml:"janitor_enabled"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	Retention       time.Duration `yaml:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 5000),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "stowaway"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "stowaway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "./stowaway.db"),
		},
		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			ResultTTL: getEnvDuration("REDIS_RESULT_TTL", time.Hour),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./uploads"),
		},
		Upload: UploadConfig{
			ChunkSize:       int64(getEnvInt("UPLOAD_CHUNK_SIZE", int(DefaultChunkSize))),
			MaxChunkBytes:   int64(getEnvInt("UPLOAD_MAX_CHUNK_BYTES", 10*1024*1024)),
			InspectEntries:  getEnvInt("UPLOAD_INSPECT_ENTRIES", 5),
			JanitorEnabled:  getEnvBool("UPLOAD_JANITOR_ENABLED", true),
			JanitorInterval: getEnvDuration("UPLOAD_JANITOR_INTERVAL", time.Hour),
			Retention:       getEnvDuration("UPLOAD_RETENTION", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Load returns the environment configuration, overlaid with the YAML file
// named by STOWAWAY_CONFIG when set.
func Load() (*Config, error) {
	cfg := LoadFromEnv()
	if path := os.Getenv("STOWAWAY_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file onto the configuration.
// Keys missing from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the upload parameters for consistency
func (c *Config) Validate() error {
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("upload chunk size must be positive, got %d", c.Upload.ChunkSize)
	}
	if c.Upload.MaxChunkBytes < c.Upload.ChunkSize {
		return fmt.Errorf("max chunk body (%d) is smaller than chunk size (%d)", c.Upload.MaxChunkBytes, c.Upload.ChunkSize)
	}
	if c.Upload.InspectEntries < 0 {
		return fmt.Errorf("inspect entry limit cannot be negative")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SetupLogging configures the global zerolog logger
func (l LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format == "console" || l.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
