package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Matching   MatchingConfig   `yaml:"matching"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// LegacyEndpoint serves POST /exec for the browser kiosk page.
	LegacyEndpoint bool `yaml:"legacy_endpoint"`
}

// StorageConfig selects the durable backend for the enrollment store and attendance ledger.
type StorageConfig struct {
	Driver     string `yaml:"driver"` // memory, sqlite, postgres
	SQLitePath string `yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig configures attendance event fan-out. An empty URL disables it.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// MinIOConfig configures snapshot storage. An empty endpoint disables it.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type MatchingConfig struct {
	Dimension int     `yaml:"dimension"`
	Threshold float64 `yaml:"threshold"`
	// Index is "exact" (full scan) or "hnsw" (approximate candidate pre-filter).
	Index           string `yaml:"index"`
	IndexCandidates int    `yaml:"index_candidates"`
	// IndexRefresh periodically rebuilds the hnsw index to pick up writes from other replicas.
	IndexRefresh time.Duration `yaml:"index_refresh"`
}

type AttendanceConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A missing file is not an error: env overrides and defaults still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service can't run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Matching.Index {
	case "exact", "hnsw":
	default:
		return fmt.Errorf("unknown matching index %q", c.Matching.Index)
	}
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("matching threshold must be positive, got %v", c.Matching.Threshold)
	}
	if c.Attendance.Cooldown < 0 {
		return fmt.Errorf("attendance cooldown must not be negative, got %v", c.Attendance.Cooldown)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "attendance.db"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attendance"
	}
	if cfg.Matching.Dimension == 0 {
		cfg.Matching.Dimension = 128
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.5
	}
	if cfg.Matching.Index == "" {
		cfg.Matching.Index = "exact"
	}
	if cfg.Matching.IndexCandidates == 0 {
		cfg.Matching.IndexCandidates = 32
	}
	if cfg.Matching.IndexRefresh == 0 {
		cfg.Matching.IndexRefresh = time.Minute
	}
	if cfg.Attendance.Cooldown == 0 {
		cfg.Attendance.Cooldown = 60 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ATT_LEGACY_ENDPOINT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.LegacyEndpoint = b
		}
	}
	if v := os.Getenv("ATT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("ATT_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ATT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATT_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
	if v := os.Getenv("ATT_MATCH_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.Dimension = n
		}
	}
	if v := os.Getenv("ATT_MATCH_INDEX"); v != "" {
		cfg.Matching.Index = v
	}
	if v := os.Getenv("ATT_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Attendance.Cooldown = d
		}
	}
	if v := os.Getenv("ATT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
