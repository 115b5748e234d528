package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Queue    QueueConfig    `yaml:"queue"`
	Pool     PoolConfig     `yaml:"pool"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Security SecurityConfig `yaml:"security"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// DataConfig locates the on-disk state owned by each tier.
type DataConfig struct {
	Dir         string `yaml:"dir"`          // root directory for all persisted state
	NameDBPath  string `yaml:"name_db_path"` // bbolt file for the name resolver
	UpdatesDir  string `yaml:"updates_dir"`  // per-index sqlite job stores + payloads
	IndexesDir  string `yaml:"indexes_dir"`  // per-index bleve engine state
}

// QueueConfig bounds the update store's job queue and payload streaming.
type QueueConfig struct {
	Depth           int           `yaml:"depth"`             // mailbox capacity of the name resolver and each update store actor; calls block while it is full
	PayloadChunkKiB int           `yaml:"payload_chunk_kib"` // streaming write chunk size
	RecoveryScan    bool          `yaml:"recovery_scan"`      // re-enqueue jobs left Processing on restart
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// PoolConfig sizes the blocking worker pool used to offload engine and
// archive calls from the tier actor loops.
type PoolConfig struct {
	Workers  int `yaml:"workers"`
	Capacity int `yaml:"capacity"` // pending task queue depth
}

// SnapshotConfig controls periodic, coordinated snapshotting.
type SnapshotConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	Period  time.Duration `yaml:"period"`
}

// SecurityConfig gates production-mode enforcement of a master key, the
// way meilisearch-http requires MEILI_MASTER_KEY outside dev mode.
type SecurityConfig struct {
	MasterKey  string `yaml:"master_key"`
	Production bool   `yaml:"production"`
}

type MetricsConfig struct {
	Enabled              bool          `yaml:"enabled"`
	UpdateInterval       time.Duration `yaml:"update_interval"`
	EnableGoMetrics      bool          `yaml:"enable_go_metrics"`
	EnableProcessMetrics bool          `yaml:"enable_process_metrics"`
}

type LoggerConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from YAML file first, then environment variables with defaults
func Load() (*Config, error) {
	cfg, err := loadFromYAML()
	if err != nil {
		cfg = loadFromEnv()
	} else {
		mergeWithEnv(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadFromYAML() (*Config, error) {
	configPath := getEnvOrDefault("CONFIG_FILE", "config.yml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

func loadFromEnv() *Config {
	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	return &Config{
		Data: DataConfig{
			Dir:        dataDir,
			NameDBPath: getEnvOrDefault("NAME_DB_PATH", dataDir+"/name_store/names.db"),
			UpdatesDir: getEnvOrDefault("UPDATES_DIR", dataDir+"/updates"),
			IndexesDir: getEnvOrDefault("INDEXES_DIR", dataDir+"/indexes"),
		},
		Queue: QueueConfig{
			Depth:           getEnvOrDefaultInt("QUEUE_DEPTH", 100),
			PayloadChunkKiB: getEnvOrDefaultInt("QUEUE_PAYLOAD_CHUNK_KIB", 256),
			RecoveryScan:    getEnvOrDefaultBool("QUEUE_RECOVERY_SCAN", true),
			ShutdownGrace:   getEnvOrDefaultDuration("QUEUE_SHUTDOWN_GRACE", 30*time.Second),
		},
		Pool: PoolConfig{
			Workers:  getEnvOrDefaultInt("POOL_WORKERS", 4),
			Capacity: getEnvOrDefaultInt("POOL_CAPACITY", 256),
		},
		Snapshot: SnapshotConfig{
			Enabled: getEnvOrDefaultBool("SNAPSHOT_ENABLED", false),
			Dir:     getEnvOrDefault("SNAPSHOT_DIR", dataDir+"/../snapshots"),
			Period:  getEnvOrDefaultDuration("SNAPSHOT_PERIOD", time.Hour),
		},
		Security: SecurityConfig{
			MasterKey:  getEnvOrDefault("MEILI_MASTER_KEY", ""),
			Production: getEnvOrDefault("ENV", "development") == "production",
		},
		Metrics: MetricsConfig{
			Enabled:              getEnvOrDefaultBool("METRICS_ENABLED", true),
			UpdateInterval:       getEnvOrDefaultDuration("METRICS_UPDATE_INTERVAL", 15*time.Second),
			EnableGoMetrics:      getEnvOrDefaultBool("METRICS_ENABLE_GO", true),
			EnableProcessMetrics: getEnvOrDefaultBool("METRICS_ENABLE_PROCESS", true),
		},
		Logger: LoggerConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "json"),
			Output:     getEnvOrDefault("LOG_OUTPUT", "stdout"),
			FilePath:   getEnvOrDefault("LOG_FILE_PATH", "./logs/app.log"),
			MaxSize:    getEnvOrDefaultInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvOrDefaultInt("LOG_MAX_BACKUPS", 3),
			MaxAge:     getEnvOrDefaultInt("LOG_MAX_AGE", 30),
			Compress:   getEnvOrDefaultBool("LOG_COMPRESS", true),
		},
	}
}

// mergeWithEnv merges environment variables into the YAML config (env vars take precedence)
func mergeWithEnv(cfg *Config) {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	if p := os.Getenv("NAME_DB_PATH"); p != "" {
		cfg.Data.NameDBPath = p
	}
	if p := os.Getenv("UPDATES_DIR"); p != "" {
		cfg.Data.UpdatesDir = p
	}
	if p := os.Getenv("INDEXES_DIR"); p != "" {
		cfg.Data.IndexesDir = p
	}

	if v := os.Getenv("QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Depth = n
		}
	}
	if v := os.Getenv("QUEUE_PAYLOAD_CHUNK_KIB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.PayloadChunkKiB = n
		}
	}
	if v := os.Getenv("QUEUE_RECOVERY_SCAN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Queue.RecoveryScan = b
		}
	}
	if v := os.Getenv("QUEUE_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.ShutdownGrace = d
		}
	}

	if v := os.Getenv("POOL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Workers = n
		}
	}
	if v := os.Getenv("POOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Capacity = n
		}
	}

	if v := os.Getenv("SNAPSHOT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Snapshot.Enabled = b
		}
	}
	if v := os.Getenv("SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
	if v := os.Getenv("SNAPSHOT_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Snapshot.Period = d
		}
	}

	if v := os.Getenv("MEILI_MASTER_KEY"); v != "" {
		cfg.Security.MasterKey = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Security.Production = v == "production"
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("METRICS_UPDATE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Metrics.UpdateInterval = d
		}
	}
	if v := os.Getenv("METRICS_ENABLE_GO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.EnableGoMetrics = b
		}
	}
	if v := os.Getenv("METRICS_ENABLE_PROCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.EnableProcessMetrics = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("LOG_FILE_PATH"); v != "" {
		cfg.Logger.FilePath = v
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("invalid queue depth: %d", c.Queue.Depth)
	}

	if c.Pool.Workers <= 0 {
		return fmt.Errorf("invalid pool worker count: %d", c.Pool.Workers)
	}

	if c.Logger.Level != "debug" && c.Logger.Level != "info" && c.Logger.Level != "warn" && c.Logger.Level != "error" {
		return fmt.Errorf("unsupported log level: %s", c.Logger.Level)
	}

	if c.Logger.Format != "json" && c.Logger.Format != "text" {
		return fmt.Errorf("unsupported log format: %s", c.Logger.Format)
	}

	if c.Security.Production && c.Security.MasterKey == "" {
		return fmt.Errorf("MEILI_MASTER_KEY must be set in production mode")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
