package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete gateway configuration.
type Configuration struct {
	Global     GlobalConfig       `yaml:"global"`
	Storage    []StorageConfig    `yaml:"storage"`
	Mounts     []MountConfig      `yaml:"mounts"`
	Multipart  MultipartConfig    `yaml:"multipart"`
	Index      IndexConfig        `yaml:"index"`
	TaskEngine TaskEngineConfig   `yaml:"task_engine"`
	Network    NetworkConfig      `yaml:"network"`
	Security   SecurityConfig     `yaml:"security"`
	Monitoring MonitoringConfig   `yaml:"monitoring"`
	Features   FeatureConfig      `yaml:"features"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	ListenAddr  string `yaml:"listen_addr"`
}

// StorageConfig describes one backend a mount can point at.
type StorageConfig struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"` // "s3" or "telegram"
	S3       *S3StorageConfig  `yaml:"s3,omitempty"`
	Telegram *TelegramConfig   `yaml:"telegram,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
}

// S3StorageConfig carries the settings needed to talk to an S3-compatible bucket.
type S3StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	URLTTLSeconds   int    `yaml:"url_ttl_seconds"`
}

// TelegramConfig carries the settings needed to proxy uploads through a bot.
type TelegramConfig struct {
	BotToken          string `yaml:"bot_token"`
	ChatID            string `yaml:"chat_id"`
	ConcurrencyLimit  int    `yaml:"concurrency_limit"`
	ChunkPollSeconds  int    `yaml:"chunk_poll_seconds"`
}

// MountConfig binds a mount id to a storage config and a root path.
type MountConfig struct {
	ID              string `yaml:"id"`
	StorageConfigID string `yaml:"storage_config_id"`
	RootPath        string `yaml:"root_path"`
}

// MultipartConfig holds the tunables for the Upload Session Coordinator (C1/C6).
type MultipartConfig struct {
	MaxObjectSize        int64         `yaml:"max_object_size"`
	MinPartSize          int64         `yaml:"min_part_size"`
	MaxPartSizeS3        int64         `yaml:"max_part_size_s3"`
	MaxPartSizeChat      int64         `yaml:"max_part_size_chat"`
	MaxParts             int           `yaml:"max_parts"`
	MultipartConcurrency int           `yaml:"multipart_concurrency"`
	SessionExpiry        time.Duration `yaml:"session_expiry"`
	URLTTL               time.Duration `yaml:"url_ttl"`
	MaxRetryAttempts     int           `yaml:"max_retry_attempts"`
}

// IndexConfig holds the tunables for the VFS Search Index (C2/C7).
type IndexConfig struct {
	DirtyBatchSize       int           `yaml:"dirty_batch_size"`
	DirtyBatchSizeMin    int           `yaml:"dirty_batch_size_min"`
	DirtyBatchSizeMax    int           `yaml:"dirty_batch_size_max"`
	MaxDirtyOpsPerEvent  int           `yaml:"max_dirty_ops_per_event"`
	InvalidationDirMax   int           `yaml:"invalidation_dir_max"`
	MetadataCacheSize    int           `yaml:"metadata_cache_size"`
	MetadataCacheTTL     time.Duration `yaml:"metadata_cache_ttl"`
	FTSMinQueryLength    int           `yaml:"fts_min_query_length"`
	SearchPageSize       int           `yaml:"search_page_size"`
}

// TaskEngineConfig holds the tunables for the Background Job Engine (C8/C9).
type TaskEngineConfig struct {
	WorkerConcurrency    int           `yaml:"worker_concurrency"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	ProgressFlushInterval time.Duration `yaml:"progress_flush_interval"`
	ProgressFlushCount   int           `yaml:"progress_flush_count"`
	JobTimeout           time.Duration `yaml:"job_timeout"`
}

// NetworkConfig represents network configuration.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig represents security settings.
type SecurityConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig represents TLS settings.
type TLSConfig struct {
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// MonitoringConfig represents monitoring settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// FeatureConfig represents feature flags.
type FeatureConfig struct {
	FTSShadow       bool `yaml:"fts_shadow"`
	MetadataCaching bool `yaml:"metadata_caching"`
	OfflineMode     bool `yaml:"offline_mode"`
}

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// NewDefault returns a configuration with sensible defaults, grounded on the
// hard limits and defaults named in the multipart upload and search index
// component designs.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 8080,
			HealthPort:  8081,
			ListenAddr:  ":8443",
		},
		Multipart: MultipartConfig{
			MaxObjectSize:        5 * 1024 * gib, // ~5 TiB
			MinPartSize:          5 * mib,
			MaxPartSizeS3:        5 * gib,
			MaxPartSizeChat:      100 * mib,
			MaxParts:             10000,
			MultipartConcurrency: 8,
			SessionExpiry:        24 * time.Hour,
			URLTTL:               15 * time.Minute,
			MaxRetryAttempts:     3,
		},
		Index: IndexConfig{
			DirtyBatchSize:      200,
			DirtyBatchSizeMin:   20,
			DirtyBatchSizeMax:   1000,
			MaxDirtyOpsPerEvent: 200,
			InvalidationDirMax:  200,
			MetadataCacheSize:   500,
			MetadataCacheTTL:    10 * time.Minute,
			FTSMinQueryLength:   3,
			SearchPageSize:      50,
		},
		TaskEngine: TaskEngineConfig{
			WorkerConcurrency:     4,
			PollInterval:          2 * time.Second,
			ProgressFlushInterval: 2 * time.Second,
			ProgressFlushCount:    200,
			JobTimeout:            2 * time.Hour,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "storage-gateway",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
		Features: FeatureConfig{
			FTSShadow:       true,
			MetadataCaching: true,
			OfflineMode:     false,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays environment variables onto the configuration.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("GATEWAY_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("GATEWAY_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("GATEWAY_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("GATEWAY_LISTEN_ADDR"); val != "" {
		c.Global.ListenAddr = val
	}

	if val := os.Getenv("GATEWAY_MULTIPART_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Multipart.MultipartConcurrency = n
		}
	}
	if val := os.Getenv("GATEWAY_TASK_WORKER_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.TaskEngine.WorkerConcurrency = n
		}
	}
	if val := os.Getenv("GATEWAY_METADATA_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Index.MetadataCacheTTL = d
		}
	}
	if val := os.Getenv("GATEWAY_OFFLINE_MODE"); val != "" {
		c.Features.OfflineMode = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration against the hard limits of the
// multipart coordinator and search index.
func (c *Configuration) Validate() error {
	if c.Multipart.MultipartConcurrency <= 0 {
		return fmt.Errorf("multipart.multipart_concurrency must be greater than 0")
	}
	if c.Multipart.MinPartSize <= 0 || c.Multipart.MaxPartSizeS3 < c.Multipart.MinPartSize {
		return fmt.Errorf("multipart.min_part_size/max_part_size_s3 are inconsistent")
	}
	if c.Multipart.MaxParts <= 0 {
		return fmt.Errorf("multipart.max_parts must be greater than 0")
	}
	if c.Index.DirtyBatchSize < c.Index.DirtyBatchSizeMin || c.Index.DirtyBatchSize > c.Index.DirtyBatchSizeMax {
		return fmt.Errorf("index.dirty_batch_size must be within [%d, %d]", c.Index.DirtyBatchSizeMin, c.Index.DirtyBatchSizeMax)
	}
	if c.TaskEngine.WorkerConcurrency <= 0 {
		return fmt.Errorf("task_engine.worker_concurrency must be greater than 0")
	}
	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// MaxPartSize returns the provider-specific max part size for a storage type.
func (c *MultipartConfig) MaxPartSize(storageType string) int64 {
	if storageType == "telegram" {
		return c.MaxPartSizeChat
	}
	return c.MaxPartSizeS3
}
