package s3

import "time"

// Config configures a storage backend for one S3-compatible storage_config.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PoolSize       int           `yaml:"pool_size"`

	UseAccelerate bool `yaml:"use_accelerate"`
	UseDualStack  bool `yaml:"use_dual_stack"`

	// URLTTL is how long a presigned part/object URL stays valid.
	URLTTL time.Duration `yaml:"url_ttl"`

	// EnableCargoShipOptimization routes whole-object uploads through
	// CargoShip's multipart transporter instead of a single PutObject call.
	EnableCargoShipOptimization bool    `yaml:"enable_cargoship_optimization"`
	TargetThroughput            float64 `yaml:"target_throughput"` // MB/s, informational
}

// DefaultConfig returns sane pooling and retry defaults for a new storage_config.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:                  3,
		ConnectTimeout:              10 * time.Second,
		RequestTimeout:              30 * time.Second,
		PoolSize:                    8,
		URLTTL:                      15 * time.Minute,
		EnableCargoShipOptimization: true,
		TargetThroughput:            800.0,
	}
}
