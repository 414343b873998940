package s3

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cargoshipconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
)

// clientManager owns the S3 client, its connection pool, and the optional
// CargoShip transporter used for direct (non-multipart) uploads.
type clientManager struct {
	client      *s3.Client
	presign     *s3.PresignClient
	pool        *ConnectionPool
	transporter *cargoships3.Transporter
	cfg         *Config
	logger      *slog.Logger
}

func newClientManager(ctx context.Context, cfg *Config, logger *slog.Logger) (*clientManager, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	opts := []func(*awssdkconfig.LoadOptions) error{
		awssdkconfig.WithRegion(cfg.Region),
		awssdkconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awssdkconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
		if cfg.UseDualStack {
			o.UseDualstack = true
		}
	})

	pool, err := NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "s3-driver", "bucket", cfg.Bucket)

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShipOptimization {
		cargoCfg := cargoshipconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoshipconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        cfg.PoolSize,
		}
		transporter = cargoships3.NewTransporter(client, cargoCfg)
		logger.Info("cargoship direct-upload optimization enabled",
			"target_throughput", cfg.TargetThroughput, "concurrency", cfg.PoolSize)
	}

	return &clientManager{
		client:      client,
		presign:     s3.NewPresignClient(client),
		pool:        pool,
		transporter: transporter,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

func (m *clientManager) healthCheck(ctx context.Context) error {
	client := m.pool.Get()
	defer m.pool.Put(client)
	if client == nil {
		client = m.client
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (m *clientManager) close() error {
	return m.pool.Close()
}
