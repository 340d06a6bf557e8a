// Package config assembles a shotlocker service and its backends from
// options and environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	memorylog "github.com/tendant/shotlocker/pkg/shotlocker/eventlog/memory"
	postgreslog "github.com/tendant/shotlocker/pkg/shotlocker/eventlog/postgres"
	"github.com/tendant/shotlocker/pkg/shotlocker/pipeline"
	memorystorage "github.com/tendant/shotlocker/pkg/shotlocker/storage/memory"
	s3storage "github.com/tendant/shotlocker/pkg/shotlocker/storage/s3"
	"github.com/tendant/shotlocker/pkg/shotlocker/workflow/local"
	sfnworkflow "github.com/tendant/shotlocker/pkg/shotlocker/workflow/sfn"
)

// UploadFunctionName is the deployed name of the upload trigger function
const UploadFunctionName = "ShotLocker-Upload-Edit"

// Config holds everything needed to build a running service.
type Config struct {
	// Server
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	// Locker layout
	Namespace        string   `env:"SHOTLOCKER_NAMESPACE" env-default:"ShotLocker"`
	ReservedPrefixes []string `env:"SHOTLOCKER_RESERVED_PREFIXES" env-separator:","`

	// AWS
	Region          string `env:"AWS_REGION" env-default:"us-east-1"`
	Partition       string `env:"SHOTLOCKER_PARTITION"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	// Object store: "memory" or "s3"
	StorageBackend string   `env:"SHOTLOCKER_STORAGE" env-default:"memory"`
	S3Endpoint     string   `env:"AWS_S3_ENDPOINT"`
	S3UsePathStyle bool     `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	EnableSSE      bool     `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm   string   `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID    string   `env:"AWS_S3_SSE_KMS_KEY_ID"`
	MemoryBuckets  []string `env:"SHOTLOCKER_MEMORY_BUCKETS" env-separator:","`

	// Event log: "memory" or "postgres"
	EventLogBackend string `env:"SHOTLOCKER_EVENT_LOG" env-default:"memory"`
	DatabaseURL     string `env:"DATABASE_URL"`
	DBSchema        string `env:"DB_SCHEMA" env-default:"shotlocker"`

	// Workflows: "local" or "sfn"
	WorkflowBackend       string `env:"SHOTLOCKER_WORKFLOW" env-default:"local"`
	ProcessEditARN        string `env:"SHOTLOCKER_PROCESS_EDIT_ARN"`
	AddEditAccessARN      string `env:"SHOTLOCKER_ADD_EDIT_ACCESS_ARN"`
	RemoveEditAccessARN   string `env:"SHOTLOCKER_REMOVE_EDIT_ACCESS_ARN"`
	BucketDisableARN      string `env:"SHOTLOCKER_BUCKET_DISABLE_ARN"`
	UploadFunctionARN     string `env:"SHOTLOCKER_UPLOAD_FUNCTION_ARN"`
	AsyncLocalWorkflows   bool   `env:"SHOTLOCKER_LOCAL_ASYNC" env-default:"false"`
	ResolveUploadFunction bool   `env:"SHOTLOCKER_RESOLVE_UPLOAD_FUNCTION" env-default:"true"`

	// Tagging
	TagConcurrency int           `env:"SHOTLOCKER_TAG_CONCURRENCY" env-default:"8"`
	TagTimeout     time.Duration `env:"SHOTLOCKER_TAG_TIMEOUT" env-default:"30s"`
	MaxFrames      int           `env:"SHOTLOCKER_MAX_FRAMES" env-default:"100000"`
}

// Option configures a Config
type Option func(*Config) error

// Load builds a Config from defaults and the given options, then validates it.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                  "8080",
		Environment:           "development",
		LogLevel:              "info",
		Namespace:             shotlocker.DefaultNamespace,
		Region:                "us-east-1",
		StorageBackend:        "memory",
		SSEAlgorithm:          "AES256",
		EventLogBackend:       "memory",
		DBSchema:              "shotlocker",
		WorkflowBackend:       "local",
		ResolveUploadFunction: true,
		TagConcurrency:        shotlocker.DefaultTagConcurrency,
		TagTimeout:            shotlocker.DefaultTagTimeout,
		MaxFrames:             shotlocker.DefaultMaxFrames,
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if c.Namespace == "" || strings.Contains(c.Namespace, "/") {
		return fmt.Errorf("namespace must be a single non-empty path segment, got %q", c.Namespace)
	}

	switch c.StorageBackend {
	case "memory", "s3":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
	if c.EnableSSE && c.SSEAlgorithm != "AES256" && c.SSEAlgorithm != "aws:kms" {
		return fmt.Errorf("unsupported SSE algorithm: %s", c.SSEAlgorithm)
	}

	switch c.EventLogBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when event log is postgres")
		}
	default:
		return fmt.Errorf("unsupported event log backend: %s", c.EventLogBackend)
	}

	switch c.WorkflowBackend {
	case "local":
	case "sfn":
		for name, arn := range c.machineARNs() {
			if arn == "" {
				return fmt.Errorf("state machine ARN for %s is required when workflow is sfn", name)
			}
		}
	default:
		return fmt.Errorf("unsupported workflow backend: %s", c.WorkflowBackend)
	}

	if c.TagConcurrency <= 0 {
		return fmt.Errorf("tag concurrency must be positive, got %d", c.TagConcurrency)
	}
	if c.TagTimeout <= 0 {
		return fmt.Errorf("tag timeout must be positive, got %s", c.TagTimeout)
	}
	if c.MaxFrames <= 0 {
		return fmt.Errorf("max frames must be positive, got %d", c.MaxFrames)
	}
	return nil
}

func (c *Config) machineARNs() map[shotlocker.Machine]string {
	return map[shotlocker.Machine]string{
		shotlocker.MachineProcessEdit:      c.ProcessEditARN,
		shotlocker.MachineAddEditAccess:    c.AddEditAccessARN,
		shotlocker.MachineRemoveEditAccess: c.RemoveEditAccessARN,
		shotlocker.MachineBucketDisable:    c.BucketDisableARN,
	}
}

// needsAWS reports whether any backend talks to AWS
func (c *Config) needsAWS() bool {
	return c.StorageBackend == "s3" || c.WorkflowBackend == "sfn"
}

// Logger returns a JSON logger at the configured level.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Runtime is a fully wired service with its backends
type Runtime struct {
	Service  *shotlocker.Service
	Pipeline *pipeline.Pipeline
	Workflow shotlocker.Workflow
	Store    shotlocker.ObjectStore
	Events   shotlocker.EventLog

	// Local is set when workflows run in-process
	Local *local.Runner

	closers []func()
}

// Close releases pooled connections and waits for local executions.
func (r *Runtime) Close() {
	if r.Local != nil {
		r.Local.Wait()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildService creates the service and every backend the config names.
func (c *Config) BuildService(ctx context.Context) (*Runtime, error) {
	logger := c.Logger()
	rt := &Runtime{}

	var awsCfg aws.Config
	if c.needsAWS() {
		var err error
		awsCfg, err = s3storage.LoadAWSConfig(ctx, c.Region, c.AccessKeyID, c.SecretAccessKey)
		if err != nil {
			return nil, err
		}
	}

	store, err := c.buildStore(awsCfg)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	events, closeEvents, err := c.buildEventLog(ctx)
	if err != nil {
		return nil, err
	}
	rt.Events = events
	if closeEvents != nil {
		rt.closers = append(rt.closers, closeEvents)
	}

	switch c.WorkflowBackend {
	case "sfn":
		rt.Workflow = sfnworkflow.NewFromConfig(awsCfg, c.machineARNs())
	default:
		rt.Local = local.New(local.WithAsync(c.AsyncLocalWorkflows), local.WithLogger(logger))
		rt.Workflow = rt.Local
	}

	partition, uploadARN := c.Partition, c.UploadFunctionARN
	if c.StorageBackend == "s3" && c.ResolveUploadFunction && (partition == "" || uploadARN == "") {
		id, err := CallerIdentity(ctx, sts.NewFromConfig(awsCfg))
		if err != nil {
			rt.Close()
			return nil, err
		}
		if partition == "" {
			partition = id.Partition
		}
		if uploadARN == "" {
			uploadARN = id.FunctionARN(c.Region, UploadFunctionName)
		}
	}
	if partition == "" {
		partition = shotlocker.DefaultPartition
	}

	options := []shotlocker.Option{
		shotlocker.WithObjectStore(store),
		shotlocker.WithWorkflow(rt.Workflow),
		shotlocker.WithEventLog(events),
		shotlocker.WithLogger(logger),
		shotlocker.WithNamespace(c.Namespace),
		shotlocker.WithPartition(partition),
		shotlocker.WithRegion(c.Region),
		shotlocker.WithUploadFunctionARN(uploadARN),
		shotlocker.WithTagConcurrency(c.TagConcurrency),
		shotlocker.WithTagTimeout(c.TagTimeout),
		shotlocker.WithMaxFrames(c.MaxFrames),
	}
	if len(c.ReservedPrefixes) > 0 {
		options = append(options, shotlocker.WithReservedPrefixes(c.ReservedPrefixes))
	}
	svc, err := shotlocker.New(options...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	rt.Service = svc
	rt.Pipeline = pipeline.New(svc)
	if rt.Local != nil {
		rt.Local.Register(rt.Pipeline.Machines())
	}
	return rt, nil
}

func (c *Config) buildStore(awsCfg aws.Config) (shotlocker.ObjectStore, error) {
	switch c.StorageBackend {
	case "memory":
		store := memorystorage.New()
		for _, b := range c.MemoryBuckets {
			if b = strings.TrimSpace(b); b != "" {
				store.CreateBucket(b)
			}
		}
		return store, nil
	case "s3":
		return s3storage.NewFromConfig(awsCfg, s3storage.Config{
			Region:          c.Region,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			Endpoint:        c.S3Endpoint,
			UsePathStyle:    c.S3UsePathStyle,
			EnableSSE:       c.EnableSSE,
			SSEAlgorithm:    c.SSEAlgorithm,
			SSEKMSKeyID:     c.SSEKMSKeyID,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
}

func (c *Config) buildEventLog(ctx context.Context) (shotlocker.EventLog, func(), error) {
	if c.EventLogBackend != "postgres" {
		return memorylog.New(), nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database url: %w", err)
	}
	if c.DBSchema != "" {
		schema := c.DBSchema
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolCfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	log := postgreslog.NewWithPool(pool)
	if err := log.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return log, pool.Close, nil
}
