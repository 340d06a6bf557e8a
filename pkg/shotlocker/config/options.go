package config

import (
	"fmt"
	"time"
)

// WithPort sets the HTTP listen port
func WithPort(port string) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithNamespace sets the edit folder prefix
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		c.Namespace = ns
		return nil
	}
}

// WithRegion sets the AWS region
func WithRegion(region string) Option {
	return func(c *Config) error {
		c.Region = region
		return nil
	}
}

// WithMemoryStorage uses the in-memory object store with the named buckets.
func WithMemoryStorage(buckets ...string) Option {
	return func(c *Config) error {
		c.StorageBackend = "memory"
		c.MemoryBuckets = buckets
		return nil
	}
}

// WithS3Storage uses Amazon S3, or a compatible endpoint when one is given.
func WithS3Storage(endpoint string, usePathStyle bool) Option {
	return func(c *Config) error {
		c.StorageBackend = "s3"
		c.S3Endpoint = endpoint
		c.S3UsePathStyle = usePathStyle
		return nil
	}
}

// WithPostgresEventLog stores edit log entries in Postgres
func WithPostgresEventLog(url, schema string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("database url is required")
		}
		c.EventLogBackend = "postgres"
		c.DatabaseURL = url
		c.DBSchema = schema
		return nil
	}
}

// WithLocalWorkflows runs workflows in-process
func WithLocalWorkflows(async bool) Option {
	return func(c *Config) error {
		c.WorkflowBackend = "local"
		c.AsyncLocalWorkflows = async
		return nil
	}
}

// WithStepFunctions runs workflows on the given state machines.
func WithStepFunctions(processEdit, addAccess, removeAccess, bucketDisable string) Option {
	return func(c *Config) error {
		c.WorkflowBackend = "sfn"
		c.ProcessEditARN = processEdit
		c.AddEditAccessARN = addAccess
		c.RemoveEditAccessARN = removeAccess
		c.BucketDisableARN = bucketDisable
		return nil
	}
}

// WithUploadFunctionARN sets the function that receives edit uploads
func WithUploadFunctionARN(arn string) Option {
	return func(c *Config) error {
		c.UploadFunctionARN = arn
		return nil
	}
}

// WithTagging sets tagging concurrency and per-object timeout
func WithTagging(concurrency int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.TagConcurrency = concurrency
		c.TagTimeout = timeout
		return nil
	}
}
