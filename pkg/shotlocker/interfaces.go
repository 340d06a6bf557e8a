package shotlocker

import (
	"context"
	"time"
)

// ObjectStore defines the interface for the backing object store. Every
// method returns a *StoreError whose kind distinguishes ErrNotFound from
// ErrStoreTimeout and ErrStoreFailure. Implementations must be safe for
// concurrent use.
type ObjectStore interface {
	// ListBuckets returns the names of all buckets visible to the caller
	ListBuckets(ctx context.Context) ([]string, error)

	// ListObjects pages through objects under prefix. When recursive is false
	// only objects directly under prefix are listed. fn is called once per page.
	ListObjects(ctx context.Context, bucket, prefix string, recursive bool, fn func(page []ObjectInfo) error) error

	// ListPrefixes returns the common prefixes directly under prefix
	ListPrefixes(ctx context.Context, bucket, prefix string) ([]string, error)

	// HeadObject returns object metadata or ErrNotFound
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// GetObject reads a whole object
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	// PutObject writes a whole object
	PutObject(ctx context.Context, bucket, key string, body []byte) error

	// GetObjectTags returns the object's tag set in stored order
	GetObjectTags(ctx context.Context, bucket, key string) ([]Tag, error)

	// PutObjectTags replaces the object's tag set
	PutObjectTags(ctx context.Context, bucket, key string, tags []Tag) error

	// GetBucketTags returns the bucket's tag set, empty when none is set
	GetBucketTags(ctx context.Context, bucket string) ([]Tag, error)

	// PutBucketTags replaces the bucket's tag set
	PutBucketTags(ctx context.Context, bucket string, tags []Tag) error

	// GetBucketPolicy returns the policy document or ErrNotFound when absent
	GetBucketPolicy(ctx context.Context, bucket string) ([]byte, error)

	// PutBucketPolicy replaces the policy document
	PutBucketPolicy(ctx context.Context, bucket string, policy []byte) error

	// DeleteBucketPolicy removes the policy document
	DeleteBucketPolicy(ctx context.Context, bucket string) error

	// GetBucketNotification returns the bucket's notification configuration
	GetBucketNotification(ctx context.Context, bucket string) (*NotificationConfig, error)

	// PutBucketNotification replaces the bucket's notification configuration
	PutBucketNotification(ctx context.Context, bucket string, cfg *NotificationConfig) error
}

// Workflow defines the interface for the external workflow engine that
// sequences pipeline stages.
type Workflow interface {
	// StartExecution starts machine with a deterministic execution name
	StartExecution(ctx context.Context, machine Machine, name string, input []byte) (string, error)

	// DescribeExecution returns the status of a named execution or ErrNotFound
	DescribeExecution(ctx context.Context, machine Machine, name string) (ExecutionStatus, error)
}

// EventLog records per-edit operational messages.
type EventLog interface {
	// Append records a message for an edit
	Append(ctx context.Context, entry LogEntry) error

	// Entries returns an edit's messages in creation order
	Entries(ctx context.Context, editID string) ([]LogEntry, error)
}

// LogEntry is one per-edit event log message. Id carries the edit id; the
// entry's own identifier stays internal to the log.
type LogEntry struct {
	ID         string         `json:"-"`
	EditID     string         `json:"Id"`
	Active     bool           `json:"Active"`
	CreateTime time.Time      `json:"CreateTime"`
	Region     string         `json:"Region,omitempty"`
	Message    string         `json:"Message"`
	Fields     map[string]any `json:"Fields,omitempty"`
}
