package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// DefaultPageSize matches the object store's listing page limit
const DefaultPageSize = 1000

// FaultFunc is consulted before every operation; a non-nil error is
// returned to the caller as a store failure.
type FaultFunc func(op, bucket, key string) error

type object struct {
	data     []byte
	tags     []shotlocker.Tag
	modified time.Time
}

type bucket struct {
	objects      map[string]*object
	tags         []shotlocker.Tag
	policy       []byte
	notification shotlocker.NotificationConfig
}

// Backend is an in-memory implementation of the shotlocker.ObjectStore interface
type Backend struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	pageSize int
	fault    FaultFunc
	now      func() time.Time
}

// Option configures a Backend
type Option func(*Backend)

// WithPageSize sets the listing page size
func WithPageSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithFault installs a fault injection hook
func WithFault(fn FaultFunc) Option {
	return func(b *Backend) {
		b.fault = fn
	}
}

// WithClock overrides the modification time source
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a new in-memory object store
func New(options ...Option) *Backend {
	b := &Backend{
		buckets:  make(map[string]*bucket),
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// CreateBucket adds an empty bucket. Existing buckets are left untouched.
func (b *Backend) CreateBucket(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[name]; !ok {
		b.buckets[name] = &bucket{objects: make(map[string]*object)}
	}
}

// SetFault replaces the fault injection hook
func (b *Backend) SetFault(fn FaultFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = fn
}

func (b *Backend) check(ctx context.Context, op, bucketName, key string) error {
	if err := ctx.Err(); err != nil {
		return shotlocker.NewStoreError(op, bucketName, key, shotlocker.ErrStoreTimeout, err)
	}
	b.mu.RLock()
	fault := b.fault
	b.mu.RUnlock()
	if fault != nil {
		if err := fault(op, bucketName, key); err != nil {
			return shotlocker.NewStoreError(op, bucketName, key, nil, err)
		}
	}
	return nil
}

func notFound(op, bucketName, key, what string) error {
	return shotlocker.NewStoreError(op, bucketName, key, shotlocker.ErrNotFound, errors.New("no such "+what))
}

// bucketLocked returns the named bucket; callers hold b.mu.
func (b *Backend) bucketLocked(op, name string) (*bucket, error) {
	bk, ok := b.buckets[name]
	if !ok {
		return nil, notFound(op, name, "", "bucket")
	}
	return bk, nil
}

// ListBuckets returns bucket names in lexical order
func (b *Backend) ListBuckets(ctx context.Context) ([]string, error) {
	if err := b.check(ctx, "ListBuckets", "", ""); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.buckets))
	for name := range b.buckets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// ListObjects pages through keys under prefix in lexical order. The
// snapshot is taken before fn runs, so fn may call back into the store.
func (b *Backend) ListObjects(ctx context.Context, bucketName, prefix string, recursive bool, fn func([]shotlocker.ObjectInfo) error) error {
	if err := b.check(ctx, "ListObjects", bucketName, prefix); err != nil {
		return err
	}
	b.mu.RLock()
	bk, err := b.bucketLocked("ListObjects", bucketName)
	if err != nil {
		b.mu.RUnlock()
		return err
	}
	var infos []shotlocker.ObjectInfo
	for key, o := range bk.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if !recursive && strings.Contains(rest, "/") {
			continue
		}
		infos = append(infos, shotlocker.ObjectInfo{Key: key, Size: int64(len(o.data)), LastModified: o.modified})
	}
	b.mu.RUnlock()

	slices.SortFunc(infos, func(x, y shotlocker.ObjectInfo) int { return strings.Compare(x.Key, y.Key) })
	for page := range slices.Chunk(infos, b.pageSize) {
		if err := ctx.Err(); err != nil {
			return shotlocker.NewStoreError("ListObjects", bucketName, prefix, shotlocker.ErrStoreTimeout, err)
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// ListPrefixes returns the common prefixes directly under prefix
func (b *Backend) ListPrefixes(ctx context.Context, bucketName, prefix string) ([]string, error) {
	if err := b.check(ctx, "ListPrefixes", bucketName, prefix); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, err := b.bucketLocked("ListPrefixes", bucketName)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for key := range bk.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[prefix+rest[:i+1]] = struct{}{}
		}
	}
	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)
	return prefixes, nil
}

func (b *Backend) objectLocked(op, bucketName, key string) (*bucket, *object, error) {
	bk, err := b.bucketLocked(op, bucketName)
	if err != nil {
		return nil, nil, err
	}
	o, ok := bk.objects[key]
	if !ok {
		return bk, nil, notFound(op, bucketName, key, "key")
	}
	return bk, o, nil
}

// HeadObject returns object metadata
func (b *Backend) HeadObject(ctx context.Context, bucketName, key string) (*shotlocker.ObjectInfo, error) {
	if err := b.check(ctx, "HeadObject", bucketName, key); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, o, err := b.objectLocked("HeadObject", bucketName, key)
	if err != nil {
		return nil, err
	}
	return &shotlocker.ObjectInfo{Key: key, Size: int64(len(o.data)), LastModified: o.modified}, nil
}

// GetObject returns a copy of the object's content
func (b *Backend) GetObject(ctx context.Context, bucketName, key string) ([]byte, error) {
	if err := b.check(ctx, "GetObject", bucketName, key); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, o, err := b.objectLocked("GetObject", bucketName, key)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.data), nil
}

// PutObject writes an object. Like the object store, overwriting an object
// drops its tags.
func (b *Backend) PutObject(ctx context.Context, bucketName, key string, body []byte) error {
	if err := b.check(ctx, "PutObject", bucketName, key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucketLocked("PutObject", bucketName)
	if err != nil {
		return err
	}
	bk.objects[key] = &object{data: slices.Clone(body), modified: b.now().UTC()}
	return nil
}

// GetObjectTags returns a copy of the object's tag set
func (b *Backend) GetObjectTags(ctx context.Context, bucketName, key string) ([]shotlocker.Tag, error) {
	if err := b.check(ctx, "GetObjectTags", bucketName, key); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, o, err := b.objectLocked("GetObjectTags", bucketName, key)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.tags), nil
}

// PutObjectTags replaces the object's tag set
func (b *Backend) PutObjectTags(ctx context.Context, bucketName, key string, tags []shotlocker.Tag) error {
	if err := b.check(ctx, "PutObjectTags", bucketName, key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, o, err := b.objectLocked("PutObjectTags", bucketName, key)
	if err != nil {
		return err
	}
	o.tags = slices.Clone(tags)
	return nil
}

// GetBucketTags returns a copy of the bucket's tag set
func (b *Backend) GetBucketTags(ctx context.Context, bucketName string) ([]shotlocker.Tag, error) {
	if err := b.check(ctx, "GetBucketTags", bucketName, ""); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, err := b.bucketLocked("GetBucketTags", bucketName)
	if err != nil {
		return nil, err
	}
	return slices.Clone(bk.tags), nil
}

// PutBucketTags replaces the bucket's tag set
func (b *Backend) PutBucketTags(ctx context.Context, bucketName string, tags []shotlocker.Tag) error {
	if err := b.check(ctx, "PutBucketTags", bucketName, ""); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucketLocked("PutBucketTags", bucketName)
	if err != nil {
		return err
	}
	bk.tags = slices.Clone(tags)
	return nil
}

// GetBucketPolicy returns the policy document
func (b *Backend) GetBucketPolicy(ctx context.Context, bucketName string) ([]byte, error) {
	if err := b.check(ctx, "GetBucketPolicy", bucketName, ""); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, err := b.bucketLocked("GetBucketPolicy", bucketName)
	if err != nil {
		return nil, err
	}
	if bk.policy == nil {
		return nil, notFound("GetBucketPolicy", bucketName, "", "bucket policy")
	}
	return slices.Clone(bk.policy), nil
}

// PutBucketPolicy replaces the policy document
func (b *Backend) PutBucketPolicy(ctx context.Context, bucketName string, policy []byte) error {
	if err := b.check(ctx, "PutBucketPolicy", bucketName, ""); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucketLocked("PutBucketPolicy", bucketName)
	if err != nil {
		return err
	}
	bk.policy = slices.Clone(policy)
	return nil
}

// DeleteBucketPolicy removes the policy document
func (b *Backend) DeleteBucketPolicy(ctx context.Context, bucketName string) error {
	if err := b.check(ctx, "DeleteBucketPolicy", bucketName, ""); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucketLocked("DeleteBucketPolicy", bucketName)
	if err != nil {
		return err
	}
	bk.policy = nil
	return nil
}

// GetBucketNotification returns a copy of the notification configuration
func (b *Backend) GetBucketNotification(ctx context.Context, bucketName string) (*shotlocker.NotificationConfig, error) {
	if err := b.check(ctx, "GetBucketNotification", bucketName, ""); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, err := b.bucketLocked("GetBucketNotification", bucketName)
	if err != nil {
		return nil, err
	}
	cfg := bk.notification
	cfg.Lambda = slices.Clone(cfg.Lambda)
	return &cfg, nil
}

// PutBucketNotification replaces the notification configuration
func (b *Backend) PutBucketNotification(ctx context.Context, bucketName string, cfg *shotlocker.NotificationConfig) error {
	if err := b.check(ctx, "PutBucketNotification", bucketName, ""); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, err := b.bucketLocked("PutBucketNotification", bucketName)
	if err != nil {
		return err
	}
	if cfg == nil {
		bk.notification = shotlocker.NotificationConfig{}
		return nil
	}
	bk.notification = *cfg
	bk.notification.Lambda = slices.Clone(cfg.Lambda)
	return nil
}

var _ shotlocker.ObjectStore = (*Backend)(nil)
