package shotlocker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTagConcurrency is the default number of concurrent tagging workers
	DefaultTagConcurrency = 8

	// DefaultTagTimeout bounds one key's read-modify-write of its tags
	DefaultTagTimeout = 30 * time.Second

	// DefaultTokenAttempts caps edit folder allocation retries
	DefaultTokenAttempts = 16

	// DefaultMaxFrames caps how many frames one range reference may expand to
	DefaultMaxFrames = 100000
)

// DefaultReservedPrefixes are bucket name prefixes never offered as lockers.
var DefaultReservedPrefixes = []string{
	"cloudtrail-", "sagemaker-", "kendra-", "do-not-delete-", "cf-templates-",
	"aws-", "amplify-", "cdk-", "cloudfront", "shotlocker-stack-",
}

// Service implements locker, edit, access, conform and tagging operations
// over an ObjectStore. It holds no per-request state.
type Service struct {
	store    ObjectStore
	workflow Workflow
	events   EventLog
	logger   *slog.Logger

	layout            Layout
	partition         string
	region            string
	uploadFunctionARN string
	reservedPrefixes  []string
	tagConcurrency    int
	tagTimeout        time.Duration
	tokenAttempts     int
	maxFrames         int

	now      func() time.Time
	newToken func() (string, error)
}

// Option configures a Service
type Option func(*Service)

// WithObjectStore sets the backing object store
func WithObjectStore(store ObjectStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithWorkflow sets the workflow engine used for cascades and status lookups
func WithWorkflow(wf Workflow) Option {
	return func(s *Service) {
		s.workflow = wf
	}
}

// WithEventLog sets the per-edit event log
func WithEventLog(events EventLog) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithLogger sets the operational logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNamespace sets the top-level key prefix for edit folders
func WithNamespace(ns string) Option {
	return func(s *Service) {
		s.layout.Namespace = ns
	}
}

// WithPartition sets the ARN partition used in grant resources
func WithPartition(partition string) Option {
	return func(s *Service) {
		s.partition = partition
	}
}

// WithRegion sets the region recorded on event log entries
func WithRegion(region string) Option {
	return func(s *Service) {
		s.region = region
	}
}

// WithUploadFunctionARN sets the function invoked for new edit uploads
func WithUploadFunctionARN(arn string) Option {
	return func(s *Service) {
		s.uploadFunctionARN = arn
	}
}

// WithReservedPrefixes replaces the bucket name prefixes never offered as lockers
func WithReservedPrefixes(prefixes []string) Option {
	return func(s *Service) {
		s.reservedPrefixes = prefixes
	}
}

// WithTagConcurrency sets the number of concurrent tagging workers
func WithTagConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.tagConcurrency = n
		}
	}
}

// WithTagTimeout bounds each key's tag read-modify-write
func WithTagTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tagTimeout = d
		}
	}
}

// WithTokenAttempts caps edit folder allocation retries
func WithTokenAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.tokenAttempts = n
		}
	}
}

// WithMaxFrames caps how many frames one range reference may expand to
func WithMaxFrames(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFrames = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithTokenSource overrides access token generation
func WithTokenSource(fn func() (string, error)) Option {
	return func(s *Service) {
		s.newToken = fn
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (*Service, error) {
	s := &Service{
		logger:           slog.Default(),
		partition:        DefaultPartition,
		reservedPrefixes: DefaultReservedPrefixes,
		tagConcurrency:   DefaultTagConcurrency,
		tagTimeout:       DefaultTagTimeout,
		tokenAttempts:    DefaultTokenAttempts,
		maxFrames:        DefaultMaxFrames,
		now:              time.Now,
		newToken:         NewToken,
	}

	for _, option := range options {
		option(s)
	}

	if s.store == nil {
		return nil, errors.New("object store is required")
	}

	return s, nil
}

// Layout returns the key layout in use.
func (s *Service) Layout() Layout {
	return s.layout
}

// Now returns the current time from the configured clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Store returns the backing object store.
func (s *Service) Store() ObjectStore {
	return s.store
}

// Logf records a message in the edit's event log and the operational log.
func (s *Service) Logf(ctx context.Context, editID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.InfoContext(ctx, msg, "edit_id", editID)
	if s.events == nil || editID == "" {
		return
	}
	entry := LogEntry{
		ID:         uuid.NewString(),
		EditID:     editID,
		Active:     true,
		CreateTime: s.now().UTC().Truncate(time.Second),
		Region:     s.region,
		Message:    msg,
	}
	if err := s.events.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to append event log entry", "edit_id", editID, "error", err)
	}
}

// EditLog returns an edit's event log entries.
func (s *Service) EditLog(ctx context.Context, bucket, editID string) ([]LogEntry, error) {
	if err := s.requireEdit(ctx, bucket, editID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []LogEntry{}, nil
	}
	return s.events.Entries(ctx, editID)
}

func (s *Service) startExecution(ctx context.Context, machine Machine, name string, input []byte) error {
	if s.workflow == nil {
		return fmt.Errorf("%w: no workflow engine configured for %s", ErrStoreFailure, machine)
	}
	_, err := s.workflow.StartExecution(ctx, machine, name, input)
	return err
}

// executionName returns a unique execution name for a cascade run, kept
// within the 80 character execution name limit.
func executionName(machine Machine, subject string) string {
	const maxLen = 80
	suffix := "-" + uuid.NewString()[:8]
	name := fmt.Sprintf("ShotLocker-%s-%s", machine, subject)
	if len(name)+len(suffix) > maxLen {
		name = name[:maxLen-len(suffix)]
	}
	return name + suffix
}
