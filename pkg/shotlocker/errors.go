package shotlocker

import (
	"errors"
	"fmt"

	"github.com/tendant/shotlocker/pkg/shotlocker/otio"
)

// Error types
var (
	// ErrNotFound indicates a bucket, edit, object or policy does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed caller input
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPrincipal indicates a principal that is not an IAM user or role ARN
	ErrInvalidPrincipal = fmt.Errorf("%w: invalid principal arn", ErrValidation)

	// ErrInvalidDate indicates an expiry that is not an ISO calendar date
	ErrInvalidDate = fmt.Errorf("%w: invalid date", ErrValidation)

	// ErrInvalidKey indicates an object key outside the edit layout
	ErrInvalidKey = fmt.Errorf("%w: invalid key", ErrValidation)

	// ErrFrameRangeTooLarge indicates a frame range expanding past the configured frame cap
	ErrFrameRangeTooLarge = fmt.Errorf("%w: frame range too large", ErrValidation)

	// ErrStoreFailure indicates a transient object store or workflow failure
	ErrStoreFailure = errors.New("store failure")

	// ErrStoreTimeout indicates a store call exceeded its deadline or was cancelled
	ErrStoreTimeout = errors.New("store timeout")

	// ErrPolicyParse indicates a malformed policy or tag document
	ErrPolicyParse = errors.New("policy parse error")

	// ErrPartialBatch indicates every attempted key in a tagging batch failed
	ErrPartialBatch = errors.New("tagging batch failed")

	// ErrAllocationExhausted indicates no free edit token was found within the retry cap
	ErrAllocationExhausted = errors.New("edit token allocation exhausted")

	// ErrUnsupportedFormat indicates an edit document that cannot be converted
	ErrUnsupportedFormat = otio.ErrUnsupportedFormat

	// ErrNotLocker indicates a bucket that is not tagged as a locker
	ErrNotLocker = fmt.Errorf("%w: bucket is not a locker", ErrNotFound)
)

// StoreError represents an error returned by an ObjectStore or Workflow
// implementation. Kind is one of ErrNotFound, ErrStoreTimeout or
// ErrStoreFailure.
type StoreError struct {
	Op     string
	Bucket string
	Key    string
	Kind   error
	Err    error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store operation %s failed for bucket %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("store operation %s failed for s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// EditError represents an error related to an edit operation
type EditError struct {
	EditID string
	Op     string
	Err    error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("edit operation %s failed for edit %s: %v", e.Op, e.EditID, e.Err)
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError, defaulting the kind to ErrStoreFailure.
func NewStoreError(op, bucket, key string, kind, err error) *StoreError {
	if kind == nil {
		kind = ErrStoreFailure
	}
	return &StoreError{Op: op, Bucket: bucket, Key: key, Kind: kind, Err: err}
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
