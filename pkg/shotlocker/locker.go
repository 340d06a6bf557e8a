package shotlocker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ListLockers returns buckets carrying the enable tag. Inactive lockers are
// dropped unless includeInactive is set.
func (s *Service) ListLockers(ctx context.Context, includeInactive bool) ([]Locker, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var lockers []Locker
	for _, b := range buckets {
		tags, err := s.store.GetBucketTags(ctx, b)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping bucket with unreadable tags", "bucket", b, "error", err)
			continue
		}
		v, ok := TagValue(tags, EnableTagKey)
		if !ok {
			continue
		}
		active := IsEnabledValue(v)
		if active || includeInactive {
			lockers = append(lockers, Locker{Name: b, Active: active})
		}
	}
	return lockers, nil
}

// ListAvailableBuckets returns buckets that could become lockers: not an
// active locker and not matching a reserved name prefix.
func (s *Service) ListAvailableBuckets(ctx context.Context) ([]Locker, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var available []Locker
	for _, b := range buckets {
		if s.reserved(b) {
			continue
		}
		tags, err := s.store.GetBucketTags(ctx, b)
		if err != nil && !IsNotFound(err) {
			s.logger.WarnContext(ctx, "skipping bucket with unreadable tags", "bucket", b, "error", err)
			continue
		}
		if v, ok := TagValue(tags, EnableTagKey); ok && IsEnabledValue(v) {
			continue
		}
		available = append(available, Locker{Name: b})
	}
	return available, nil
}

func (s *Service) reserved(bucket string) bool {
	for _, p := range s.reservedPrefixes {
		if strings.HasPrefix(bucket, p) {
			return true
		}
	}
	return false
}

// GetLocker returns a bucket's locker state. Buckets without the enable tag
// are reported inactive.
func (s *Service) GetLocker(ctx context.Context, bucket string) (*Locker, error) {
	tags, err := s.store.GetBucketTags(ctx, bucket)
	if err != nil {
		return nil, err
	}
	v, _ := TagValue(tags, EnableTagKey)
	return &Locker{Name: bucket, Active: IsEnabledValue(v)}, nil
}

// IsLocker reports whether bucket carries the enable tag, active or not.
func (s *Service) IsLocker(ctx context.Context, bucket string) (bool, error) {
	tags, err := s.store.GetBucketTags(ctx, bucket)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_, ok := TagValue(tags, EnableTagKey)
	return ok, nil
}

func (s *Service) requireLocker(ctx context.Context, bucket string) error {
	ok, err := s.IsLocker(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLocker, bucket)
	}
	return nil
}

// RequireEdit checks that bucket is a locker holding editID.
func (s *Service) RequireEdit(ctx context.Context, bucket, editID string) error {
	if err := s.requireLocker(ctx, bucket); err != nil {
		return err
	}
	return s.requireEdit(ctx, bucket, editID)
}

// SetLockerEnabled toggles a bucket's upload notifications and enable tag.
// Disabling also starts the bucket disable cascade, which disables every
// edit and strips every access tag in the bucket.
func (s *Service) SetLockerEnabled(ctx context.Context, bucket string, enabled bool) (*Locker, error) {
	tags, err := s.store.GetBucketTags(ctx, bucket)
	if err != nil {
		return nil, err
	}

	if enabled {
		err = s.addUploadNotification(ctx, bucket)
	} else {
		err = s.removeUploadNotification(ctx, bucket)
	}
	if err != nil {
		return nil, err
	}

	if updated, changed := SetTag(tags, EnableTagKey, EnableValue(enabled)); changed {
		if err := s.store.PutBucketTags(ctx, bucket, updated); err != nil {
			return nil, err
		}
	}

	if !enabled {
		input, err := json.Marshal(Event{Bucket: bucket})
		if err != nil {
			return nil, err
		}
		if err := s.startExecution(ctx, MachineBucketDisable, executionName(MachineBucketDisable, bucket), input); err != nil {
			return nil, fmt.Errorf("failed to start bucket disable for %s: %w", bucket, err)
		}
	}

	s.logger.InfoContext(ctx, "locker updated", "bucket", bucket, "active", enabled)
	return &Locker{Name: bucket, Active: enabled}, nil
}

func isUploadNotification(n LambdaNotification) bool {
	return strings.Contains(n.FunctionARN, UploadFunctionName)
}

func (s *Service) addUploadNotification(ctx context.Context, bucket string) error {
	cfg, err := s.store.GetBucketNotification(ctx, bucket)
	if err != nil {
		return err
	}
	for _, n := range cfg.Lambda {
		if isUploadNotification(n) {
			return nil
		}
	}
	if s.uploadFunctionARN == "" {
		return fmt.Errorf("%w: upload function arn is not configured", ErrValidation)
	}
	for _, ext := range EditExtensions {
		cfg.Lambda = append(cfg.Lambda, LambdaNotification{
			FunctionARN: s.uploadFunctionARN,
			Events:      []string{"s3:ObjectCreated:Put"},
			Prefix:      s.layout.EditsPrefix(),
			Suffix:      ext,
		})
	}
	return s.store.PutBucketNotification(ctx, bucket, cfg)
}

func (s *Service) removeUploadNotification(ctx context.Context, bucket string) error {
	cfg, err := s.store.GetBucketNotification(ctx, bucket)
	if err != nil {
		return err
	}
	kept := make([]LambdaNotification, 0, len(cfg.Lambda))
	for _, n := range cfg.Lambda {
		if !isUploadNotification(n) {
			kept = append(kept, n)
		}
	}
	cfg.Lambda = kept
	return s.store.PutBucketNotification(ctx, bucket, cfg)
}

// DisableEdits disables every active edit in bucket without starting
// per-edit workflows. It returns the ids that were disabled.
func (s *Service) DisableEdits(ctx context.Context, bucket string) ([]string, error) {
	edits, err := s.ListEdits(ctx, bucket, false)
	if err != nil {
		return nil, err
	}
	var disabled []string
	for _, e := range edits {
		changed, err := s.SetEditEnabled(ctx, bucket, e.Name, false, false)
		if err != nil {
			s.Logf(ctx, e.Name, "ERROR: Unable to disable Edit (%s)", e.Name)
			s.logger.ErrorContext(ctx, "failed to disable edit", "bucket", bucket, "edit_id", e.Name, "error", err)
			continue
		}
		if changed {
			s.Logf(ctx, e.Name, "Edit (%s) is disabled (bucket was disabled)", e.Name)
			disabled = append(disabled, e.Name)
		}
	}
	return disabled, nil
}
