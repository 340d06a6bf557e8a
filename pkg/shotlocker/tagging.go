package shotlocker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/shotlocker/pkg/shotlocker/otio"
	"golang.org/x/sync/errgroup"
)

// TagPlan is the set of objects a timeline implicates
type TagPlan struct {
	// FileCheck maps clip names to their expanded names and existence
	FileCheck map[string][]FrameCheck `json:"object_tag"`
	// URIs is the sorted, deduplicated set of existing objects
	URIs []string `json:"files_tagged"`
	// Candidates counts every distinct expanded name, existing or not
	Candidates int `json:"candidates"`
}

// BatchResult reports per-key outcomes of one tagging batch
type BatchResult struct {
	RunID     string            `json:"run_id"`
	Attempted int               `json:"attempted"`
	Mutated   int               `json:"mutated"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Succeeded counts keys that ended in the requested state.
func (b *BatchResult) Succeeded() int {
	return b.Mutated + b.Skipped
}

// ComputeTagSet expands every clip reference of tl and keeps the objects
// that exist. References outside bucket are reported as missing without a
// store lookup.
func (s *Service) ComputeTagSet(ctx context.Context, editID, bucket string, tl *otio.Timeline) (*TagPlan, error) {
	plan := &TagPlan{FileCheck: make(map[string][]FrameCheck)}
	candidates := make(map[string]struct{})
	existing := make(map[string]struct{})

	for _, clip := range tl.Clips() {
		if !clip.HasExternalReference() {
			continue
		}
		ref, ok := clip.MediaURL(false)
		if !ok || ref == "" {
			continue
		}
		name := clip.Name()

		checks, err := s.expandInBucket(ctx, bucket, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.Logf(ctx, editID, "Error: Clip %s - Unable to expand file %s", name, ref)
			s.logger.ErrorContext(ctx, "failed to expand reference", "edit_id", editID, "clip", name, "ref", ref, "error", err)
			plan.FileCheck[name] = []FrameCheck{{}}
			continue
		}

		for _, c := range checks {
			candidates[c.URI] = struct{}{}
			if c.Exists {
				existing[c.URI] = struct{}{}
			}
		}
		plan.FileCheck[name] = checks
	}

	plan.Candidates = len(candidates)
	plan.URIs = make([]string, 0, len(existing))
	for uri := range existing {
		plan.URIs = append(plan.URIs, uri)
	}
	slices.Sort(plan.URIs)
	return plan, nil
}

func (s *Service) expandInBucket(ctx context.Context, bucket, ref string) ([]FrameCheck, error) {
	b, key, err := ParseURI(ref)
	if err != nil {
		return nil, err
	}
	if b == bucket {
		return s.ExpandWithExistence(ctx, ref)
	}
	if err := CheckFrameRange(key, s.maxFrames); err != nil {
		return nil, err
	}
	var checks []FrameCheck
	for name := range ExpandFrames(key) {
		checks = append(checks, FrameCheck{URI: ObjectURI(b, name)})
	}
	return checks, nil
}

// ApplyTags adds token to, or removes it from, the access tag of every
// object in uris using a bounded worker pool. A failing key never aborts
// the batch; ErrPartialBatch is returned only when keys were attempted and
// none succeeded. Cancelling ctx stops submission of further keys while
// in-flight keys finish under the per-key timeout.
func (s *Service) ApplyTags(ctx context.Context, uris []string, token string, mode TagMode) (*BatchResult, error) {
	res := &BatchResult{RunID: uuid.NewString(), Failures: make(map[string]string)}
	var mu sync.Mutex
	record := func(uri string, changed bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			res.Failed++
			res.Failures[uri] = err.Error()
		case changed:
			res.Mutated++
		default:
			res.Skipped++
		}
	}

	var g errgroup.Group
	g.SetLimit(s.tagConcurrency)
	for _, uri := range uris {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++
		g.Go(func() error {
			kctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tagTimeout)
			defer cancel()
			changed, err := s.tagObject(kctx, uri, token, mode)
			if err != nil {
				s.logger.ErrorContext(ctx, "failed to tag object", "uri", uri, "mode", mode, "error", err)
			}
			record(uri, changed, err)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "tagging batch complete", "run_id", res.RunID, "mode", mode,
		"attempted", res.Attempted, "mutated", res.Mutated, "skipped", res.Skipped, "failed", res.Failed)

	if res.Attempted > 0 && res.Succeeded() == 0 {
		return res, fmt.Errorf("%w: %d of %d keys failed", ErrPartialBatch, res.Failed, res.Attempted)
	}
	if err := ctx.Err(); err != nil && res.Attempted < len(uris) {
		return res, fmt.Errorf("%w: %d of %d keys submitted: %w", ErrStoreTimeout, res.Attempted, len(uris), err)
	}
	return res, nil
}

// tagObject edits one object's access token list and reports whether it
// was written.
func (s *Service) tagObject(ctx context.Context, uri, token string, mode TagMode) (bool, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return false, err
	}
	tags, err := s.store.GetObjectTags(ctx, bucket, key)
	if err != nil {
		return false, err
	}
	v, _ := TagValue(tags, AccessTagKey)
	tokens := ParseAccessTokens(v)

	switch mode {
	case TagAdd:
		if slices.Contains(tokens, token) {
			return false, nil
		}
		tokens = append(tokens, token)
	case TagRemove:
		i := slices.Index(tokens, token)
		if i < 0 {
			return false, nil
		}
		tokens = slices.Delete(tokens, i, i+1)
	default:
		return false, fmt.Errorf("%w: tag mode %q", ErrValidation, mode)
	}

	tags, _ = SetTag(tags, AccessTagKey, strings.Join(tokens, AccessTokenSeparator))
	if err := s.store.PutObjectTags(ctx, bucket, key, tags); err != nil {
		return false, err
	}
	return true, nil
}

// ParseAccessTokens splits an access tag value into tokens. An empty value
// holds none.
func ParseAccessTokens(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, AccessTokenSeparator)
}

// ClearAccessTags empties the access tag of every object in bucket that
// carries one.
func (s *Service) ClearAccessTags(ctx context.Context, bucket string) (*BatchResult, error) {
	res := &BatchResult{RunID: uuid.NewString(), Failures: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.tagConcurrency)
	err := s.store.ListObjects(gctx, bucket, "", true, func(page []ObjectInfo) error {
		for _, o := range page {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w: clearing access tags in %s: %w", ErrStoreTimeout, bucket, err)
			}
			key := o.Key
			mu.Lock()
			res.Attempted++
			mu.Unlock()
			g.Go(func() error {
				kctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.tagTimeout)
				defer cancel()
				changed, err := s.clearObject(kctx, bucket, key)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					res.Failed++
					res.Failures[ObjectURI(bucket, key)] = err.Error()
					s.logger.ErrorContext(ctx, "failed to clear access tag", "bucket", bucket, "key", key, "error", err)
				case changed:
					res.Mutated++
				default:
					res.Skipped++
				}
				return nil
			})
		}
		return nil
	})
	werr := g.Wait()
	if err == nil {
		err = werr
	}
	if err != nil {
		return res, err
	}
	if res.Attempted > 0 && res.Succeeded() == 0 {
		return res, fmt.Errorf("%w: %d of %d keys failed", ErrPartialBatch, res.Failed, res.Attempted)
	}
	return res, nil
}

func (s *Service) clearObject(ctx context.Context, bucket, key string) (bool, error) {
	tags, err := s.store.GetObjectTags(ctx, bucket, key)
	if err != nil {
		return false, err
	}
	if v, ok := TagValue(tags, AccessTagKey); !ok || v == "" {
		return false, nil
	}
	tags, _ = SetTag(tags, AccessTagKey, "")
	if err := s.store.PutObjectTags(ctx, bucket, key, tags); err != nil {
		return false, err
	}
	return true, nil
}

// TagRequest names a stored manifest whose media should be tagged
type TagRequest struct {
	Bucket     string
	Key        string
	EditID     string
	ResultsKey string
	Mode       TagMode
}

// TagResult combines a tag plan with the batch outcome
type TagResult struct {
	Plan  *TagPlan     `json:"plan"`
	Batch *BatchResult `json:"batch"`
}

// Tag reads the manifest at req.Key and adds or removes req.EditID on
// every existing object it references. The plan is merged into the
// results document.
func (s *Service) Tag(ctx context.Context, req TagRequest) (*TagResult, error) {
	if req.Bucket == "" || req.Key == "" || req.EditID == "" {
		return nil, fmt.Errorf("%w: tagging requires bucket, key and edit id", ErrValidation)
	}
	mode := req.Mode
	if mode == "" {
		mode = TagAdd
	}
	start := s.now()
	s.Logf(ctx, req.EditID, "Tagging (%s) Amazon S3 objects started", mode)

	results := s.ReadResults(ctx, req.Bucket, req.ResultsKey, req.EditID)

	data, err := s.store.GetObject(ctx, req.Bucket, req.Key)
	if err != nil {
		s.Logf(ctx, req.EditID, "Error getting object %s from bucket %s.", req.Key, req.Bucket)
		return nil, &EditError{EditID: req.EditID, Op: "tag", Err: err}
	}
	tl, err := otio.Parse(data)
	if err != nil {
		s.Logf(ctx, req.EditID, "ERROR unable to process %s from bucket %s.", req.Key, req.Bucket)
		return nil, &EditError{EditID: req.EditID, Op: "tag", Err: err}
	}

	plan, err := s.ComputeTagSet(ctx, req.EditID, req.Bucket, tl)
	if err != nil {
		return nil, &EditError{EditID: req.EditID, Op: "tag", Err: err}
	}
	batch, batchErr := s.ApplyTags(ctx, plan.URIs, req.EditID, mode)

	s.Logf(ctx, req.EditID, "Total files to %s tag: %d", mode, plan.Candidates)
	s.Logf(ctx, req.EditID, "Total files tagged: %d", len(plan.URIs))
	if batch.Failed > 0 {
		s.Logf(ctx, req.EditID, "Warning: %d files could not be tagged", batch.Failed)
	}
	s.Logf(ctx, req.EditID, "Tagging (%s) Amazon S3 objects completed (%d seconds)", mode,
		int(s.now().Sub(start).Round(time.Second)/time.Second))

	results["object_tag"] = plan.FileCheck
	results["files_tagged"] = plan.URIs
	s.WriteResults(ctx, req.Bucket, req.ResultsKey, req.EditID, results)

	out := &TagResult{Plan: plan, Batch: batch}
	if batchErr != nil {
		return out, &EditError{EditID: req.EditID, Op: "tag", Err: batchErr}
	}
	return out, nil
}
