package shotlocker

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/shotlocker/pkg/shotlocker/otio"
)

const (
	NoOpNoReferences    = "no media references"
	NoOpAlreadyResolved = "already resolved"
)

// ConformOptions controls reference resolution
type ConformOptions struct {
	// KeepS3Refs treats every s3:// reference as resolved, not only those
	// already in the target bucket.
	KeepS3Refs bool

	// ReplaceMissing swaps unresolved references for missing references.
	ReplaceMissing bool
}

// DefaultConformOptions returns the options the processing pipeline uses.
func DefaultConformOptions() ConformOptions {
	return ConformOptions{ReplaceMissing: true}
}

// ConformResult is the resolution record of one conform run
type ConformResult struct {
	RunID      string `json:"run_id"`
	Total      int    `json:"total"`
	Updated    int    `json:"updated"`
	Exists     int    `json:"exists"`
	NoOp       bool   `json:"no_op"`
	NoOpReason string `json:"no_op_reason,omitempty"`
	Written    bool   `json:"written"`

	// MediaFiles maps each referenced basename to its resolved URI, or nil
	MediaFiles map[string]*string `json:"conform_media_files"`
	// OriginalMediaFiles maps each referenced basename to the authored URL
	OriginalMediaFiles map[string]string `json:"original_media_files"`
	// ReplacedWithMissing maps clip names to the URL they were unresolved for
	ReplacedWithMissing map[string]string `json:"replaced_with_missing"`
}

// ConformRequest names a stored timeline to conform
type ConformRequest struct {
	Bucket     string
	Key        string
	EditID     string
	ResultsKey string
	Options    ConformOptions
}

// Conform reads the timeline at req.Key, resolves its media references
// against req.Bucket and writes it back only when a reference changed.
// The resolution record is merged into the results document.
func (s *Service) Conform(ctx context.Context, req ConformRequest) (*ConformResult, error) {
	results := s.ReadResults(ctx, req.Bucket, req.ResultsKey, req.EditID)

	data, err := s.store.GetObject(ctx, req.Bucket, req.Key)
	if err != nil {
		s.Logf(ctx, req.EditID, "ERROR getting object %s from bucket %s.", req.Key, req.Bucket)
		return nil, &EditError{EditID: req.EditID, Op: "conform", Err: err}
	}
	tl, err := otio.Parse(data)
	if err != nil {
		s.Logf(ctx, req.EditID, "ERROR unable to process %s from bucket %s.", req.Key, req.Bucket)
		return nil, &EditError{EditID: req.EditID, Op: "conform", Err: err}
	}

	res, err := s.ConformTimeline(ctx, req.EditID, req.Bucket, tl, req.Options)
	if err != nil {
		return nil, err
	}
	if res.NoOp {
		return res, nil
	}

	if res.Updated > 0 {
		out, err := tl.Marshal()
		if err != nil {
			return nil, &EditError{EditID: req.EditID, Op: "conform", Err: err}
		}
		if err := s.store.PutObject(ctx, req.Bucket, req.Key, out); err != nil {
			s.Logf(ctx, req.EditID, "ERROR writing updated object %s to bucket %s.", req.Key, req.Bucket)
			return nil, &EditError{EditID: req.EditID, Op: "conform", Err: err}
		}
		res.Written = true
	} else {
		s.Logf(ctx, req.EditID, "Warning: No Media Reference Target URLs found in edit")
	}

	results["conform_media_files"] = res.MediaFiles
	results["original_media_files"] = res.OriginalMediaFiles
	results["replaced_with_missing"] = res.ReplacedWithMissing
	s.WriteResults(ctx, req.Bucket, req.ResultsKey, req.EditID, results)

	s.Logf(ctx, req.EditID, "Conform to Amazon S3 media complete")
	return res, nil
}

// ConformTimeline resolves tl's external media references against bucket
// and rewrites them in place.
//
// Basenames are matched exactly during one full listing of the bucket; the
// first listed object wins and a frame sequence is found through its first
// frame. References still unresolved are matched on their extension-less
// root name in a second listing. Timelines with no references, or whose
// references all resolve already, are returned untouched as a no-op.
func (s *Service) ConformTimeline(ctx context.Context, editID, bucket string, tl *otio.Timeline, opts ConformOptions) (*ConformResult, error) {
	res := &ConformResult{
		RunID:               uuid.NewString(),
		MediaFiles:          make(map[string]*string),
		OriginalMediaFiles:  make(map[string]string),
		ReplacedWithMissing: make(map[string]string),
	}
	firstFrames := make(map[string]string)
	roots := make(map[string]string)

	for _, clip := range tl.Clips() {
		if !clip.HasExternalReference() {
			continue
		}
		ref, ok := clip.MediaURL(false)
		if !ok {
			s.Logf(ctx, editID, "Warning: %s - Missing Reference, skipping...", clip.Name())
			continue
		}
		base := MediaBasename(ref)
		if first, ok := FirstFrame(base); ok {
			firstFrames[first] = base
		}
		res.Total++

		if _, seen := res.MediaFiles[base]; seen {
			continue
		}
		res.MediaFiles[base] = nil
		if b, ok := s3Bucket(ref); ok && (b == bucket || opts.KeepS3Refs) {
			resolved := ref
			res.MediaFiles[base] = &resolved
		}
		roots[rootName(base)] = base
		res.OriginalMediaFiles[base] = ref
	}

	if len(res.MediaFiles) == 0 {
		s.Logf(ctx, editID, "Warning: No media references found in the edit")
		res.NoOp, res.NoOpReason = true, NoOpNoReferences
		return res, nil
	}
	if unresolved(res.MediaFiles) == 0 {
		s.Logf(ctx, editID, "Warning: All media references (%d) already reference Amazon S3", res.Total)
		res.NoOp, res.NoOpReason = true, NoOpAlreadyResolved
		res.Exists = res.Total
		return res, nil
	}

	err := s.store.ListObjects(ctx, bucket, "", true, func(page []ObjectInfo) error {
		for _, o := range page {
			base := path.Base(o.Key)
			if v, ok := res.MediaFiles[base]; ok && v == nil {
				full := ObjectURI(bucket, o.Key)
				res.MediaFiles[base] = &full
			} else if seq, ok := firstFrames[base]; ok && res.MediaFiles[seq] == nil {
				full := ObjectURI(bucket, siblingKey(o.Key, seq))
				res.MediaFiles[seq] = &full
			}
		}
		return nil
	})
	if err != nil {
		return nil, &EditError{EditID: editID, Op: "conform scan", Err: err}
	}

	if unresolved(res.MediaFiles) > 0 {
		err := s.store.ListObjects(ctx, bucket, "", true, func(page []ObjectInfo) error {
			for _, o := range page {
				base, ok := roots[rootName(path.Base(o.Key))]
				if ok && res.MediaFiles[base] == nil {
					full := ObjectURI(bucket, o.Key)
					res.MediaFiles[base] = &full
				}
			}
			return nil
		})
		if err != nil {
			return nil, &EditError{EditID: editID, Op: "conform root scan", Err: err}
		}
	}

	for _, clip := range tl.Clips() {
		if !clip.HasExternalReference() {
			continue
		}
		ref, ok := clip.MediaURL(false)
		if !ok {
			continue
		}
		base := MediaBasename(ref)
		resolved := res.MediaFiles[base]
		if resolved == nil {
			s.Logf(ctx, editID, "Warning: Clip %s - Missing %q in Content Lake, Replacing.", clip.Name(), base)
			if opts.ReplaceMissing {
				clip.ReplaceWithMissing(base, ref)
				res.ReplacedWithMissing[clip.Name()] = ref
			}
			continue
		}
		if ref != *resolved {
			clip.SetTargetURL(*resolved)
			res.Updated++
		} else {
			res.Exists++
		}
	}

	s.Logf(ctx, editID, "Updated %d of %d Media Reference Target URLs in edit", res.Updated, res.Total-res.Exists)
	if res.Exists > 0 {
		s.Logf(ctx, editID, "%d Media Reference Target URLs already reference Amazon S3", res.Exists)
	}
	s.logger.DebugContext(ctx, "conform complete", "edit_id", editID, "run_id", res.RunID,
		"total", res.Total, "updated", res.Updated, "exists", res.Exists, "missing", len(res.ReplacedWithMissing))
	return res, nil
}

func unresolved(m map[string]*string) int {
	n := 0
	for _, v := range m {
		if v == nil {
			n++
		}
	}
	return n
}

// s3Bucket returns the bucket of an s3:// reference.
func s3Bucket(ref string) (string, bool) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return "", false
	}
	b, _, _ := strings.Cut(rest, "/")
	return b, b != ""
}

// siblingKey returns name placed in the directory of key.
func siblingKey(key, name string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return name
	}
	return key[:i+1] + name
}

// rootName strips the final extension from a basename. Leading dots do not
// start an extension.
func rootName(base string) string {
	i := strings.LastIndex(base, ".")
	if i <= 0 || strings.Trim(base[:i], ".") == "" {
		return base
	}
	return base[:i]
}

// String summarizes the run for logs and the CLI.
func (r *ConformResult) String() string {
	if r.NoOp {
		return fmt.Sprintf("no-op (%s): %d references", r.NoOpReason, r.Total)
	}
	return fmt.Sprintf("%d references: %d updated, %d already resolved, %d replaced with missing",
		r.Total, r.Updated, r.Exists, len(r.ReplacedWithMissing))
}
