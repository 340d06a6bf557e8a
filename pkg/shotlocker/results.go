package shotlocker

import (
	"bytes"
	"context"
	"encoding/json"
)

// Results is the per-edit results document kept next to the manifest.
type Results map[string]any

// ReadResults reads a results document. A missing or unreadable document
// yields an empty one and is logged against the edit.
func (s *Service) ReadResults(ctx context.Context, bucket, key, editID string) Results {
	if key == "" {
		return Results{}
	}
	data, err := s.store.GetObject(ctx, bucket, key)
	if err != nil {
		s.Logf(ctx, editID, "ERROR: unable to read results json")
		s.logger.WarnContext(ctx, "failed to read results", "bucket", bucket, "key", key, "error", err)
		return Results{}
	}
	var r Results
	if err := json.Unmarshal(data, &r); err != nil || r == nil {
		s.Logf(ctx, editID, "ERROR: unable to read results json")
		return Results{}
	}
	return r
}

// WriteResults writes a results document. Failures are logged, not returned.
func (s *Service) WriteResults(ctx context.Context, bucket, key, editID string, r Results) {
	if key == "" {
		return
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	err := enc.Encode(r)
	if err == nil {
		err = s.store.PutObject(ctx, bucket, key, buf.Bytes())
	}
	if err != nil {
		s.Logf(ctx, editID, "ERROR: unable to write results.json")
		s.logger.ErrorContext(ctx, "failed to write results", "bucket", bucket, "key", key, "error", err)
	}
}

// Section returns the nested object at key, creating it when absent.
func (r Results) Section(key string) map[string]any {
	if m, ok := r[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	r[key] = m
	return m
}
