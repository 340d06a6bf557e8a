package shotlocker

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strings"
)

// ListEditIDs returns the tokens of every edit folder in bucket.
func (s *Service) ListEditIDs(ctx context.Context, bucket string) ([]string, error) {
	prefixes, err := s.store.ListPrefixes(ctx, bucket, s.layout.EditsPrefix())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		parts := strings.Split(p, "/")
		if len(parts) >= 3 && parts[2] != "" {
			ids = append(ids, parts[2])
		}
	}
	return ids, nil
}

// IsEdit reports whether editID names an edit folder in bucket.
func (s *Service) IsEdit(ctx context.Context, bucket, editID string) (bool, error) {
	ids, err := s.ListEditIDs(ctx, bucket)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, editID), nil
}

func (s *Service) requireEdit(ctx context.Context, bucket, editID string) error {
	ok, err := s.IsEdit(ctx, bucket, editID)
	if err != nil {
		return err
	}
	if !ok {
		return &EditError{EditID: editID, Op: "lookup", Err: ErrNotFound}
	}
	return nil
}

// foldObject records one listed object on its edit.
func (s *Service) foldObject(e *Edit, ek EditKey, o ObjectInfo) {
	switch {
	case ek.Processed && strings.HasSuffix(ek.File, ".otio"):
		e.Manifest = o.Key
	case ek.Processed && strings.HasSuffix(ek.File, ".json"):
		e.Results = o.Key
	case !ek.Processed && IsEditDocument(ek.File):
		e.Original = o.Key
		t := o.LastModified
		e.CreateTime = &t
	}
}

// editActive reads the enable tag of an edit's original upload. An absent
// tag means active.
func (s *Service) editActive(ctx context.Context, bucket, originalKey string) (bool, error) {
	tags, err := s.store.GetObjectTags(ctx, bucket, originalKey)
	if err != nil {
		return false, err
	}
	if v, ok := TagValue(tags, EnableTagKey); ok {
		return IsEnabledValue(v), nil
	}
	return true, nil
}

// ListEdits derives the state of every edit in bucket from one recursive
// listing. Inactive edits are dropped unless includeInactive is set.
func (s *Service) ListEdits(ctx context.Context, bucket string, includeInactive bool) ([]Edit, error) {
	edits := make(map[string]*Edit)
	err := s.store.ListObjects(ctx, bucket, s.layout.EditsPrefix(), true, func(page []ObjectInfo) error {
		for _, o := range page {
			ek, err := s.layout.ParseEditKey(o.Key)
			if err != nil || ek.File == "" {
				continue
			}
			e, ok := edits[ek.Token]
			if !ok {
				e = &Edit{Name: ek.Token, Active: true}
				edits[ek.Token] = e
			}
			s.foldObject(e, ek, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Edit, 0, len(edits))
	for _, e := range edits {
		if e.Original != "" {
			active, err := s.editActive(ctx, bucket, e.Original)
			if err != nil {
				return nil, &EditError{EditID: e.Name, Op: "read enable tag", Err: err}
			}
			e.Active = active
		}
		if !e.Active && !includeInactive {
			continue
		}
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Edit) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// GetEdit derives one edit's state, including its processing status.
func (s *Service) GetEdit(ctx context.Context, bucket, editID string) (*Edit, error) {
	if err := s.requireEdit(ctx, bucket, editID); err != nil {
		return nil, err
	}

	e := &Edit{Name: editID, Active: true}
	err := s.store.ListObjects(ctx, bucket, s.layout.FolderKey(editID), true, func(page []ObjectInfo) error {
		for _, o := range page {
			ek, err := s.layout.ParseEditKey(o.Key)
			if err != nil || ek.Token != editID || ek.File == "" {
				continue
			}
			s.foldObject(e, ek, o)
		}
		return nil
	})
	if err != nil {
		return nil, &EditError{EditID: editID, Op: "list", Err: err}
	}

	if e.Original != "" {
		active, err := s.editActive(ctx, bucket, e.Original)
		if err != nil {
			return nil, &EditError{EditID: editID, Op: "read enable tag", Err: err}
		}
		e.Active = active
	}

	if s.workflow != nil {
		status, err := s.workflow.DescribeExecution(ctx, MachineProcessEdit, ExecutionPrefix+editID)
		if err != nil {
			if !IsNotFound(err) {
				s.logger.WarnContext(ctx, "failed to describe processing execution", "edit_id", editID, "error", err)
			}
		} else {
			e.ProcessStatus = status
		}
	}
	return e, nil
}

// CreateEditFolder claims a new edit folder under a fresh token. Candidate
// tokens already listed or already present are skipped; after the
// configured number of attempts ErrAllocationExhausted is returned.
func (s *Service) CreateEditFolder(ctx context.Context, bucket string) (string, error) {
	existing, err := s.ListEditIDs(ctx, bucket)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < s.tokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return "", err
		}
		if slices.Contains(existing, token) {
			continue
		}
		folder := s.layout.FolderKey(token)
		exists, err := s.objectExists(ctx, bucket, folder)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		if err := s.store.PutObject(ctx, bucket, folder, nil); err != nil {
			s.logger.WarnContext(ctx, "failed to claim edit folder", "bucket", bucket, "key", folder, "error", err)
			continue
		}
		return token, nil
	}
	return "", fmt.Errorf("%w after %d attempts in bucket %s", ErrAllocationExhausted, s.tokenAttempts, bucket)
}

// UploadEdit stores an edit document in a newly claimed folder and returns
// its key. Processing starts from the store's upload notification.
func (s *Service) UploadEdit(ctx context.Context, bucket, filename string, body []byte) (string, error) {
	if err := s.requireLocker(ctx, bucket); err != nil {
		return "", err
	}
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: empty filename", ErrInvalidKey)
	}
	if !IsEditDocument(name) {
		return "", fmt.Errorf("%w: edit format %q must be one of %s", ErrInvalidKey, path.Ext(name), strings.Join(EditExtensions, ","))
	}

	token, err := s.CreateEditFolder(ctx, bucket)
	if err != nil {
		return "", err
	}
	key := s.layout.OriginalKey(token, name)
	if err := s.store.PutObject(ctx, bucket, key, body); err != nil {
		return "", &EditError{EditID: token, Op: "upload", Err: err}
	}
	s.Logf(ctx, token, "Uploaded edit %s to bucket %s", name, bucket)
	return key, nil
}

// SetEditEnabled writes the enable tag on the edit's original upload and
// reports whether it changed. When startWorkflow is set a changed edit
// starts the access add or remove workflow.
func (s *Service) SetEditEnabled(ctx context.Context, bucket, editID string, enabled, startWorkflow bool) (bool, error) {
	e, err := s.GetEdit(ctx, bucket, editID)
	if err != nil {
		return false, err
	}
	if e.Original == "" {
		return false, &EditError{EditID: editID, Op: "set enabled", Err: fmt.Errorf("%w: original upload", ErrNotFound)}
	}

	tags, err := s.store.GetObjectTags(ctx, bucket, e.Original)
	if err != nil {
		return false, &EditError{EditID: editID, Op: "set enabled", Err: err}
	}
	if v, ok := TagValue(tags, EnableTagKey); ok && IsEnabledValue(v) == enabled {
		return false, nil
	}
	tags, _ = SetTag(tags, EnableTagKey, EnableValue(enabled))
	if err := s.store.PutObjectTags(ctx, bucket, e.Original, tags); err != nil {
		return false, &EditError{EditID: editID, Op: "set enabled", Err: err}
	}

	if !startWorkflow {
		return true, nil
	}

	machine, mode := MachineAddEditAccess, TagAdd
	if !enabled {
		machine, mode = MachineRemoveEditAccess, TagRemove
	}
	input, err := json.Marshal(Event{Bucket: bucket, EditID: editID, Key: e.Manifest, Mode: string(mode)})
	if err != nil {
		return true, err
	}
	if err := s.startExecution(ctx, machine, executionName(machine, editID), input); err != nil {
		return true, &EditError{EditID: editID, Op: "start " + string(machine), Err: err}
	}
	s.Logf(ctx, editID, "Started %s workflow", machine)
	return true, nil
}
