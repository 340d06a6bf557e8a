// Package pipeline holds the workflow stages that process uploaded edits
// and cascade access changes. Every stage takes and returns the workflow
// event document.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/otio"
)

// ResultsTimeLayout formats the results create_time, suffixed with "Z"
const ResultsTimeLayout = "2006-01-02T15:04:05.000000"

// Stage is one workflow step
type Stage func(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error)

// Pipeline binds the stages to a service
type Pipeline struct {
	svc *shotlocker.Service
}

// New creates a pipeline over svc
func New(svc *shotlocker.Service) *Pipeline {
	return &Pipeline{svc: svc}
}

// Machines returns the stage chain of every workflow.
func (p *Pipeline) Machines() map[shotlocker.Machine][]Stage {
	return map[shotlocker.Machine][]Stage{
		shotlocker.MachineProcessEdit:      {p.Validate, p.Convert, p.Conform, p.Tag},
		shotlocker.MachineAddEditAccess:    {p.FindProcessed, p.Tag},
		shotlocker.MachineRemoveEditAccess: {p.RemoveBucketAccess, p.FindProcessed, p.Tag},
		shotlocker.MachineBucketDisable:    {p.DisableEdits, p.RemoveObjectTags},
	}
}

// Stage returns a stage by its handler name.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	stages := map[string]Stage{
		"validate":             p.Validate,
		"convert":              p.Convert,
		"conform":              p.Conform,
		"tag":                  p.Tag,
		"find-processed":       p.FindProcessed,
		"remove-bucket-access": p.RemoveBucketAccess,
		"disable-edits":        p.DisableEdits,
		"remove-object-tags":   p.RemoveObjectTags,
	}
	st, ok := stages[name]
	return st, ok
}

// Run applies stages in order, feeding each stage's output to the next.
func Run(ctx context.Context, ev shotlocker.Event, stages ...Stage) (shotlocker.Event, error) {
	for _, st := range stages {
		var err error
		ev, err = st(ctx, ev)
		if err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// Validate checks the uploaded key, enables the edit and writes the initial
// results document.
func (p *Pipeline) Validate(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	if ev.Bucket == "" || ev.Key == "" || ev.EditID == "" {
		return ev, fmt.Errorf("%w: validate requires bucket, key and edit id", shotlocker.ErrValidation)
	}
	resultsKey := shotlocker.ResultsKey(ev.Key)

	if ek, err := p.svc.Layout().ParseEditKey(ev.Key); err != nil || ek.Processed {
		p.svc.Logf(ctx, ev.EditID, "ERROR: Bucket key improper format")
		return ev, fmt.Errorf("%w: bucket key improper format: %s", shotlocker.ErrInvalidKey, ev.Key)
	}
	if ext := path.Ext(ev.Key); !shotlocker.IsEditDocument(ev.Key) {
		p.svc.Logf(ctx, ev.EditID, "ERROR: import edit format %s, must be one of: %s", ext, strings.Join(shotlocker.EditExtensions, ","))
		return ev, fmt.Errorf("%w: bucket key improper edit format (%s)", shotlocker.ErrInvalidKey, ext)
	}
	p.svc.Logf(ctx, ev.EditID, "Edit (%s) validated", ev.EditID)

	if _, err := p.svc.SetEditEnabled(ctx, ev.Bucket, ev.EditID, true, false); err != nil {
		return ev, err
	}

	ev.ResultsKey = resultsKey
	results := shotlocker.Results{
		"create_time": p.svc.Now().UTC().Format(ResultsTimeLayout) + "Z",
		"source":      map[string]any{"s3_uri": shotlocker.ObjectURI(ev.Bucket, ev.Key)},
		"results":     map[string]any{"s3_uri": shotlocker.ObjectURI(ev.Bucket, resultsKey)},
	}
	p.svc.WriteResults(ctx, ev.Bucket, resultsKey, ev.EditID, results)
	return ev, nil
}

// Convert turns the uploaded edit into the canonical manifest and points
// the event at it.
func (p *Pipeline) Convert(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	store := p.svc.Store()
	results := p.svc.ReadResults(ctx, ev.Bucket, ev.ResultsKey, ev.EditID)

	data, err := store.GetObject(ctx, ev.Bucket, ev.Key)
	if err != nil {
		p.svc.Logf(ctx, ev.EditID, "ERROR getting object %s from bucket %s.", ev.Key, ev.Bucket)
		return ev, err
	}
	tl, err := otio.Convert(path.Base(ev.Key), data)
	if err != nil {
		p.svc.Logf(ctx, ev.EditID, "ERROR unable to process %s from bucket %s.", ev.Key, ev.Bucket)
		return ev, &shotlocker.EditError{EditID: ev.EditID, Op: "convert", Err: err}
	}

	newKey := shotlocker.ManifestKey(ev.Key)
	p.svc.Logf(ctx, ev.EditID, "Writing processed edit to %s", newKey)
	out, err := tl.Marshal()
	if err != nil {
		return ev, &shotlocker.EditError{EditID: ev.EditID, Op: "convert", Err: err}
	}
	if err := store.PutObject(ctx, ev.Bucket, newKey, out); err != nil {
		p.svc.Logf(ctx, ev.EditID, "ERROR writing object %s to bucket %s.", newKey, ev.Bucket)
		return ev, err
	}

	results.Section("results")["manifest"] = shotlocker.ObjectURI(ev.Bucket, newKey)
	p.svc.WriteResults(ctx, ev.Bucket, ev.ResultsKey, ev.EditID, results)

	ev.OriginalKey = ev.Key
	ev.Key = newKey
	return ev, nil
}

// Conform resolves the manifest's media references against the bucket.
func (p *Pipeline) Conform(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	opts := shotlocker.DefaultConformOptions()
	if ev.KeepS3Refs != nil {
		opts.KeepS3Refs = *ev.KeepS3Refs
	}
	if ev.ReplaceMissing != nil {
		opts.ReplaceMissing = *ev.ReplaceMissing
	}
	p.svc.Logf(ctx, ev.EditID, "Conform to Amazon S3 media started")
	_, err := p.svc.Conform(ctx, shotlocker.ConformRequest{
		Bucket:     ev.Bucket,
		Key:        ev.Key,
		EditID:     ev.EditID,
		ResultsKey: ev.ResultsKey,
		Options:    opts,
	})
	return ev, err
}

// Tag adds or removes the edit's access token on every referenced object.
func (p *Pipeline) Tag(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	mode, err := shotlocker.ParseTagMode(ev.Mode)
	if err != nil {
		return ev, err
	}
	_, err = p.svc.Tag(ctx, shotlocker.TagRequest{
		Bucket:     ev.Bucket,
		Key:        ev.Key,
		EditID:     ev.EditID,
		ResultsKey: ev.ResultsKey,
		Mode:       mode,
	})
	return ev, err
}

// FindProcessed fills in the manifest key when the event carries none.
func (p *Pipeline) FindProcessed(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	if ev.Bucket == "" || ev.EditID == "" {
		return ev, fmt.Errorf("%w: missing required parameters", shotlocker.ErrValidation)
	}
	if ev.Key != "" {
		return ev, nil
	}
	e, err := p.svc.GetEdit(ctx, ev.Bucket, ev.EditID)
	if err != nil {
		return ev, err
	}
	if e.Manifest == "" {
		return ev, &shotlocker.EditError{EditID: ev.EditID, Op: "find processed", Err: fmt.Errorf("%w: manifest", shotlocker.ErrNotFound)}
	}
	ev.Key = e.Manifest
	return ev, nil
}

// RemoveBucketAccess drops every policy grant for the edit.
func (p *Pipeline) RemoveBucketAccess(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	if ev.Bucket == "" || ev.EditID == "" {
		return ev, fmt.Errorf("%w: missing required parameters", shotlocker.ErrValidation)
	}
	_, err := p.svc.RevokeAllAccess(ctx, ev.Bucket, ev.EditID)
	return ev, err
}

// DisableEdits disables every active edit in the bucket.
func (p *Pipeline) DisableEdits(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	_, err := p.svc.DisableEdits(ctx, ev.Bucket)
	return ev, err
}

// RemoveObjectTags clears the access tag of every object in the bucket.
func (p *Pipeline) RemoveObjectTags(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
	_, err := p.svc.ClearAccessTags(ctx, ev.Bucket)
	return ev, err
}

// UploadTrigger starts edit processing for a newly stored object. Keys
// outside the edit upload layout, processed outputs included, are ignored
// and reported with an empty execution ARN.
func (p *Pipeline) UploadTrigger(ctx context.Context, workflow shotlocker.Workflow, bucket, rawKey string) (string, error) {
	key := shotlocker.UnescapeMediaURL(rawKey)
	ek, err := p.svc.Layout().ParseEditKey(key)
	if err != nil || ek.Processed || ek.File == "" {
		return "", nil
	}

	ok, err := p.svc.IsLocker(ctx, bucket)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", shotlocker.ErrNotLocker, bucket)
	}

	name := shotlocker.ExecutionPrefix + ek.Token
	p.svc.Logf(ctx, ek.Token, "Uploaded Bucket: %s Edit: %s", bucket, key)

	input, err := json.Marshal(shotlocker.Event{Bucket: bucket, Key: key, EditID: ek.Token})
	if err != nil {
		return "", err
	}
	arn, err := workflow.StartExecution(ctx, shotlocker.MachineProcessEdit, name, input)
	if err != nil {
		p.svc.Logf(ctx, ek.Token, "ERROR: unable to put object %s in %s", key, bucket)
		return "", err
	}
	p.svc.Logf(ctx, ek.Token, "Starting Step Function: %s", name)
	return arn, nil
}
