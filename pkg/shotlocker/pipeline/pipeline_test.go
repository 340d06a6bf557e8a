package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/internal/testutil"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/pipeline"
)

func readResults(t *testing.T, env *testutil.Env, bucket, key string) map[string]any {
	t.Helper()
	data, err := env.Store.GetObject(context.Background(), bucket, key)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestMachines(t *testing.T) {
	env := testutil.NewEnv(t)
	machines := env.Pipeline.Machines()
	assert.Len(t, machines, 4)
	assert.Len(t, machines[shotlocker.MachineProcessEdit], 4)
	assert.Len(t, machines[shotlocker.MachineRemoveEditAccess], 3)

	for _, name := range []string{"validate", "convert", "conform", "tag", "find-processed", "remove-bucket-access", "disable-edits", "remove-object-tags"} {
		_, ok := env.Pipeline.Stage(name)
		assert.True(t, ok, name)
	}
	_, ok := env.Pipeline.Stage("upload")
	assert.False(t, ok)
}

func TestRun(t *testing.T) {
	var calls []string
	stage := func(name string, err error) pipeline.Stage {
		return func(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
			calls = append(calls, name)
			ev.Key += name
			return ev, err
		}
	}
	boom := errors.New("boom")

	out, err := pipeline.Run(context.Background(), shotlocker.Event{}, stage("a", nil), stage("b", boom), stage("c", nil))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, "ab", out.Key)
}

func TestProcessEdit(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	env.PutMedia(t, "media", "plates/shot010.mov", "plates/shot020.0001.exr", "plates/shot020.0002.exr")
	doc := testutil.TimelineDoc(t, "file:///x/shot010.mov", "file:///x/shot020.[0001-0002].exr", "file:///x/lost.mov")

	editID, key := env.UploadEdit(t, "media", "cut.otio", doc)

	run, ok := env.Runner.Execution(shotlocker.MachineProcessEdit, shotlocker.ExecutionPrefix+editID)
	require.True(t, ok)
	assert.Equal(t, shotlocker.ExecutionSucceeded, run.Status, run.Error)
	assert.Equal(t, shotlocker.ManifestKey(key), run.Output.Key)
	assert.Equal(t, key, run.Output.OriginalKey)

	results := readResults(t, env, "media", shotlocker.ResultsKey(key))
	assert.Equal(t, "2026-03-14T09:26:53.000000Z", results["create_time"])
	assert.Equal(t, map[string]any{"s3_uri": shotlocker.ObjectURI("media", key)}, results["source"])
	section := results["results"].(map[string]any)
	assert.Equal(t, shotlocker.ObjectURI("media", shotlocker.ManifestKey(key)), section["manifest"])
	assert.Contains(t, results, "object_tag")
	assert.Contains(t, results, "files_tagged")

	assert.Equal(t, editID, env.AccessTokens(t, "media", "plates/shot010.mov"))
	assert.Equal(t, editID, env.AccessTokens(t, "media", "plates/shot020.0001.exr"))
	assert.Equal(t, editID, env.AccessTokens(t, "media", "plates/shot020.0002.exr"))

	msgs := env.Events.Messages(editID)
	assert.Contains(t, msgs, "Edit ("+editID+") validated")
	assert.Contains(t, msgs, "Conform to Amazon S3 media started")
	assert.Contains(t, msgs, "Starting Step Function: "+shotlocker.ExecutionPrefix+editID)
}

func TestProcessEditUnsupportedFormat(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")

	editID, key := env.UploadEdit(t, "media", "cut.aaf", []byte("binary"))

	run, ok := env.Runner.Execution(shotlocker.MachineProcessEdit, shotlocker.ExecutionPrefix+editID)
	require.True(t, ok)
	assert.Equal(t, shotlocker.ExecutionFailed, run.Status)
	assert.Contains(t, run.Error, "unsupported edit format")
	assert.Contains(t, env.Events.Messages(editID), "ERROR unable to process "+key+" from bucket media.")

	e, err := env.Service.GetEdit(context.Background(), "media", editID)
	require.NoError(t, err)
	assert.Equal(t, shotlocker.ExecutionFailed, e.ProcessStatus)
	assert.Empty(t, e.Manifest)
}

func TestValidate(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	ctx := context.Background()

	tests := []struct {
		name string
		ev   shotlocker.Event
	}{
		{name: "missing fields", ev: shotlocker.Event{Bucket: "media"}},
		{name: "processed output", ev: shotlocker.Event{Bucket: "media", EditID: "abc", Key: "ShotLocker/Edits/abc/processed/cut.json"}},
		{name: "outside the edit layout", ev: shotlocker.Event{Bucket: "media", EditID: "abc", Key: "cut.otio"}},
		{name: "bad extension", ev: shotlocker.Event{Bucket: "media", EditID: "abc", Key: "ShotLocker/Edits/abc/cut.edl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Pipeline.Validate(ctx, tt.ev)
			require.ErrorIs(t, err, shotlocker.ErrValidation)
		})
	}
	assert.Contains(t, env.Events.Messages("abc"), "ERROR: Bucket key improper format")
}

func TestUploadTrigger(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	env.Store.CreateBucket("plain")
	ctx := context.Background()

	t.Run("processed outputs are ignored", func(t *testing.T) {
		arn, err := env.Pipeline.UploadTrigger(ctx, env.Runner, "media", "ShotLocker/Edits/abc/processed/cut-shotlocker-manifest.otio")
		require.NoError(t, err)
		assert.Empty(t, arn)
	})

	t.Run("folder placeholders are ignored", func(t *testing.T) {
		arn, err := env.Pipeline.UploadTrigger(ctx, env.Runner, "media", "ShotLocker/Edits/abc/")
		require.NoError(t, err)
		assert.Empty(t, arn)
	})

	t.Run("non locker bucket", func(t *testing.T) {
		_, err := env.Pipeline.UploadTrigger(ctx, env.Runner, "plain", "ShotLocker/Edits/abc/cut.otio")
		require.ErrorIs(t, err, shotlocker.ErrNotLocker)
	})

	t.Run("escaped key", func(t *testing.T) {
		key, err := env.Service.UploadEdit(ctx, "media", "my cut.otio", testutil.TimelineDoc(t))
		require.NoError(t, err)
		ek, err := env.Service.Layout().ParseEditKey(key)
		require.NoError(t, err)

		arn, err := env.Pipeline.UploadTrigger(ctx, env.Runner, "media", "ShotLocker/Edits/"+ek.Token+"/my+cut.otio")
		require.NoError(t, err)
		assert.NotEmpty(t, arn)

		run, ok := env.Runner.Execution(shotlocker.MachineProcessEdit, shotlocker.ExecutionPrefix+ek.Token)
		require.True(t, ok)
		assert.Equal(t, key, run.Input.Key)
		assert.Equal(t, shotlocker.ExecutionSucceeded, run.Status, run.Error)
	})
}

func TestFindProcessed(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	ctx := context.Background()

	editID, key := env.UploadEdit(t, "media", "cut.otio", testutil.TimelineDoc(t))

	ev, err := env.Pipeline.FindProcessed(ctx, shotlocker.Event{Bucket: "media", EditID: editID})
	require.NoError(t, err)
	assert.Equal(t, shotlocker.ManifestKey(key), ev.Key)

	ev, err = env.Pipeline.FindProcessed(ctx, shotlocker.Event{Bucket: "media", EditID: editID, Key: "given"})
	require.NoError(t, err)
	assert.Equal(t, "given", ev.Key)

	_, err = env.Pipeline.FindProcessed(ctx, shotlocker.Event{Bucket: "media"})
	require.ErrorIs(t, err, shotlocker.ErrValidation)

	token, err := env.Service.CreateEditFolder(ctx, "media")
	require.NoError(t, err)
	_, err = env.Pipeline.FindProcessed(ctx, shotlocker.Event{Bucket: "media", EditID: token})
	require.ErrorIs(t, err, shotlocker.ErrNotFound)
}
