package main

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/internal/testutil"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/config"
)

func newApp(t *testing.T) (context.Context, *App) {
	t.Helper()
	ctx := context.Background()
	cfg, err := config.Load(
		config.WithMemoryStorage("media"),
		config.WithUploadFunctionARN(testutil.UploadFunctionARN),
	)
	require.NoError(t, err)
	rt, err := cfg.BuildService(ctx)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	_, err = rt.Service.SetLockerEnabled(ctx, "media", true)
	require.NoError(t, err)
	return ctx, &App{rt: rt}
}

func record(bucket, key string) events.S3EventRecord {
	return events.S3EventRecord{S3: events.S3Entity{
		Bucket: events.S3Bucket{Name: bucket},
		Object: events.S3Object{Key: key},
	}}
}

func TestUpload(t *testing.T) {
	ctx, app := newApp(t)
	key, err := app.rt.Service.UploadEdit(ctx, "media", "cut.otio", testutil.TimelineDoc(t))
	require.NoError(t, err)

	res, err := app.upload(ctx, events.S3Event{Records: []events.S3EventRecord{
		record("media", key),
		record("media", shotlocker.ManifestKey(key)),
	}})
	require.NoError(t, err)
	assert.Len(t, res.Executions, 1)

	edits, err := app.rt.Service.ListEdits(ctx, "media", false)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, shotlocker.ManifestKey(key), edits[0].Manifest)
}

func TestUploadRejectsNonLocker(t *testing.T) {
	ctx, app := newApp(t)
	_, err := app.upload(ctx, events.S3Event{Records: []events.S3EventRecord{
		record("other", "ShotLocker/Edits/abcdefghij/cut.otio"),
	}})
	require.ErrorIs(t, err, shotlocker.ErrNotLocker)
}

func TestStage(t *testing.T) {
	ctx, app := newApp(t)
	st, ok := app.rt.Pipeline.Stage("find-processed")
	require.True(t, ok)

	_, err := app.stage(st)(ctx, shotlocker.Event{Bucket: "media"})
	require.ErrorIs(t, err, shotlocker.ErrValidation)
}
