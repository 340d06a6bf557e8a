package shotlocker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/internal/testutil"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

func TestListAvailableBuckets(t *testing.T) {
	env := testutil.NewEnv(t)
	for _, b := range []string{"archive", "cdk-assets", "cloudtrail-logs", "media"} {
		env.Store.CreateBucket(b)
	}
	ctx := context.Background()

	available, err := env.Service.ListAvailableBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shotlocker.Locker{{Name: "archive"}, {Name: "media"}}, available)

	env.Locker(t, "media")

	available, err = env.Service.ListAvailableBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shotlocker.Locker{{Name: "archive"}}, available)

	lockers, err := env.Service.ListLockers(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []shotlocker.Locker{{Name: "media", Active: true}}, lockers)
}

func TestReservedPrefixesOption(t *testing.T) {
	env := testutil.NewEnv(t, shotlocker.WithReservedPrefixes([]string{"internal-"}))
	env.Store.CreateBucket("internal-scratch")
	env.Store.CreateBucket("cdk-assets")

	available, err := env.Service.ListAvailableBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []shotlocker.Locker{{Name: "cdk-assets"}}, available)
}

func TestSetLockerEnabled(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Store.CreateBucket("media")
	ctx := context.Background()

	foreign := shotlocker.LambdaNotification{
		ID:          "thumbnails",
		FunctionARN: "arn:aws:lambda:us-east-1:123456789012:function:Thumbnails",
		Events:      []string{"s3:ObjectCreated:*"},
		Suffix:      ".jpg",
	}
	require.NoError(t, env.Store.PutBucketNotification(ctx, "media", &shotlocker.NotificationConfig{
		Lambda: []shotlocker.LambdaNotification{foreign},
	}))

	locker, err := env.Service.SetLockerEnabled(ctx, "media", true)
	require.NoError(t, err)
	assert.Equal(t, &shotlocker.Locker{Name: "media", Active: true}, locker)

	cfg, err := env.Store.GetBucketNotification(ctx, "media")
	require.NoError(t, err)
	require.Len(t, cfg.Lambda, 1+len(shotlocker.EditExtensions))
	assert.Equal(t, foreign, cfg.Lambda[0])
	for i, ext := range shotlocker.EditExtensions {
		n := cfg.Lambda[i+1]
		assert.Equal(t, testutil.UploadFunctionARN, n.FunctionARN)
		assert.Equal(t, "ShotLocker/Edits/", n.Prefix)
		assert.Equal(t, ext, n.Suffix)
		assert.Equal(t, []string{"s3:ObjectCreated:Put"}, n.Events)
	}

	t.Run("enabling twice keeps one set of notifications", func(t *testing.T) {
		_, err := env.Service.SetLockerEnabled(ctx, "media", true)
		require.NoError(t, err)
		cfg, err := env.Store.GetBucketNotification(ctx, "media")
		require.NoError(t, err)
		assert.Len(t, cfg.Lambda, 1+len(shotlocker.EditExtensions))
	})

	t.Run("disabling keeps foreign notifications", func(t *testing.T) {
		locker, err := env.Service.SetLockerEnabled(ctx, "media", false)
		require.NoError(t, err)
		assert.False(t, locker.Active)

		cfg, err := env.Store.GetBucketNotification(ctx, "media")
		require.NoError(t, err)
		assert.Equal(t, []shotlocker.LambdaNotification{foreign}, cfg.Lambda)

		active, err := env.Service.ListLockers(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, active)

		all, err := env.Service.ListLockers(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, []shotlocker.Locker{{Name: "media"}}, all)

		ok, err := env.Service.IsLocker(ctx, "media")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := env.Service.GetLocker(ctx, "media")
		require.NoError(t, err)
		assert.False(t, got.Active)
	})
}

func TestSetLockerEnabledWithoutUploadFunction(t *testing.T) {
	env := testutil.NewEnv(t, shotlocker.WithUploadFunctionARN(""))
	env.Store.CreateBucket("media")

	_, err := env.Service.SetLockerEnabled(context.Background(), "media", true)
	require.ErrorIs(t, err, shotlocker.ErrValidation)

	ok, err := env.Service.IsLocker(context.Background(), "media")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockerLookupErrors(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	ok, err := env.Service.IsLocker(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.Service.GetLocker(ctx, "missing")
	require.ErrorIs(t, err, shotlocker.ErrNotFound)

	env.Store.CreateBucket("plain")
	err = env.Service.RequireEdit(ctx, "plain", "aaaaaaaaaa")
	require.ErrorIs(t, err, shotlocker.ErrNotLocker)
}

func TestBucketDisableCascade(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	env.PutMedia(t, "media", "plates/shot010.mov", "plates/shot020.mov")
	ctx := context.Background()

	first, _ := env.UploadEdit(t, "media", "a.otio", testutil.TimelineDoc(t, "file:///x/shot010.mov"))
	second, _ := env.UploadEdit(t, "media", "b.otio", testutil.TimelineDoc(t, "file:///x/shot010.mov", "file:///x/shot020.mov"))
	require.Contains(t, env.AccessTokens(t, "media", "plates/shot010.mov"), first)
	require.Contains(t, env.AccessTokens(t, "media", "plates/shot010.mov"), second)

	_, err := env.Service.SetLockerEnabled(ctx, "media", false)
	require.NoError(t, err)

	runs := env.Runner.Executions(shotlocker.MachineBucketDisable)
	require.Len(t, runs, 1)
	assert.Equal(t, shotlocker.ExecutionSucceeded, runs[0].Status)

	edits, err := env.Service.ListEdits(ctx, "media", true)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	for _, e := range edits {
		assert.False(t, e.Active, e.Name)
	}
	assert.Empty(t, env.AccessTokens(t, "media", "plates/shot010.mov"))
	assert.Empty(t, env.AccessTokens(t, "media", "plates/shot020.mov"))
	assert.Contains(t, env.Events.Messages(first), "Edit ("+first+") is disabled (bucket was disabled)")

	// per-edit remove workflows are not started by the cascade
	assert.Empty(t, env.Runner.Executions(shotlocker.MachineRemoveEditAccess))
}

func TestDisableEditsSkipsFailures(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	ctx := context.Background()
	first, firstKey := env.UploadEdit(t, "media", "a.otio", testutil.TimelineDoc(t))
	second, _ := env.UploadEdit(t, "media", "b.otio", testutil.TimelineDoc(t))

	env.Store.SetFault(func(op, bucket, key string) error {
		if op == "PutObjectTags" && key == firstKey {
			return assert.AnError
		}
		return nil
	})
	defer env.Store.SetFault(nil)

	disabled, err := env.Service.DisableEdits(ctx, "media")
	require.NoError(t, err)
	assert.Equal(t, []string{second}, disabled)
	assert.Contains(t, env.Events.Messages(first), "ERROR: Unable to disable Edit ("+first+")")
}
