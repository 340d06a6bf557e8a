// Package testutil wires an in-memory shotlocker for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	memorylog "github.com/tendant/shotlocker/pkg/shotlocker/eventlog/memory"
	"github.com/tendant/shotlocker/pkg/shotlocker/otio"
	"github.com/tendant/shotlocker/pkg/shotlocker/pipeline"
	"github.com/tendant/shotlocker/pkg/shotlocker/storage/memory"
	"github.com/tendant/shotlocker/pkg/shotlocker/workflow/local"
)

// UploadFunctionARN is the upload function configured on test services
const UploadFunctionARN = "arn:aws:lambda:us-east-1:123456789012:function:ShotLocker-Upload-Edit"

// Now is the fixed clock of test services
var Now = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// Env is a service over the memory store, memory event log and the
// synchronous local workflow runner.
type Env struct {
	Store    *memory.Backend
	Events   *memorylog.Log
	Runner   *local.Runner
	Service  *shotlocker.Service
	Pipeline *pipeline.Pipeline
}

// NewEnv builds an Env. Extra options are applied after the defaults.
func NewEnv(t testing.TB, opts ...shotlocker.Option) *Env {
	t.Helper()
	env := &Env{
		Store:  memory.New(memory.WithClock(func() time.Time { return Now })),
		Events: memorylog.New(),
		Runner: local.New(),
	}
	options := append([]shotlocker.Option{
		shotlocker.WithObjectStore(env.Store),
		shotlocker.WithEventLog(env.Events),
		shotlocker.WithWorkflow(env.Runner),
		shotlocker.WithUploadFunctionARN(UploadFunctionARN),
		shotlocker.WithRegion("us-east-1"),
		shotlocker.WithClock(func() time.Time { return Now }),
	}, opts...)
	svc, err := shotlocker.New(options...)
	require.NoError(t, err)
	env.Service = svc
	env.Pipeline = pipeline.New(svc)
	env.Runner.Register(env.Pipeline.Machines())
	return env
}

// Locker creates bucket and makes it an active locker.
func (e *Env) Locker(t testing.TB, bucket string) {
	t.Helper()
	e.Store.CreateBucket(bucket)
	_, err := e.Service.SetLockerEnabled(context.Background(), bucket, true)
	require.NoError(t, err)
}

// PutMedia stores empty objects at keys.
func (e *Env) PutMedia(t testing.TB, bucket string, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, e.Store.PutObject(context.Background(), bucket, k, []byte("media")))
	}
}

// UploadEdit uploads doc as filename and runs the upload trigger the way
// a bucket notification would. It returns the edit id and original key.
func (e *Env) UploadEdit(t testing.TB, bucket, filename string, doc []byte) (string, string) {
	t.Helper()
	ctx := context.Background()
	key, err := e.Service.UploadEdit(ctx, bucket, filename, doc)
	require.NoError(t, err)
	ek, err := e.Service.Layout().ParseEditKey(key)
	require.NoError(t, err)
	_, err = e.Pipeline.UploadTrigger(ctx, e.Runner, bucket, key)
	require.NoError(t, err)
	return ek.Token, key
}

// AccessTokens returns the access tag value of an object.
func (e *Env) AccessTokens(t testing.TB, bucket, key string) string {
	t.Helper()
	tags, err := e.Store.GetObjectTags(context.Background(), bucket, key)
	require.NoError(t, err)
	v, _ := shotlocker.TagValue(tags, shotlocker.AccessTagKey)
	return v
}

// Timeline builds a one-track timeline with one clip per media URL.
func Timeline(urls ...string) *otio.Timeline {
	b := otio.NewBuilder("test edit", 24)
	track := b.Track("V1", "Video")
	for i, u := range urls {
		track.Clip(otio.ClipSpec{
			Name:      "clip" + string(rune('A'+i)),
			TargetURL: u,
			Start:     int64(i * 24),
			Duration:  24,
		})
	}
	return b.Build()
}

// TimelineDoc is Timeline marshalled to OTIO JSON.
func TimelineDoc(t testing.TB, urls ...string) []byte {
	t.Helper()
	data, err := Timeline(urls...).Marshal()
	require.NoError(t, err)
	return data
}
