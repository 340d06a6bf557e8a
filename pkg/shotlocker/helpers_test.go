package shotlocker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/internal/testutil"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/storage/memory"
)

func newTestService(t *testing.T, opts ...shotlocker.Option) (context.Context, *shotlocker.Service, *memory.Backend) {
	t.Helper()
	env := testutil.NewEnv(t, opts...)
	return context.Background(), env.Service, env.Store
}

func putObjects(t *testing.T, store *memory.Backend, bucket string, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, store.PutObject(context.Background(), bucket, k, []byte("media")))
	}
}

func accessTag(t *testing.T, store *memory.Backend, bucket, key string) string {
	t.Helper()
	tags, err := store.GetObjectTags(context.Background(), bucket, key)
	require.NoError(t, err)
	v, _ := shotlocker.TagValue(tags, shotlocker.AccessTagKey)
	return v
}
