package shotlocker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/internal/testutil"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

const (
	alice = "arn:aws:iam::123456789012:user/alice"
	bob   = "arn:aws:iam::123456789012:role/bob"
)

func newEditEnv(t *testing.T) (context.Context, *testutil.Env, string) {
	t.Helper()
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	editID, _ := env.UploadEdit(t, "media", "cut.otio", testutil.TimelineDoc(t))
	return context.Background(), env, editID
}

func TestGrantAndRevokeAccess(t *testing.T) {
	ctx, env, editID := newEditEnv(t)
	s := env.Service

	changed, err := s.GrantAccess(ctx, "media", editID, alice, "2030-01-31")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.GrantAccess(ctx, "media", editID, alice, "2031-01-31")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.GrantAccess(ctx, "media", editID, bob, "")
	require.NoError(t, err)

	grants, err := s.ListAccess(ctx, "media", editID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, alice, grants[0].Principal)
	assert.Equal(t, "2030-01-31", grants[0].Expiry.Format("2006-01-02"))
	assert.Nil(t, grants[1].Expiry)

	tokens, err := s.ListTokensForPrincipal(ctx, "media", bob)
	require.NoError(t, err)
	assert.Equal(t, []string{editID}, tokens)

	changed, err = s.RevokeAccess(ctx, "media", editID, alice)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.RevokeAccess(ctx, "media", editID, alice)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Contains(t, env.Events.Messages(editID), "Access granted to "+alice)
	assert.Contains(t, env.Events.Messages(editID), "Access revoked for "+alice)
}

func TestRevokeLastGrantDeletesPolicy(t *testing.T) {
	ctx, env, editID := newEditEnv(t)
	s := env.Service

	_, err := s.GrantAccess(ctx, "media", editID, alice, "2030-01-31")
	require.NoError(t, err)
	_, err = env.Store.GetBucketPolicy(ctx, "media")
	require.NoError(t, err)

	changed, err := s.RevokeAllAccess(ctx, "media", editID)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = env.Store.GetBucketPolicy(ctx, "media")
	assert.True(t, shotlocker.IsNotFound(err))

	grants, err := s.ListAccess(ctx, "media", editID)
	require.NoError(t, err)
	assert.Empty(t, grants)
	assert.NotNil(t, grants)
}

func TestForeignStatementsSurviveGrants(t *testing.T) {
	ctx, env, editID := newEditEnv(t)
	foreign := `{"Version":"2012-10-17","Statement":[{"Sid":"DenyInsecure","Effect":"Deny","Principal":"*","Action":"s3:*","Resource":"arn:aws:s3:::media/*"}]}`
	require.NoError(t, env.Store.PutBucketPolicy(ctx, "media", []byte(foreign)))

	_, err := env.Service.GrantAccess(ctx, "media", editID, alice, "")
	require.NoError(t, err)
	_, err = env.Service.RevokeAccess(ctx, "media", editID, alice)
	require.NoError(t, err)

	doc, err := env.Store.GetBucketPolicy(ctx, "media")
	require.NoError(t, err)
	assert.JSONEq(t, foreign, string(doc))
}

func TestAccessValidation(t *testing.T) {
	ctx, env, editID := newEditEnv(t)
	s := env.Service

	tests := []struct {
		name      string
		bucket    string
		edit      string
		principal string
		expiry    string
		want      error
	}{
		{"bad principal", "media", editID, "alice", "2030-01-31", shotlocker.ErrInvalidPrincipal},
		{"bad date", "media", editID, alice, "2030-02-30", shotlocker.ErrInvalidDate},
		{"unknown edit", "media", "zzzzzzzzzz", alice, "", shotlocker.ErrNotFound},
		{"not a locker", "other", editID, alice, "", shotlocker.ErrNotLocker},
	}
	env.Store.CreateBucket("other")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GrantAccess(ctx, tt.bucket, tt.edit, tt.principal, tt.expiry)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("corrupt policy", func(t *testing.T) {
		require.NoError(t, env.Store.PutBucketPolicy(ctx, "media", []byte("{not json")))
		_, err := s.GrantAccess(ctx, "media", editID, alice, "")
		assert.ErrorIs(t, err, shotlocker.ErrPolicyParse)
	})
}
