package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/internal/testutil"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

const principal = "arn:aws:iam::123456789012:user/editor"

func setupHandlerTest(t *testing.T) (*testutil.Env, http.Handler) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	env.Store.CreateBucket("spare")
	return env, New(env.Service, nil).Routes()
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func uploadRequest(t *testing.T, target, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	_, h := setupHandlerTest(t)
	rec, out := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestLockers(t *testing.T) {
	_, h := setupHandlerTest(t)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"list", http.MethodGet, "/lockers", http.StatusOK},
		{"available", http.MethodGet, "/lockers?available=true", http.StatusOK},
		{"get locker", http.MethodGet, "/lockers/media", http.StatusOK},
		{"get available bucket", http.MethodGet, "/lockers/spare", http.StatusOK},
		{"get unknown", http.MethodGet, "/lockers/nope", http.StatusNotFound},
		{"enable active locker", http.MethodPut, "/lockers/media/enable", http.StatusNotFound},
		{"disable available bucket", http.MethodPut, "/lockers/spare/disable", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, tt.method, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	t.Run("enable then list", func(t *testing.T) {
		rec, out := do(t, h, http.MethodPut, "/lockers/spare/enable", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]any{"name": "spare", "active": true}, out["locker"])

		_, out = do(t, h, http.MethodGet, "/lockers", nil)
		assert.Len(t, out["locker"], 2)
	})
}

func TestUploadAndEdits(t *testing.T) {
	env, h := setupHandlerTest(t)
	env.PutMedia(t, "media", "plates/shot010.mov")
	doc := testutil.TimelineDoc(t, "file:///Volumes/media/shot010.mov")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/lockers/media/edits", "cut.otio", doc))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	key := up["upload"]
	assert.True(t, strings.HasPrefix(key, "ShotLocker/Edits/"))
	assert.True(t, strings.HasSuffix(key, "/cut.otio"))

	ek, err := env.Service.Layout().ParseEditKey(key)
	require.NoError(t, err)
	_, err = env.Pipeline.UploadTrigger(context.Background(), env.Runner, "media", key)
	require.NoError(t, err)
	editID := ek.Token

	t.Run("list edits", func(t *testing.T) {
		rec, out := do(t, h, http.MethodGet, "/lockers/media/edits", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, out["edit"], 1)
	})

	t.Run("get edit", func(t *testing.T) {
		rec, out := do(t, h, http.MethodGet, "/lockers/media/edits/"+editID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, editID, out["name"])
		assert.Equal(t, true, out["active"])
		assert.Equal(t, string(shotlocker.ExecutionSucceeded), out["process_status"])
	})

	t.Run("logs", func(t *testing.T) {
		rec, out := do(t, h, http.MethodGet, "/lockers/media/edits/"+editID+"/logs", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entries, _ := out["log"].([]any)
		require.NotEmpty(t, entries)
		first, _ := entries[0].(map[string]any)
		assert.Equal(t, editID, first["Id"])
	})

	t.Run("edits of a non locker", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodGet, "/lockers/spare/edits", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown edit", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodGet, "/lockers/media/edits/zzzzzzzzzz", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("disable and enable", func(t *testing.T) {
		rec, out := do(t, h, http.MethodPut, "/lockers/media/edits/"+editID+"/disable", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		edit, _ := out["edit"].(map[string]any)
		assert.Equal(t, false, edit["active"])
		assert.Empty(t, env.AccessTokens(t, "media", "plates/shot010.mov"))

		rec, out = do(t, h, http.MethodPut, "/lockers/media/edits/"+editID+"/enable", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		edit, _ = out["edit"].(map[string]any)
		assert.Equal(t, true, edit["active"])
		assert.Equal(t, editID, env.AccessTokens(t, "media", "plates/shot010.mov"))
	})

	t.Run("access", func(t *testing.T) {
		base := "/lockers/media/edits/" + editID + "/access"

		rec, out := do(t, h, http.MethodPut, base+"/grant/2030-01-31/"+principal, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "grant "+principal, out["grant"])

		rec, out = do(t, h, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		grants, _ := out["access"].([]any)
		require.Len(t, grants, 1)
		assert.Equal(t, principal, grants[0].(map[string]any)["user_role_arn"])

		rec, _ = do(t, h, http.MethodPut, base+"/grant/2030-13-45/"+principal, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = do(t, h, http.MethodPut, base+"/grant/2030-01-31/not-an-arn", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, out = do(t, h, http.MethodPut, base+"/deny/"+principal, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "deny "+principal, out["deny"])

		_, out = do(t, h, http.MethodGet, base, nil)
		assert.Empty(t, out["access"])
	})
}

func TestUploadRejections(t *testing.T) {
	_, h := setupHandlerTest(t)

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, uploadRequest(t, "/lockers/media/edits", "cut.otio", bytes.Repeat([]byte("x"), MaxUploadSize+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("bad extension", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, uploadRequest(t, "/lockers/media/edits", "cut.mov", []byte("{}")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodPost, "/lockers/media/edits", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not a locker", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, uploadRequest(t, "/lockers/spare/edits", "cut.otio", []byte("{}")))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &shotlocker.EditError{EditID: "e", Op: "lookup", Err: shotlocker.ErrNotFound}, http.StatusNotFound},
		{"not locker", shotlocker.ErrNotLocker, http.StatusNotFound},
		{"invalid date", shotlocker.ErrInvalidDate, http.StatusBadRequest},
		{"policy parse", shotlocker.ErrPolicyParse, http.StatusInternalServerError},
		{"store failure", shotlocker.NewStoreError("GetObject", "b", "k", nil, assert.AnError), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestServerErrorsHideDetail(t *testing.T) {
	env, h := setupHandlerTest(t)
	env.Store.SetFault(func(op, bucket, key string) error {
		if op == "ListBuckets" {
			return assert.AnError
		}
		return nil
	})
	rec, out := do(t, h, http.MethodGet, "/lockers", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), out["detail"])
}

func TestUploadHook(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Locker(t, "media")
	handler := New(env.Service, nil)
	handler.OnUpload(func(ctx context.Context, bucket, key string) {
		_, err := env.Pipeline.UploadTrigger(ctx, env.Runner, bucket, key)
		assert.NoError(t, err)
	})
	h := handler.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/lockers/media/edits", "cut.otio", testutil.TimelineDoc(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	ek, err := env.Service.Layout().ParseEditKey(out["upload"])
	require.NoError(t, err)

	run, ok := env.Runner.Execution(shotlocker.MachineProcessEdit, shotlocker.ExecutionPrefix+ek.Token)
	require.True(t, ok)
	assert.Equal(t, shotlocker.ExecutionSucceeded, run.Status, run.Error)
}
