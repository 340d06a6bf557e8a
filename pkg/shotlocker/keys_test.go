package shotlocker

import (
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	l := Layout{}
	assert.Equal(t, "ShotLocker/Edits/", l.EditsPrefix())
	assert.Equal(t, "ShotLocker/Edits/abc123def4/", l.FolderKey("abc123def4"))
	assert.Equal(t, "ShotLocker/Edits/abc123def4/cut.xml", l.OriginalKey("abc123def4", "dir/cut.xml"))

	custom := Layout{Namespace: "Vault"}
	assert.Equal(t, "Vault/Edits/", custom.EditsPrefix())
}

func TestDerivedKeys(t *testing.T) {
	original := "ShotLocker/Edits/abc123def4/reel.1.xml"
	assert.Equal(t, "ShotLocker/Edits/abc123def4/processed/reel.1.json", ResultsKey(original))
	assert.Equal(t, "ShotLocker/Edits/abc123def4/processed/reel.1-shotlocker-manifest.otio", ManifestKey(original))
}

func TestParseEditKey(t *testing.T) {
	l := Layout{}
	tests := []struct {
		name    string
		key     string
		want    EditKey
		wantErr bool
	}{
		{"original", "ShotLocker/Edits/abc/cut.otio", EditKey{Token: "abc", File: "cut.otio"}, false},
		{"folder placeholder", "ShotLocker/Edits/abc/", EditKey{Token: "abc"}, false},
		{"processed", "ShotLocker/Edits/abc/processed/cut.json", EditKey{Token: "abc", File: "cut.json", Processed: true}, false},
		{"wrong namespace", "Other/Edits/abc/cut.otio", EditKey{}, true},
		{"too short", "ShotLocker/Edits/cut.otio", EditKey{}, true},
		{"too deep", "ShotLocker/Edits/abc/processed/x/cut.json", EditKey{}, true},
		{"five parts not processed", "ShotLocker/Edits/abc/other/cut.json", EditKey{}, true},
		{"empty token", "ShotLocker/Edits//cut.otio", EditKey{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.ParseEditKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUploadKey(t *testing.T) {
	l := Layout{}
	_, err := l.ParseUploadKey("ShotLocker/Edits/abc/cut.mov")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = l.ParseUploadKey("ShotLocker/Edits/abc/processed/cut-shotlocker-manifest.otio")
	assert.ErrorIs(t, err, ErrInvalidKey)
	ek, err := l.ParseUploadKey("ShotLocker/Edits/abc/cut.aaf")
	require.NoError(t, err)
	assert.Equal(t, "cut.aaf", ek.File)
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"s3://media/plates/a.exr", "media", "plates/a.exr", false},
		{"s3://arn:aws:s3:us-east-1:123456789012:accesspoint/ap/plates/a.exr", "arn:aws:s3:us-east-1:123456789012:accesspoint/ap", "plates/a.exr", false},
		{"s3://media", "", "", true},
		{"s3://media/", "", "", true},
		{"https://media/a.exr", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			b, k, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, b)
			assert.Equal(t, tt.wantKey, k)
		})
	}
}

func TestMediaURLHelpers(t *testing.T) {
	assert.Equal(t, "a.mov", MediaBasename(`C:\media\a.mov`))
	assert.Equal(t, "a.mov", MediaBasename("file:///Volumes/media/a.mov"))
	assert.Equal(t, "file:///Volumes/My Media/a b.mov", UnescapeMediaURL("file:///Volumes/My%20Media/a+b.mov"))
	assert.Equal(t, "100%.mov", UnescapeMediaURL("100%.mov"))
}

func TestTokens(t *testing.T) {
	tok, err := NewToken()
	require.NoError(t, err)
	assert.True(t, IsToken(tok))

	assert.False(t, IsToken("ABC123def4"))
	assert.False(t, IsToken("short"))

	_, err = randomString(iotest.ErrReader(assert.AnError), TokenLength)
	assert.ErrorIs(t, err, assert.AnError)

	s, err := randomString(strings.NewReader(strings.Repeat("\xff\x00", TokenLength*2)), TokenLength)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", TokenLength), s)
}

func TestEnableValues(t *testing.T) {
	for _, v := range []string{"Enable", "enable", "Enabled", "enabled", "True", "true", "t", "1", "On", "on"} {
		assert.True(t, IsEnabledValue(v), v)
	}
	for _, v := range []string{"TRUE", "yes", "false", "0", ""} {
		assert.False(t, IsEnabledValue(v), v)
	}

	tags, changed := SetTag(nil, EnableTagKey, EnableValue(true))
	assert.True(t, changed)
	_, changed = SetTag(tags, EnableTagKey, "true")
	assert.False(t, changed)
}
