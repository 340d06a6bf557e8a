package shotlocker

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
)

const (
	editsDir     = "Edits"
	processedDir = "processed"
	manifestTail = "-shotlocker-manifest.otio"
)

// Layout builds and parses keys under a namespace:
//
//	<ns>/Edits/<token>/<original>
//	<ns>/Edits/<token>/processed/<base>.json
//	<ns>/Edits/<token>/processed/<base>-shotlocker-manifest.otio
type Layout struct {
	Namespace string
}

// EditKey is a parsed edit object key
type EditKey struct {
	Token     string
	File      string
	Processed bool
}

// EditsPrefix returns the prefix under which every edit folder lives.
func (l Layout) EditsPrefix() string {
	return l.ns() + "/" + editsDir + "/"
}

// FolderKey returns the placeholder key that claims an edit folder.
func (l Layout) FolderKey(token string) string {
	return l.EditsPrefix() + token + "/"
}

// OriginalKey returns the key of an uploaded edit document.
func (l Layout) OriginalKey(token, filename string) string {
	return l.FolderKey(token) + path.Base(filename)
}

// ResultsKey returns the results document key for an original upload key.
func ResultsKey(originalKey string) string {
	dir, base := splitBase(originalKey)
	return dir + "/" + processedDir + "/" + base + ".json"
}

// ManifestKey returns the canonical manifest key for an original upload key.
func ManifestKey(originalKey string) string {
	dir, base := splitBase(originalKey)
	return dir + "/" + processedDir + "/" + base + manifestTail
}

func splitBase(key string) (string, string) {
	name := path.Base(key)
	return path.Dir(key), strings.TrimSuffix(name, path.Ext(name))
}

// ParseEditKey parses an original upload key (4 segments) or a processed
// output key (5 segments).
func (l Layout) ParseEditKey(key string) (EditKey, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 && len(parts) != 5 {
		return EditKey{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if parts[0] != l.ns() || parts[1] != editsDir || parts[2] == "" {
		return EditKey{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if len(parts) == 5 {
		if parts[3] != processedDir {
			return EditKey{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
		return EditKey{Token: parts[2], File: parts[4], Processed: true}, nil
	}
	return EditKey{Token: parts[2], File: parts[3]}, nil
}

// ParseUploadKey parses an original upload key and checks its extension.
func (l Layout) ParseUploadKey(key string) (EditKey, error) {
	ek, err := l.ParseEditKey(key)
	if err != nil {
		return EditKey{}, err
	}
	if ek.Processed {
		return EditKey{}, fmt.Errorf("%w: processed output %s", ErrInvalidKey, key)
	}
	if !IsEditDocument(ek.File) {
		return EditKey{}, fmt.Errorf("%w: edit format %q must be one of %s", ErrInvalidKey, path.Ext(ek.File), strings.Join(EditExtensions, ","))
	}
	return ek, nil
}

// IsEditDocument reports whether name has an accepted edit extension.
func IsEditDocument(name string) bool {
	return slices.Contains(EditExtensions, path.Ext(name))
}

func (l Layout) ns() string {
	if l.Namespace == "" {
		return DefaultNamespace
	}
	return l.Namespace
}

// ObjectURI returns s3://bucket/key.
func ObjectURI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// ParseURI splits an s3:// URI into bucket and key. Access point ARNs,
// whose bucket component contains a slash, are kept whole.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: not an s3 uri: %s", ErrValidation, uri)
	}
	parts := strings.SplitN(rest, "/", 3)
	if strings.Contains(parts[0], "accesspoint") || strings.Contains(parts[0], "access_point") {
		if len(parts) < 3 {
			return "", "", fmt.Errorf("%w: incomplete access point uri: %s", ErrValidation, uri)
		}
		return parts[0] + "/" + parts[1], parts[2], nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: incomplete s3 uri: %s", ErrValidation, uri)
	}
	return bucket, key, nil
}

// MediaBasename returns the last path segment of a media URL, treating
// backslashes as separators.
func MediaBasename(ref string) string {
	return path.Base(strings.ReplaceAll(ref, "\\", "/"))
}

// UnescapeMediaURL decodes a percent and plus encoded media URL, returning
// the input unchanged when it is not valid encoding.
func UnescapeMediaURL(ref string) string {
	if s, err := url.QueryUnescape(ref); err == nil {
		return s
	}
	return ref
}
