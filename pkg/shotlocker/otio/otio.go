// Package otio reads and rewrites OpenTimelineIO JSON documents.
//
// Documents are held as a generic JSON tree so that every field this package
// does not touch survives a read/write round trip unchanged. Only the parts
// needed to find clips and rewrite their media references are interpreted.
package otio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	schemaKey = "OTIO_SCHEMA"

	// DefaultMediaKey is the media reference key used when a clip does not name one
	DefaultMediaKey = "DEFAULT_MEDIA"

	// MetadataNamespace holds this system's metadata on rewritten references
	MetadataNamespace = "ShotLocker_OTIO"

	// MediaURLKey holds an as-authored media URL in reference metadata
	MediaURLKey = "Media Url"
)

// ErrInvalidTimeline indicates a document that is not an OTIO timeline
var ErrInvalidTimeline = errors.New("invalid timeline")

// ReferenceKind classifies a clip's media reference
type ReferenceKind int

const (
	NoReference ReferenceKind = iota
	ExternalReference
	MissingReference
	OtherReference
)

// Timeline is a parsed OTIO document
type Timeline struct {
	root map[string]any
}

// Parse decodes an OTIO JSON document.
func Parse(data []byte) (*Timeline, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeline, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrInvalidTimeline)
	}
	if _, ok := root[schemaKey].(string); !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTimeline, schemaKey)
	}
	return &Timeline{root: root}, nil
}

// Marshal encodes the timeline as indented JSON.
func (t *Timeline) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(t.root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Name returns the timeline name.
func (t *Timeline) Name() string {
	name, _ := t.root["name"].(string)
	return name
}

// Schema returns the root schema, e.g. Timeline.1.
func (t *Timeline) Schema() string {
	s, _ := t.root[schemaKey].(string)
	return s
}

// Clips returns every clip in track order.
func (t *Timeline) Clips() []*Clip {
	var clips []*Clip
	walk(t.root, &clips)
	return clips
}

func walk(node any, clips *[]*Clip) {
	switch n := node.(type) {
	case []any:
		for _, child := range n {
			walk(child, clips)
		}
	case map[string]any:
		if schema, _ := n[schemaKey].(string); strings.HasPrefix(schema, "Clip.") {
			*clips = append(*clips, &Clip{node: n})
			return
		}
		walk(n["tracks"], clips)
		walk(n["children"], clips)
	}
}

// Clip is one clip node of a timeline
type Clip struct {
	node map[string]any
}

// Name returns the clip name.
func (c *Clip) Name() string {
	name, _ := c.node["name"].(string)
	return name
}

// reference returns the active media reference node and a setter for its slot.
func (c *Clip) reference() (map[string]any, func(map[string]any)) {
	if refs, ok := c.node["media_references"].(map[string]any); ok {
		key, _ := c.node["active_media_reference_key"].(string)
		if key == "" {
			key = DefaultMediaKey
		}
		ref, _ := refs[key].(map[string]any)
		return ref, func(m map[string]any) { refs[key] = m }
	}
	ref, _ := c.node["media_reference"].(map[string]any)
	return ref, func(m map[string]any) { c.node["media_reference"] = m }
}

// ReferenceKind classifies the clip's active media reference.
func (c *Clip) ReferenceKind() ReferenceKind {
	ref, _ := c.reference()
	if ref == nil {
		return NoReference
	}
	schema, _ := ref[schemaKey].(string)
	switch {
	case strings.HasPrefix(schema, "ExternalReference."):
		return ExternalReference
	case strings.HasPrefix(schema, "MissingReference."):
		return MissingReference
	default:
		return OtherReference
	}
}

// HasExternalReference reports whether the clip references external media.
func (c *Clip) HasExternalReference() bool {
	return c.ReferenceKind() == ExternalReference
}

// MediaURL returns the decoded URL of an external reference. When
// includeMissing is set, a missing reference's recorded media URL is
// returned as well.
func (c *Clip) MediaURL(includeMissing bool) (string, bool) {
	ref, _ := c.reference()
	var raw string
	switch c.ReferenceKind() {
	case ExternalReference:
		raw, _ = ref["target_url"].(string)
	case MissingReference:
		if includeMissing {
			raw = metadataMediaURL(ref)
		}
	}
	if raw == "" {
		return "", false
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	return raw, true
}

func metadataMediaURL(ref map[string]any) string {
	md, _ := ref["metadata"].(map[string]any)
	found := ""
	for k, v := range md {
		if k == MediaURLKey {
			if s, ok := v.(string); ok {
				found = s
			}
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if s, ok := nested[MediaURLKey].(string); ok && found == "" {
				found = s
			}
		}
	}
	return found
}

// SetTargetURL rewrites the target of an external reference.
func (c *Clip) SetTargetURL(target string) bool {
	ref, _ := c.reference()
	if c.ReferenceKind() != ExternalReference {
		return false
	}
	ref["target_url"] = target
	return true
}

// ReplaceWithMissing swaps the reference for a missing reference that
// records the original URL.
func (c *Clip) ReplaceWithMissing(name, originalURL string) {
	_, set := c.reference()
	set(map[string]any{
		schemaKey:                "MissingReference.1",
		"name":                   name,
		"available_range":        nil,
		"available_image_bounds": nil,
		"metadata": map[string]any{
			MetadataNamespace: map[string]any{MediaURLKey: originalURL},
		},
	})
}
