package shotlocker

import (
	"context"
	"fmt"
	"iter"
	"math"
	"path"
	"strconv"
	"strings"
)

// FrameRange is a parsed bracketed frame pattern such as shot.[0001-0010].exr
type FrameRange struct {
	Prefix string
	Suffix string
	Start  int
	End    int // inclusive
	Pad    int // zero padding width, 0 for none
}

// FrameCheck is one expanded name and whether it exists in the store
type FrameCheck struct {
	URI    string `json:"s3_uri"`
	Exists bool   `json:"exists"`
}

// HasFrameRange reports whether name is a frame-range pattern.
func HasFrameRange(name string) bool {
	_, ok := ParseFrameRange(name)
	return ok
}

// ParseFrameRange parses name as a frame-range pattern. Bounds whose frame
// count does not fit in an int are rejected.
func ParseFrameRange(name string) (FrameRange, bool) {
	parts := splitOnBrackets(name)
	if len(parts) != 3 {
		return FrameRange{}, false
	}
	startStr, endStr, ok := strings.Cut(parts[1], "-")
	if !ok || strings.Contains(endStr, "-") || !isDigits(startStr) || !isDigits(endStr) {
		return FrameRange{}, false
	}
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return FrameRange{}, false
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return FrameRange{}, false
	}
	if end-start == math.MaxInt {
		return FrameRange{}, false
	}
	fr := FrameRange{Prefix: parts[0], Suffix: parts[2], Start: start, End: end}
	if startStr[0] == '0' || endStr[0] == '0' {
		fr.Pad = max(len(startStr), len(endStr))
	}
	return fr, true
}

// splitOnBrackets splits name on every '[' and ']', keeping empty segments.
func splitOnBrackets(name string) []string {
	parts := []string{}
	for {
		i := strings.IndexAny(name, "[]")
		if i < 0 {
			return append(parts, name)
		}
		parts = append(parts, name[:i])
		name = name[i+1:]
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Len returns the number of frames in the range.
func (fr FrameRange) Len() int {
	if fr.End < fr.Start {
		return 0
	}
	return fr.End - fr.Start + 1
}

// Frame formats frame n of the range.
func (fr FrameRange) Frame(n int) string {
	num := strconv.Itoa(n)
	if fr.Pad > 0 {
		num = fmt.Sprintf("%0*d", fr.Pad, n)
	}
	return fr.Prefix + num + fr.Suffix
}

// All yields every frame name from Start through End.
func (fr FrameRange) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := range fr.Len() {
			if !yield(fr.Frame(fr.Start + i)) {
				return
			}
		}
	}
}

// CheckFrameRange returns ErrFrameRangeTooLarge when name is a frame-range
// pattern expanding to more than limit frames.
func CheckFrameRange(name string, limit int) error {
	fr, ok := ParseFrameRange(name)
	if !ok || fr.Len() <= limit {
		return nil
	}
	return fmt.Errorf("%w: %s has %d frames, limit %d", ErrFrameRangeTooLarge, name, fr.Len(), limit)
}

// ExpandFrames yields the concrete names for name: one per frame for a
// frame-range pattern, otherwise name itself. The sequence is unbounded;
// use CheckFrameRange before collecting untrusted input.
func ExpandFrames(name string) iter.Seq[string] {
	if fr, ok := ParseFrameRange(name); ok {
		return fr.All()
	}
	return func(yield func(string) bool) {
		yield(name)
	}
}

// FirstFrame returns the first expanded name of a frame-range pattern.
func FirstFrame(name string) (string, bool) {
	fr, ok := ParseFrameRange(name)
	if !ok || fr.Len() == 0 {
		return "", false
	}
	return fr.Frame(fr.Start), true
}

// ExpandWithExistence expands uri and reports which names exist. A frame
// range is checked against one listing of its sibling directory; a plain
// name is checked with a single HeadObject.
func (s *Service) ExpandWithExistence(ctx context.Context, uri string) ([]FrameCheck, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if err := CheckFrameRange(key, s.maxFrames); err != nil {
		return nil, err
	}

	fr, ok := ParseFrameRange(key)
	if !ok {
		exists, err := s.objectExists(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		return []FrameCheck{{URI: uri, Exists: exists}}, nil
	}

	prefix := path.Dir(key) + "/"
	if !strings.Contains(key, "/") {
		prefix = ""
	}
	listed := make(map[string]struct{})
	err = s.store.ListObjects(ctx, bucket, prefix, false, func(page []ObjectInfo) error {
		for _, o := range page {
			listed[o.Key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	checks := make([]FrameCheck, 0, fr.Len())
	for name := range fr.All() {
		_, exists := listed[name]
		checks = append(checks, FrameCheck{URI: ObjectURI(bucket, name), Exists: exists})
	}
	return checks, nil
}

func (s *Service) objectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.store.HeadObject(ctx, bucket, key)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}
