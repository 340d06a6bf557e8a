package otio

// Builder assembles a new timeline track by track.
type Builder struct {
	name   string
	rate   float64
	tracks []any
}

// TrackBuilder appends items to one track
type TrackBuilder struct {
	node   map[string]any
	rate   float64
	cursor int64
}

// NewBuilder starts a timeline at the given frame rate.
func NewBuilder(name string, rate float64) *Builder {
	if rate <= 0 {
		rate = 24
	}
	return &Builder{name: name, rate: rate}
}

// Track appends a track of kind Video or Audio.
func (b *Builder) Track(name, kind string) *TrackBuilder {
	node := map[string]any{
		schemaKey:      "Track.1",
		"name":         name,
		"kind":         kind,
		"source_range": nil,
		"metadata":     map[string]any{},
		"effects":      []any{},
		"markers":      []any{},
		"enabled":      true,
		"children":     []any{},
	}
	b.tracks = append(b.tracks, node)
	return &TrackBuilder{node: node, rate: b.rate}
}

// Build returns the assembled timeline.
func (b *Builder) Build() *Timeline {
	return &Timeline{root: map[string]any{
		schemaKey:           "Timeline.1",
		"name":              b.name,
		"metadata":          map[string]any{},
		"global_start_time": nil,
		"tracks": map[string]any{
			schemaKey:      "Stack.1",
			"name":         "tracks",
			"source_range": nil,
			"metadata":     map[string]any{},
			"effects":      []any{},
			"markers":      []any{},
			"enabled":      true,
			"children":     b.tracks,
		},
	}}
}

// ClipSpec describes a clip placed on a track
type ClipSpec struct {
	Name      string
	TargetURL string // empty for a missing reference
	Start     int64  // record start in frames
	In        int64  // source in in frames
	Duration  int64  // frames
	Metadata  map[string]any
}

// Clip appends a clip, inserting a gap when Start is past the track end.
// Clips that overlap the track end are placed at the track end.
func (t *TrackBuilder) Clip(spec ClipSpec) {
	if spec.Start > t.cursor {
		t.Gap(spec.Start - t.cursor)
	}

	var ref map[string]any
	if spec.TargetURL != "" {
		ref = map[string]any{
			schemaKey:                "ExternalReference.1",
			"name":                   spec.Name,
			"target_url":             spec.TargetURL,
			"available_range":        nil,
			"available_image_bounds": nil,
			"metadata":               map[string]any{},
		}
	} else {
		ref = map[string]any{
			schemaKey:                "MissingReference.1",
			"name":                   spec.Name,
			"available_range":        nil,
			"available_image_bounds": nil,
			"metadata":               map[string]any{},
		}
	}

	md := spec.Metadata
	if md == nil {
		md = map[string]any{}
	}
	t.append(map[string]any{
		schemaKey:                    "Clip.2",
		"name":                       spec.Name,
		"source_range":               timeRange(spec.In, spec.Duration, t.rate),
		"metadata":                   md,
		"effects":                    []any{},
		"markers":                    []any{},
		"enabled":                    true,
		"media_references":           map[string]any{DefaultMediaKey: ref},
		"active_media_reference_key": DefaultMediaKey,
	})
	t.cursor += spec.Duration
}

// Gap appends empty space of the given length.
func (t *TrackBuilder) Gap(frames int64) {
	if frames <= 0 {
		return
	}
	t.append(map[string]any{
		schemaKey:      "Gap.1",
		"name":         "",
		"source_range": timeRange(0, frames, t.rate),
		"metadata":     map[string]any{},
		"effects":      []any{},
		"markers":      []any{},
		"enabled":      true,
	})
	t.cursor += frames
}

func (t *TrackBuilder) append(item map[string]any) {
	children, _ := t.node["children"].([]any)
	t.node["children"] = append(children, item)
}

func timeRange(start, duration int64, rate float64) map[string]any {
	return map[string]any{
		schemaKey:    "TimeRange.1",
		"start_time": rationalTime(start, rate),
		"duration":   rationalTime(duration, rate),
	}
}

func rationalTime(value int64, rate float64) map[string]any {
	return map[string]any{
		schemaKey: "RationalTime.1",
		"rate":    rate,
		"value":   float64(value),
	}
}
