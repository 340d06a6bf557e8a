package otio

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrUnsupportedFormat indicates an edit document this package cannot read
var ErrUnsupportedFormat = errors.New("unsupported edit format")

// Convert reads an edit document into a timeline, choosing the reader by
// the filename extension.
func Convert(filename string, data []byte) (*Timeline, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".otio":
		return Parse(data)
	case ".xml":
		return ParseFCP7(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path.Ext(filename))
	}
}

type xmeml struct {
	XMLName   xml.Name      `xml:"xmeml"`
	Sequences []fcpSequence `xml:"sequence"`
	Project   *fcpProject   `xml:"project"`
}

type fcpProject struct {
	Name      string        `xml:"name"`
	Sequences []fcpSequence `xml:"children>sequence"`
}

type fcpSequence struct {
	ID    string     `xml:"id,attr"`
	Name  string     `xml:"name"`
	Rate  fcpRate    `xml:"rate"`
	Video []fcpTrack `xml:"media>video>track"`
	Audio []fcpTrack `xml:"media>audio>track"`
}

type fcpRate struct {
	Timebase float64 `xml:"timebase"`
	NTSC     string  `xml:"ntsc"`
}

func (r fcpRate) fps() float64 {
	if r.Timebase <= 0 {
		return 0
	}
	if strings.EqualFold(r.NTSC, "TRUE") {
		return r.Timebase * 1000 / 1001
	}
	return r.Timebase
}

type fcpTrack struct {
	Enabled   string        `xml:"enabled"`
	ClipItems []fcpClipItem `xml:"clipitem"`
}

type fcpClipItem struct {
	ID      string   `xml:"id,attr"`
	Name    string   `xml:"name"`
	Enabled string   `xml:"enabled"`
	Start   int64    `xml:"start"`
	End     int64    `xml:"end"`
	In      int64    `xml:"in"`
	Out     int64    `xml:"out"`
	File    *fcpFile `xml:"file"`
}

type fcpFile struct {
	ID      string `xml:"id,attr"`
	Name    string `xml:"name"`
	PathURL string `xml:"pathurl"`
}

// ParseFCP7 converts a Final Cut Pro 7 XML (xmeml) sequence into a timeline.
// The first sequence in the document is used.
func ParseFCP7(data []byte) (*Timeline, error) {
	var doc xmeml
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeline, err)
	}

	sequences := doc.Sequences
	if doc.Project != nil {
		sequences = append(sequences, doc.Project.Sequences...)
	}
	if len(sequences) == 0 {
		return nil, fmt.Errorf("%w: no sequence in xmeml document", ErrInvalidTimeline)
	}
	seq := sequences[0]

	files := make(map[string]fcpFile)
	for _, tracks := range [][]fcpTrack{seq.Video, seq.Audio} {
		for _, tr := range tracks {
			for _, item := range tr.ClipItems {
				if item.File != nil && item.File.ID != "" && (item.File.PathURL != "" || item.File.Name != "") {
					files[item.File.ID] = *item.File
				}
			}
		}
	}

	b := NewBuilder(seq.Name, seq.Rate.fps())
	addTracks(b, "Video", seq.Video, files)
	addTracks(b, "Audio", seq.Audio, files)
	return b.Build(), nil
}

func addTracks(b *Builder, kind string, tracks []fcpTrack, files map[string]fcpFile) {
	for i, tr := range tracks {
		tb := b.Track(fmt.Sprintf("%s %d", kind, i+1), kind)
		for _, item := range tr.ClipItems {
			duration := item.Out - item.In
			if duration <= 0 {
				duration = item.End - item.Start
			}
			if duration <= 0 {
				continue
			}

			start := item.Start
			if start < 0 {
				start = item.End - duration
			}

			spec := ClipSpec{
				Name:     item.Name,
				Start:    start,
				In:       item.In,
				Duration: duration,
			}
			if item.File != nil {
				f := *item.File
				if ref, ok := files[f.ID]; ok {
					f = ref
				}
				spec.TargetURL = f.PathURL
				if spec.Name == "" {
					spec.Name = f.Name
				}
			}
			if strings.EqualFold(item.Enabled, "FALSE") {
				spec.Metadata = map[string]any{"fcp_xml": map[string]any{"enabled": false}}
			}
			tb.Clip(spec)
		}
	}
}
