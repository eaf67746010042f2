// Package media turns one track into local files for announcement: audio
// renditions acquired through the transcoder subprocess, the artwork and a
// metadata snapshot, all staged in a per-track work directory.
package media

import (
	"sort"
	"strings"

	"github.com/scarchive/scarchivebot/internal/soundcloud"
)

// FallbackPriority tags the last-resort re-encoded mp3.
const FallbackPriority = 50

// Rendition is one audio encoding of a track, plus the priority that decides
// acquisition order.
type Rendition struct {
	URL      string
	Protocol string
	MimeType string
	Quality  string
	Priority int
}

// Tag is the composite format tag used in logs and derived filenames,
// e.g. "hls/audio/ogg;codecs=\"opus\"/hq".
func (r Rendition) Tag() string {
	return r.Protocol + "/" + r.MimeType + "/" + r.Quality
}

// Renditions enumerates the track's transcodings in priority order. The
// "hls + audio/mpegurl" combination is dropped up front; its resolve
// endpoint has historically 404ed.
func Renditions(t *soundcloud.Track) []Rendition {
	var out []Rendition
	for _, tr := range t.Transcodings() {
		if tr.URL == "" {
			continue
		}
		if tr.Protocol == "hls" && strings.Contains(tr.MimeType, "mpegurl") {
			continue
		}
		r := Rendition{
			URL:      tr.URL,
			Protocol: tr.Protocol,
			MimeType: tr.MimeType,
			Quality:  tr.Quality,
		}
		r.Priority = PriorityOf(r.Tag())
		out = append(out, r)
	}
	// Stable keeps source order on equal priority.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// PriorityOf maps a format tag to its acquisition rank; lower is better.
func PriorityOf(tag string) int {
	t := strings.ToLower(tag)
	has := func(s string) bool { return strings.Contains(t, s) }
	mp3 := has("mp3") || has("mpeg")
	aac := has("aac") || has("mp4")
	switch {
	case has("transcoded"):
		return FallbackPriority
	case has("hq") && has("flac"):
		return 1
	case has("hq") && has("opus"):
		return 2
	case has("hq") && mp3:
		return 3
	case has("hq") && aac:
		return 4
	case has("hq"):
		return 5
	case has("progressive") && mp3:
		return 10
	case has("opus"):
		return 11
	case mp3:
		return 12
	case aac:
		return 13
	case has("hls"):
		return 15
	}
	return 20
}

// ExtensionFor derives the output file extension from a format tag.
func ExtensionFor(tag string) string {
	t := strings.ToLower(tag)
	has := func(s string) bool { return strings.Contains(t, s) }
	switch {
	case has("flac"):
		return ".flac"
	case has("wav"):
		return ".wav"
	case has("opus"):
		return ".opus"
	case has("ogg") || has("vorbis"):
		return ".ogg"
	case has("mp3") || has("mpeg"):
		return ".mp3"
	case has("aac") || has("mp4") || has("hls"):
		return ".m4a"
	}
	return ".mp3"
}

// SanitizeTitle makes a track title safe as a filename stem.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 100 {
		rs := []rune(s)
		if len(rs) > 100 {
			s = string(rs[:100])
		}
	}
	return s
}

// sanitizeTag flattens a format tag for use inside a filename suffix.
func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ';', '"', '=', ' ':
			return '-'
		}
		return r
	}, tag)
}
