// Package webhook posts track announcements to a Discord-compatible webhook,
// as an embed-only JSON body or a multipart upload with attachments.
package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scarchive/scarchivebot/internal/soundcloud"
)

const (
	// Destination caps: attachment count and aggregate upload size.
	maxAttachments = 10
	maxBodyBytes   = 8 << 20

	maxDescription  = 2000
	embedColor      = 0xFF7700
	defaultUsername = "SoundCloud Archiver"
)

// Embed mirrors the destination's rich-embed object.
type Embed struct {
	Title       string     `json:"title"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Timestamp   string     `json:"timestamp,omitempty"`
	Color       int        `json:"color"`
	Author      *Author    `json:"author,omitempty"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
}

type Author struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type Thumbnail struct {
	URL string `json:"url"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// TrackEmbed builds the announcement embed for one track.
func TrackEmbed(t *soundcloud.Track) Embed {
	e := Embed{
		Title:       t.Title,
		Type:        "rich",
		Description: truncateDescription(t.Description),
		URL:         t.PermalinkURL,
		Timestamp:   t.CreatedAt,
		Color:       embedColor,
		Author: &Author{
			Name:    t.User.Username,
			URL:     t.User.PermalinkURL,
			IconURL: t.User.AvatarURL,
		},
	}
	if t.ArtworkURL != "" {
		e.Thumbnail = &Thumbnail{URL: soundcloud.OriginalArtworkURL(t.ArtworkURL)}
	}
	if t.DurationMS > 0 {
		e.Fields = append(e.Fields, Field{Name: "Duration", Value: formatDuration(t.DurationMS), Inline: true})
	}
	if t.Genre != "" {
		e.Fields = append(e.Fields, Field{Name: "Genre", Value: t.Genre, Inline: true})
	}
	if t.PlaybackCount > 0 {
		e.Fields = append(e.Fields, Field{Name: "Plays", Value: formatCount(t.PlaybackCount), Inline: true})
	}
	if t.LikesCount > 0 {
		e.Fields = append(e.Fields, Field{Name: "Likes", Value: formatCount(t.LikesCount), Inline: true})
	}
	if t.RepostsCount > 0 {
		e.Fields = append(e.Fields, Field{Name: "Reposts", Value: formatCount(t.RepostsCount), Inline: true})
	}
	if tags := ParseTags(t.TagList); len(tags) > 0 {
		e.Fields = append(e.Fields, Field{Name: "Tags", Value: strings.Join(tags, ", ")})
	}
	return e
}

func truncateDescription(s string) string {
	rs := []rune(s)
	if len(rs) <= maxDescription {
		return s
	}
	return string(rs[:maxDescription]) + "..."
}

func formatDuration(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}

// ParseTags splits a tag list on whitespace, treating double-quoted runs as
// single tags and honouring backslash escapes. Empty tags are dropped.
func ParseTags(list string) []string {
	var (
		tags    []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if s := cur.String(); s != "" {
			tags = append(tags, s)
		}
		cur.Reset()
	}
	for _, r := range list {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tags
}
