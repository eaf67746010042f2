package soundcloud

import (
	"encoding/json"
	"strings"
)

// Track is the subset of the upstream track record the archiver relies on.
// Raw keeps the verbatim upstream JSON; it is the authoritative metadata
// snapshot and the source for rendition enumeration.
type Track struct {
	ID           string
	Title        string
	PermalinkURL string
	ArtworkURL   string
	Description  string
	User         User
	CreatedAt    string
	DurationMS   int64
	Genre        string
	TagList      string
	Downloadable bool

	StreamURL   string
	HLSURL      string
	DownloadURL string

	PlaybackCount int64
	LikesCount    int64
	RepostsCount  int64
	CommentCount  int64

	Raw json.RawMessage
}

// User is an upstream account.
type User struct {
	ID           string
	Username     string
	PermalinkURL string
	AvatarURL    string
	// TrackCount is nil when the profile does not publish it.
	TrackCount *int64

	Raw json.RawMessage
}

// Like pairs a liked track with its like timestamp. Only the track is used
// downstream.
type Like struct {
	CreatedAt string
	Track     Track
}

// Transcoding is one media.transcodings[] entry: an encoding of the track
// reachable through a URL that must itself be resolved to a direct media URL.
type Transcoding struct {
	URL      string `json:"url"`
	Protocol string
	MimeType string
	Quality  string
}

// ── JSON decoding ─────────────────────────────────────────────────────────────

type trackJSON struct {
	ID            json.Number `json:"id"`
	Title         string      `json:"title"`
	PermalinkURL  string      `json:"permalink_url"`
	ArtworkURL    string      `json:"artwork_url"`
	Description   string      `json:"description"`
	CreatedAt     string      `json:"created_at"`
	Duration      int64       `json:"duration"`
	Genre         string      `json:"genre"`
	TagList       string      `json:"tag_list"`
	Downloadable  bool        `json:"downloadable"`
	StreamURL     string      `json:"stream_url"`
	DownloadURL   string      `json:"download_url"`
	PlaybackCount int64       `json:"playback_count"`
	LikesCount    int64       `json:"likes_count"`
	RepostsCount  int64       `json:"reposts_count"`
	CommentCount  int64       `json:"comment_count"`
	User          userJSON    `json:"user"`
	Media         struct {
		Transcodings []transcodingJSON `json:"transcodings"`
	} `json:"media"`
}

type userJSON struct {
	ID           json.Number `json:"id"`
	Username     string      `json:"username"`
	PermalinkURL string      `json:"permalink_url"`
	AvatarURL    string      `json:"avatar_url"`
	TrackCount   *int64      `json:"track_count"`
}

type transcodingJSON struct {
	URL    string `json:"url"`
	Format struct {
		Protocol string `json:"protocol"`
		MimeType string `json:"mime_type"`
	} `json:"format"`
	Quality string `json:"quality"`
}

func trackFromJSON(raw json.RawMessage) (Track, bool) {
	var tj trackJSON
	if err := json.Unmarshal(raw, &tj); err != nil {
		return Track{}, false
	}
	id := tj.ID.String()
	if id == "" || id == "0" {
		return Track{}, false
	}
	title := tj.Title
	if title == "" {
		title = "Untitled"
	}
	t := Track{
		ID:            id,
		Title:         title,
		PermalinkURL:  tj.PermalinkURL,
		ArtworkURL:    tj.ArtworkURL,
		Description:   tj.Description,
		CreatedAt:     tj.CreatedAt,
		DurationMS:    tj.Duration,
		Genre:         tj.Genre,
		TagList:       tj.TagList,
		Downloadable:  tj.Downloadable,
		StreamURL:     tj.StreamURL,
		DownloadURL:   tj.DownloadURL,
		PlaybackCount: tj.PlaybackCount,
		LikesCount:    tj.LikesCount,
		RepostsCount:  tj.RepostsCount,
		CommentCount:  tj.CommentCount,
		User:          userFromJSONStruct(tj.User, nil),
		Raw:           raw,
	}
	// Keep the first HLS transcoding as the fallback stream for the pipeline.
	for _, tr := range tj.Media.Transcodings {
		if tr.Format.Protocol == "hls" {
			t.HLSURL = tr.URL
			break
		}
	}
	return t, true
}

func userFromJSONStruct(uj userJSON, raw json.RawMessage) User {
	u := User{
		ID:           uj.ID.String(),
		Username:     uj.Username,
		PermalinkURL: uj.PermalinkURL,
		AvatarURL:    uj.AvatarURL,
		TrackCount:   uj.TrackCount,
		Raw:          raw,
	}
	if u.ID == "0" {
		u.ID = ""
	}
	if u.Username == "" {
		u.Username = "Unknown Artist"
	}
	return u
}

func userFromJSON(raw json.RawMessage) (User, bool) {
	var uj userJSON
	if err := json.Unmarshal(raw, &uj); err != nil {
		return User{}, false
	}
	u := userFromJSONStruct(uj, raw)
	if u.ID == "" {
		return User{}, false
	}
	return u, true
}

// Transcodings enumerates media.transcodings[] from a track's verbatim JSON.
func (t *Track) Transcodings() []Transcoding {
	var tj trackJSON
	if err := json.Unmarshal(t.Raw, &tj); err != nil {
		return nil
	}
	out := make([]Transcoding, 0, len(tj.Media.Transcodings))
	for _, tr := range tj.Media.Transcodings {
		out = append(out, Transcoding{
			URL:      tr.URL,
			Protocol: tr.Format.Protocol,
			MimeType: tr.Format.MimeType,
			Quality:  tr.Quality,
		})
	}
	return out
}

// RecordIdentity pulls the kind and id out of a resolved generic record.
func RecordIdentity(raw json.RawMessage) (kind, id string) {
	var v struct {
		Kind string      `json:"kind"`
		ID   json.Number `json:"id"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return "", ""
	}
	id = v.ID.String()
	if id == "0" {
		id = ""
	}
	return v.Kind, id
}

// OriginalArtworkURL upgrades an artwork URL to the full-resolution variant.
func OriginalArtworkURL(u string) string {
	if strings.Contains(u, "-large.jpg") {
		return strings.Replace(u, "-large.jpg", "-original.jpg", 1)
	}
	if strings.Contains(u, "-t500x500.jpg") {
		return strings.Replace(u, "-t500x500.jpg", "-original.jpg", 1)
	}
	return u
}
