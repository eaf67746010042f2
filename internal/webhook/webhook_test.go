package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/scarchive/scarchivebot/internal/soundcloud"
)

func TestParseTags(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"ambient techno", []string{"ambient", "techno"}},
		{`"deep house" idm`, []string{"deep house", "idm"}},
		{`a\"b c`, []string{`a"b`, "c"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"", nil},
		{`""`, nil},
	}
	for _, c := range cases {
		if got := ParseTags(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("ParseTags(%q) = %#v, want %#v", c.in, got, c.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(215000); got != "3:35" {
		t.Fatalf("formatDuration = %q", got)
	}
	if got := formatDuration(59999); got != "0:59" {
		t.Fatalf("formatDuration = %q", got)
	}
}

func TestTrackEmbed(t *testing.T) {
	tr := &soundcloud.Track{
		ID:           "42",
		Title:        "Night Drive",
		PermalinkURL: "https://example/t",
		ArtworkURL:   "https://i1.sndcdn.com/artworks-x-large.jpg",
		CreatedAt:    "2024-05-01T10:00:00Z",
		DurationMS:   215000,
		Genre:        "techno",
		TagList:      `"deep house" night`,
		Description:  strings.Repeat("d", 2500),
		User:         soundcloud.User{Username: "dj", PermalinkURL: "https://example/u"},
	}
	e := TrackEmbed(tr)
	if e.Color != 0xFF7700 || e.Title != "Night Drive" {
		t.Fatalf("embed = %+v", e)
	}
	if e.Thumbnail == nil || !strings.Contains(e.Thumbnail.URL, "-original.jpg") {
		t.Fatalf("thumbnail = %+v", e.Thumbnail)
	}
	if len(e.Description) != 2003 || !strings.HasSuffix(e.Description, "...") {
		t.Fatalf("description len = %d", len(e.Description))
	}
	if len(e.Fields) != 3 {
		t.Fatalf("fields = %+v", e.Fields)
	}
	if e.Fields[0].Value != "3:35" || e.Fields[1].Value != "techno" || e.Fields[2].Value != "deep house, night" {
		t.Fatalf("fields = %+v", e.Fields)
	}
}

func TestTrackEmbed_counters(t *testing.T) {
	tr := &soundcloud.Track{
		ID:            "7",
		Title:         "Counted",
		PlaybackCount: 1200,
		LikesCount:    34,
	}
	e := TrackEmbed(tr)
	if len(e.Fields) != 2 {
		t.Fatalf("fields = %+v", e.Fields)
	}
	if e.Fields[0].Name != "Plays" || e.Fields[0].Value != "1200" {
		t.Fatalf("plays field = %+v", e.Fields[0])
	}
	if e.Fields[1].Name != "Likes" || e.Fields[1].Value != "34" {
		t.Fatalf("likes field = %+v", e.Fields[1])
	}
}

func TestMimeForName(t *testing.T) {
	cases := map[string]string{
		"a.mp3":  "audio/mpeg",
		"a.opus": "audio/opus",
		"a.m4a":  "audio/mp4",
		"a.json": "application/json",
		"a.JPG":  "image/jpeg",
		"a.bin":  "application/octet-stream",
	}
	for name, want := range cases {
		if got := mimeForName(name); got != want {
			t.Errorf("mimeForName(%q) = %q, want %q", name, got, want)
		}
	}
}

func writeFileOfSize(t *testing.T, dir, name string, size int) Attachment {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return Attachment{Path: path}
}

func TestAdmit_sizeBudgetSkipsIndividually(t *testing.T) {
	dir := t.TempDir()
	big := writeFileOfSize(t, dir, "big.mp3", 7<<20)
	huge := writeFileOfSize(t, dir, "huge.mp3", 6<<20)
	small := writeFileOfSize(t, dir, "small.json", 1024)
	p := &Poster{}
	kept := p.admit([]Attachment{big, huge, small})
	// Ascending admission: small + huge fit; big would overflow and is
	// skipped without aborting anything.
	if len(kept) != 2 {
		t.Fatalf("kept = %d files", len(kept))
	}
	if filepath.Base(kept[0].Path) != "small.json" || filepath.Base(kept[1].Path) != "huge.mp3" {
		t.Fatalf("kept = %+v", kept)
	}
}

func TestAdmit_attachmentCountCap(t *testing.T) {
	dir := t.TempDir()
	var files []Attachment
	for i := 0; i < 12; i++ {
		files = append(files, writeFileOfSize(t, dir, fmt.Sprintf("f%02d.mp3", i), 100+i))
	}
	kept := (&Poster{}).admit(files)
	if len(kept) != maxAttachments {
		t.Fatalf("kept = %d, want %d", len(kept), maxAttachments)
	}
}

func TestPost_embedOnlyJSON(t *testing.T) {
	var gotCT string
	var gotBody payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"id":"m1","channel_id":"c1"}`)
	}))
	defer srv.Close()

	p := &Poster{URL: srv.URL}
	resp, err := p.Post(context.Background(), Embed{Title: "x"}, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotCT != "application/json" {
		t.Fatalf("content-type = %q", gotCT)
	}
	if gotBody.Username != defaultUsername || len(gotBody.Embeds) != 1 {
		t.Fatalf("payload = %+v", gotBody)
	}
	if resp.MessageID != "m1" || resp.ChannelID != "c1" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPost_multipart(t *testing.T) {
	dir := t.TempDir()
	audio := writeFileOfSize(t, dir, "Night Drive.mp3", 2048)

	var payloadJSON string
	var fileNames, fileTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		payloadJSON = r.FormValue("payload_json")
		for i := 0; ; i++ {
			fhs := r.MultipartForm.File[fmt.Sprintf("file%d", i)]
			if len(fhs) == 0 {
				break
			}
			fileNames = append(fileNames, fhs[0].Filename)
			fileTypes = append(fileTypes, fhs[0].Header.Get("Content-Type"))
		}
		fmt.Fprint(w, `{"id":"m2","channel_id":"c2"}`)
	}))
	defer srv.Close()

	p := &Poster{URL: srv.URL}
	resp, err := p.Post(context.Background(), Embed{Title: "x"}, []Attachment{audio})
	if err != nil {
		t.Fatal(err)
	}
	if resp.MessageID != "m2" {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(payloadJSON, `"embeds"`) {
		t.Fatalf("payload_json = %q", payloadJSON)
	}
	if !reflect.DeepEqual(fileNames, []string{"Night Drive.mp3"}) {
		t.Fatalf("files = %v", fileNames)
	}
	if fileTypes[0] != "audio/mpeg" {
		t.Fatalf("mime = %v", fileTypes)
	}
}

func TestPost_rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	_, err := (&Poster{URL: srv.URL}).Post(context.Background(), Embed{}, nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("body text missing from error: %v", err)
	}
}

func TestPost_noContentBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	resp, err := (&Poster{URL: srv.URL}).Post(context.Background(), Embed{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.MessageID != "" {
		t.Fatalf("resp = %+v", resp)
	}
}
