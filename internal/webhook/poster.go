package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scarchive/scarchivebot/internal/httpclient"
)

// ErrRejected means the destination answered outside the 2xx range; the
// response body is carried in the error text for diagnostics.
var ErrRejected = errors.New("webhook: destination rejected message")

// Attachment is one local file to upload. Name defaults to the path's base.
type Attachment struct {
	Path string
	Name string
}

// Response is the destination's record of the created message.
type Response struct {
	MessageID string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// Poster sends announcements to one webhook URL. Safe for concurrent use.
type Poster struct {
	URL      string
	Username string
	HTTP     *http.Client
}

func (p *Poster) http() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return httpclient.Default()
}

func (p *Poster) username() string {
	if p.Username != "" {
		return p.Username
	}
	return defaultUsername
}

type payload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

// Post sends one embed, attaching as many of the given files as the
// destination caps allow. Oversized or over-count files are skipped with a
// log line; the message still goes out with the rest.
func (p *Poster) Post(ctx context.Context, embed Embed, files []Attachment) (*Response, error) {
	kept := p.admit(files)
	body, err := json.Marshal(payload{Username: p.username(), Embeds: []Embed{embed}})
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return p.send(ctx, "application/json", bytes.NewReader(body))
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormField("payload_json")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(body); err != nil {
		return nil, err
	}
	for i, a := range kept {
		if err := addFilePart(mw, i, a); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return p.send(ctx, mw.FormDataContentType(), &buf)
}

// admit ranks files by size ascending and greedily takes those that fit the
// count and aggregate-size caps. A file over the remaining budget is skipped
// individually; smaller ones after it may still go.
func (p *Poster) admit(files []Attachment) []Attachment {
	type sized struct {
		Attachment
		size int64
	}
	ranked := make([]sized, 0, len(files))
	for _, a := range files {
		fi, err := os.Stat(a.Path)
		if err != nil {
			log.Printf("webhook: stat %s: %v, skipping", a.Path, err)
			continue
		}
		ranked = append(ranked, sized{a, fi.Size()})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].size < ranked[j].size })

	var (
		kept  []Attachment
		total int64
	)
	for _, f := range ranked {
		if len(kept) >= maxAttachments {
			log.Printf("webhook: attachment cap reached, skipping %s", filepath.Base(f.Path))
			continue
		}
		if total+f.size > maxBodyBytes {
			log.Printf("webhook: %s (%d bytes) over size budget, skipping", filepath.Base(f.Path), f.size)
			continue
		}
		total += f.size
		kept = append(kept, f.Attachment)
	}
	return kept
}

func addFilePart(mw *multipart.Writer, i int, a Attachment) error {
	name := a.Name
	if name == "" {
		name = filepath.Base(a.Path)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file%d"; filename="%s"`, i, escapeQuotes(name)))
	h.Set("Content-Type", mimeForName(name))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(part, f)
	return err
}

func (p *Poster) send(ctx context.Context, contentType string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := p.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	out := &Response{}
	// Some destinations answer 204 with no body; the caller then has no
	// message id to link.
	if json.Valid(respBody) {
		_ = json.Unmarshal(respBody, out)
	}
	return out, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}

func mimeForName(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "opus":
		return "audio/opus"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "json":
		return "application/json"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	}
	return "application/octet-stream"
}
