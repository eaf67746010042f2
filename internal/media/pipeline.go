package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/scarchive/scarchivebot/internal/httpclient"
	"github.com/scarchive/scarchivebot/internal/safeurl"
	"github.com/scarchive/scarchivebot/internal/soundcloud"
)

// Resolver turns a rendition URL into a direct media URL.
type Resolver interface {
	ResolveRendition(ctx context.Context, url string) (string, error)
}

// File is one staged audio file.
type File struct {
	Path     string
	Tag      string
	Priority int
	Size     int64
}

// Result is everything the pipeline staged for one track. Cleanup removes
// the work directory; callers run it after the announcement regardless of
// outcome.
type Result struct {
	WorkDir  string
	Audio    []File
	Artwork  string
	Metadata string
}

// Files lists every staged path, best audio first, then artwork and
// metadata.
func (r *Result) Files() []string {
	out := make([]string, 0, len(r.Audio)+2)
	for _, f := range r.Audio {
		out = append(out, f.Path)
	}
	if r.Artwork != "" {
		out = append(out, r.Artwork)
	}
	if r.Metadata != "" {
		out = append(out, r.Metadata)
	}
	return out
}

func (r *Result) Cleanup() {
	if r == nil || r.WorkDir == "" {
		return
	}
	if err := os.RemoveAll(r.WorkDir); err != nil {
		log.Printf("media: remove work dir %s: %v", r.WorkDir, err)
	}
}

// Pipeline stages a track's files into a fresh work directory.
type Pipeline struct {
	Resolver   Resolver
	Transcoder *Transcoder
	// StagingDir defaults to the OS temp directory.
	StagingDir string

	// HTTP is used for the plain artwork download only.
	HTTP *http.Client
}

func (p *Pipeline) http() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return httpclient.Default()
}

// Process acquires every usable rendition of t plus artwork and a metadata
// snapshot. Per-rendition failures are logged and skipped; the error return
// fires only when nothing at all could be staged.
func (p *Pipeline) Process(ctx context.Context, t *soundcloud.Track) (*Result, error) {
	base := p.StagingDir
	if base == "" {
		base = os.TempDir()
	}
	workDir := filepath.Join(base, "scarchive_"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create work dir: %w", err)
	}
	res := &Result{WorkDir: workDir}
	stem := SanitizeTitle(t.Title)

	if path, err := p.writeMetadata(t, workDir, stem); err != nil {
		log.Printf("media: track %s: metadata snapshot: %v", t.ID, err)
	} else {
		res.Metadata = path
	}

	if t.ArtworkURL != "" {
		path := filepath.Join(workDir, stem+"_cover.jpg")
		if err := p.downloadArtwork(ctx, soundcloud.OriginalArtworkURL(t.ArtworkURL), path); err != nil {
			log.Printf("media: track %s: artwork: %v", t.ID, err)
		} else {
			res.Artwork = path
		}
	}

	p.acquireRenditions(ctx, t, res, stem)
	if len(res.Audio) == 0 {
		p.fallback(ctx, t, res, stem)
	}
	// Best rendition first for the poster.
	sort.SliceStable(res.Audio, func(i, j int) bool {
		return res.Audio[i].Priority < res.Audio[j].Priority
	})

	if len(res.Audio) == 0 && res.Artwork == "" && res.Metadata == "" {
		res.Cleanup()
		return nil, fmt.Errorf("media: track %s: nothing could be staged", t.ID)
	}
	return res, nil
}

func (p *Pipeline) acquireRenditions(ctx context.Context, t *soundcloud.Track, res *Result, stem string) {
	for _, r := range Renditions(t) {
		direct, err := p.Resolver.ResolveRendition(ctx, r.URL)
		if err != nil {
			switch {
			case errors.Is(err, soundcloud.ErrAuthRequired):
				log.Printf("media: track %s: rendition %s requires auth, skipping", t.ID, r.Tag())
			case errors.Is(err, soundcloud.ErrNotFound):
				log.Printf("media: track %s: rendition %s gone, skipping", t.ID, r.Tag())
			default:
				log.Printf("media: track %s: resolve %s: %v", t.ID, r.Tag(), err)
			}
			continue
		}
		if !safeurl.IsHTTPOrHTTPS(direct) {
			log.Printf("media: track %s: rendition %s resolved to non-http URL, skipping", t.ID, r.Tag())
			continue
		}
		name := stem + "_" + sanitizeTag(r.Tag()) + ExtensionFor(r.Tag())
		if len(res.Audio) == 0 {
			// Primary rendition keeps the bare title.
			name = stem + ExtensionFor(r.Tag())
		}
		out := filepath.Join(res.WorkDir, name)
		if err := p.Transcoder.Fetch(ctx, direct, out); err != nil {
			log.Printf("media: track %s: fetch %s: %v", t.ID, r.Tag(), err)
			continue
		}
		res.Audio = append(res.Audio, stagedFile(out, r.Tag(), r.Priority))
	}
}

// fallback runs when no enumerated rendition produced a file: try the
// track-level hls_url then stream_url with the same copy acquisition, and as
// a last resort re-encode to mp3.
func (p *Pipeline) fallback(ctx context.Context, t *soundcloud.Track, res *Result, stem string) {
	var direct string
	for _, u := range []string{t.HLSURL, t.StreamURL} {
		if u == "" {
			continue
		}
		d, err := p.Resolver.ResolveRendition(ctx, u)
		if err != nil {
			log.Printf("media: track %s: fallback resolve: %v", t.ID, err)
			continue
		}
		if !safeurl.IsHTTPOrHTTPS(d) {
			log.Printf("media: track %s: fallback resolved to non-http URL, skipping", t.ID)
			continue
		}
		direct = d
		break
	}
	if direct == "" {
		return
	}
	out := filepath.Join(res.WorkDir, stem+".m4a")
	if err := p.Transcoder.Fetch(ctx, direct, out); err == nil {
		res.Audio = append(res.Audio, stagedFile(out, "hls", PriorityOf("hls")))
		return
	}
	log.Printf("media: track %s: fallback copy failed, re-encoding", t.ID)
	out = filepath.Join(res.WorkDir, stem+".mp3")
	if err := p.Transcoder.Reencode(ctx, direct, out); err != nil {
		log.Printf("media: track %s: re-encode: %v", t.ID, err)
		return
	}
	res.Audio = append(res.Audio, stagedFile(out, "transcoded/mp3", FallbackPriority))
}

func stagedFile(path, tag string, priority int) File {
	f := File{Path: path, Tag: tag, Priority: priority}
	if fi, err := os.Stat(path); err == nil {
		f.Size = fi.Size()
	}
	return f
}

func (p *Pipeline) writeMetadata(t *soundcloud.Track, workDir, stem string) (string, error) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, t.Raw, "", "  "); err != nil {
		return "", err
	}
	path := filepath.Join(workDir, stem+"_data.json")
	if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Pipeline) downloadArtwork(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
