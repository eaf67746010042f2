// Package watcher is the poll scheduler: every tick it fans out over the
// watched accounts, pushes unseen tracks through the media pipeline and the
// webhook poster, and flushes the track store on its save triggers.
package watcher

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scarchive/scarchivebot/internal/config"
	"github.com/scarchive/scarchivebot/internal/gate"
	"github.com/scarchive/scarchivebot/internal/media"
	"github.com/scarchive/scarchivebot/internal/metrics"
	"github.com/scarchive/scarchivebot/internal/soundcloud"
	"github.com/scarchive/scarchivebot/internal/trackstore"
	"github.com/scarchive/scarchivebot/internal/watchlist"
	"github.com/scarchive/scarchivebot/internal/webhook"
)

const (
	shutdownFlushTimeout = 5 * time.Second
	statsInterval        = time.Hour
)

// Upstream is the slice of the API client the scheduler needs.
type Upstream interface {
	ResolveURL(ctx context.Context, pageURL string) (json.RawMessage, error)
	GetTrack(ctx context.Context, id string) (*soundcloud.Track, error)
	GetUser(ctx context.Context, id string) (*soundcloud.User, error)
	GetUploads(ctx context.Context, userID string, limit int) ([]soundcloud.Track, error)
	GetLikes(ctx context.Context, userID string, limit int) ([]soundcloud.Like, error)
	GetFollowings(ctx context.Context, userID string, max int) ([]soundcloud.User, error)
}

// Pipeline stages a track's files.
type Pipeline interface {
	Process(ctx context.Context, t *soundcloud.Track) (*media.Result, error)
}

// Poster sends one announcement.
type Poster interface {
	Post(ctx context.Context, e webhook.Embed, files []webhook.Attachment) (*webhook.Response, error)
}

// Watcher owns the poll loop state. Not safe for concurrent Run calls.
type Watcher struct {
	Cfg    *config.Config
	Client Upstream
	Pipe   Pipeline
	Poster Poster
	Store  *trackstore.Store
	Users  *watchlist.List
	Gates  *gate.Gates

	ticks     int
	autoTicks int
	pending   int
	dirty     bool
	lastStats time.Time
}

// Run polls until ctx is cancelled, then flushes the store under a bounded
// wait. The first tick fires immediately.
func (w *Watcher) Run(ctx context.Context) error {
	log.Printf("watch: %d accounts, every %s", w.Users.Len(), w.Cfg.PollInterval())
	w.lastStats = time.Now()
	ticker := time.NewTicker(w.Cfg.PollInterval())
	defer ticker.Stop()
	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return w.shutdownFlush()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	w.ticks++
	if w.Cfg.AutofollowSource != "" {
		w.autoTicks++
		if w.autoTicks >= w.Cfg.AutofollowIntervalPolls {
			w.autoTicks = 0
			if err := w.autoEnroll(ctx); err != nil {
				log.Printf("watch: auto-enroll: %v", err)
			}
		}
	}

	var announced atomic.Int64
	users := w.Users.Users()
	batch := w.Gates.UpstreamCap()
	for start := 0; start < len(users); start += batch {
		end := min(start+batch, len(users))
		var g errgroup.Group
		for _, id := range users[start:end] {
			id := id
			g.Go(func() error {
				n, err := w.pollAccount(ctx, id)
				if err != nil {
					metrics.AccountErrors.Inc()
					log.Printf("watch: account %s: %v", id, err)
				}
				announced.Add(int64(n))
				return nil
			})
		}
		// Batch boundary: the whole batch lands before the next starts.
		_ = g.Wait()
	}
	if n := announced.Load(); n > 0 {
		w.pending += int(n)
		w.dirty = true
		metrics.NewTracks.Add(float64(n))
	}
	metrics.Polls.Inc()
	metrics.StoreSize.Set(float64(w.Store.Len()))

	if (w.dirty && w.pending >= w.Cfg.SaveEveryTracks) || w.ticks >= w.Cfg.SaveEveryPolls {
		if err := w.Store.Save(); err != nil {
			log.Printf("watch: save: %v", err)
		}
		w.pending = 0
		w.dirty = false
		w.ticks = 0
	}

	if time.Since(w.lastStats) >= statsInterval {
		w.lastStats = time.Now()
		log.Printf("watch: stats: %d accounts, %d known tracks", w.Users.Len(), w.Store.Len())
	}
}

// pollAccount fetches an account's current tracks, classifies unseen ones and
// processes them concurrently. Returns how many announcements succeeded.
func (w *Watcher) pollAccount(ctx context.Context, accountID string) (int, error) {
	limit := w.pageClamp(w.uploadsCap(ctx, accountID))
	tracks, err := w.Client.GetUploads(ctx, accountID, limit)
	if err != nil {
		return 0, err
	}
	if w.Cfg.ScrapeUserLikes {
		likes, err := w.Client.GetLikes(ctx, accountID, w.pageClamp(w.Cfg.MaxLikesPerUser))
		if err != nil {
			log.Printf("watch: account %s: likes: %v", accountID, err)
		}
		for _, l := range likes {
			tracks = append(tracks, l.Track)
		}
	}

	seen := make(map[string]bool, len(tracks))
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}
	newIDs := w.Store.AddMany(ids)
	if len(newIDs) == 0 {
		return 0, nil
	}
	log.Printf("watch: account %s: %d new track(s)", accountID, len(newIDs))

	var ok atomic.Int64
	var g errgroup.Group
	for _, id := range newIDs {
		id := id
		g.Go(func() error {
			if err := w.processTrack(ctx, accountID, id); err != nil {
				log.Printf("watch: track %s: %v", id, err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), nil
}

// pageClamp caps a fetch bound at the per-request page size the track
// endpoints enforce.
func (w *Watcher) pageClamp(n int) int {
	if w.Cfg.PaginationSize > 0 && n > w.Cfg.PaginationSize {
		return w.Cfg.PaginationSize
	}
	return n
}

// uploadsCap bounds the uploads fetch by the account's published track_count
// plus a small buffer, falling back to the configured cap when the account
// record is unavailable.
func (w *Watcher) uploadsCap(ctx context.Context, accountID string) int {
	limit := w.Cfg.MaxTracksPerUser
	u, err := w.Client.GetUser(ctx, accountID)
	if err != nil {
		log.Printf("watch: account %s: user record: %v", accountID, err)
		return limit
	}
	if u.TrackCount != nil {
		return min(limit, int(*u.TrackCount)+w.Cfg.TrackCountBuffer)
	}
	return limit
}

func (w *Watcher) processTrack(ctx context.Context, accountID, trackID string) error {
	t, err := w.Client.GetTrack(ctx, trackID)
	if err != nil {
		return err
	}

	release, err := w.Gates.Processing(ctx)
	if err != nil {
		return err
	}
	res, err := w.Pipe.Process(ctx, t)
	release()
	if err != nil {
		return err
	}
	defer res.Cleanup()

	files := make([]webhook.Attachment, 0, len(res.Audio)+2)
	for _, p := range res.Files() {
		files = append(files, webhook.Attachment{Path: p})
	}

	wrelease, err := w.Gates.Webhook(ctx)
	if err != nil {
		return err
	}
	resp, err := w.Poster.Post(ctx, webhook.TrackEmbed(t), files)
	wrelease()
	if err != nil {
		metrics.WebhookPosts.WithLabelValues("error").Inc()
		return err
	}
	metrics.WebhookPosts.WithLabelValues("ok").Inc()
	if resp.MessageID != "" {
		link := trackstore.AnnounceLink{MessageID: resp.MessageID, UserID: &accountID}
		if resp.ChannelID != "" {
			ch := resp.ChannelID
			link.ChannelID = &ch
		}
		w.Store.Link(trackID, link)
	}
	return nil
}

// autoEnroll mirrors the configured source's followings into the watchlist.
// Accounts the source unfollowed are never removed.
func (w *Watcher) autoEnroll(ctx context.Context) error {
	source := w.Cfg.AutofollowSource
	if strings.Contains(source, "://") {
		raw, err := w.Client.ResolveURL(ctx, source)
		if err != nil {
			return err
		}
		kind, id := soundcloud.RecordIdentity(raw)
		if kind != "user" || id == "" {
			log.Printf("watch: auto-enroll source %q resolves to %q, not a user", source, kind)
			return nil
		}
		source = id
	}
	followings, err := w.Client.GetFollowings(ctx, source, 0)
	if err != nil {
		return err
	}
	added := 0
	for _, u := range followings {
		if w.Users.Contains(u.ID) {
			continue
		}
		w.Users.Append([]string{u.ID})
		log.Printf("watch: auto-enrolled %s (%s)", u.ID, u.Username)
		added++
	}
	if added == 0 {
		return nil
	}
	log.Printf("watch: auto-enrolled %d account(s), now watching %d", added, w.Users.Len())
	return w.Users.Save()
}

func (w *Watcher) shutdownFlush() error {
	done := make(chan error, 1)
	go func() { done <- w.Store.Shutdown() }()
	select {
	case err := <-done:
		if err != nil {
			log.Printf("watch: final flush: %v", err)
			return err
		}
		log.Printf("watch: state flushed, exiting")
		return nil
	case <-time.After(shutdownFlushTimeout):
		log.Printf("watch: final flush timed out after %s", shutdownFlushTimeout)
		return nil
	}
}
