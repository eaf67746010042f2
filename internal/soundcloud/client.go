// Package soundcloud is a client for the api-v2 JSON API using a scraped
// anonymous client_id. Every operation shares one retry and credential-refresh
// protocol; callers see typed records plus the verbatim upstream JSON.
package soundcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/scarchive/scarchivebot/internal/httpclient"
	"github.com/scarchive/scarchivebot/internal/metrics"
	"github.com/scarchive/scarchivebot/internal/safeurl"
)

const (
	defaultAPIBase = "https://api-v2.soundcloud.com"
	defaultHomeURL = "https://soundcloud.com"

	// Attempts per logical request; back-off between attempts is 2s then 4s.
	maxAttempts = 3

	// Page size ceiling the API enforces on followings pagination.
	followingsPageSize = 200
)

var (
	// ErrUpstreamFailed covers a request that stayed broken through all
	// retry attempts.
	ErrUpstreamFailed = errors.New("soundcloud: upstream request failed")
	// ErrAuthRequired marks a resource still 401/403 after a credential
	// refresh. For renditions this usually means premium-gated content.
	ErrAuthRequired = errors.New("soundcloud: authorization required")
	// ErrNotFound marks a 404 on a rendition resolve, where it is surfaced
	// without retrying. Other operations retry 404s like any other failure.
	ErrNotFound = errors.New("soundcloud: not found")
)

// Client talks to the upstream API. Safe for concurrent use.
type Client struct {
	http    *http.Client
	creds   credentials
	limiter *rate.Limiter

	// APIBase and HomeURL exist so tests can point at a local server.
	APIBase string
	HomeURL string

	// Acquire, when set, bounds concurrent upstream requests. The permit is
	// held for a single HTTP attempt only, never across a back-off sleep.
	Acquire func(ctx context.Context) (release func(), err error)

	backoff func(attempt int) time.Duration
}

// New returns a client with the default 30-second request timeout and a
// gentle request pacer. The pacer is a second line of defence behind the
// upstream semaphore; bursts up to its capacity pass without waiting.
func New() *Client {
	return &Client{
		http:    httpclient.Default(),
		limiter: rate.NewLimiter(rate.Limit(8), 8),
		backoff: func(attempt int) time.Duration {
			return time.Duration(2*attempt) * time.Second
		},
	}
}

func (c *Client) apiBase() string {
	if c.APIBase != "" {
		return c.APIBase
	}
	return defaultAPIBase
}

func (c *Client) homeURL() string {
	if c.HomeURL != "" {
		return c.HomeURL
	}
	return defaultHomeURL
}

// RefreshCredential forces a fresh client_id scrape. Used by the startup path
// to fail fast when the front-end layout changed.
func (c *Client) RefreshCredential(ctx context.Context) error {
	_, err := c.creds.refresh(ctx, c.http, c.homeURL())
	return err
}

// ── request core ──────────────────────────────────────────────────────────────

// getRaw runs one logical GET under the shared retry/refresh protocol and
// returns the response body, which is guaranteed to be valid JSON.
func (c *Client) getRaw(ctx context.Context, rawURL string) (json.RawMessage, error) {
	return c.get(ctx, rawURL, false)
}

// get is the retry loop. A rendition resolve surfaces 404 immediately and an
// auth failure after one refresh; every other operation treats both as
// retryable and exhausts its attempts into ErrUpstreamFailed.
func (c *Client) get(ctx context.Context, rawURL string, rendition bool) (json.RawMessage, error) {
	authBudget := maxAttempts - 1
	if rendition {
		authBudget = 1
	}
	var lastErr error
	refreshes := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.UpstreamRetries.Inc()
			if err := sleepCtx(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		id, err := c.creds.get(ctx, c.http, c.homeURL())
		if err != nil {
			return nil, err
		}
		body, err := c.attempt(ctx, withClientID(rawURL, id))
		if err == nil {
			return body, nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) && rendition {
			return nil, err
		}
		if errors.Is(err, ErrAuthRequired) {
			if refreshes >= authBudget {
				if rendition {
					return nil, lastErr
				}
				continue
			}
			refreshes++
			// A scrape failure here keeps the stale credential for the
			// next try.
			if _, rerr := c.creds.refresh(ctx, c.http, c.homeURL()); rerr != nil {
				lastErr = fmt.Errorf("%w (refresh also failed: %v)", err, rerr)
			}
		}
	}
	return nil, fmt.Errorf("%w: GET %s: %v", ErrUpstreamFailed, redactClientID(rawURL), lastErr)
}

// attempt performs a single HTTP GET. The upstream permit and rate-limiter
// wait both happen here so neither is held across back-off sleeps.
func (c *Client) attempt(ctx context.Context, u string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.Acquire != nil {
		release, err := c.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuthRequired, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("unparseable JSON body")
	}
	return body, nil
}

func withClientID(raw, id string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("client_id", id)
	u.RawQuery = q.Encode()
	return u.String()
}

func redactClientID(raw string) string {
	return safeurl.Redact(raw, "client_id")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ── operations ────────────────────────────────────────────────────────────────

// ResolveURL resolves a public page URL to its generic JSON record. The
// record's "kind" field tells callers whether it is a track, user or playlist.
func (c *Client) ResolveURL(ctx context.Context, pageURL string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.apiBase()+"/resolve?url="+url.QueryEscape(pageURL))
}

// GetTrack fetches the full track record.
func (c *Client) GetTrack(ctx context.Context, id string) (*Track, error) {
	raw, err := c.getRaw(ctx, c.apiBase()+"/tracks/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	t, ok := trackFromJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: track %s: malformed record", ErrUpstreamFailed, id)
	}
	return &t, nil
}

// GetUser fetches an account record; used mainly to bound the uploads fetch
// via its track_count.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	raw, err := c.getRaw(ctx, c.apiBase()+"/users/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	u, ok := userFromJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: user %s: malformed record", ErrUpstreamFailed, id)
	}
	return &u, nil
}

type collectionDoc struct {
	Collection []json.RawMessage `json:"collection"`
	NextHref   string            `json:"next_href"`
}

// GetUploads fetches up to limit of the account's own tracks, newest first,
// in a single request. Duplicate ids within the response are dropped.
func (c *Client) GetUploads(ctx context.Context, userID string, limit int) ([]Track, error) {
	u := fmt.Sprintf("%s/users/%s/tracks?limit=%d&linked_partitioning=1",
		c.apiBase(), url.PathEscape(userID), limit)
	raw, err := c.getRaw(ctx, u)
	if err != nil {
		return nil, err
	}
	var doc collectionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: uploads for %s: %v", ErrUpstreamFailed, userID, err)
	}
	seen := make(map[string]bool, len(doc.Collection))
	tracks := make([]Track, 0, len(doc.Collection))
	for _, entry := range doc.Collection {
		t, ok := trackFromJSON(entry)
		if !ok || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// GetLikes fetches up to limit of the account's liked tracks, most recent
// like first, in a single request.
func (c *Client) GetLikes(ctx context.Context, userID string, limit int) ([]Like, error) {
	u := fmt.Sprintf("%s/users/%s/likes?limit=%d&linked_partitioning=1",
		c.apiBase(), url.PathEscape(userID), limit)
	raw, err := c.getRaw(ctx, u)
	if err != nil {
		return nil, err
	}
	var doc collectionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: likes for %s: %v", ErrUpstreamFailed, userID, err)
	}
	likes := make([]Like, 0, len(doc.Collection))
	for _, entry := range doc.Collection {
		var item struct {
			CreatedAt string          `json:"created_at"`
			Track     json.RawMessage `json:"track"`
		}
		if err := json.Unmarshal(entry, &item); err != nil || item.Track == nil {
			continue
		}
		t, ok := trackFromJSON(item.Track)
		if !ok {
			continue
		}
		likes = append(likes, Like{CreatedAt: item.CreatedAt, Track: t})
	}
	return likes, nil
}

// GetFollowings fetches the accounts userID follows, paginating through
// next_href offsets until the collection runs dry or max is reached.
// max <= 0 means unbounded.
func (c *Client) GetFollowings(ctx context.Context, userID string, max int) ([]User, error) {
	next := fmt.Sprintf("%s/users/%s/followings?limit=%d&offset=0&linked_partitioning=1",
		c.apiBase(), url.PathEscape(userID), followingsPageSize)
	seen := make(map[string]bool)
	var users []User
	for next != "" {
		raw, err := c.getRaw(ctx, next)
		if err != nil {
			return nil, err
		}
		var doc collectionDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: followings for %s: %v", ErrUpstreamFailed, userID, err)
		}
		if len(doc.Collection) == 0 {
			break
		}
		for _, entry := range doc.Collection {
			u, ok := userFromJSON(entry)
			if !ok || seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			users = append(users, u)
			if max > 0 && len(users) >= max {
				return users, nil
			}
		}
		next = doc.NextHref
	}
	return users, nil
}

// ResolveRendition resolves a transcoding URL to a direct media URL. A 401 or
// 403 that survives one credential refresh comes back as ErrAuthRequired, and
// a 404 as ErrNotFound; the caller skips that rendition rather than treating
// it as a credential outage.
func (c *Client) ResolveRendition(ctx context.Context, renditionURL string) (string, error) {
	raw, err := c.get(ctx, renditionURL, true)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.URL == "" {
		return "", fmt.Errorf("%w: rendition resolve: no url in response", ErrUpstreamFailed)
	}
	return out.URL, nil
}
