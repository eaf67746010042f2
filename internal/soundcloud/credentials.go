package soundcloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"sync"
)

// ErrScrapeFailed is returned when no usable client_id can be recovered from
// the public web front-end.
var ErrScrapeFailed = errors.New("soundcloud: client_id scrape failed")

var (
	// Asset bundles are <script crossorigin> tags pointing at the CDN; one of
	// them embeds the anonymous client_id.
	scriptSrcRe = regexp.MustCompile(`<script crossorigin src="([^"]+/assets/[^"]+)">`)
	clientIDRe  = regexp.MustCompile(`client_id:"([^"]+)"`)
)

// credentials caches the scraped client_id. Last refresh wins; concurrent
// refreshers may each scrape, which is harmless.
type credentials struct {
	mu sync.Mutex
	id string
}

// get returns the cached client_id, scraping on first use.
func (c *credentials) get(ctx context.Context, hc *http.Client, homeURL string) (string, error) {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	return c.refresh(ctx, hc, homeURL)
}

// refresh scrapes a fresh client_id and installs it.
func (c *credentials) refresh(ctx context.Context, hc *http.Client, homeURL string) (string, error) {
	id, err := scrapeClientID(ctx, hc, homeURL)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
	log.Printf("soundcloud: refreshed client_id (%d chars)", len(id))
	return id, nil
}

// scrapeClientID fetches the home page, walks its asset bundles in order and
// returns the first client_id it finds.
func scrapeClientID(ctx context.Context, hc *http.Client, homeURL string) (string, error) {
	home, err := fetchText(ctx, hc, homeURL)
	if err != nil {
		return "", fmt.Errorf("%w: home page: %v", ErrScrapeFailed, err)
	}
	scripts := scriptSrcRe.FindAllStringSubmatch(home, -1)
	if len(scripts) == 0 {
		return "", fmt.Errorf("%w: no asset bundles on home page", ErrScrapeFailed)
	}
	for _, m := range scripts {
		body, err := fetchText(ctx, hc, m[1])
		if err != nil {
			continue
		}
		if id := clientIDRe.FindStringSubmatch(body); id != nil {
			return id[1], nil
		}
	}
	return "", fmt.Errorf("%w: no client_id in %d asset bundles", ErrScrapeFailed, len(scripts))
}

func fetchText(ctx context.Context, hc *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
