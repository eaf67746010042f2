// Package safeurl guards the URLs the daemon passes to the transcoder
// subprocess and writes to its logs.
package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS reports whether u parses as an http(s) URL. Resolved media
// and artwork URLs come from upstream responses; anything with another
// scheme (file://, ftp://, ...) is rejected before it reaches a fetch or the
// subprocess command line.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// Redact masks the named query parameters, keeping the rest of the URL
// readable for logs.
func Redact(u string, params ...string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	changed := false
	for _, p := range params {
		if q.Has(p) {
			q.Set(p, "…")
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}
