package review

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Query parameters that only track campaigns and never change page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
}

// NormalizeURL canonicalizes a URL so equivalent spellings dedup to one
// manifest entry. It lowercases the scheme and host, removes default ports,
// drops tracking query parameters, sorts the remainder, strips the trailing
// slash, and drops the fragment unless keepAnchor is set (a source page that
// links to a named in-page anchor references a distinct section).
func NormalizeURL(rawURL string, keepAnchor bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if !keepAnchor {
		u.Fragment = ""
	}

	q := u.Query()
	for param := range q {
		if _, tracking := trackingParams[strings.ToLower(param)]; tracking {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// DedupIndex tracks visited canonical URLs during a crawl. Writes are
// serialized so concurrent fetch workers share one visited set.
type DedupIndex struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupIndex creates an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{seen: make(map[string]struct{})}
}

// Visit records the canonical URL and reports whether it was new.
func (d *DedupIndex) Visit(canonicalURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[canonicalURL]; ok {
		return false
	}
	d.seen[canonicalURL] = struct{}{}
	return true
}

// Len returns the number of distinct URLs visited.
func (d *DedupIndex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
