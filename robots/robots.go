// Package robots classifies a host's robots.txt into the handful of
// dispositions the fetcher core cares about: allow, deny, and defer,
// along with the crawl-delay to pace requests at.
package robots

import (
	"net/http"
	"time"

	"github.com/temoto/robotstxt"
)

// Rules is the result of fetching and interpreting one host's robots.txt.
// It is immutable once constructed.
type Rules struct {
	group       *robotstxt.Group
	deferVisits bool
	forbidAll   bool
	defaultDelay time.Duration
}

// New parses raw robots.txt bytes for the given user-agent and builds the
// "normal" (successfully parsed) state.
func New(userAgent string, body []byte, defaultDelay time.Duration) (*Rules, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, err
	}
	return &Rules{
		group:        data.FindGroup(userAgent),
		defaultDelay: defaultDelay,
	}, nil
}

// FromStatus builds Rules purely from an HTTP status code that prevented a
// successful robots.txt fetch, following the de-facto convention:
//
//   - 4xx other than 401/403/429: no restrictions, use the default delay.
//   - 401 or 403: the site forbids crawling entirely.
//   - 429, 5xx, or a network failure (statusCode <= 0): defer this host.
func FromStatus(statusCode int, defaultDelay time.Duration) *Rules {
	r := &Rules{defaultDelay: defaultDelay}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		r.forbidAll = true
	case statusCode == http.StatusTooManyRequests || statusCode >= 500 || statusCode <= 0:
		r.deferVisits = true
	default:
		// Any other 4xx (including 404, the common case) means "no
		// robots.txt published" -- allow everything at the default delay.
	}
	return r
}

// DeferVisits reports whether the caller should defer this entire host
// (robots.txt was unreachable because of a server error or rate limiting).
func (r *Rules) DeferVisits() bool {
	return r.deferVisits
}

// IsAllowed reports whether requestURI may be fetched under these rules.
func (r *Rules) IsAllowed(requestURI string) bool {
	if r.forbidAll {
		return false
	}
	if r.group == nil {
		return true
	}
	return r.group.Test(requestURI)
}

// CrawlDelay returns the crawl-delay to use for this host: the robots.txt
// Crawl-delay directive when present, otherwise the configured default.
func (r *Rules) CrawlDelay() time.Duration {
	if r.group != nil && r.group.CrawlDelay > 0 {
		return r.group.CrawlDelay
	}
	return r.defaultDelay
}
