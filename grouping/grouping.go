// Package grouping classifies a URL into a grouping key by folding DNS
// resolution, robots.txt acquisition, and robots rule interpretation into
// one decision. A Generator is not safe for concurrent use: it is meant to
// run inside a single pipeline task, owned by one goroutine at a time.
package grouping

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/codepr/fetchcore"
	"github.com/codepr/fetchcore/robots"
)

// Kind tags the disposition of a resolved Key, so callers can switch on it
// instead of parsing the delimited string form.
type Kind int

const (
	// KindFetchable means Host and CrawlDelay identify a live, allowed
	// crawl stream.
	KindFetchable Kind = iota
	KindUnknownHost
	KindBlocked
	KindDeferred
	KindSkipped
)

// Key is the tagged result of classifying one URL.
type Key struct {
	Kind       Kind
	Host       string
	CrawlDelay time.Duration
}

// String renders the delimited-string form used as the actual grouping key
// propagated through the pipeline: "<host>-<crawl-delay-ms>" for fetchable
// keys, or one of the four reserved sentinel names.
func (k Key) String() string {
	switch k.Kind {
	case KindUnknownHost:
		return "UNKNOWN_HOST"
	case KindBlocked:
		return "BLOCKED"
	case KindDeferred:
		return "DEFERRED"
	case KindSkipped:
		return "SKIPPED"
	default:
		return fmt.Sprintf("%s-%d", k.Host, k.CrawlDelay.Milliseconds())
	}
}

// BypassesFetch reports whether this key's disposition means the URL never
// reaches HttpFetcher and is instead emitted directly as a StatusDatum.
func (k Key) BypassesFetch() bool {
	return k.Kind != KindFetchable
}

// Status maps a bypassing Key to the StatusDatum status it should emit.
func (k Key) Status() fetchcore.Status {
	switch k.Kind {
	case KindUnknownHost:
		return fetchcore.StatusUnknownHost
	case KindBlocked:
		return fetchcore.StatusBlocked
	case KindDeferred:
		return fetchcore.StatusDeferred
	case KindSkipped:
		return fetchcore.StatusSkipped
	default:
		return fetchcore.StatusUnfetched
	}
}

// RobotsFetcher is the subset of httpfetch.Fetcher the generator needs:
// plain byte acquisition for robots.txt, with typed HTTP status errors.
type RobotsFetcher interface {
	GetBytes(url string) ([]byte, error)
}

// HTTPStatusCoder is implemented by errors that carry an HTTP status code
// (httpfetch.HTTPStatusError satisfies it).
type HTTPStatusCoder interface {
	error
	Code() int
}

// Generator classifies URLs into grouping keys, caching bad hosts and
// resolved robots rules across calls. Both caches are bounded LRUs so a
// long-running crawl doesn't leak memory on an unbounded host set.
type Generator struct {
	fetcher        RobotsFetcher
	userAgent      string
	defaultDelay   time.Duration
	groupByIP      bool
	badHosts       *lru.Cache
	robotsByHost   *lru.Cache
}

const defaultCacheSize = 8192

// New returns a Generator. groupByIP, when true, resolves the host via DNS
// and groups by the resolved address rather than the hostname.
func New(fetcher RobotsFetcher, userAgent string, defaultDelay time.Duration, groupByIP bool) (*Generator, error) {
	badHosts, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building bad-host cache: %w", err)
	}
	robotsByHost, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building robots cache: %w", err)
	}
	return &Generator{
		fetcher:      fetcher,
		userAgent:    userAgent,
		defaultDelay: defaultDelay,
		groupByIP:    groupByIP,
		badHosts:     badHosts,
		robotsByHost: robotsByHost,
	}, nil
}

// KeyFor classifies d's URL: DNS, robots acquisition, then rule
// interpretation, in that order. A malformed URL is a caller bug and is
// returned as an error rather than a sentinel key -- the caller is expected
// to have normalized URLs already.
func (g *Generator) KeyFor(d fetchcore.UrlDatum) (Key, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return Key{}, fmt.Errorf("malformed URL %q: %w", d.URL, err)
	}
	host := u.Hostname()

	if _, bad := g.badHosts.Get(host); bad {
		return Key{Kind: KindUnknownHost}, nil
	}

	groupHost := host
	if g.groupByIP {
		addrs, rerr := net.DefaultResolver.LookupHost(context.Background(), host)
		if rerr != nil || len(addrs) == 0 {
			g.badHosts.Add(host, struct{}{})
			return Key{Kind: KindUnknownHost}, nil
		}
		groupHost = addrs[0]
	}

	rules, err := g.rulesFor(u, host)
	if err != nil {
		g.badHosts.Add(host, struct{}{})
		return Key{Kind: KindUnknownHost}, nil
	}

	if rules.DeferVisits() {
		return Key{Kind: KindDeferred}, nil
	}
	if !rules.IsAllowed(u.RequestURI()) {
		return Key{Kind: KindBlocked}, nil
	}

	return Key{Kind: KindFetchable, Host: groupHost, CrawlDelay: rules.CrawlDelay()}, nil
}

// rulesFor returns cached robots rules for host, fetching and caching them
// on first use.
func (g *Generator) rulesFor(u *url.URL, host string) (*robots.Rules, error) {
	if cached, ok := g.robotsByHost.Get(host); ok {
		return cached.(*robots.Rules), nil
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := u.Port()
	robotsURL := scheme + "://" + host
	if port != "" {
		robotsURL = scheme + "://" + host + ":" + port
	}
	robotsURL += "/robots.txt"

	body, err := g.fetcher.GetBytes(robotsURL)
	var rules *robots.Rules
	if err != nil {
		if coder, ok := err.(HTTPStatusCoder); ok {
			rules = robots.FromStatus(coder.Code(), g.defaultDelay)
		} else {
			rules = robots.FromStatus(0, g.defaultDelay)
		}
	} else {
		rules, err = robots.New(g.userAgent, body, g.defaultDelay)
		if err != nil {
			rules = robots.FromStatus(0, g.defaultDelay)
		}
	}

	g.robotsByHost.Add(host, rules)
	return rules, nil
}
