package fetchcore

import "time"

// FetcherPolicy bundles the global crawl knobs. All fields are set up front
// (DefaultPolicy plus any overrides) and read concurrently by every worker
// and queue, so a policy must not be mutated once it has been handed to them.
type FetcherPolicy struct {
	// CrawlEndTime is the absolute deadline past which queued URLs are
	// aborted rather than dispatched. The zero value means "never".
	CrawlEndTime time.Time

	// MinResponseRate is the minimum acceptable bytes/sec while reading a
	// response body; falling below it mid-read aborts the fetch. Zero
	// disables the check.
	MinResponseRate float64

	// MaxContentSize caps the bytes captured per fetch; content beyond this
	// is truncated and the underlying connection is not reused.
	MaxContentSize int64

	// DefaultCrawlDelay is used for hosts whose robots.txt does not specify
	// a Crawl-delay directive.
	DefaultCrawlDelay time.Duration

	// MaxRedirects bounds how many redirects the HTTP client will follow.
	MaxRedirects int

	// ThreadsPerHost is the per-host concurrency cap (default 1).
	ThreadsPerHost int

	// MaxThreads bounds total concurrent in-flight fetches across all
	// hosts; it sizes both the connection pool and the worker semaphore.
	MaxThreads int

	// UserAgent is sent on every request, including robots.txt fetches.
	UserAgent string
}

const (
	defaultMaxContentSize    = 10 * 1024 * 1024
	defaultCrawlDelay        = time.Second
	defaultThreadsPerHost    = 1
	defaultMaxThreads        = 50
	defaultMaxRedirects      = 10
	defaultSocketTimeout     = 30 * time.Second
	defaultConnectTimeout    = 30 * time.Second
	defaultPoolCheckoutWait  = 20 * time.Second
	debugErrorBodyWindow     = 1024
	defaultHTTPChunkSize     = 8 * 1024
	defaultRobotsThreadsExtra = 1
)

// DefaultPolicy returns a FetcherPolicy with the package defaults: no
// deadline, no minimum response rate, a 10MiB content cap, a 1s default
// crawl-delay, single-threaded-per-host fetching, and a 50-wide worker pool.
func DefaultPolicy(userAgent string) FetcherPolicy {
	return FetcherPolicy{
		MaxContentSize:    defaultMaxContentSize,
		DefaultCrawlDelay: defaultCrawlDelay,
		MaxRedirects:      defaultMaxRedirects,
		ThreadsPerHost:    defaultThreadsPerHost,
		MaxThreads:        defaultMaxThreads,
		UserAgent:         userAgent,
	}
}

// Expired reports whether now is past the configured crawl deadline. A zero
// CrawlEndTime never expires.
func (p FetcherPolicy) Expired(now time.Time) bool {
	if p.CrawlEndTime.IsZero() {
		return false
	}
	return now.After(p.CrawlEndTime)
}
