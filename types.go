// Package fetchcore implements the core of a polite, distributed
// web-crawling fetcher: per-host grouping and admission, crawl-delay-paced
// queueing, and a connection-pooled retrying HTTP fetch engine.
package fetchcore

import "time"

// Status describes the disposition of a UrlDatum as it passes through the
// fetcher core.
type Status int

const (
	// StatusUnfetched is the zero value: the URL has not been processed yet.
	StatusUnfetched Status = iota
	// StatusFetched means the URL was fetched and its content captured.
	StatusFetched
	// StatusFetchError means the fetch failed: HttpFetcher reported an
	// error (non-200 response, malformed URL, request failure), or an
	// unexpected error such as a panic in a worker occurred.
	StatusFetchError
	// StatusAborted means the fetch was abandoned: the crawl deadline
	// passed, the peer fell below the minimum response rate, or the body
	// exceeded the content cap.
	StatusAborted
	// StatusBlocked means robots.txt forbids fetching this URL.
	StatusBlocked
	// StatusUnknownHost means DNS resolution for the host failed.
	StatusUnknownHost
	// StatusDeferred means the host's robots.txt could not be fetched
	// (5xx/429/network failure) and should be retried another run.
	StatusDeferred
	// StatusSkipped means a ScoreGenerator decided the URL should not be
	// fetched this run.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusUnfetched:
		return "UNFETCHED"
	case StatusFetched:
		return "FETCHED"
	case StatusFetchError:
		return "FETCH_ERROR"
	case StatusAborted:
		return "ABORTED"
	case StatusBlocked:
		return "BLOCKED"
	case StatusUnknownHost:
		return "UNKNOWN_HOST"
	case StatusDeferred:
		return "DEFERRED"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// Metadata is the opaque, comparable-valued mapping that is propagated
// verbatim from a UrlDatum through to its output tuples.
type Metadata map[string]interface{}

// Clone returns a shallow copy of the metadata map, so downstream stages
// never share mutable state with the input tuple.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UrlDatum is a URL with crawl bookkeeping and opaque metadata, the unit of
// work the fetcher core consumes from the upstream pipeline.
type UrlDatum struct {
	URL           string
	LastFetchedAt time.Time
	LastUpdatedAt time.Time
	Status        Status
	Metadata      Metadata
}

// GroupedUrlDatum is a UrlDatum with its grouping key resolved (see
// grouping.Key): one physical crawl stream (destination + pacing).
type GroupedUrlDatum struct {
	UrlDatum
	GroupKey string
}

// SkipURLScore is the reserved sentinel score. It, like any other score
// below zero, tells the fetcher to emit the URL directly as StatusSkipped
// rather than dispatch it.
const SkipURLScore = -1.0

// ScoredUrlDatum is a GroupedUrlDatum ranked for dispatch priority within
// its host's queue.
type ScoredUrlDatum struct {
	GroupedUrlDatum
	Score float64
}

// ShouldSkip reports whether this datum's score is below zero (the skip
// sentinel or any other negative score).
func (s ScoredUrlDatum) ShouldSkip() bool {
	return s.Score < 0
}

// FetchStatus is the coarse outcome of a single HTTP fetch attempt.
type FetchStatus int

const (
	// FetchStatusFetched means the full body of a 200 response was read
	// within the configured content cap.
	FetchStatusFetched FetchStatus = iota
	// FetchStatusError means a non-200 response, or the request failed
	// before any bytes were read.
	FetchStatusError
	// FetchStatusAborted means the read was abandoned: slow peer or
	// truncation past the configured content cap.
	FetchStatusAborted
)

func (s FetchStatus) String() string {
	switch s {
	case FetchStatusFetched:
		return "FETCHED"
	case FetchStatusError:
		return "ERROR"
	case FetchStatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Header is a case-insensitive, insertion-ordered multimap of HTTP response
// headers.
type Header struct {
	keys   []string
	values map[string][]string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

// Add appends a value for key, preserving insertion order of first-seen keys.
func (h *Header) Add(key, value string) {
	ck := canonicalHeaderKey(key)
	if _, ok := h.values[ck]; !ok {
		h.keys = append(h.keys, ck)
	}
	h.values[ck] = append(h.values[ck], value)
}

// Get returns the first value for key, or "" if absent.
func (h *Header) Get(key string) string {
	vs := h.values[canonicalHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for key in insertion order.
func (h *Header) Values(key string) []string {
	return h.values[canonicalHeaderKey(key)]
}

// Keys returns header keys in first-insertion order.
func (h *Header) Keys() []string {
	return h.keys
}

func canonicalHeaderKey(key string) string {
	b := []byte(key)
	upperNext := true
	for i, c := range b {
		if c == '-' {
			upperNext = true
			continue
		}
		if upperNext && c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		} else if !upperNext && c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
		upperNext = false
	}
	return string(b)
}

// FetchedDatum is the content-side output record produced by HttpFetcher.
type FetchedDatum struct {
	URL            string
	RedirectedURL  string
	FetchStatus    FetchStatus
	HTTPStatusCode int
	Headers        *Header
	Content        []byte
	Truncated      bool
	ContentType    string
	ReadRateBps    float64
	CompletedAt    time.Time
	Metadata       Metadata
}

// StatusDatum is the per-URL status record every input UrlDatum emits
// exactly one of.
type StatusDatum struct {
	URL            string
	Status         Status
	HTTPStatusCode int
	ErrorMessage   string
	CompletedAt    time.Time
	Metadata       Metadata
}
