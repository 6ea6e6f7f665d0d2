// Package httpfetch implements HttpFetcher: a connection-pooled, retrying,
// rate-monitored HTTP client that enforces per-request size caps, minimum
// response-rate thresholds, and safe abort semantics on truncation or slow
// peers.
package httpfetch

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/aybabtme/iocontrol"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"

	"github.com/codepr/fetchcore"
)

// debugBodyWindow is how many bytes of an error response body we keep for
// debugging.
const debugBodyWindow = 1024

// HTTPStatusError is returned by GetBytes when the server responded with a
// non-2xx status; the caller (the robots.txt acquisition path) inspects the
// status code to decide how to classify the host.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

// Code returns the carried HTTP status code, satisfying
// grouping.HTTPStatusCoder without grouping needing to import this package.
func (e *HTTPStatusError) Code() int {
	return e.StatusCode
}

// Fetcher issues HTTP GET requests through a single shared, retrying,
// connection-pooled client. Fetch never fails by returning an error --
// failures are encoded on the returned FetchedDatum. GetBytes is the
// lower-level primitive used for robots.txt acquisition and does surface
// typed errors: *HTTPStatusError for HTTP-level failures, a plain error for
// I/O failures.
type Fetcher struct {
	userAgent string
	policy    fetchcore.FetcherPolicy
	client    *http.Client
	clock     clock.Clock
	chunkSize int
}

// New builds the Fetcher's connection pool eagerly -- rather than lazily on
// first use -- so startup failures surface immediately and shutdown is
// explicit. Per-route concurrency is capped to policy.ThreadsPerHost+1, the
// extra slot existing so a concurrent robots.txt fetch never queues behind
// content fetches.
func New(policy fetchcore.FetcherPolicy, clk clock.Clock) *Fetcher {
	if clk == nil {
		clk = clock.New()
	}
	perRoute := policy.ThreadsPerHost + 1
	base := &http.Transport{
		MaxIdleConns:        policy.MaxThreads,
		MaxIdleConnsPerHost: perRoute,
		MaxConnsPerHost:     perRoute,
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	transport := rehttp.NewTransport(
		base,
		retryPolicy(2), // two retries: at most three attempts in all
		rehttp.ExpJitterDelay(100*time.Millisecond, 5*time.Second),
	)

	maxRedirects := policy.MaxRedirects

	return &Fetcher{
		userAgent: policy.UserAgent,
		policy:    policy,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if maxRedirects > 0 && len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		clock:     clk,
		chunkSize: 8 * 1024,
	}
}

// Close releases idle pooled connections. Call it once, at process
// shutdown -- the pool has no other lifecycle hook.
func (f *Fetcher) Close() {
	if rt, ok := f.client.Transport.(*rehttp.Transport); ok {
		if t, ok := rt.RoundTripper.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

// retryPolicy retries up to maxRetries times when the peer dropped the
// connection before a response was received, or when the request method is
// idempotent (GET carries no body); it never retries a TLS handshake
// failure.
func retryPolicy(maxRetries int) rehttp.RetryFn {
	return func(attempt rehttp.Attempt) bool {
		if attempt.Index >= maxRetries {
			return false
		}
		if attempt.Error == nil {
			return false
		}
		var tlsErr tls.RecordHeaderError
		if errors.As(attempt.Error, &tlsErr) {
			return false
		}
		var opErr *net.OpError
		if errors.As(attempt.Error, &opErr) {
			return true
		}
		return isIdempotent(attempt.Request)
	}
}

func isIdempotent(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

// Fetch issues a single HTTP GET for d and always returns a FetchedDatum;
// it never panics or returns an error to the caller.
func (f *Fetcher) Fetch(d fetchcore.ScoredUrlDatum) fetchcore.FetchedDatum {
	now := f.clock.Now()
	out := fetchcore.FetchedDatum{
		URL:         d.URL,
		CompletedAt: now,
		Metadata:    d.Metadata.Clone(),
	}

	req, err := http.NewRequest(http.MethodGet, d.URL, nil)
	if err != nil {
		out.FetchStatus = fetchcore.FetchStatusError
		return out
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		out.FetchStatus = fetchcore.FetchStatusError
		return out
	}
	defer func() {
		// Only a clean exit (fully read or legitimately closed) returns the
		// connection to the pool; an abort must not reuse the stream.
		if out.FetchStatus != fetchcore.FetchStatusAborted {
			resp.Body.Close()
		}
	}()

	out.RedirectedURL = d.URL
	out.HTTPStatusCode = resp.StatusCode
	out.ContentType = resp.Header.Get("Content-Type")
	out.Headers = toHeader(resp.Header)

	var targetLength int64
	if resp.StatusCode == http.StatusOK {
		targetLength = f.policy.MaxContentSize
		out.FetchStatus = fetchcore.FetchStatusFetched
	} else {
		targetLength = debugBodyWindow
		out.FetchStatus = fetchcore.FetchStatusError
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n >= 0 {
			if n > targetLength {
				out.Truncated = true
			} else {
				targetLength = n
			}
		}
	}

	content, rate, truncated, aborted := f.readBody(resp.Body, targetLength)
	out.Content = content
	out.ReadRateBps = rate
	if truncated {
		out.Truncated = true
	}
	if aborted {
		out.FetchStatus = fetchcore.FetchStatusAborted
	} else if out.Truncated && out.FetchStatus == fetchcore.FetchStatusFetched {
		// Truncated-but-not-rate-aborted: still abort rather than close
		// normally, so the connection isn't returned to the pool with
		// unread bytes pending.
		out.FetchStatus = fetchcore.FetchStatusAborted
	}

	return out
}

// readBody reads up to targetLength+1 bytes in chunkSize-sized reads,
// tracking a measured read rate via iocontrol, and reports whether the
// stream was truncated (more bytes existed than targetLength) and/or
// aborted for falling below the minimum response rate.
func (f *Fetcher) readBody(body io.Reader, targetLength int64) (content []byte, rateBps float64, truncated bool, aborted bool) {
	measured := iocontrol.NewMeasuredReader(body)
	limited := io.LimitReader(measured, targetLength+1)

	buf := make([]byte, 0, min64(targetLength+1, 1<<20))
	chunk := make([]byte, f.chunkSize)
	firstChunkDone := false

	for {
		n, err := limited.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			rateBps = float64(measured.BytesPerSec())

			if firstChunkDone && f.policy.MinResponseRate > 0 && rateBps < f.policy.MinResponseRate {
				remaining := int64(len(buf)) < targetLength+1
				if err != io.EOF && remaining {
					aborted = true
					return buf, rateBps, int64(len(buf)) > targetLength, aborted
				}
			}
			firstChunkDone = true
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			// Any other I/O error mid-read: keep what we have, surface via
			// truncated semantics rather than failing the whole datum.
			truncated = int64(len(buf)) > targetLength
			return buf, rateBps, truncated, aborted
		}
	}

	if int64(len(buf)) > targetLength {
		truncated = true
		buf = buf[:targetLength]
	}
	return buf, rateBps, truncated, aborted
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// GetBytes performs a plain HTTP GET and returns the full response body, or
// a typed error: *HTTPStatusError for a non-2xx response, a plain error for
// transport/I-O failures. It is used for robots.txt acquisition.
func (f *Fetcher) GetBytes(target string) ([]byte, error) {
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", target, err)
	}

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", target, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.policy.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", target, err)
	}
	if int64(len(body)) > f.policy.MaxContentSize {
		body = body[:f.policy.MaxContentSize]
	}
	return body, nil
}

// HumanizeSize is a small logging helper: formats n bytes for log lines
// (e.g. truncation/abort messages) the way the rest of this codebase's
// operators read sizes.
func HumanizeSize(n int64) string {
	return humanize.Bytes(uint64(max64(n, 0)))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func toHeader(h http.Header) *fetchcore.Header {
	out := fetchcore.NewHeader()
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			out.Add(k, v)
		}
	}
	return out
}
