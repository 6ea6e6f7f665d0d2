package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepr/fetchcore"
	"github.com/codepr/fetchcore/queue"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(fetchcore.ScoredUrlDatum) fetchcore.FetchedDatum
}

func (f *fakeFetcher) Fetch(d fetchcore.ScoredUrlDatum) fetchcore.FetchedDatum {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(d)
	}
	return fetchcore.FetchedDatum{URL: d.URL, FetchStatus: fetchcore.FetchStatusFetched}
}

type collectingSink struct {
	mu       sync.Mutex
	content  []fetchcore.FetchedDatum
	statuses []fetchcore.StatusDatum
}

func (s *collectingSink) EmitContent(d fetchcore.FetchedDatum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = append(s.content, d)
}

func (s *collectingSink) EmitStatus(d fetchcore.StatusDatum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, d)
}

func scoredURL(url string) fetchcore.ScoredUrlDatum {
	return fetchcore.ScoredUrlDatum{GroupedUrlDatum: fetchcore.GroupedUrlDatum{
		UrlDatum: fetchcore.UrlDatum{URL: url},
	}}
}

func TestRunFetchesUntilQueuesAreDone(t *testing.T) {
	clk := clock.NewMock()
	policy := fetchcore.DefaultPolicy("test-agent")

	queues := queue.NewManager(clk)
	q := queue.New("example.com-0", policy, 0, clk, nil)
	require.NoError(t, q.Offer(scoredURL("http://example.com/a")))
	require.NoError(t, q.Offer(scoredURL("http://example.com/b")))
	queues.Offer(q)

	fetcher := &fakeFetcher{}
	content := &collectingSink{}
	status := &collectingSink{}

	mgr := New(fetcher, queues, content, status, 4, clk)

	done := make(chan struct{})
	go func() {
		mgr.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish")
	}

	assert.Equal(t, 2, fetcher.calls)
	assert.Len(t, content.content, 2)
}

func TestRunEmitsFetchErrorStatus(t *testing.T) {
	clk := clock.NewMock()
	policy := fetchcore.DefaultPolicy("test-agent")

	queues := queue.NewManager(clk)
	q := queue.New("example.com-0", policy, 0, clk, nil)
	require.NoError(t, q.Offer(scoredURL("http://example.com/a")))
	queues.Offer(q)

	fetcher := &fakeFetcher{fn: func(d fetchcore.ScoredUrlDatum) fetchcore.FetchedDatum {
		return fetchcore.FetchedDatum{URL: d.URL, FetchStatus: fetchcore.FetchStatusError, HTTPStatusCode: 500}
	}}
	content := &collectingSink{}
	status := &collectingSink{}

	mgr := New(fetcher, queues, content, status, 2, clk)

	done := make(chan struct{})
	go func() {
		mgr.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish")
	}

	assert.Empty(t, content.content, "an error fetch must not reach the content sink")
	require.Len(t, status.statuses, 1)
	assert.Equal(t, fetchcore.StatusFetchError, status.statuses[0].Status)
}
