// Package manager implements the scheduler loop that drives workers
// against a queue.Manager until the crawl is done or the deadline passes.
package manager

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/codepr/fetchcore"
	"github.com/codepr/fetchcore/queue"
)

// HttpFetcher is the subset of httpfetch.Fetcher the manager drives.
type HttpFetcher interface {
	Fetch(fetchcore.ScoredUrlDatum) fetchcore.FetchedDatum
}

// ContentSink receives FetchedDatum records for successfully fetched URLs.
type ContentSink interface {
	EmitContent(fetchcore.FetchedDatum)
}

// StatusSink receives one StatusDatum per input UrlDatum.
type StatusSink interface {
	EmitStatus(fetchcore.StatusDatum)
}

// shortPollTimeout bounds how long TakeReady blocks per scheduler
// iteration, so the manager notices IsDone/deadline promptly.
const shortPollTimeout = 200 * time.Millisecond

// Manager drives the fetch loop: it spawns bounded worker tasks, each of
// which pulls a ready PerHostQueue, acquires one URL, invokes HttpFetcher,
// emits results, and returns the queue to the QueueManager.
type Manager struct {
	fetcher HttpFetcher
	queues  *queue.Manager
	content ContentSink
	status  StatusSink
	clock   clock.Clock
	logger  *log.Logger

	maxThreads int
	permits    chan struct{}
	wg         sync.WaitGroup
}

// New returns a Manager. maxThreads sizes the bounded worker pool and
// should match the policy's MaxThreads, which also sizes the fetcher's
// connection pool.
func New(fetcher HttpFetcher, queues *queue.Manager, content ContentSink, status StatusSink, maxThreads int, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if maxThreads <= 0 {
		maxThreads = 1
	}
	return &Manager{
		fetcher:    fetcher,
		queues:     queues,
		content:    content,
		status:     status,
		clock:      clk,
		logger:     log.New(os.Stderr, "manager: ", log.LstdFlags),
		maxThreads: maxThreads,
		permits:    make(chan struct{}, maxThreads),
	}
}

// Run drives the scheduler loop until queues.IsDone() reports true. It
// blocks until the crawl finishes; run it in a goroutine to do other work
// concurrently.
func (m *Manager) Run() {
	m.logger.Printf("starting fetch loop (max %d concurrent fetches)", m.maxThreads)
	for {
		if m.queues.IsDone() {
			break
		}

		select {
		case m.permits <- struct{}{}:
		default:
			// Pool saturated: wait briefly for a worker to free a permit
			// rather than spin.
			time.Sleep(time.Millisecond)
			continue
		}

		q := m.queues.TakeReady(shortPollTimeout)
		if q == nil {
			<-m.permits
			if m.queues.IsDone() {
				return
			}
			continue
		}

		d := q.Poll()
		if d == nil {
			<-m.permits
			continue
		}

		m.queues.MarkWorkerActive()
		m.wg.Add(1)
		go m.runWorker(q, *d)
	}
	m.wg.Wait()
	m.logger.Println("fetch loop finished")
}

func (m *Manager) runWorker(q *queue.PerHostQueue, d fetchcore.ScoredUrlDatum) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.emitError(d, fmt.Errorf("panic in fetch worker: %v", r))
		}
		q.Release()
		m.queues.NotifyProgress()
		<-m.permits
	}()

	fetched := m.fetcher.Fetch(d)
	m.emitFetched(d, fetched)
}

func (m *Manager) emitFetched(d fetchcore.ScoredUrlDatum, fetched fetchcore.FetchedDatum) {
	now := m.clock.Now()
	status := fetchcore.StatusFetched
	switch fetched.FetchStatus {
	case fetchcore.FetchStatusError:
		status = fetchcore.StatusFetchError
	case fetchcore.FetchStatusAborted:
		status = fetchcore.StatusAborted
	}

	if fetched.FetchStatus == fetchcore.FetchStatusFetched && m.content != nil {
		m.content.EmitContent(fetched)
	}
	if m.status != nil {
		m.status.EmitStatus(fetchcore.StatusDatum{
			URL:            d.URL,
			Status:         status,
			HTTPStatusCode: fetched.HTTPStatusCode,
			CompletedAt:    now,
			Metadata:       d.Metadata.Clone(),
		})
	}
}

func (m *Manager) emitError(d fetchcore.ScoredUrlDatum, err error) {
	if m.status == nil {
		return
	}
	m.status.EmitStatus(fetchcore.StatusDatum{
		URL:          d.URL,
		Status:       fetchcore.StatusFetchError,
		ErrorMessage: err.Error(),
		CompletedAt:  m.clock.Now(),
		Metadata:     d.Metadata.Clone(),
	})
}
