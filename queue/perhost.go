// Package queue implements a two-level pacing scheduler: PerHostQueue
// holds one host's backlog and enforces crawl-delay and per-host
// concurrency; Manager holds the full set of PerHostQueues and hands the
// next ready one to a fetch worker.
package queue

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/codepr/fetchcore"
	"github.com/codepr/fetchcore/spillqueue"
)

// StatusSink receives StatusDatum records for URLs that bypass fetching
// (for example, drained on deadline expiry).
type StatusSink interface {
	EmitStatus(fetchcore.StatusDatum)
}

// memSpillCap bounds how many ScoredUrlDatum a PerHostQueue holds in
// memory before spilling the rest to disk.
const memSpillCap = 256

// PerHostQueue holds the backlog for one grouping key and enforces
// crawl-delay pacing and per-host concurrency.
type PerHostQueue struct {
	mu sync.Mutex

	groupKey string
	policy   fetchcore.FetcherPolicy
	delay    time.Duration
	clock    clock.Clock
	sink     StatusSink

	backlog *spillqueue.Queue[fetchcore.ScoredUrlDatum]

	lastDispatchTime time.Time
	numActive        int
	drained          bool
}

// New returns a PerHostQueue for groupKey, pacing dispatches by delay.
func New(groupKey string, policy fetchcore.FetcherPolicy, delay time.Duration, clk clock.Clock, sink StatusSink) *PerHostQueue {
	if clk == nil {
		clk = clock.New()
	}
	return &PerHostQueue{
		groupKey: groupKey,
		policy:   policy,
		delay:    delay,
		clock:    clk,
		sink:     sink,
		backlog:  spillqueue.New[fetchcore.ScoredUrlDatum](memSpillCap, ""),
	}
}

// GroupKey returns the grouping key this queue paces.
func (q *PerHostQueue) GroupKey() string {
	return q.groupKey
}

// Offer enqueues d. Callers are expected to deliver URLs in
// score-descending order.
func (q *PerHostQueue) Offer(d fetchcore.ScoredUrlDatum) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlog.Offer(d)
}

// Poll returns the next URL to dispatch, or nil if none is ready right now.
// A nil return with the queue non-empty means the caller should retry
// later: either the host is at its concurrency cap, or crawl-delay hasn't
// elapsed. When the crawl deadline has passed, Poll instead drains the
// entire remaining backlog, emitting each as StatusDatum(ABORTED), and
// returns nil.
func (q *PerHostQueue) Poll() *fetchcore.ScoredUrlDatum {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	if q.policy.Expired(now) {
		q.drainAborted(now)
		return nil
	}
	if q.numActive >= q.policy.ThreadsPerHost {
		return nil
	}
	if !q.lastDispatchTime.IsZero() && now.Before(q.lastDispatchTime.Add(q.delay)) {
		return nil
	}

	d, ok := q.backlog.Poll()
	if !ok {
		return nil
	}
	q.numActive++
	q.lastDispatchTime = now
	return &d
}

func (q *PerHostQueue) drainAborted(now time.Time) {
	if q.drained {
		return
	}
	for {
		d, ok := q.backlog.Poll()
		if !ok {
			break
		}
		if q.sink != nil {
			q.sink.EmitStatus(fetchcore.StatusDatum{
				URL:         d.URL,
				Status:      fetchcore.StatusAborted,
				CompletedAt: now,
				Metadata:    d.Metadata.Clone(),
			})
		}
	}
	q.drained = true
}

// Release decrements the in-flight count. Call it once the worker has
// emitted the fetch result for a URL previously returned by Poll.
func (q *PerHostQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.numActive > 0 {
		q.numActive--
	}
}

// IsEmpty reports whether the backlog is drained and no request is
// in-flight.
func (q *PerHostQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlog.IsEmpty() && q.numActive == 0
}

// nextReadyAt returns the earliest time this queue might next become ready
// (used by QueueManager to avoid busy-waiting), and whether the queue has
// anything left to offer at all.
func (q *PerHostQueue) nextReadyAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.backlog.IsEmpty() {
		return time.Time{}, false
	}
	if q.numActive >= q.policy.ThreadsPerHost {
		return time.Time{}, true
	}
	return q.lastDispatchTime.Add(q.delay), true
}

// readyNow reports, without mutating state, whether Poll has work to do
// right now: a URL it would dispatch, or, once the crawl deadline has
// passed, a backlog to drain (it then always reports true, although Poll
// returns nil).
func (q *PerHostQueue) readyNow(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.policy.Expired(now) {
		return true
	}
	if q.backlog.IsEmpty() {
		return false
	}
	if q.numActive >= q.policy.ThreadsPerHost {
		return false
	}
	return q.lastDispatchTime.IsZero() || !now.Before(q.lastDispatchTime.Add(q.delay))
}
