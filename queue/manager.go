package queue

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Manager holds the full set of PerHostQueues and hands the next ready one
// to a fetch worker. Ready ordering is round-robin over arrival order,
// skipping queues that are currently time-blocked.
//
// TakeReady is condition-variable-driven rather than busy-waiting: it
// blocks until a queue becomes ready, a new queue is offered, a queue
// finishes and calls NotifyProgress, or the timeout elapses -- whichever
// comes first.
type Manager struct {
	mu    sync.Mutex
	cond  *sync.Cond
	clock clock.Clock

	order []string
	byKey map[string]*PerHostQueue
	next  int

	activeWorkers int
}

// NewManager returns an empty Manager.
func NewManager(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{clock: clk, byKey: make(map[string]*PerHostQueue)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Offer adds q if its grouping key is not already tracked.
func (m *Manager) Offer(q *PerHostQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[q.GroupKey()]; ok {
		return
	}
	m.byKey[q.GroupKey()] = q
	m.order = append(m.order, q.GroupKey())
	m.cond.Broadcast()
}

// MarkWorkerActive records that a worker has taken a queue out of
// rotation, for IsDone's bookkeeping.
func (m *Manager) MarkWorkerActive() {
	m.mu.Lock()
	m.activeWorkers++
	m.mu.Unlock()
}

// NotifyProgress records that a worker has finished (undoing one
// MarkWorkerActive) and wakes any goroutine blocked in TakeReady -- call it
// once per worker, after it releases its queue (Release), since that may
// have made a queue ready.
func (m *Manager) NotifyProgress() {
	m.mu.Lock()
	if m.activeWorkers > 0 {
		m.activeWorkers--
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

// TakeReady returns a queue that is ready now (see PerHostQueue.readyNow),
// or blocks up to timeout waiting for one to become ready, waking early
// when the nearest crawl-delay among time-blocked queues runs out. It
// returns nil if no queue became ready before the timeout, and returns nil
// at once when every tracked queue is empty and no worker is active.
// Round-robins from the position after the last queue returned so no
// tracked queue is starved.
func (m *Manager) TakeReady(timeout time.Duration) *PerHostQueue {
	deadline := m.clock.Now().Add(timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if q := m.scanReadyLocked(); q != nil {
			return q
		}

		now := m.clock.Now()
		wait := deadline.Sub(now)
		if wait <= 0 {
			return nil
		}
		idle := m.activeWorkers == 0
		for _, q := range m.byKey {
			if !q.IsEmpty() {
				idle = false
			}
			if at, pending := q.nextReadyAt(); pending {
				if d := at.Sub(now); d > 0 && d < wait {
					wait = d
				}
			}
		}
		if idle {
			return nil
		}
		m.waitLocked(wait)
	}
}

// scanReadyLocked must be called with m.mu held.
func (m *Manager) scanReadyLocked() *PerHostQueue {
	now := m.clock.Now()
	n := len(m.order)
	for i := 0; i < n; i++ {
		idx := (m.next + i) % n
		key := m.order[idx]
		q, ok := m.byKey[key]
		if !ok {
			continue
		}
		if q.readyNow(now) {
			m.next = (idx + 1) % n
			return q
		}
	}
	return nil
}

// waitLocked blocks on the condition variable for at most d, waking early
// if Offer/NotifyProgress broadcasts. Must be called with m.mu held; it
// releases and reacquires the lock internally via sync.Cond.Wait.
func (m *Manager) waitLocked(d time.Duration) {
	woke := make(chan struct{})
	timer := m.clock.Timer(d)
	defer timer.Stop()

	go func() {
		select {
		case <-timer.C:
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-woke:
		}
	}()
	m.cond.Wait()
	close(woke)
}

// IsDone reports whether every tracked queue is empty and no worker is
// currently processing one.
func (m *Manager) IsDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeWorkers > 0 {
		return false
	}
	for _, q := range m.byKey {
		if !q.IsEmpty() {
			return false
		}
	}
	return true
}

// Len returns the number of tracked queues.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}
