package queue

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepr/fetchcore"
)

func TestTakeReadyReturnsOfferedQueue(t *testing.T) {
	clk := clock.NewMock()
	m := NewManager(clk)
	policy := fetchcore.DefaultPolicy("test-agent")
	q := newTestQueue(t, policy, clk)
	require.NoError(t, q.Offer(scored("http://example.com/a")))

	m.Offer(q)

	got := m.TakeReady(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, q.GroupKey(), got.GroupKey())
}

func TestTakeReadyTimesOutWhenNothingReady(t *testing.T) {
	clk := clock.NewMock()
	m := NewManager(clk)
	policy := fetchcore.DefaultPolicy("test-agent")
	q := newTestQueue(t, policy, clk)
	m.Offer(q) // empty queue, never ready

	done := make(chan *PerHostQueue, 1)
	go func() { done <- m.TakeReady(50 * time.Millisecond) }()

	clk.Add(50 * time.Millisecond)
	select {
	case got := <-done:
		assert.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("TakeReady did not return before the real-time safety timeout")
	}
}

func TestIsDoneAfterAllQueuesDrained(t *testing.T) {
	clk := clock.NewMock()
	m := NewManager(clk)
	policy := fetchcore.DefaultPolicy("test-agent")
	q := newTestQueue(t, policy, clk)
	require.NoError(t, q.Offer(scored("http://example.com/a")))
	m.Offer(q)

	assert.False(t, m.IsDone())

	d := q.Poll()
	require.NotNil(t, d)
	m.MarkWorkerActive()
	assert.False(t, m.IsDone(), "a worker still holding the queue must not report done")

	q.Release()
	m.NotifyProgress()
	assert.True(t, m.IsDone())
}

func TestOfferIsIdempotentPerGroupKey(t *testing.T) {
	clk := clock.NewMock()
	m := NewManager(clk)
	policy := fetchcore.DefaultPolicy("test-agent")
	q1 := New("example.com-0", policy, 0, clk, nil)
	q2 := New("example.com-0", policy, 0, clk, nil)

	m.Offer(q1)
	m.Offer(q2)
	assert.Equal(t, 1, m.Len())
}

// newTestQueue gives each test its own distinct PerHostQueue without
// repeating the grouping-key literal everywhere.
func newTestQueue(t *testing.T, policy fetchcore.FetcherPolicy, clk clock.Clock) *PerHostQueue {
	t.Helper()
	return New(t.Name(), policy, 0, clk, nil)
}
