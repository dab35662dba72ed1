package waitq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ipl"
)

func newQ() *Waitq {
	var cpu ipl.State
	q := &Waitq{}
	q.Init(&cpu)
	return q
}

func TestWakeOneReturnsFirstEnqueuedWaiterOnThatEvent(t *testing.T) {
	q := newQ()
	a := &Waiter{}
	b := &Waiter{}
	q.Enqueue(a, 1)
	q.Enqueue(b, 1)

	w := q.WakeOne(1)
	require.Same(t, a, w)
	require.Equal(t, Event, a.Result())
}

func TestWakeOneIgnoresWaitersOnOtherEvents(t *testing.T) {
	q := newQ()
	a := &Waiter{}
	b := &Waiter{}
	q.Enqueue(a, 1)
	q.Enqueue(b, 2)

	w := q.WakeOne(2)
	require.Same(t, b, w)
}

func TestWakeOneOnEmptyQueueReturnsNil(t *testing.T) {
	q := newQ()
	require.Nil(t, q.WakeOne(1))
}

func TestWakeAllDrainsEveryMatchingWaiterInOrder(t *testing.T) {
	q := newQ()
	a := &Waiter{}
	b := &Waiter{}
	c := &Waiter{}
	q.Enqueue(a, 1)
	q.Enqueue(b, 1)
	q.Enqueue(c, 1)

	woken := q.WakeAll(1)
	require.Equal(t, []*Waiter{a, b, c}, woken)
	require.Nil(t, q.WakeOne(1))
}

func TestTimeoutExpiredDequeuesWithTimeoutResult(t *testing.T) {
	q := newQ()
	w := &Waiter{}
	q.Enqueue(w, 1)

	require.True(t, q.TimeoutExpired(w))
	require.Equal(t, Timeout, w.Result())
	require.Nil(t, q.WakeOne(1))
}

// Whichever of wake and timeout dequeues the waiter first wins; the
// loser's attempt changes nothing.
func TestTimeoutExpiredAfterWakeIsNoop(t *testing.T) {
	q := newQ()
	w := &Waiter{}
	q.Enqueue(w, 1)

	require.Same(t, w, q.WakeOne(1))
	require.False(t, q.TimeoutExpired(w))
	require.Equal(t, Event, w.Result())
}

func TestClearWaitLockedOnForeignQueueIsNoop(t *testing.T) {
	q1 := newQ()
	q2 := newQ()
	w := &Waiter{}
	q1.Enqueue(w, 1)

	q2.ClearWaitLocked(w, 1, Timeout)
	// w is still on q1, untouched.
	require.Same(t, w, q1.WakeOne(1))
}

func TestClearWaitLockedRemovesMiddleWaiterWithoutBreakingList(t *testing.T) {
	q := newQ()
	a := &Waiter{}
	b := &Waiter{}
	c := &Waiter{}
	q.Enqueue(a, 1)
	q.Enqueue(b, 1)
	q.Enqueue(c, 1)

	q.lock.Lock()
	q.ClearWaitLocked(b, 1, Timeout)
	q.lock.Unlock()

	require.Equal(t, Timeout, b.Result())
	woken := q.WakeAll(1)
	require.Equal(t, []*Waiter{a, c}, woken)
}
