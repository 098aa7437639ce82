//go:build linux

package eventloop

import (
	"container/heap"
	"time"
)

type timerItem struct {
	deadline  time.Time
	id        uint64
	cb        func()
	cancelled bool
	index     int
}

type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TimerHandle refers to a scheduled, possibly already-fired timer.
// Cancel is a no-op once the timer has fired or already been cancelled.
type TimerHandle struct {
	item *timerItem
}

// Cancel prevents the timer from firing, if it has not fired already. A
// nil handle, or the empty handle returned for zero-or-negative delays
// (which run via CallLater instead), is safe to cancel and does nothing.
func (t *TimerHandle) Cancel() {
	if t == nil || t.item == nil {
		return
	}
	t.item.cancelled = true
}

// AddTimer schedules cb to run once, after delay has elapsed, on the Run
// goroutine. A delay of zero or less runs cb via CallLater instead —
// "later this turn" rather than creating a degenerate zero-duration
// timer — and returns a handle whose Cancel is a no-op.
func (l *Loop) AddTimer(delay time.Duration, cb func()) *TimerHandle {
	if delay <= 0 {
		l.CallLater(cb)
		return &TimerHandle{}
	}
	item := &timerItem{
		deadline: time.Now().Add(delay),
		id:       l.nextID,
		cb:       cb,
	}
	l.nextID++
	heap.Push(&l.timers, item)
	return &TimerHandle{item: item}
}

// PendingTimers reports how many timers are scheduled and not yet fired
// or cancelled-and-reaped. Cancelled-but-not-yet-popped timers still
// count until their deadline passes; this is a diagnostic, not a precise
// live count.
func (l *Loop) PendingTimers() int { return l.timers.Len() }
