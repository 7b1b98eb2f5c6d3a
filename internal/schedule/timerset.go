// Package schedule implements the one-shot timer set: a time-ordered
// collection of pending fire events drained by a single loop.
//
// Ordering contract: callbacks run in non-decreasing fire-time order, and
// entries with equal fire times run in registration order. That matches the
// store's recovery ordering, so a restart reproduces the original delivery
// order.
package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

// TimerID identifies one registration. IDs are process-local and never reused.
type TimerID uint64

// FireFunc receives the payload of a due reminder. It is invoked from the
// drain loop and must not block; hand long work to another goroutine.
type FireFunc func(ctx context.Context, p reminder.Payload)

type entry struct {
	id        TimerID
	fireAt    time.Time
	payload   reminder.Payload
	index     int
	cancelled bool
}

// timerHeap orders by (fireAt, id). Registration ids are monotonic, so the
// id comparison doubles as the stable tie-break.
type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].id < h[j].id
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

type TimerSet struct {
	mu     sync.Mutex
	h      timerHeap
	byID   map[TimerID]*entry
	nextID TimerID

	wake chan struct{}
	fire FireFunc
	log  logx.Logger
}

func New(fire FireFunc, log logx.Logger) *TimerSet {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TimerSet{
		byID: map[TimerID]*entry{},
		wake: make(chan struct{}, 1),
		fire: fire,
		log:  log,
	}
}

// Schedule registers a one-shot timer. A fire time in the past is legal; the
// entry fires at the loop's next scheduling opportunity instead of being
// dropped.
func (t *TimerSet) Schedule(fireAt time.Time, p reminder.Payload) TimerID {
	t.mu.Lock()
	t.nextID++
	e := &entry{id: t.nextID, fireAt: fireAt, payload: p}
	heap.Push(&t.h, e)
	t.byID[e.id] = e
	t.mu.Unlock()

	t.wakeLoop()
	return e.id
}

// Cancel removes a pending timer. Returns false if the timer already fired
// or was never registered; that case is a no-op. Nothing user-facing calls
// this yet; it exists so a future undo feature does not need a new contract.
func (t *TimerSet) Cancel(id TimerID) bool {
	t.mu.Lock()
	e, ok := t.byID[id]
	if ok {
		e.cancelled = true
		delete(t.byID, id)
	}
	t.mu.Unlock()
	if ok {
		t.wakeLoop()
	}
	return ok
}

// Len reports the number of pending (not fired, not cancelled) timers.
func (t *TimerSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

func (t *TimerSet) wakeLoop() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run drains the heap until ctx is cancelled. Exactly one Run loop may be
// active; the app runs it under its supervisor. Entries registered before
// Run starts (recovery) are honored.
func (t *TimerSet) Run(ctx context.Context) {
	for {
		e, wait, ok := t.next()
		if !ok {
			// Empty heap: sleep until something is scheduled.
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
				continue
			}
		}
		if e != nil {
			t.log.Debug("timer fired",
				logx.Int64("reminder_id", e.payload.ID),
				logx.Time("fire_at", e.fireAt))
			t.fire(ctx, e.payload)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.wake:
			// Head may have changed; re-evaluate.
			timer.Stop()
		case <-timer.C:
		}
	}
}

// next pops the head if due. Returns (entry, 0, true) for a due entry,
// (nil, wait, true) when the head is in the future, and ok=false when empty.
func (t *TimerSet) next() (*entry, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.h) > 0 && t.h[0].cancelled {
		heap.Pop(&t.h)
	}
	if len(t.h) == 0 {
		return nil, 0, false
	}
	head := t.h[0]
	wait := time.Until(head.fireAt)
	if wait > 0 {
		return nil, wait, true
	}
	heap.Pop(&t.h)
	delete(t.byID, head.id)
	return head, 0, true
}
