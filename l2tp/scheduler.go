package l2tp

import (
	"container/heap"
	"sort"
	"time"
)

// EventKind says what a scheduled event is for.  It is used when
// reporting the scheduler queue.
type EventKind int

const (
	// EventOther is any event not covered by the kinds below
	EventOther EventKind = iota
	// EventHello is a tunnel keepalive; Data is the *Tunnel
	EventHello
	// EventRedial is a LAC redial; Data is the *Lac
	EventRedial
	// EventSendZLB is a payload acknowledgement; Data is the *Call
	EventSendZLB
	// EventDethrottle releases a throttled call; Data is the *Call
	EventDethrottle
)

func (k EventKind) String() string {
	switch k {
	case EventHello:
		return "hello"
	case EventRedial:
		return "redial"
	case EventSendZLB:
		return "send_zlb"
	case EventDethrottle:
		return "dethrottle"
	}
	return "other"
}

// EventHandle identifies a scheduled event.  The zero handle is never
// issued.
type EventHandle uint64

// EventFunc is invoked when an event fires, with the event's data.
type EventFunc func(data interface{})

// Clock provides the current time to the scheduler.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Event is a scheduled one-shot callback.
type Event struct {
	When time.Time
	Kind EventKind
	Data interface{}

	handle EventHandle
	fn     EventFunc
	index  int
}

// Handle returns the event's handle.
func (e *Event) Handle() EventHandle {
	return e.handle
}

type eventQueue []*Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].When.Equal(q[j].When) {
		return q[i].handle < q[j].handle
	}
	return q[i].When.Before(q[j].When)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x interface{}) {
	e := x.(*Event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Scheduler is a time-ordered queue of one-shot events.  Events are run
// by RunDue on the goroutine that owns the scheduler.
type Scheduler struct {
	clock   Clock
	queue   eventQueue
	pending map[EventHandle]*Event
	last    EventHandle
}

// NewScheduler creates a scheduler.  A nil clock uses the system clock.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	return &Scheduler{
		clock:   clock,
		pending: make(map[EventHandle]*Event),
	}
}

// Schedule arranges for fn to be called with data no earlier than delay
// from now.
func (s *Scheduler) Schedule(delay time.Duration, kind EventKind, fn EventFunc, data interface{}) EventHandle {
	s.last++
	e := &Event{
		When:   s.clock.Now().Add(delay),
		Kind:   kind,
		Data:   data,
		handle: s.last,
		fn:     fn,
	}
	heap.Push(&s.queue, e)
	s.pending[e.handle] = e
	return e.handle
}

// Cancel removes a pending event.  It returns false if the event has
// already fired or been cancelled.
func (s *Scheduler) Cancel(h EventHandle) bool {
	e, ok := s.pending[h]
	if !ok {
		return false
	}
	// An event set aside by a running RunDue has no queue index.
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
	delete(s.pending, h)
	return true
}

// Pending reports whether the event is still queued.
func (s *Scheduler) Pending(h EventHandle) bool {
	_, ok := s.pending[h]
	return ok
}

// RunDue runs every event whose time has come, in time order.  Events
// sharing a time run in the order they were scheduled.  Callbacks may
// schedule or cancel events; events they schedule wait for the next
// RunDue.  It returns the number of events run.
func (s *Scheduler) RunDue() int {
	now := s.clock.Now()
	last := s.last
	var later []*Event
	n := 0
	for len(s.queue) > 0 {
		e := s.queue[0]
		if e.When.After(now) {
			break
		}
		heap.Pop(&s.queue)
		if e.handle > last {
			later = append(later, e)
			continue
		}
		delete(s.pending, e.handle)
		e.fn(e.Data)
		n++
	}
	for _, e := range later {
		if _, ok := s.pending[e.handle]; ok {
			heap.Push(&s.queue, e)
		}
	}
	return n
}

// NextDeadline returns the time of the earliest pending event.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].When, true
}

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Events returns a snapshot of the pending events in firing order.
func (s *Scheduler) Events() []Event {
	out := make([]Event, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].When.Equal(out[j].When) {
			return out[i].handle < out[j].handle
		}
		return out[i].When.Before(out[j].When)
	})
	return out
}
