package stream

import (
	"sync"
	"sync/atomic"

	"github.com/harrison/arcsolve/internal/models"
)

// Defaults for NewTrace when zero values are passed.
const (
	DefaultTraceCap         = 500
	DefaultSubscriberBuffer = 256
)

// Trace is the per-run event log and broadcaster.
//
// Events get consecutive sequence numbers starting at 1. The trace holds at
// most capacity entries. When it overflows the oldest events are evicted and
// a single trace_truncated marker sits at the head, carrying the sequence
// number of the most recently evicted event and the running eviction count.
type Trace struct {
	mu sync.Mutex

	runID    string
	capacity int
	subBuf   int

	ring    []models.Event
	head    int
	size    int
	nextSeq uint64

	marker  *models.Event
	evicted int

	subs   map[*Subscription]struct{}
	closed bool
	final  models.Event
}

// NewTrace creates an empty trace. capacity below 2 and subscriberBuffer
// below 1 fall back to the defaults.
func NewTrace(runID string, capacity, subscriberBuffer int) *Trace {
	if capacity < 2 {
		capacity = DefaultTraceCap
	}
	if subscriberBuffer < 1 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Trace{
		runID:    runID,
		capacity: capacity,
		subBuf:   subscriberBuffer,
		ring:     make([]models.Event, capacity),
		nextSeq:  1,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Append assigns the next sequence number, stores the event and broadcasts it
// to live subscribers. It never blocks. Events appended after Close are still
// recorded for persistence but are not broadcast.
func (t *Trace) Append(ev models.Event) models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev = t.store(ev)
	if !t.closed {
		t.broadcast(ev, false)
	}
	return ev
}

// store must be called with mu held.
func (t *Trace) store(ev models.Event) models.Event {
	ev.RunID = t.runID
	ev.Sequence = t.nextSeq
	t.nextSeq++

	limit := t.capacity
	if t.marker != nil {
		limit = t.capacity - 1
	}
	for t.size >= limit {
		old := t.ring[t.head]
		t.ring[t.head] = models.Event{}
		t.head = (t.head + 1) % t.capacity
		t.size--
		t.evicted++
		eventsEvicted.Inc()

		if t.marker == nil {
			t.marker = &models.Event{
				RunID:       t.runID,
				Type:        models.EventTraceTruncated,
				TimestampMs: old.TimestampMs,
			}
			limit = t.capacity - 1
		}
		t.marker.Sequence = old.Sequence
		t.marker.TimestampMs = old.TimestampMs
		t.marker.Evicted = t.evicted
	}

	t.ring[(t.head+t.size)%t.capacity] = ev
	t.size++
	eventsAppended.WithLabelValues(string(ev.Type)).Inc()
	return ev
}

// broadcast must be called with mu held. Non-terminal sends leave one buffer
// slot free so the terminal event always fits.
func (t *Trace) broadcast(ev models.Event, terminal bool) {
	for sub := range t.subs {
		room := cap(sub.ch) - len(sub.ch)
		if (terminal && room > 0) || (!terminal && room > 1) {
			sub.ch <- ev
			continue
		}
		sub.dropped.Add(1)
		subscriberDrops.Inc()
	}
}

// Snapshot returns the ordered trace, marker first when truncated.
func (t *Trace) Snapshot() []models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Trace) snapshot() []models.Event {
	out := make([]models.Event, 0, t.size+1)
	if t.marker != nil {
		out = append(out, *t.marker)
	}
	for i := 0; i < t.size; i++ {
		out = append(out, t.ring[(t.head+i)%t.capacity])
	}
	return out
}

// Evicted returns how many events have been evicted so far.
func (t *Trace) Evicted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}

// LastSequence returns the sequence number of the newest event (0 if empty).
func (t *Trace) LastSequence() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextSeq - 1
}

// Subscribe attaches a new observer. The subscription's channel is pre-filled
// with the current trace and then receives live events, with no gap and no
// duplicate between the two. On a closed trace the channel holds the replay
// and is already closed.
func (t *Trace) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	replay := t.snapshot()
	sub := &Subscription{
		ch:    make(chan models.Event, len(replay)+t.subBuf+1),
		trace: t,
	}
	for _, ev := range replay {
		sub.ch <- ev
	}

	if t.closed {
		sub.done = true
		close(sub.ch)
		return sub
	}

	t.subs[sub] = struct{}{}
	activeSubscribers.Inc()
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call more than once.
func (t *Trace) Unsubscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detach(sub)
}

// detach must be called with mu held.
func (t *Trace) detach(sub *Subscription) {
	if sub.done {
		return
	}
	sub.done = true
	delete(t.subs, sub)
	activeSubscribers.Dec()
	close(sub.ch)
}

// Close appends the terminal event, delivers it to every subscriber and
// closes all streams. Only the first call has any effect; it returns the
// stored terminal event and true. Later calls return the same event and false.
func (t *Trace) Close(terminal models.Event) (models.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return t.final, false
	}

	ev := t.store(terminal)
	t.broadcast(ev, true)
	t.closed = true
	t.final = ev

	for sub := range t.subs {
		t.detach(sub)
	}
	return ev, true
}

// Closed reports whether Close has been called.
func (t *Trace) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Subscription is one observer's ordered view of a run.
type Subscription struct {
	ch      chan models.Event
	trace   *Trace
	dropped atomic.Int64
	done    bool // guarded by trace.mu
}

// NewReplay returns an already-closed subscription holding events, used for
// runs that are no longer live.
func NewReplay(events []models.Event) *Subscription {
	sub := &Subscription{ch: make(chan models.Event, len(events)), done: true}
	for _, ev := range events {
		sub.ch <- ev
	}
	close(sub.ch)
	return sub
}

// Events returns the delivery channel. It is closed after the terminal event
// or on Unsubscribe.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// Dropped returns how many live events were not delivered because the
// subscriber's buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription from its trace.
func (s *Subscription) Close() {
	if s.trace != nil {
		s.trace.Unsubscribe(s)
	}
}
