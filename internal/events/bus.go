package events

import (
	"context"
	"iter"
	"sync"
	"time"
)

// DefaultBuffer is the per-subscriber queue bound used when none is given.
const DefaultBuffer = 64

// Bus fans out one job's events to any number of subscribers. Publish never
// blocks: each subscriber owns a bounded queue in which consecutive progress
// samples of the same phase and stage collapse into the newest one, and
// progress is dropped oldest-first when the queue is full. Phase events are
// never dropped.
type Bus struct {
	jobID  string
	buffer int
	now    func() time.Time

	mu        sync.Mutex
	subs      map[*subscriber]struct{}
	lastPhase *Event
	finished  bool
}

// NewBus returns a bus for jobID. A non-positive buffer selects DefaultBuffer.
func NewBus(jobID string, buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		jobID:  jobID,
		buffer: buffer,
		now:    time.Now,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish stamps ev with the job ID and time and queues it for every
// subscriber. Events after the terminal event are discarded.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	ev.JobID = b.jobID
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	if ev.Type == "" {
		ev.Type = TypeProgress
	}
	if ev.Type == TypePhase {
		stored := ev
		b.lastPhase = &stored
	}
	if ev.Terminal() {
		b.finished = true
	}
	for s := range b.subs {
		s.push(ev)
	}
}

// Finished reports whether the terminal event has been published.
func (b *Bus) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Last returns the most recent phase event, if any.
func (b *Bus) Last() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastPhase == nil {
		return Event{}, false
	}
	return *b.lastPhase, true
}

// Subscribe returns a sequence of the job's events ending after the terminal
// event. A subscriber joining late first receives the latest phase event,
// which is the terminal one when the job already finished.
func (b *Bus) Subscribe() iter.Seq[Event] {
	return b.SubscribeContext(context.Background())
}

// SubscribeContext is Subscribe with an additional exit when ctx is done.
func (b *Bus) SubscribeContext(ctx context.Context) iter.Seq[Event] {
	s := b.attach()
	return func(yield func(Event) bool) {
		defer b.detach(s)
		for {
			ev, ok := s.pop()
			if ok {
				if !yield(ev) || ev.Terminal() {
					return
				}
				continue
			}
			select {
			case <-s.notify:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bus) attach() *subscriber {
	s := &subscriber{buffer: b.buffer, notify: make(chan struct{}, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastPhase != nil {
		s.push(*b.lastPhase)
	}
	if !b.finished {
		b.subs[s] = struct{}{}
	}
	return s
}

func (b *Bus) detach(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Dropped returns the total number of progress events discarded across all
// current subscribers.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for s := range b.subs {
		s.mu.Lock()
		total += s.dropped
		s.mu.Unlock()
	}
	return total
}

type subscriber struct {
	buffer int
	notify chan struct{}

	mu      sync.Mutex
	queue   []Event
	dropped int
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	switch {
	case ev.Type == TypeProgress && s.coalesce(ev):
	case ev.Type == TypeProgress && len(s.queue) >= s.buffer:
		s.dropOldestProgress()
		s.queue = append(s.queue, ev)
	default:
		if len(s.queue) >= s.buffer {
			s.dropOldestProgress()
		}
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// coalesce replaces the queue tail with ev when both are progress samples of
// the same phase and stage.
func (s *subscriber) coalesce(ev Event) bool {
	if len(s.queue) == 0 {
		return false
	}
	tail := &s.queue[len(s.queue)-1]
	if tail.Type != TypeProgress || tail.Phase != ev.Phase || tail.Stage != ev.Stage {
		return false
	}
	*tail = ev
	s.dropped++
	return true
}

func (s *subscriber) dropOldestProgress() {
	for i, queued := range s.queue {
		if queued.Type == TypeProgress {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.dropped++
			return
		}
	}
}

func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return ev, true
}
