// Package eventbus carries in-process lifecycle signals from the delivery
// engine to the front-end without coupling the two.
package eventbus

import (
	"sync"
	"time"
)

type Topic string

const (
	// TopicJobQueued fires when an admin enqueues a broadcast.
	TopicJobQueued Topic = "broadcast.queued"
	// TopicJobFinished fires after a job reaches a terminal state.
	TopicJobFinished Topic = "broadcast.finished"
)

// JobResult is the payload of TopicJobFinished.
type JobResult struct {
	JobID     int64
	Outcome   string
	Attempted int
	Delivered int
	Skipped   int
}

type Event struct {
	Topic Topic
	Time  time.Time
	Data  any
}

// Bus is an in-memory fanout. Publish never blocks; a subscriber whose
// buffer is full misses the event. Events are signals, not a durable log.
type Bus struct {
	mu   sync.Mutex
	seq  uint64
	subs map[uint64]*subscriber
}

type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func New() *Bus {
	return &Bus{subs: map[uint64]*subscriber{}}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, s)
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		s.offer(e)
	}
}

// Subscribe registers a listener. The returned cancel func is idempotent and
// closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
	return s.ch, cancel
}
