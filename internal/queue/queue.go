// Package queue implements the bounded per-destination delivery buffer
// between the bus side and the chat side of the relay.
//
// Each destination chat has its own FIFO so a slow or rate-limited chat
// cannot delay another. Enqueue never blocks: when a queue is full the
// oldest message is evicted and handed back to the caller for reporting.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

// Result describes a successful Enqueue.
type Result struct {
	// Seq is the sequence number assigned to the enqueued message.
	Seq uint64

	// Evicted is the oldest message, removed to make room. Nil when the
	// queue had space.
	Evicted *domain.ChatMessage
}

// Queue is the FIFO for a single destination.
//
// Thread Safety:
//   - Safe for concurrent producers and consumers; the relay uses one of each.
type Queue struct {
	chatID   string
	capacity int

	mu      sync.Mutex
	items   []domain.ChatMessage
	nextSeq uint64
	closed  bool

	// notify has capacity 1 and is signalled after every push.
	notify chan struct{}

	// done is closed by Close.
	done chan struct{}
}

func newQueue(chatID string, capacity int) *Queue {
	return &Queue{
		chatID:   chatID,
		capacity: capacity,
		items:    make([]domain.ChatMessage, 0, capacity),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ChatID returns the destination this queue serves.
func (q *Queue) ChatID() string {
	return q.chatID
}

// Enqueue appends msg with the next sequence number.
func (q *Queue) Enqueue(msg domain.ChatMessage) (Result, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Result{}, ErrClosed
	}

	q.nextSeq++
	msg.Seq = q.nextSeq
	msg.ChatID = q.chatID

	var res Result
	res.Seq = msg.Seq
	if len(q.items) >= q.capacity {
		evicted := q.items[0]
		res.Evicted = &evicted
		q.items[0] = domain.ChatMessage{}
		q.items = q.items[1:]
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return res, nil
}

// Dequeue removes and returns the oldest message.
//
// It blocks until a message is available, ctx is done, or the queue is
// closed and empty (ErrClosed). Items still queued at Close are returned
// before ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (domain.ChatMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = domain.ChatMessage{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return domain.ChatMessage{}, ErrClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return domain.ChatMessage{}, ctx.Err()
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close stops accepting messages. Safe to call more than once.
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// discard removes and returns every queued message.
func (q *Queue) discard() []domain.ChatMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]domain.ChatMessage, 0)
	return out
}

// Set holds one Queue per destination. The destination set is fixed at
// construction, matching the fixed route table.
type Set struct {
	capacity int
	queues   map[string]*Queue
	order    []string
}

// NewSet creates a queue of the given capacity for each distinct chatID.
// Capacity below 1 is raised to 1.
func NewSet(capacity int, chatIDs ...string) *Set {
	if capacity < 1 {
		capacity = 1
	}
	s := &Set{
		capacity: capacity,
		queues:   make(map[string]*Queue, len(chatIDs)),
	}
	for _, id := range chatIDs {
		if _, ok := s.queues[id]; ok {
			continue
		}
		s.queues[id] = newQueue(id, capacity)
		s.order = append(s.order, id)
	}
	return s
}

// Capacity returns the per-destination capacity.
func (s *Set) Capacity() int {
	return s.capacity
}

// Enqueue routes msg to the queue for msg.ChatID.
func (s *Set) Enqueue(msg domain.ChatMessage) (Result, error) {
	q, ok := s.queues[msg.ChatID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownDestination, msg.ChatID)
	}
	return q.Enqueue(msg)
}

// Queue returns the queue for chatID, or nil.
func (s *Set) Queue(chatID string) *Queue {
	return s.queues[chatID]
}

// Destinations returns the chat IDs in construction order.
func (s *Set) Destinations() []string {
	return append([]string(nil), s.order...)
}

// Close stops every queue from accepting messages. Consumers keep draining
// what is left and then see ErrClosed.
func (s *Set) Close() {
	for _, q := range s.queues {
		q.close()
	}
}

// Discard empties every queue and returns what was removed, ordered by
// destination and then sequence.
func (s *Set) Discard() []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, id := range s.order {
		out = append(out, s.queues[id].discard()...)
	}
	return out
}

// Pending returns the total number of queued messages.
func (s *Set) Pending() int {
	n := 0
	for _, q := range s.queues {
		n += q.Len()
	}
	return n
}

// Depths returns a snapshot of queue lengths keyed by chat ID.
func (s *Set) Depths() map[string]int {
	out := make(map[string]int, len(s.queues))
	for id, q := range s.queues {
		out[id] = q.Len()
	}
	return out
}

// Depth is one entry of a sorted depth snapshot.
type Depth struct {
	ChatID string `json:"chat_id"`
	Len    int    `json:"len"`
}

// SortedDepths returns Depths ordered by chat ID.
func (s *Set) SortedDepths() []Depth {
	out := make([]Depth, 0, len(s.queues))
	for id, q := range s.queues {
		out = append(out, Depth{ChatID: id, Len: q.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}
