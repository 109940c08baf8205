package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue. A failed delivery goes back to the end of its topic and
// is not handed out again before RetryDelay has passed.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string][]queued
	dead    map[string][]Message
	seq     int
	notify  chan struct{}
	closed  bool
	now     func() time.Time

	// PublishErr, when set, is returned by every Publish.
	PublishErr    error
	MaxDeliveries int
	// RetryDelay maps the next attempt number to its wait. Nil redelivers immediately.
	RetryDelay func(attempt int) time.Duration
}

type queued struct {
	msg Message
	due time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending:       make(map[string][]queued),
		dead:          make(map[string][]Message),
		notify:        make(chan struct{}, 1),
		now:           time.Now,
		MaxDeliveries: DefaultMaxDeliveries,
		RetryDelay:    RedeliveryDelay,
	}
}

var _ Queue = (*MemoryQueue)(nil)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

func (q *MemoryQueue) Publish(_ context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.PublishErr != nil {
		return q.PublishErr
	}
	if q.closed {
		return ErrClosed
	}
	q.seq++
	q.pending[topic] = append(q.pending[topic], queued{msg: Message{
		ID:      strconv.Itoa(q.seq),
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		Attempt: 1,
	}})
	q.signal()
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, topic, _ string, handler Handler, opts ...ConsumeOption) error {
	o := buildOptions(opts)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if msg, ok := q.pop(topic, false); ok {
			q.handle(ctx, msg, handler, o)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Drain delivers every pending message of topic, including redeliveries, until none are left
// or maxDeliveries handler calls were made. Redelivery delays are skipped. It returns the
// number of failed deliveries.
func (q *MemoryQueue) Drain(ctx context.Context, topic string, handler Handler, maxDeliveries int, opts ...ConsumeOption) int {
	o := buildOptions(opts)
	failed := 0
	for i := 0; i < maxDeliveries; i++ {
		msg, ok := q.pop(topic, true)
		if !ok {
			break
		}
		if !q.handle(ctx, msg, handler, o) {
			failed++
		}
	}
	return failed
}

// Pending returns a copy of the undelivered messages of topic.
func (q *MemoryQueue) Pending(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, 0, len(q.pending[topic]))
	for _, e := range q.pending[topic] {
		out = append(out, e.msg)
	}
	return out
}

// Dead returns the messages of topic that exceeded MaxDeliveries.
func (q *MemoryQueue) Dead(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead[topic]...)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// pop removes the first message of topic that is due, or the first one at all when ignoreDue is set.
func (q *MemoryQueue) pop(topic string, ignoreDue bool) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	entries := q.pending[topic]
	for i, e := range entries {
		if ignoreDue || !e.due.After(now) {
			q.pending[topic] = append(entries[:i:i], entries[i+1:]...)
			return e.msg, true
		}
	}
	return Message{}, false
}

func (q *MemoryQueue) exhausted(attempt int) bool {
	return q.MaxDeliveries > 0 && attempt > q.MaxDeliveries
}

// handle reports whether msg was acknowledged.
func (q *MemoryQueue) handle(ctx context.Context, msg Message, handler Handler, o consumeOptions) bool {
	var last error
	if !q.exhausted(msg.Attempt) {
		last = handler(ctx, msg)
		if last == nil {
			return true
		}
		msg.Attempt++
		if !q.exhausted(msg.Attempt) {
			q.requeue(msg)
			return false
		}
	}

	if o.onDeadLetter != nil {
		cause := &ExhaustedError{Topic: msg.Topic, Deliveries: msg.Attempt - 1, Last: last}
		if err := o.onDeadLetter(ctx, msg, cause); err != nil {
			q.requeue(msg)
			return false
		}
	}
	q.mu.Lock()
	q.dead[msg.Topic] = append(q.dead[msg.Topic], msg)
	q.mu.Unlock()
	return false
}

func (q *MemoryQueue) requeue(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due time.Time
	if q.RetryDelay != nil {
		due = q.now().Add(q.RetryDelay(msg.Attempt))
	}
	q.pending[msg.Topic] = append(q.pending[msg.Topic], queued{msg: msg, due: due})
}

// signal must be called with mu held.
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
