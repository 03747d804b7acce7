// Package memory provides an in-process job queue for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/due-diligence-crawler/internal/queue"
)

// ErrClosed is returned by operations on a closed Queue.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue. Received messages stay in flight until
// deleted; Requeue puts unacknowledged ones back.
type Queue struct {
	ch chan queue.Message

	mu       sync.Mutex
	seq      int
	inflight map[string]queue.Message
	closed   bool
}

// NewQueue constructs a queue holding up to capacity undelivered messages.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:       make(chan queue.Message, capacity),
		inflight: make(map[string]queue.Message),
	}
}

// Enqueue adds body, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.seq++
	id := "mem-" + strconv.Itoa(q.seq)
	q.mu.Unlock()

	msg := queue.Message{ID: id, Body: append([]byte(nil), body...)}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- msg:
		return id, nil
	}
}

// Receive waits up to wait for the first message, then takes whatever else is
// immediately available, up to max.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var out []queue.Message
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
	case <-timer.C:
		return []queue.Message{}, nil
	case msg, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		out = append(out, q.deliver(msg))
	}
	for len(out) < max {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return out, nil
			}
			out = append(out, q.deliver(msg))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (q *Queue) deliver(msg queue.Message) queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	msg.AckToken = msg.ID + "/" + strconv.Itoa(q.seq)
	q.inflight[msg.AckToken] = msg
	return msg
}

// Delete acknowledges a delivery.
func (q *Queue) Delete(_ context.Context, ackToken string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[ackToken]; !ok {
		return fmt.Errorf("unknown ack token %q", ackToken)
	}
	delete(q.inflight, ackToken)
	return nil
}

// InFlight returns the IDs of delivered, unacknowledged messages.
func (q *Queue) InFlight() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.inflight))
	for _, m := range q.inflight {
		ids = append(ids, m.ID)
	}
	return ids
}

// Requeue returns every unacknowledged delivery to the queue, as an expired
// lease would. It returns how many were requeued.
func (q *Queue) Requeue(ctx context.Context) (int, error) {
	q.mu.Lock()
	pending := make([]queue.Message, 0, len(q.inflight))
	for token, m := range q.inflight {
		m.AckToken = ""
		pending = append(pending, m)
		delete(q.inflight, token)
	}
	q.mu.Unlock()

	for i, m := range pending {
		select {
		case <-ctx.Done():
			return i, fmt.Errorf("requeue canceled: %w", ctx.Err())
		case q.ch <- m:
		}
	}
	return len(pending), nil
}

// Close stops further enqueues and wakes blocked receivers.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.ch)
	q.closed = true
	return nil
}
