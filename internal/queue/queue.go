// Package queue defines the job queue the consumer drains and the consumer
// loop itself. Sources hide the queue service (Pub/Sub, or an in-memory
// channel for local runs).
package queue

import (
	"context"
	"time"
)

// Message is one received queue message.
type Message struct {
	ID   string
	Body []byte
	// AckToken identifies this delivery to Delete and Extend.
	AckToken string
}

// Source is a queue service. Receive blocks up to wait for at least one
// message and returns at most max. An idle wait returns an empty slice and no
// error.
type Source interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, ackToken string) error
	Close() error
}

// LeaseExtender is implemented by sources whose deliveries expire unless
// renewed.
type LeaseExtender interface {
	Extend(ctx context.Context, ackToken string, d time.Duration) error
}
