// Package memory records published job reports in process, for tests and for
// runs without a report topic.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded publish. Body holds the JSON encoding the Pub/Sub
// publisher would have sent.
type Message struct {
	ID      string
	Topic   string
	Payload any
	Body    []byte
}

// Publisher keeps every published message in order.
type Publisher struct {
	mu   sync.Mutex
	msgs []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode message for %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.msgs)+1)
	p.msgs = append(p.msgs, Message{ID: id, Topic: topic, Payload: payload, Body: body})
	return id, nil
}

// Messages returns a copy of everything published.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

// OnTopic returns the messages published to topic.
func (p *Publisher) OnTopic(topic string) []Message {
	var out []Message
	for _, m := range p.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
