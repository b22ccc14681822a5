// Package memory keeps batch notifications in process. It backs the
// pipeline when no Pub/Sub topic is configured and doubles as a test
// recorder.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Event is one recorded publish.
type Event struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records the most recent events, up to capacity. A capacity of
// zero or less keeps everything.
type Publisher struct {
	capacity int
	logger   *zap.Logger

	mu     sync.RWMutex
	seq    int
	events []Event
	err    error
}

// New returns a Publisher retaining at most capacity events.
func New(capacity int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{capacity: capacity, logger: logger}
}

// FailWith makes every later Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the event under a sequential ID, evicting the oldest
// event once capacity is reached.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", fmt.Errorf("publish %s: %w", topic, p.err)
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	if p.capacity > 0 && len(p.events) == p.capacity {
		p.events = append(p.events[:0], p.events[1:]...)
	}
	p.events = append(p.events, Event{ID: id, Topic: topic, Payload: payload})
	p.logger.Debug("event recorded", zap.String("topic", topic), zap.String("id", id))
	return id, nil
}

// Events returns a copy of the retained events, oldest first.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event(nil), p.events...)
}
