package server

import (
	"log/slog"
	"sync"

	"github.com/jonathan/careercraft/internal/pipeline"
)

// subscriberBuffer is how many events a slow stream may fall behind
const subscriberBuffer = 64

// Broadcaster fans pipeline events out to stream subscribers. Publish is
// used as the orchestrator's progress callback and never blocks.
type Broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	next int
	subs map[int]chan pipeline.ProgressEvent
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger, subs: make(map[int]chan pipeline.ProgressEvent)}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// when the subscriber goes away.
func (b *Broadcaster) Subscribe() (<-chan pipeline.ProgressEvent, func()) {
	ch := make(chan pipeline.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers event to every subscriber. Sampled progress is dropped
// for subscribers that are behind; for lifecycle events the oldest queued
// event is discarded to make room.
func (b *Broadcaster) Publish(event pipeline.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
			continue
		default:
		}

		if event.Type == pipeline.EventProgress {
			b.logger.Debug("stream subscriber behind, dropping progress", slog.Int("subscriber", id))
			continue
		}

		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
			b.logger.Warn("stream subscriber behind, dropping event",
				slog.Int("subscriber", id),
				slog.String("type", string(event.Type)))
		}
	}
}

// Subscribers returns the number of live subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
