// File: internal/events/bus.go
// Pub/sub fan-out for browser page events. The CDP listener publishes raw
// page lifecycle events here; the orchestrator subscribes and decides which
// ones belong to the active session.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

// Envelope wraps a page event with delivery metadata.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Event     schemas.PageEvent
}

// Bus fans page events out to subscribers. Sends block when subscriber
// buffers are full so a slow consumer applies backpressure instead of
// losing events.
type Bus struct {
	logger *zap.Logger

	subscribers map[schemas.EventKind][]chan Envelope
	mu          sync.RWMutex
	bufferSize  int

	activePublishes sync.WaitGroup

	isShutdown bool
	shutdownMu sync.Mutex
}

// NewBus initializes the event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[schemas.EventKind][]chan Envelope),
		bufferSize:  bufferSize,
	}
}

// Publish sends an event onto the bus. Blocks if subscriber buffers are
// full. Returns an error when the bus is shut down or the context expires
// before delivery.
func (b *Bus) Publish(ctx context.Context, event schemas.PageEvent) (err error) {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot publish event: bus is shut down")
	}
	b.activePublishes.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePublishes.Done()

	// A send on a channel closed during shutdown panics; recover and report
	// it as a shutdown error instead.
	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("Recovered from panic in Publish, likely due to shutdown.", zap.Any("panic", r))
			err = fmt.Errorf("failed to publish event: bus is shutting down")
		}
	}()

	env := Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Event:     event,
	}

	b.mu.RLock()
	subs, ok := b.subscribers[event.Kind]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return nil
	}
	// Copy so channel sends happen without holding the lock.
	subsCopy := make([]chan Envelope, len(subs))
	copy(subsCopy, subs)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		select {
		case ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns a channel carrying the requested event kinds and an
// unsubscribe func. With no kinds given it subscribes to all known kinds.
func (b *Bus) Subscribe(kinds ...schemas.EventKind) (<-chan Envelope, func()) {
	// Subscribing to a shut-down bus yields a closed channel so a ranging
	// receiver terminates instead of blocking forever.
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		ch := make(chan Envelope)
		close(ch)
		return ch, func() {}
	}
	b.shutdownMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, b.bufferSize)

	if len(kinds) == 0 {
		kinds = []schemas.EventKind{schemas.EventPageLoaded, schemas.EventQuerySubmitted}
	}

	for _, kind := range kinds {
		b.subscribers[kind] = append(b.subscribers[kind], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if b.isShutdown {
				return
			}

			for _, kind := range kinds {
				subs := b.subscribers[kind]
				for i, sub := range subs {
					if sub == ch {
						b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}

	return ch, unsubscribe
}

// Shutdown closes the bus. New publishes are rejected, subscriber channels
// are closed, and in-flight publishes are waited out.
func (b *Bus) Shutdown() {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return
	}
	b.isShutdown = true
	b.shutdownMu.Unlock()

	b.mu.Lock()
	unique := make(map[chan Envelope]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[schemas.EventKind][]chan Envelope)
	b.mu.Unlock()

	b.activePublishes.Wait()
}
