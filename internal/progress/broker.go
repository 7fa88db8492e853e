package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/models"
)

// subscriber pairs the delivery channel with a done signal that releases the
// ctx-watching cleanup goroutine when the subscription ends first
type subscriber struct {
	ch   chan models.ProgressEvent
	done chan struct{}
}

// Broker provides in-memory pub/sub for ProgressEvents keyed by operation
// id. Delivery is best effort: events published with no subscriber attached
// are dropped, and a slow subscriber loses events rather than blocking the
// orchestrator.
type Broker struct {
	backlog int
	log     zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // operationID -> subID
	closed      map[string]bool
}

// NewBroker creates a Broker. backlog is the per-subscriber channel buffer.
func NewBroker(backlog int, log zerolog.Logger) *Broker {
	if backlog < 1 {
		backlog = 64
	}
	return &Broker{
		backlog:     backlog,
		log:         log.With().Str("service", "progress").Logger(),
		subscribers: make(map[string]map[string]*subscriber),
		closed:      make(map[string]bool),
	}
}

// Subscribe registers a subscriber for events on the given operation id.
// The returned channel is closed when the operation finishes or when ctx is
// cancelled. Subscribing to an already-finished operation returns a closed
// channel immediately.
func (b *Broker) Subscribe(ctx context.Context, operationID string) <-chan models.ProgressEvent {
	ch := make(chan models.ProgressEvent, b.backlog)

	b.mu.Lock()
	if b.closed[operationID] {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	subID := uuid.New().String()
	sub := &subscriber{ch: ch, done: make(chan struct{})}
	if _, ok := b.subscribers[operationID]; !ok {
		b.subscribers[operationID] = make(map[string]*subscriber)
	}
	b.subscribers[operationID][subID] = sub
	b.mu.Unlock()

	b.log.Debug().
		Str("operation_id", operationID).
		Str("sub_id", subID).
		Msg("Progress subscriber added")

	// Auto-cleanup when the HTTP connection goes away. The done channel
	// releases this goroutine when Finish or unsubscribe ends the
	// subscription first, so a background ctx does not pin it forever.
	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(operationID, subID)
		case <-sub.done:
		}
	}()

	return ch
}

// Publish sends an event to every subscriber of the operation.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broker) Publish(operationID string, event models.ProgressEvent) {
	b.mu.RLock()
	subs := b.subscribers[operationID]
	targets := make([]chan models.ProgressEvent, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub.ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.log.Debug().
				Str("operation_id", operationID).
				Str("event_type", string(event.Type)).
				Msg("Dropped event for slow subscriber")
		}
	}
}

// Finish marks the operation terminal and closes all of its subscriber
// channels. Late subscribers get a closed channel back.
func (b *Broker) Finish(operationID string) {
	b.mu.Lock()
	b.closed[operationID] = true
	subs := b.subscribers[operationID]
	delete(b.subscribers, operationID)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		close(sub.done)
	}
}

// Forget drops terminal-state bookkeeping for an operation. Called when the
// operation itself is evicted from the registry.
func (b *Broker) Forget(operationID string) {
	b.mu.Lock()
	delete(b.closed, operationID)
	b.mu.Unlock()
}

func (b *Broker) unsubscribe(operationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[operationID]
	if !ok {
		return
	}
	sub, ok := subs[subID]
	if !ok {
		return
	}
	// Remove without closing the delivery channel: only Finish closes it,
	// strictly after the orchestrator's last Publish, so a publish can never
	// hit a closed channel. Readers watch their own ctx as well.
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, operationID)
	}
	close(sub.done)

	b.log.Debug().
		Str("operation_id", operationID).
		Str("sub_id", subID).
		Msg("Progress subscriber removed")
}
