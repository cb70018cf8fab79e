package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/interfaces"
)

// Handler reacts to a balance update. Handlers run sequentially on the
// bus's dispatch goroutine, in publication order.
type Handler func(ctx context.Context, event BalanceUpdated)

// Bus fans BalanceUpdated events out to in-process subscribers and,
// when a sink is configured, forwards them to an external publisher.
// Publish enqueues and returns immediately, so a ledger mutation is
// never blocked by a slow consumer. The queue is unbounded and drained
// by a single goroutine, which gives subscribers a total delivery
// order.
type Bus struct {
	sink   interfaces.EventPublisher
	topic  string
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []BalanceUpdated
	closed bool
	done   chan struct{}

	handlersMu sync.RWMutex
	handlers   []Handler
}

func NewBus(sink interfaces.EventPublisher, topic string, logger *zap.Logger) *Bus {
	b := &Bus{
		sink:   sink,
		topic:  topic,
		logger: logger,
		done:   make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// Subscribe registers an in-process handler. Subscriptions made after
// an event was enqueued may or may not see that event.
func (b *Bus) Subscribe(handler Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues the event for delivery. Events published after
// Close are dropped.
func (b *Bus) Publish(event BalanceUpdated) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, event)
	b.cond.Signal()
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.deliver(event)
	}
}

func (b *Bus) deliver(event BalanceUpdated) {
	ctx := context.Background()

	b.handlersMu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}

	if b.sink == nil {
		return
	}
	if err := b.sink.Publish(b.topic, event); err != nil {
		b.logger.Warn("forward balance event",
			zap.String("owner_id", event.OwnerID),
			zap.String("owner_type", event.OwnerType),
			zap.Error(err))
	}
}

// Close stops the dispatcher after all queued events have been
// delivered and waits for it to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}
