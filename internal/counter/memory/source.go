package memory

import (
	"context"
	"sync"

	"github.com/economykit/balance-sync/internal/interfaces"
)

// Source keeps live counters for connected entities in memory. A
// single goroutine owns all counter state; Get and Set marshal their
// request onto it and wait for the result, which models the
// single-threaded execution context of a real counter subsystem.
//
// Connect, Disconnect and Set emit notifications on the feed, exactly
// as the external owner of the counters would. A Set performed by this
// process therefore comes back as a counter-changed notification and
// must be suppressed as an echo by the consumer.
type Source struct {
	ops           chan func(counters map[string]uint64)
	notifications chan interfaces.CounterEvent

	closeOnce sync.Once
	done      chan struct{}
}

func NewSource() *Source {
	s := &Source{
		ops:           make(chan func(map[string]uint64)),
		notifications: make(chan interfaces.CounterEvent, 64),
		done:          make(chan struct{}),
	}
	go s.run()
	return s
}

// run is the owning goroutine; all access to the counters map happens
// here.
func (s *Source) run() {
	counters := make(map[string]uint64)
	for {
		select {
		case op := <-s.ops:
			op(counters)
		case <-s.done:
			close(s.notifications)
			return
		}
	}
}

// do hands op to the owning goroutine and waits for it to finish.
func (s *Source) do(ctx context.Context, op func(counters map[string]uint64) error) error {
	result := make(chan error, 1)
	wrapped := func(counters map[string]uint64) {
		result <- op(counters)
	}

	select {
	case s.ops <- wrapped:
	case <-s.done:
		return interfaces.ErrCounterUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) Get(ctx context.Context, ownerID string) (uint64, error) {
	var value uint64
	err := s.do(ctx, func(counters map[string]uint64) error {
		v, ok := counters[ownerID]
		if !ok {
			return interfaces.ErrCounterUnavailable
		}
		value = v
		return nil
	})
	return value, err
}

func (s *Source) Set(ctx context.Context, ownerID string, value uint64) error {
	return s.do(ctx, func(counters map[string]uint64) error {
		if _, ok := counters[ownerID]; !ok {
			return interfaces.ErrCounterUnavailable
		}
		counters[ownerID] = value
		s.notify(interfaces.CounterEvent{Kind: interfaces.CounterChanged, OwnerID: ownerID, Value: value})
		return nil
	})
}

// Connect registers an entity with its current counter value and emits
// a connected notification.
func (s *Source) Connect(ownerID string, value uint64) {
	_ = s.do(context.Background(), func(counters map[string]uint64) error {
		counters[ownerID] = value
		s.notify(interfaces.CounterEvent{Kind: interfaces.CounterConnected, OwnerID: ownerID, Value: value})
		return nil
	})
}

// Disconnect removes an entity's counter and emits a disconnected
// notification.
func (s *Source) Disconnect(ownerID string) {
	_ = s.do(context.Background(), func(counters map[string]uint64) error {
		delete(counters, ownerID)
		s.notify(interfaces.CounterEvent{Kind: interfaces.CounterDisconnected, OwnerID: ownerID})
		return nil
	})
}

func (s *Source) notify(event interfaces.CounterEvent) {
	select {
	case s.notifications <- event:
	case <-s.done:
	}
}

func (s *Source) Notifications() <-chan interfaces.CounterEvent {
	return s.notifications
}

func (s *Source) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

var _ interfaces.CounterSource = (*Source)(nil)
var _ interfaces.CounterFeed = (*Source)(nil)
