package interfaces

import (
	"context"
	"errors"
)

// ErrCounterUnavailable reports that the live counter subsystem could
// not serve a read or write. Callers skip the synchronization attempt
// for that cycle; they must never fail a ledger mutation because of it.
var ErrCounterUnavailable = errors.New("live counter unavailable")

// CounterSource reads and writes the volatile per-entity counter owned
// by an external subsystem. Both calls marshal onto the execution
// context that owns the counter and return once the operation has
// completed there.
type CounterSource interface {
	Get(ctx context.Context, ownerID string) (uint64, error)
	Set(ctx context.Context, ownerID string, value uint64) error
}

// CounterEventKind discriminates counter subsystem notifications.
type CounterEventKind int

const (
	CounterConnected CounterEventKind = iota
	CounterDisconnected
	CounterChanged
)

// CounterEvent is a notification emitted by the counter subsystem.
// Value carries the current counter value for Connected and Changed
// notifications and is zero for Disconnected.
type CounterEvent struct {
	Kind    CounterEventKind
	OwnerID string
	Value   uint64
}

// CounterFeed exposes the notification stream of a counter subsystem.
// The channel is closed when the subsystem shuts down.
type CounterFeed interface {
	Notifications() <-chan CounterEvent
}
