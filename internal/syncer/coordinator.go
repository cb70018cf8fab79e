package syncer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/events"
	"github.com/economykit/balance-sync/internal/interfaces"
)

// entityState is the per-connected-entity synchronization record. Its
// mutex makes the counter-changed and balance-changed paths for one
// entity mutually exclusive; removed marks a disconnect observed while
// work for the entity was still in flight.
type entityState struct {
	mu         sync.Mutex
	lastSynced uint64
	removed    bool
}

// Coordinator breaks the feedback loop between ledger-originated
// pushes and counter-originated pulls. It keeps, per connected entity,
// the last value both representations agreed on and drops
// notifications that merely echo a change this process made itself.
// Absence of an entry is indistinguishable from "never connected" and
// "cleanly disconnected".
type Coordinator struct {
	bridge  *Bridge
	enabled bool
	logger  *zap.Logger

	mu       sync.Mutex
	entities map[string]*entityState
}

func NewCoordinator(bridge *Bridge, enabled bool, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		bridge:   bridge,
		enabled:  enabled,
		logger:   logger,
		entities: make(map[string]*entityState),
	}
}

func (c *Coordinator) state(ownerID string) (*entityState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entities[ownerID]
	return st, ok
}

// HandleConnected runs the connect reconciliation and records the
// resulting counter value as the entity's last synced value. When the
// counter cannot be reached no entry is kept; the next counter
// notification reseeds the baseline from the persisted balance.
func (c *Coordinator) HandleConnected(ctx context.Context, ownerID string, counterValue uint64) error {
	if !c.enabled {
		return nil
	}

	synced, err := c.bridge.Reconcile(ctx, ownerID, counterValue)
	if err != nil {
		if errors.Is(err, interfaces.ErrCounterUnavailable) {
			c.logger.Warn("skipping connect reconciliation",
				zap.String("owner_id", ownerID),
				zap.Error(err))
			return nil
		}
		return err
	}

	c.mu.Lock()
	c.entities[ownerID] = &entityState{lastSynced: synced}
	c.mu.Unlock()
	return nil
}

// HandleCounterChanged folds an external counter change into the
// ledger. A notification that matches the last synced value is an echo
// of our own push and is ignored.
func (c *Coordinator) HandleCounterChanged(ctx context.Context, ownerID string, newValue uint64) error {
	if !c.enabled {
		return nil
	}

	st, ok := c.state(ownerID)
	if !ok {
		// No sync state: connect reconciliation failed or the
		// notification raced it. Seed the baseline from the persisted
		// balance.
		balance, err := c.bridge.ledger.GetBalance(ctx, ownerID, c.bridge.ownerType)
		if err != nil {
			return err
		}
		st = &entityState{lastSynced: truncate(balance)}

		c.mu.Lock()
		if existing, raced := c.entities[ownerID]; raced {
			st = existing
		} else {
			c.entities[ownerID] = st
		}
		c.mu.Unlock()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return nil
	}
	if newValue == st.lastSynced {
		return nil // echo of a push we performed
	}

	if err := c.bridge.ApplyCounterDelta(ctx, ownerID, newValue, st.lastSynced); err != nil {
		// lastSynced stays put so the next notification retries the
		// full delta.
		return err
	}
	st.lastSynced = newValue
	return nil
}

// HandleBalanceUpdated pushes a ledger-originated balance change into
// the counter unless it is already reflected there. Failures are
// isolated: the ledger mutation that triggered the event is already
// committed and is never rolled back.
func (c *Coordinator) HandleBalanceUpdated(ctx context.Context, event events.BalanceUpdated) {
	if !c.enabled || event.OwnerType != c.bridge.ownerType {
		return
	}

	st, ok := c.state(event.OwnerID)
	if !ok {
		return // not connected
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return
	}
	want := truncate(event.NewBalance)
	if want == st.lastSynced {
		return // already reflected
	}

	synced, err := c.bridge.PushBalance(ctx, event.OwnerID, event.NewBalance)
	if err != nil {
		if errors.Is(err, interfaces.ErrCounterUnavailable) {
			c.logger.Warn("skipping balance push",
				zap.String("owner_id", event.OwnerID),
				zap.Error(err))
			return
		}
		c.logger.Error("push balance to counter",
			zap.String("owner_id", event.OwnerID),
			zap.Error(err))
		return
	}
	st.lastSynced = synced
}

// HandleDisconnected drops the entity's sync state entirely; in-flight
// synchronization for it is abandoned.
func (c *Coordinator) HandleDisconnected(ownerID string) {
	c.mu.Lock()
	st, ok := c.entities[ownerID]
	delete(c.entities, ownerID)
	c.mu.Unlock()

	if ok {
		st.mu.Lock()
		st.removed = true
		st.mu.Unlock()
	}
}

// Run consumes counter notifications until ctx is cancelled or the
// feed closes. A failure for one entity never blocks processing for
// another.
func (c *Coordinator) Run(ctx context.Context, feed interfaces.CounterFeed) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-feed.Notifications():
			if !ok {
				return
			}
			c.dispatch(ctx, event)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, event interfaces.CounterEvent) {
	var err error
	switch event.Kind {
	case interfaces.CounterConnected:
		err = c.HandleConnected(ctx, event.OwnerID, event.Value)
	case interfaces.CounterChanged:
		err = c.HandleCounterChanged(ctx, event.OwnerID, event.Value)
	case interfaces.CounterDisconnected:
		c.HandleDisconnected(event.OwnerID)
	}
	if err != nil {
		c.logger.Error("counter notification failed",
			zap.String("owner_id", event.OwnerID),
			zap.Error(err))
	}
}
