package syncer

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/interfaces"
	"github.com/economykit/balance-sync/internal/ledger"
)

// truncate converts a balance to its counter representation, toward
// zero. Fractional and negative balances are invisible to the counter.
func truncate(balance decimal.Decimal) uint64 {
	t := balance.Truncate(0)
	if t.Sign() <= 0 {
		return 0
	}
	return uint64(t.IntPart())
}

// Bridge translates between the ledger's decimal balance and the live
// integer counter of a connected entity, one direction at a time.
// Counter I/O runs on the counter's own execution context via the
// CounterSource contract; ledger I/O never happens while pinned there.
type Bridge struct {
	ledger    *ledger.Ledger
	counter   interfaces.CounterSource
	ownerType string
	logger    *zap.Logger
}

func NewBridge(l *ledger.Ledger, counter interfaces.CounterSource, ownerType string, logger *zap.Logger) *Bridge {
	return &Bridge{
		ledger:    l,
		counter:   counter,
		ownerType: ownerType,
		logger:    logger,
	}
}

// Reconcile aligns the live counter with the persisted balance when an
// entity connects and returns the value both sides agree on. The
// persisted balance is the truth on connect; the counter is force-set
// when it diverges.
func (b *Bridge) Reconcile(ctx context.Context, ownerID string, counterValue uint64) (uint64, error) {
	balance, err := b.ledger.GetBalance(ctx, ownerID, b.ownerType)
	if err != nil {
		return 0, err
	}

	want := truncate(balance)
	if want != counterValue {
		if err := b.counter.Set(ctx, ownerID, want); err != nil {
			return 0, err
		}
		b.logger.Info("reconciled counter on connect",
			zap.String("owner_id", ownerID),
			zap.Uint64("counter", counterValue),
			zap.Uint64("synced", want))
	}
	return want, nil
}

// ApplyCounterDelta folds a genuine external counter change into the
// ledger with reason "experience". A delta the ledger cannot absorb
// clamps the balance to zero instead of failing the cycle.
func (b *Bridge) ApplyCounterDelta(ctx context.Context, ownerID string, newValue, lastSynced uint64) error {
	delta := int64(newValue) - int64(lastSynced)
	if delta == 0 {
		return nil
	}

	_, err := b.ledger.UpdateBalance(ctx, ownerID, b.ownerType, decimal.NewFromInt(delta), "experience")
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		// The counter dropped further than the diverged ledger balance
		// can cover.
		b.logger.Warn("counter delta overdraws balance, clamping to zero",
			zap.String("owner_id", ownerID),
			zap.Int64("delta", delta),
			zap.String("balance", insufficient.Balance.String()))
		return b.ledger.SetBalance(ctx, ownerID, b.ownerType, decimal.Zero)
	}
	return err
}

// PushBalance propagates a ledger-originated change into the counter
// and reports the value now reflected there. The write is skipped when
// the counter already matches.
func (b *Bridge) PushBalance(ctx context.Context, ownerID string, newBalance decimal.Decimal) (uint64, error) {
	want := truncate(newBalance)

	current, err := b.counter.Get(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if current == want {
		return want, nil
	}

	if err := b.counter.Set(ctx, ownerID, want); err != nil {
		return 0, err
	}
	return want, nil
}
