package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/events"
	"github.com/economykit/balance-sync/internal/interfaces"
	"github.com/economykit/balance-sync/internal/models"
)

// EventSink receives exactly one event per committed mutation, after
// the repository write.
type EventSink interface {
	Publish(event events.BalanceUpdated)
}

// Ledger owns balance read/modify/write semantics on top of an
// accounts repository. Mutations for the same owner identity are
// serialized through a per-identity mutex; mutations for different
// identities proceed in parallel.
type Ledger struct {
	repo   interfaces.AccountsRepository
	sink   EventSink
	logger *zap.Logger

	initialBalance decimal.Decimal
	allowNegative  bool

	locks   map[string]*sync.Mutex // per-identity mutexes
	locksMu sync.Mutex             // protects the locks map itself
}

func New(repo interfaces.AccountsRepository, sink EventSink, initialBalance decimal.Decimal, allowNegative bool, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:           repo,
		sink:           sink,
		logger:         logger,
		initialBalance: initialBalance,
		allowNegative:  allowNegative,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(ownerID, ownerType string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	key := ownerType + ":" + ownerID
	mu, ok := l.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[key] = mu
	}
	return mu
}

// GetBalance returns the persisted balance, materializing an account
// with the configured initial balance on first access. A missing
// account is never an error; only repository failures propagate.
func (l *Ledger) GetBalance(ctx context.Context, ownerID, ownerType string) (decimal.Decimal, error) {
	mu := l.lockFor(ownerID, ownerType)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.getOrCreate(ctx, ownerID, ownerType)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// SetBalance overwrites the balance unconditionally. Negative values
// are clamped to zero unless negative balances are allowed by
// configuration. One repository write, then one event with an empty
// reason.
func (l *Ledger) SetBalance(ctx context.Context, ownerID, ownerType string, value decimal.Decimal) error {
	if value.IsNegative() && !l.allowNegative {
		value = decimal.Zero
	}

	mu := l.lockFor(ownerID, ownerType)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.getOrCreate(ctx, ownerID, ownerType)
	if err != nil {
		return err
	}

	oldBalance := account.Balance
	account.Balance = value
	if err := l.repo.Upsert(ctx, *account); err != nil {
		return err
	}

	l.publish(ownerID, ownerType, oldBalance, value, "")
	return nil
}

// UpdateBalance applies a signed change to the balance and returns the
// new value. A change that would make the balance negative fails with
// InsufficientBalanceError carrying the pre-update balance and mutates
// nothing.
func (l *Ledger) UpdateBalance(ctx context.Context, ownerID, ownerType string, change decimal.Decimal, reason string) (decimal.Decimal, error) {
	mu := l.lockFor(ownerID, ownerType)
	mu.Lock()
	defer mu.Unlock()

	account, err := l.getOrCreate(ctx, ownerID, ownerType)
	if err != nil {
		return decimal.Zero, err
	}

	oldBalance := account.Balance
	newBalance := oldBalance.Add(change)
	if newBalance.IsNegative() {
		return decimal.Zero, &InsufficientBalanceError{Balance: oldBalance}
	}

	account.Balance = newBalance
	if err := l.repo.Upsert(ctx, *account); err != nil {
		return decimal.Zero, err
	}

	l.publish(ownerID, ownerType, oldBalance, newBalance, reason)
	return newBalance, nil
}

// getOrCreate must be called with the identity's lock held.
func (l *Ledger) getOrCreate(ctx context.Context, ownerID, ownerType string) (*models.Account, error) {
	account, err := l.repo.Get(ctx, ownerID, ownerType)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account = &models.Account{
		OwnerID:   ownerID,
		OwnerType: ownerType,
		Balance:   l.initialBalance,
	}
	if err := l.repo.Upsert(ctx, *account); err != nil {
		return nil, err
	}
	l.logger.Debug("materialized account",
		zap.String("owner_id", ownerID),
		zap.String("owner_type", ownerType),
		zap.String("balance", l.initialBalance.String()))
	return account, nil
}

func (l *Ledger) publish(ownerID, ownerType string, oldBalance, newBalance decimal.Decimal, reason string) {
	l.sink.Publish(events.BalanceUpdated{
		OwnerID:    ownerID,
		OwnerType:  ownerType,
		OldBalance: oldBalance,
		NewBalance: newBalance,
		Reason:     reason,
	})
}
