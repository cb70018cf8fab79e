package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/ledger"
)

var ErrZeroAmount = errors.New("payment amount must not be zero")

// Receipt describes a completed transfer. Amount is the value actually
// moved, which can be smaller than requested when the source account
// was clamped.
type Receipt struct {
	ID       string          `json:"id"`
	FromID   string          `json:"from_id"`
	FromType string          `json:"from_type"`
	ToID     string          `json:"to_id"`
	ToType   string          `json:"to_type"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
}

// Service moves balance between accounts on top of the ledger's
// primitives. When the source cannot cover the full amount it is
// clamped to zero and the transferred amount becomes the balance that
// was actually available.
type Service struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

func New(l *ledger.Ledger, logger *zap.Logger) *Service {
	return &Service{
		ledger: l,
		logger: logger,
	}
}

// Pay transfers amount from the payer to the payee. A negative amount
// is a withdrawal: the transfer direction is reversed. Paying your own
// account applies a single signed adjustment.
func (s *Service) Pay(ctx context.Context, fromID, fromType, toID, toType string, amount decimal.Decimal, reason string) (Receipt, error) {
	if amount.IsZero() {
		return Receipt{}, ErrZeroAmount
	}

	receipt := Receipt{
		ID:       uuid.New().String(),
		FromID:   fromID,
		FromType: fromType,
		ToID:     toID,
		ToType:   toType,
		Amount:   amount.Abs(),
		Reason:   reason,
	}

	if fromID == toID && fromType == toType {
		moved, err := s.adjustSelf(ctx, fromID, fromType, amount, reason)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Amount = moved
		return receipt, nil
	}

	srcID, srcType := fromID, fromType
	dstID, dstType := toID, toType
	if amount.IsNegative() {
		srcID, srcType, dstID, dstType = toID, toType, fromID, fromType
	}
	moved := amount.Abs()

	// Debit first; insufficiency clamps the source to zero and shrinks
	// the transfer to the pre-failure balance.
	if _, err := s.ledger.UpdateBalance(ctx, srcID, srcType, moved.Neg(), reason); err != nil {
		var insufficient *ledger.InsufficientBalanceError
		if !errors.As(err, &insufficient) {
			return Receipt{}, err
		}
		moved = insufficient.Balance
		if moved.IsPositive() {
			if err := s.ledger.SetBalance(ctx, srcID, srcType, decimal.Zero); err != nil {
				return Receipt{}, err
			}
		}
		s.logger.Info("payment clamped to available balance",
			zap.String("payment_id", receipt.ID),
			zap.String("from", srcType+":"+srcID),
			zap.String("amount", moved.String()))
	}

	if moved.IsPositive() {
		if _, err := s.ledger.UpdateBalance(ctx, dstID, dstType, moved, reason); err != nil {
			return Receipt{}, err
		}
	}

	receipt.Amount = moved
	return receipt, nil
}

// adjustSelf applies a single signed update, clamping to zero when a
// negative adjustment overdraws the account.
func (s *Service) adjustSelf(ctx context.Context, ownerID, ownerType string, amount decimal.Decimal, reason string) (decimal.Decimal, error) {
	if _, err := s.ledger.UpdateBalance(ctx, ownerID, ownerType, amount, reason); err != nil {
		var insufficient *ledger.InsufficientBalanceError
		if !errors.As(err, &insufficient) {
			return decimal.Zero, err
		}
		if err := s.ledger.SetBalance(ctx, ownerID, ownerType, decimal.Zero); err != nil {
			return decimal.Zero, err
		}
		return insufficient.Balance, nil
	}
	return amount.Abs(), nil
}
