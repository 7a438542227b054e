// Package ledger is the only mutation path for account balances and
// scores. Everything that moves money locally goes through Credit and
// Debit; the balance >= 0 invariant is enforced by the store as part
// of the debit write itself.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type AccountStore interface {
	FindByUserID(ctx context.Context, userID int64) (pgrepo.AccountRecord, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) (pgrepo.AccountRecord, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (pgrepo.AccountRecord, error)
	CreditScore(ctx context.Context, userID int64, amount decimal.Decimal) (pgrepo.AccountRecord, error)
}

type Service struct {
	accounts AccountStore
}

type Snapshot struct {
	UserID  int64
	Balance decimal.Decimal
	Score   decimal.Decimal
}

func NewService(accounts AccountStore) *Service {
	return &Service{accounts: accounts}
}

func (s *Service) Balance(ctx context.Context, userID int64) (Snapshot, error) {
	if userID <= 0 {
		return Snapshot{}, ErrValidation
	}
	if s.accounts == nil {
		return Snapshot{}, fmt.Errorf("account store is nil")
	}

	rec, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return Snapshot{}, mapStoreErr(err)
	}
	return snapshotOf(rec), nil
}

func (s *Service) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (Snapshot, error) {
	if userID <= 0 || !amount.IsPositive() {
		return Snapshot{}, ErrValidation
	}
	if s.accounts == nil {
		return Snapshot{}, fmt.Errorf("account store is nil")
	}

	rec, err := s.accounts.Credit(ctx, userID, amount)
	if err != nil {
		return Snapshot{}, mapStoreErr(err)
	}
	return snapshotOf(rec), nil
}

func (s *Service) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (Snapshot, error) {
	if userID <= 0 || !amount.IsPositive() {
		return Snapshot{}, ErrValidation
	}
	if s.accounts == nil {
		return Snapshot{}, fmt.Errorf("account store is nil")
	}

	rec, err := s.accounts.Debit(ctx, userID, amount)
	if err != nil {
		return Snapshot{}, mapStoreErr(err)
	}
	return snapshotOf(rec), nil
}

func (s *Service) CreditScore(ctx context.Context, userID int64, amount decimal.Decimal) (Snapshot, error) {
	if userID <= 0 || !amount.IsPositive() {
		return Snapshot{}, ErrValidation
	}
	if s.accounts == nil {
		return Snapshot{}, fmt.Errorf("account store is nil")
	}

	rec, err := s.accounts.CreditScore(ctx, userID, amount)
	if err != nil {
		return Snapshot{}, mapStoreErr(err)
	}
	return snapshotOf(rec), nil
}

func snapshotOf(rec pgrepo.AccountRecord) Snapshot {
	return Snapshot{
		UserID:  rec.UserID,
		Balance: rec.Balance,
		Score:   rec.Score,
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, pgrepo.ErrInsufficientFunds):
		return ErrInsufficientFunds
	default:
		return err
	}
}
