// Package wallet links accounts to the payment network and moves
// balance off-platform. Withdraw holds the funds locally before the
// network is asked to pay, so a racing second withdrawal can never
// spend the same balance twice.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/missionhub/backend/internal/domain/money"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExternalIDTaken   = errors.New("payment account already linked elsewhere")
	ErrNoExternalAccount = errors.New("no linked payment account")

	// ErrPayoutFailed: the network refused the payout. The hold has
	// been released and the withdrawal marked failed.
	ErrPayoutFailed = errors.New("withdrawal payout failed")

	// ErrConsistency: the payout went through but the withdrawal record
	// could not be updated to say so. The hold stays in place until an
	// operator reconciles against the network.
	ErrConsistency = errors.New("payout succeeded but withdrawal record is stale")
)

type AccountStore interface {
	FindByUserID(ctx context.Context, userID int64) (pgrepo.AccountRecord, error)
	LinkExternalID(ctx context.Context, userID int64, externalID string) (pgrepo.AccountRecord, error)
}

type WithdrawalStore interface {
	BeginWithHold(ctx context.Context, userID int64, amount decimal.Decimal) (pgrepo.WithdrawalRecord, error)
	MarkSucceeded(ctx context.Context, withdrawalID, payoutID string) (pgrepo.WithdrawalRecord, error)
	MarkFailedWithRelease(ctx context.Context, withdrawalID string) (pgrepo.WithdrawalRecord, error)
}

type PaymentGateway interface {
	CreatePayout(ctx context.Context, recipient string, amount decimal.Decimal, memo string) (string, error)
}

type Notifier interface {
	WithdrawalSettled(ctx context.Context, w pgrepo.WithdrawalRecord) error
}

type Alerter interface {
	Alert(ctx context.Context, code string, detail string) error
}

type Dependencies struct {
	Accounts    AccountStore
	Withdrawals WithdrawalStore
	Gateway     PaymentGateway
	Notifier    Notifier
	Alerter     Alerter
	Logger      *zap.Logger
}

type Service struct {
	accounts    AccountStore
	withdrawals WithdrawalStore
	gateway     PaymentGateway
	notifier    Notifier
	alerter     Alerter
	log         *zap.Logger
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Accounts == nil || deps.Withdrawals == nil {
		return nil, fmt.Errorf("wallet: stores are required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("wallet: gateway is required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		accounts:    deps.Accounts,
		withdrawals: deps.Withdrawals,
		gateway:     deps.Gateway,
		notifier:    deps.Notifier,
		alerter:     deps.Alerter,
		log:         log,
	}, nil
}

// LinkExternalAccount ties a payment network identity to an account.
// An identity can belong to exactly one account.
func (s *Service) LinkExternalAccount(ctx context.Context, userID int64, externalID string) (pgrepo.AccountRecord, error) {
	externalID = strings.TrimSpace(externalID)
	if userID <= 0 || externalID == "" {
		return pgrepo.AccountRecord{}, ErrValidation
	}

	rec, err := s.accounts.LinkExternalID(ctx, userID, externalID)
	if err != nil {
		switch {
		case errors.Is(err, pgrepo.ErrAccountNotFound):
			return pgrepo.AccountRecord{}, ErrAccountNotFound
		case errors.Is(err, pgrepo.ErrExternalIDTaken):
			return pgrepo.AccountRecord{}, ErrExternalIDTaken
		default:
			return pgrepo.AccountRecord{}, err
		}
	}
	return rec, nil
}

// Withdraw pays out balance to the user's linked network account.
//
// Order matters here: the debit hold comes first and the gateway call
// second. A hold that fails costs nothing; a payout that fails refunds
// the hold. The reverse order would let two concurrent withdrawals both
// pass a balance check and both get paid.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (pgrepo.WithdrawalRecord, error) {
	if userID <= 0 {
		return pgrepo.WithdrawalRecord{}, ErrValidation
	}
	if !amount.IsPositive() {
		return pgrepo.WithdrawalRecord{}, ErrValidation
	}

	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrAccountNotFound) {
			return pgrepo.WithdrawalRecord{}, ErrAccountNotFound
		}
		return pgrepo.WithdrawalRecord{}, err
	}
	if account.ExternalPaymentID == nil || *account.ExternalPaymentID == "" {
		return pgrepo.WithdrawalRecord{}, ErrNoExternalAccount
	}

	hold, err := s.withdrawals.BeginWithHold(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, pgrepo.ErrInsufficientFunds) {
			return pgrepo.WithdrawalRecord{}, ErrInsufficientFunds
		}
		return pgrepo.WithdrawalRecord{}, err
	}

	payoutID, err := s.gateway.CreatePayout(ctx, *account.ExternalPaymentID, amount,
		fmt.Sprintf("Withdrawal %s", hold.ID))
	if err != nil {
		s.log.Warn("withdrawal payout failed, releasing hold",
			zap.String("withdrawal_id", hold.ID),
			zap.String("amount", money.Format(amount)),
			zap.Error(err))
		if _, relErr := s.withdrawals.MarkFailedWithRelease(ctx, hold.ID); relErr != nil {
			s.alert(ctx, "withdraw_hold_stuck",
				fmt.Sprintf("withdrawal %s: payout failed and hold release also failed: %v", hold.ID, relErr))
			return pgrepo.WithdrawalRecord{}, relErr
		}
		return pgrepo.WithdrawalRecord{}, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	rec, err := s.withdrawals.MarkSucceeded(ctx, hold.ID, payoutID)
	if err != nil {
		s.alert(ctx, "withdraw_consistency_fault",
			fmt.Sprintf("withdrawal %s: payout %s sent but record not updated: %v", hold.ID, payoutID, err))
		return pgrepo.WithdrawalRecord{}, ErrConsistency
	}

	if s.notifier != nil {
		if nerr := s.notifier.WithdrawalSettled(ctx, rec); nerr != nil {
			s.log.Warn("withdrawal notification failed",
				zap.String("withdrawal_id", rec.ID), zap.Error(nerr))
		}
	}
	return rec, nil
}

func (s *Service) alert(ctx context.Context, code, detail string) {
	s.log.Error("wallet alert", zap.String("code", code), zap.String("detail", detail))
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, code, detail); err != nil {
		s.log.Error("operator alert failed", zap.String("code", code), zap.Error(err))
	}
}
