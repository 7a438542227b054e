package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/enums"
	"github.com/missionhub/backend/internal/domain/money"
)

var ErrWithdrawalNotFound = errors.New("withdrawal not found")

const withdrawalColumns = `
	id,
	user_id,
	amount::text,
	status,
	payout_id,
	created_at,
	updated_at`

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

type WithdrawalRecord struct {
	ID        string
	UserID    int64
	Amount    decimal.Decimal
	Status    enums.WithdrawalStatus
	PayoutID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

// BeginWithHold debits the amount from the account and records a
// pending withdrawal, both in one transaction. The debit happens
// before any gateway call is made: a payout that later fails releases
// the hold, whereas the reverse order would let a successful external
// payout outrun the balance check.
func (r *WithdrawalRepo) BeginWithHold(ctx context.Context, userID int64, amount decimal.Decimal) (WithdrawalRecord, error) {
	if r.pool == nil {
		return WithdrawalRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 || !amount.IsPositive() {
		return WithdrawalRecord{}, fmt.Errorf("invalid withdrawal payload")
	}

	withdrawalID := uuid.NewString()
	var out WithdrawalRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if _, err := debitBalanceTx(txCtx, tx, userID, amount); err != nil {
			return err
		}

		rec, err := scanWithdrawalRow(tx.QueryRow(txCtx, `
INSERT INTO withdrawals (id, user_id, amount, status, created_at, updated_at)
VALUES ($1, $2, $3::numeric, $4, NOW(), NOW())
RETURNING`+withdrawalColumns, withdrawalID, userID, money.Format(amount), string(enums.WithdrawalStatusPending)))
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return WithdrawalRecord{}, err
	}

	return out, nil
}

func (r *WithdrawalRepo) MarkSucceeded(ctx context.Context, withdrawalID, payoutID string) (WithdrawalRecord, error) {
	if r.pool == nil {
		return WithdrawalRecord{}, fmt.Errorf("postgres pool is nil")
	}
	payoutID = strings.TrimSpace(payoutID)
	if payoutID == "" {
		return WithdrawalRecord{}, fmt.Errorf("payout id is required")
	}

	rec, err := scanWithdrawalRow(r.pool.QueryRow(ctx, `
UPDATE withdrawals
SET status = $2, payout_id = $3, updated_at = NOW()
WHERE id = $1
  AND status = $4
RETURNING`+withdrawalColumns, withdrawalID, string(enums.WithdrawalStatusSucceeded), payoutID, string(enums.WithdrawalStatusPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WithdrawalRecord{}, ErrWithdrawalNotFound
		}
		return WithdrawalRecord{}, fmt.Errorf("mark withdrawal succeeded: %w", err)
	}
	return rec, nil
}

// MarkFailedWithRelease returns the held amount to the account and
// closes the withdrawal, in one transaction.
func (r *WithdrawalRepo) MarkFailedWithRelease(ctx context.Context, withdrawalID string) (WithdrawalRecord, error) {
	if r.pool == nil {
		return WithdrawalRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var out WithdrawalRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := scanWithdrawalRow(tx.QueryRow(txCtx, `
UPDATE withdrawals
SET status = $2, updated_at = NOW()
WHERE id = $1
  AND status = $3
RETURNING`+withdrawalColumns, withdrawalID, string(enums.WithdrawalStatusFailed), string(enums.WithdrawalStatusPending)))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWithdrawalNotFound
			}
			return fmt.Errorf("mark withdrawal failed: %w", err)
		}

		if _, err := creditBalanceTx(txCtx, tx, rec.UserID, rec.Amount); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return WithdrawalRecord{}, err
	}

	return out, nil
}

func scanWithdrawalRow(row pgx.Row) (WithdrawalRecord, error) {
	var rec WithdrawalRecord
	var amountRaw string
	var status string
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&amountRaw,
		&status,
		&rec.PayoutID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return WithdrawalRecord{}, err
	}

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return WithdrawalRecord{}, fmt.Errorf("parse withdrawal amount %q: %w", amountRaw, err)
	}
	rec.Amount = amount
	rec.Status = enums.WithdrawalStatus(status)
	return rec, nil
}
