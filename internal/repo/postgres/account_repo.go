package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/money"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExternalIDTaken   = errors.New("external payment id already linked to another account")
)

const accountColumns = `
	user_id,
	pseudo,
	balance::text,
	score::text,
	external_payment_id,
	created_at,
	updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

type AccountRecord struct {
	UserID            int64
	Pseudo            string
	Balance           decimal.Decimal
	Score             decimal.Decimal
	ExternalPaymentID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, userID int64, pseudo string) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}
	pseudo = strings.TrimSpace(pseudo)
	if userID <= 0 || pseudo == "" {
		return AccountRecord{}, fmt.Errorf("invalid account payload")
	}

	rec, err := scanAccountRow(r.pool.QueryRow(ctx, `
INSERT INTO accounts (user_id, pseudo, balance, score, created_at, updated_at)
VALUES ($1, $2, 0, 0, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE
SET updated_at = accounts.updated_at
RETURNING`+accountColumns, userID, pseudo))
	if err != nil {
		return AccountRecord{}, fmt.Errorf("create account: %w", err)
	}
	return rec, nil
}

// FindOrCreateByExternalID is the login path: the payment network has
// vouched for externalID, and whichever account carries it is the
// caller. A fresh identity gets a fresh account with user_id assigned
// by the database.
func (r *AccountRepo) FindOrCreateByExternalID(ctx context.Context, externalID, pseudo string) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}
	externalID = strings.TrimSpace(externalID)
	pseudo = strings.TrimSpace(pseudo)
	if externalID == "" || pseudo == "" {
		return AccountRecord{}, fmt.Errorf("invalid account payload")
	}

	rec, err := scanAccountRow(r.pool.QueryRow(ctx, `
INSERT INTO accounts (pseudo, balance, score, external_payment_id, created_at, updated_at)
VALUES ($1, 0, 0, $2, NOW(), NOW())
ON CONFLICT (external_payment_id) DO UPDATE
SET updated_at = NOW()
RETURNING`+accountColumns, pseudo, externalID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return AccountRecord{}, fmt.Errorf("pseudo %q already taken: %w", pseudo, err)
		}
		return AccountRecord{}, fmt.Errorf("find or create account: %w", err)
	}
	return rec, nil
}

func (r *AccountRepo) FindByUserID(ctx context.Context, userID int64) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanAccountRow(r.pool.QueryRow(ctx, `
SELECT`+accountColumns+`
FROM accounts
WHERE user_id = $1
`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("find account: %w", err)
	}
	return rec, nil
}

// Credit adds amount to the account balance. The amount > 0 guard lives
// in the ledger service; this is the single write path for balances.
func (r *AccountRepo) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var out AccountRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := creditBalanceTx(txCtx, tx, userID, amount)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return AccountRecord{}, err
	}
	return out, nil
}

// Debit subtracts amount, failing with ErrInsufficientFunds when the
// balance would go negative. The check and the write are one guarded
// statement, so concurrent debits serialize on the account row.
func (r *AccountRepo) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var out AccountRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := debitBalanceTx(txCtx, tx, userID, amount)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return AccountRecord{}, err
	}
	return out, nil
}

func (r *AccountRepo) CreditScore(ctx context.Context, userID int64, amount decimal.Decimal) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanAccountRow(r.pool.QueryRow(ctx, `
UPDATE accounts
SET score = score + $2::numeric, updated_at = NOW()
WHERE user_id = $1
RETURNING`+accountColumns, userID, money.Format(amount)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("credit score: %w", err)
	}
	return rec, nil
}

// LinkExternalID binds the payment network identity to the account.
// The id is unique across accounts; support clears it by linking a new
// one for the same user, never by stealing it from another.
func (r *AccountRepo) LinkExternalID(ctx context.Context, userID int64, externalID string) (AccountRecord, error) {
	if r.pool == nil {
		return AccountRecord{}, fmt.Errorf("postgres pool is nil")
	}
	externalID = strings.TrimSpace(externalID)
	if userID <= 0 || externalID == "" {
		return AccountRecord{}, fmt.Errorf("invalid link payload")
	}

	rec, err := scanAccountRow(r.pool.QueryRow(ctx, `
UPDATE accounts
SET external_payment_id = $2, updated_at = NOW()
WHERE user_id = $1
RETURNING`+accountColumns, userID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return AccountRecord{}, ErrExternalIDTaken
		}
		return AccountRecord{}, fmt.Errorf("link external payment id: %w", err)
	}
	return rec, nil
}

func creditBalanceTx(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) (AccountRecord, error) {
	if tx == nil {
		return AccountRecord{}, fmt.Errorf("transaction is required")
	}

	rec, err := scanAccountRow(tx.QueryRow(ctx, `
UPDATE accounts
SET balance = balance + $2::numeric, updated_at = NOW()
WHERE user_id = $1
RETURNING`+accountColumns, userID, money.Format(amount)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("credit balance: %w", err)
	}
	return rec, nil
}

func debitBalanceTx(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) (AccountRecord, error) {
	if tx == nil {
		return AccountRecord{}, fmt.Errorf("transaction is required")
	}

	rec, err := scanAccountRow(tx.QueryRow(ctx, `
UPDATE accounts
SET balance = balance - $2::numeric, updated_at = NOW()
WHERE user_id = $1
  AND balance >= $2::numeric
RETURNING`+accountColumns, userID, money.Format(amount)))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AccountRecord{}, fmt.Errorf("debit balance: %w", err)
	}

	// Guard did not match: either the account is missing or underfunded.
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return AccountRecord{}, fmt.Errorf("check account existence: %w", err)
	}
	if !exists {
		return AccountRecord{}, ErrAccountNotFound
	}
	return AccountRecord{}, ErrInsufficientFunds
}

// creditBalanceAndScoreTx credits the same amount to balance and score,
// the shape of a mission reward payout.
func creditBalanceAndScoreTx(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) (AccountRecord, error) {
	if tx == nil {
		return AccountRecord{}, fmt.Errorf("transaction is required")
	}

	rec, err := scanAccountRow(tx.QueryRow(ctx, `
UPDATE accounts
SET
	balance = balance + $2::numeric,
	score = score + $2::numeric,
	updated_at = NOW()
WHERE user_id = $1
RETURNING`+accountColumns, userID, money.Format(amount)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("credit balance and score: %w", err)
	}
	return rec, nil
}

func creditScoreTx(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}

	tag, err := tx.Exec(ctx, `
UPDATE accounts
SET score = score + $2::numeric, updated_at = NOW()
WHERE user_id = $1
`, userID, money.Format(amount))
	if err != nil {
		return fmt.Errorf("credit score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanAccountRow(row pgx.Row) (AccountRecord, error) {
	var rec AccountRecord
	var balanceRaw, scoreRaw string
	if err := row.Scan(
		&rec.UserID,
		&rec.Pseudo,
		&balanceRaw,
		&scoreRaw,
		&rec.ExternalPaymentID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return AccountRecord{}, err
	}

	balance, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return AccountRecord{}, fmt.Errorf("parse balance %q: %w", balanceRaw, err)
	}
	score, err := decimal.NewFromString(scoreRaw)
	if err != nil {
		return AccountRecord{}, fmt.Errorf("parse score %q: %w", scoreRaw, err)
	}
	rec.Balance = balance
	rec.Score = score
	return rec, nil
}
