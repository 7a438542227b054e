package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/enums"
	"github.com/missionhub/backend/internal/domain/money"
)

var ErrPurchaseNotFound = errors.New("purchase not found")

const purchaseColumns = `
	p.id,
	p.product_id,
	pr.name,
	p.buyer_id,
	p.seller_id,
	p.quantity,
	p.total_price::text,
	p.commission_amount::text,
	p.status,
	p.external_payment_id,
	p.external_payout_id,
	p.created_at,
	p.updated_at`

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

// PurchaseRecord is the single source of truth for an escrowed
// transaction's status. Account balances are derived effects of its
// transitions and are never read back to infer where a purchase stands.
type PurchaseRecord struct {
	ID                int64
	ProductID         int64
	ProductName       string
	BuyerID           int64
	SellerID          int64
	Quantity          int
	TotalPrice        decimal.Decimal
	CommissionAmount  decimal.Decimal
	Status            enums.PurchaseStatus
	ExternalPaymentID *string
	ExternalPayoutID  *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TransitionSet carries the fields a guarded transition persists
// together with the status write.
type TransitionSet struct {
	ExternalPaymentID *string
	ExternalPayoutID  *string
	CommissionAmount  *decimal.Decimal
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) Create(ctx context.Context, productID, buyerID, sellerID int64, quantity int, totalPrice decimal.Decimal) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if productID <= 0 || buyerID <= 0 || sellerID <= 0 || quantity <= 0 {
		return PurchaseRecord{}, fmt.Errorf("invalid purchase payload")
	}
	if !totalPrice.IsPositive() {
		return PurchaseRecord{}, fmt.Errorf("total price must be positive")
	}

	var id int64
	if err := r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	product_id,
	buyer_id,
	seller_id,
	quantity,
	total_price,
	commission_amount,
	status,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5::numeric, 0, $6, NOW(), NOW())
RETURNING id
`, productID, buyerID, sellerID, quantity, money.Format(totalPrice), string(enums.PurchaseStatusAwaitingPayment)).Scan(&id); err != nil {
		return PurchaseRecord{}, fmt.Errorf("create purchase: %w", err)
	}

	return r.FindByID(ctx, id)
}

func (r *PurchaseRepo) FindByID(ctx context.Context, purchaseID int64) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanPurchaseRow(r.pool.QueryRow(ctx, `
SELECT`+purchaseColumns+`
FROM purchases p
JOIN products pr ON pr.id = p.product_id
WHERE p.id = $1
`, purchaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase: %w", err)
	}
	return rec, nil
}

// Transition moves a purchase from an expected status to a target
// status, persisting set alongside the status write. The row is locked
// for the duration of the guard check and write, so webhook-triggered
// and user-triggered transitions on the same purchase serialize here.
// When the current status no longer matches from, the stored record is
// returned with changed == false and nothing is written.
func (r *PurchaseRepo) Transition(ctx context.Context, purchaseID int64, from, to enums.PurchaseStatus, set TransitionSet) (PurchaseRecord, bool, error) {
	if r.pool == nil {
		return PurchaseRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if from == to {
		return PurchaseRecord{}, false, fmt.Errorf("transition requires distinct statuses")
	}

	var out PurchaseRecord
	changed := false
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := lockPurchaseTx(txCtx, tx, purchaseID)
		if err != nil {
			return err
		}

		if rec.Status != from {
			out = rec
			changed = false
			return nil
		}

		commission := "0"
		if set.CommissionAmount != nil {
			commission = money.Format(*set.CommissionAmount)
		} else {
			commission = money.Format(rec.CommissionAmount)
		}

		updated, err := scanPurchaseRow(tx.QueryRow(txCtx, `
UPDATE purchases p
SET
	status = $2,
	external_payment_id = COALESCE($3, p.external_payment_id),
	external_payout_id = COALESCE($4, p.external_payout_id),
	commission_amount = $5::numeric,
	updated_at = NOW()
FROM products pr
WHERE p.id = $1
  AND pr.id = p.product_id
RETURNING`+purchaseColumns, purchaseID, string(to), set.ExternalPaymentID, set.ExternalPayoutID, commission))
		if err != nil {
			return fmt.Errorf("transition purchase to %s: %w", to, err)
		}

		out = updated
		changed = true
		return nil
	})
	if err != nil {
		return PurchaseRecord{}, false, err
	}

	return out, changed, nil
}

func lockPurchaseTx(ctx context.Context, tx pgx.Tx, purchaseID int64) (PurchaseRecord, error) {
	if tx == nil {
		return PurchaseRecord{}, fmt.Errorf("transaction is required")
	}

	rec, err := scanPurchaseRow(tx.QueryRow(ctx, `
SELECT`+purchaseColumns+`
FROM purchases p
JOIN products pr ON pr.id = p.product_id
WHERE p.id = $1
FOR UPDATE OF p
`, purchaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("lock purchase: %w", err)
	}
	return rec, nil
}

func scanPurchaseRow(row pgx.Row) (PurchaseRecord, error) {
	var rec PurchaseRecord
	var totalRaw, commissionRaw string
	var status string
	if err := row.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.ProductName,
		&rec.BuyerID,
		&rec.SellerID,
		&rec.Quantity,
		&totalRaw,
		&commissionRaw,
		&status,
		&rec.ExternalPaymentID,
		&rec.ExternalPayoutID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return PurchaseRecord{}, err
	}

	total, err := decimal.NewFromString(totalRaw)
	if err != nil {
		return PurchaseRecord{}, fmt.Errorf("parse total price %q: %w", totalRaw, err)
	}
	commission, err := decimal.NewFromString(commissionRaw)
	if err != nil {
		return PurchaseRecord{}, fmt.Errorf("parse commission %q: %w", commissionRaw, err)
	}
	rec.TotalPrice = total
	rec.CommissionAmount = commission
	rec.Status = enums.PurchaseStatus(status)
	return rec, nil
}
