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
	ErrProductNotFound = errors.New("product not found")
	ErrProductInUse    = errors.New("product is referenced by purchases")
)

type ProductRepo struct {
	pool *pgxpool.Pool
}

type ProductRecord struct {
	ID          int64
	SellerID    int64
	Name        string
	Description string
	Price       decimal.Decimal
	Available   bool
	CreatedAt   time.Time
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

func (r *ProductRepo) Create(ctx context.Context, sellerID int64, name, description string, price decimal.Decimal) (ProductRecord, error) {
	if r.pool == nil {
		return ProductRecord{}, fmt.Errorf("postgres pool is nil")
	}
	name = strings.TrimSpace(name)
	if sellerID <= 0 || name == "" {
		return ProductRecord{}, fmt.Errorf("invalid product payload")
	}
	if !price.IsPositive() {
		return ProductRecord{}, fmt.Errorf("product price must be positive")
	}

	rec, err := scanProductRow(r.pool.QueryRow(ctx, `
INSERT INTO products (seller_id, name, description, price, available, created_at)
VALUES ($1, $2, $3, $4::numeric, TRUE, NOW())
RETURNING id, seller_id, name, description, price::text, available, created_at
`, sellerID, name, description, money.Format(price)))
	if err != nil {
		return ProductRecord{}, fmt.Errorf("create product: %w", err)
	}
	return rec, nil
}

func (r *ProductRepo) FindAvailableByID(ctx context.Context, productID int64) (ProductRecord, error) {
	if r.pool == nil {
		return ProductRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanProductRow(r.pool.QueryRow(ctx, `
SELECT id, seller_id, name, description, price::text, available, created_at
FROM products
WHERE id = $1
  AND available = TRUE
`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductRecord{}, ErrProductNotFound
		}
		return ProductRecord{}, fmt.Errorf("find product: %w", err)
	}
	return rec, nil
}

// Delete removes a product. The purchases foreign key is RESTRICT, so
// a product with purchase history cannot be deleted, only delisted.
func (r *ProductRepo) Delete(ctx context.Context, productID, sellerID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM products
WHERE id = $1
  AND seller_id = $2
`, productID, sellerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrProductInUse
		}
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func scanProductRow(row pgx.Row) (ProductRecord, error) {
	var rec ProductRecord
	var priceRaw string
	if err := row.Scan(
		&rec.ID,
		&rec.SellerID,
		&rec.Name,
		&rec.Description,
		&priceRaw,
		&rec.Available,
		&rec.CreatedAt,
	); err != nil {
		return ProductRecord{}, err
	}

	price, err := decimal.NewFromString(priceRaw)
	if err != nil {
		return ProductRecord{}, fmt.Errorf("parse product price %q: %w", priceRaw, err)
	}
	rec.Price = price
	return rec, nil
}
