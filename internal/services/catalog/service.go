// Package catalog manages product listings. Deliberately small: no
// browsing or search surface, just the edges the purchase flow needs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/money"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrProductNotFound = errors.New("product not found")

	// ErrProductInUse: purchases reference the product, so history wins
	// over deletion. Delist instead.
	ErrProductInUse = errors.New("product has purchase history")
)

type ProductStore interface {
	Create(ctx context.Context, sellerID int64, name, description string, price decimal.Decimal) (pgrepo.ProductRecord, error)
	FindAvailableByID(ctx context.Context, productID int64) (pgrepo.ProductRecord, error)
	Delete(ctx context.Context, productID, sellerID int64) error
}

type Service struct {
	products ProductStore
}

func NewService(products ProductStore) *Service {
	return &Service{products: products}
}

func (s *Service) CreateProduct(ctx context.Context, sellerID int64, name, description, price string) (pgrepo.ProductRecord, error) {
	if s.products == nil {
		return pgrepo.ProductRecord{}, fmt.Errorf("product store is nil")
	}
	name = strings.TrimSpace(name)
	if sellerID <= 0 || name == "" {
		return pgrepo.ProductRecord{}, ErrValidation
	}

	amount, err := money.ParsePositive(price)
	if err != nil {
		return pgrepo.ProductRecord{}, ErrValidation
	}

	return s.products.Create(ctx, sellerID, name, description, amount)
}

func (s *Service) Product(ctx context.Context, productID int64) (pgrepo.ProductRecord, error) {
	if productID <= 0 {
		return pgrepo.ProductRecord{}, ErrValidation
	}

	rec, err := s.products.FindAvailableByID(ctx, productID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrProductNotFound) {
			return pgrepo.ProductRecord{}, ErrProductNotFound
		}
		return pgrepo.ProductRecord{}, err
	}
	return rec, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID, sellerID int64) error {
	if productID <= 0 || sellerID <= 0 {
		return ErrValidation
	}

	err := s.products.Delete(ctx, productID, sellerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgrepo.ErrProductNotFound):
		return ErrProductNotFound
	case errors.Is(err, pgrepo.ErrProductInUse):
		return ErrProductInUse
	default:
		return err
	}
}
