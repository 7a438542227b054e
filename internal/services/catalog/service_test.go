package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

type productStoreStub struct {
	seq      int64
	products map[int64]pgrepo.ProductRecord
	inUse    map[int64]bool
}

func newProductStoreStub() *productStoreStub {
	return &productStoreStub{products: map[int64]pgrepo.ProductRecord{}, inUse: map[int64]bool{}}
}

func (s *productStoreStub) Create(_ context.Context, sellerID int64, name, description string, price decimal.Decimal) (pgrepo.ProductRecord, error) {
	s.seq++
	rec := pgrepo.ProductRecord{ID: s.seq, SellerID: sellerID, Name: name, Description: description, Price: price, Available: true}
	s.products[rec.ID] = rec
	return rec, nil
}

func (s *productStoreStub) FindAvailableByID(_ context.Context, productID int64) (pgrepo.ProductRecord, error) {
	rec, ok := s.products[productID]
	if !ok {
		return pgrepo.ProductRecord{}, pgrepo.ErrProductNotFound
	}
	return rec, nil
}

func (s *productStoreStub) Delete(_ context.Context, productID, sellerID int64) error {
	rec, ok := s.products[productID]
	if !ok || rec.SellerID != sellerID {
		return pgrepo.ErrProductNotFound
	}
	if s.inUse[productID] {
		return pgrepo.ErrProductInUse
	}
	delete(s.products, productID)
	return nil
}

func TestCreateProductParsesPrice(t *testing.T) {
	svc := NewService(newProductStoreStub())

	rec, err := svc.CreateProduct(context.Background(), 2, "vintage lamp", "works", "12.5")
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !rec.Price.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("price = %s", rec.Price)
	}

	if _, err := svc.CreateProduct(context.Background(), 2, "free stuff", "", "0"); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero price: err = %v, want ErrValidation", err)
	}
	if _, err := svc.CreateProduct(context.Background(), 2, "", "", "1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty name: err = %v, want ErrValidation", err)
	}
}

func TestDeleteProductBlockedByHistory(t *testing.T) {
	store := newProductStoreStub()
	svc := NewService(store)

	rec, err := svc.CreateProduct(context.Background(), 2, "vintage lamp", "", "10")
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	store.inUse[rec.ID] = true

	if err := svc.DeleteProduct(context.Background(), rec.ID, 2); !errors.Is(err, ErrProductInUse) {
		t.Fatalf("err = %v, want ErrProductInUse", err)
	}

	if err := svc.DeleteProduct(context.Background(), rec.ID, 99); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("foreign delete: err = %v, want ErrProductNotFound", err)
	}
}
