package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

type accountStoreStub struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	scores   map[int64]decimal.Decimal
}

func newAccountStoreStub() *accountStoreStub {
	return &accountStoreStub{
		balances: make(map[int64]decimal.Decimal),
		scores:   make(map[int64]decimal.Decimal),
	}
}

func (s *accountStoreStub) FindByUserID(_ context.Context, userID int64) (pgrepo.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[userID]
	if !ok {
		return pgrepo.AccountRecord{}, pgrepo.ErrAccountNotFound
	}
	return pgrepo.AccountRecord{UserID: userID, Balance: balance, Score: s.scores[userID]}, nil
}

func (s *accountStoreStub) Credit(_ context.Context, userID int64, amount decimal.Decimal) (pgrepo.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[userID]
	if !ok {
		return pgrepo.AccountRecord{}, pgrepo.ErrAccountNotFound
	}
	s.balances[userID] = balance.Add(amount)
	return pgrepo.AccountRecord{UserID: userID, Balance: s.balances[userID], Score: s.scores[userID]}, nil
}

func (s *accountStoreStub) Debit(_ context.Context, userID int64, amount decimal.Decimal) (pgrepo.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[userID]
	if !ok {
		return pgrepo.AccountRecord{}, pgrepo.ErrAccountNotFound
	}
	if balance.LessThan(amount) {
		return pgrepo.AccountRecord{}, pgrepo.ErrInsufficientFunds
	}
	s.balances[userID] = balance.Sub(amount)
	return pgrepo.AccountRecord{UserID: userID, Balance: s.balances[userID], Score: s.scores[userID]}, nil
}

func (s *accountStoreStub) CreditScore(_ context.Context, userID int64, amount decimal.Decimal) (pgrepo.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[userID]; !ok {
		return pgrepo.AccountRecord{}, pgrepo.ErrAccountNotFound
	}
	s.scores[userID] = s.scores[userID].Add(amount)
	return pgrepo.AccountRecord{UserID: userID, Balance: s.balances[userID], Score: s.scores[userID]}, nil
}

func TestDebitFailsWithInsufficientFunds(t *testing.T) {
	store := newAccountStoreStub()
	store.balances[7] = decimal.RequireFromString("3")
	svc := NewService(store)

	_, err := svc.Debit(context.Background(), 7, decimal.RequireFromString("5"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Debit error = %v, want ErrInsufficientFunds", err)
	}

	snapshot, err := svc.Balance(context.Background(), 7)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !snapshot.Balance.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("balance changed on failed debit: %s", snapshot.Balance)
	}
}

func TestCreditAndDebitRejectNonPositiveAmounts(t *testing.T) {
	store := newAccountStoreStub()
	store.balances[1] = decimal.RequireFromString("10")
	svc := NewService(store)

	for _, amount := range []string{"0", "-1"} {
		if _, err := svc.Credit(context.Background(), 1, decimal.RequireFromString(amount)); !errors.Is(err, ErrValidation) {
			t.Fatalf("Credit(%s) error = %v, want ErrValidation", amount, err)
		}
		if _, err := svc.Debit(context.Background(), 1, decimal.RequireFromString(amount)); !errors.Is(err, ErrValidation) {
			t.Fatalf("Debit(%s) error = %v, want ErrValidation", amount, err)
		}
	}
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	store := newAccountStoreStub()
	store.balances[9] = decimal.RequireFromString("5")
	svc := NewService(store)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Debit(context.Background(), 9, decimal.RequireFromString("1"))
		}()
	}
	wg.Wait()

	snapshot, err := svc.Balance(context.Background(), 9)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if snapshot.Balance.IsNegative() {
		t.Fatalf("balance went negative: %s", snapshot.Balance)
	}
	if !snapshot.Balance.Equal(decimal.Zero) {
		t.Fatalf("expected balance to be fully drained, got %s", snapshot.Balance)
	}
}

func TestCreditScoreAccumulates(t *testing.T) {
	store := newAccountStoreStub()
	store.balances[2] = decimal.Zero
	svc := NewService(store)

	for i := 0; i < 3; i++ {
		if _, err := svc.CreditScore(context.Background(), 2, decimal.RequireFromString("1.5")); err != nil {
			t.Fatalf("CreditScore: %v", err)
		}
	}

	snapshot, err := svc.Balance(context.Background(), 2)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !snapshot.Score.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("score = %s, want 4.5", snapshot.Score)
	}
	if !snapshot.Balance.Equal(decimal.Zero) {
		t.Fatalf("score credit must not touch balance, got %s", snapshot.Balance)
	}
}
