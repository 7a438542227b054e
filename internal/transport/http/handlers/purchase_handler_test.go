package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/enums"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	escrowsvc "github.com/missionhub/backend/internal/services/escrow"
)

type purchaseStoreStub struct {
	purchases map[int64]pgrepo.PurchaseRecord
}

func (s *purchaseStoreStub) Create(_ context.Context, productID, buyerID, sellerID int64, quantity int, totalPrice decimal.Decimal) (pgrepo.PurchaseRecord, error) {
	rec := pgrepo.PurchaseRecord{
		ID:         int64(len(s.purchases) + 1),
		ProductID:  productID,
		BuyerID:    buyerID,
		SellerID:   sellerID,
		Quantity:   quantity,
		TotalPrice: totalPrice,
		Status:     enums.PurchaseStatusAwaitingPayment,
		CreatedAt:  time.Now(),
	}
	s.purchases[rec.ID] = rec
	return rec, nil
}

func (s *purchaseStoreStub) FindByID(_ context.Context, purchaseID int64) (pgrepo.PurchaseRecord, error) {
	rec, ok := s.purchases[purchaseID]
	if !ok {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return rec, nil
}

func (s *purchaseStoreStub) Transition(_ context.Context, purchaseID int64, from, to enums.PurchaseStatus, set pgrepo.TransitionSet) (pgrepo.PurchaseRecord, bool, error) {
	rec, ok := s.purchases[purchaseID]
	if !ok {
		return pgrepo.PurchaseRecord{}, false, pgrepo.ErrPurchaseNotFound
	}
	if rec.Status != from {
		return rec, false, nil
	}
	rec.Status = to
	if set.ExternalPaymentID != nil {
		rec.ExternalPaymentID = set.ExternalPaymentID
	}
	if set.ExternalPayoutID != nil {
		rec.ExternalPayoutID = set.ExternalPayoutID
	}
	if set.CommissionAmount != nil {
		rec.CommissionAmount = *set.CommissionAmount
	}
	s.purchases[purchaseID] = rec
	return rec, true, nil
}

type productStoreStub struct {
	products map[int64]pgrepo.ProductRecord
}

func (s *productStoreStub) FindAvailableByID(_ context.Context, productID int64) (pgrepo.ProductRecord, error) {
	rec, ok := s.products[productID]
	if !ok {
		return pgrepo.ProductRecord{}, pgrepo.ErrProductNotFound
	}
	return rec, nil
}

type accountStoreStub struct {
	accounts map[int64]pgrepo.AccountRecord
}

func (s *accountStoreStub) FindByUserID(_ context.Context, userID int64) (pgrepo.AccountRecord, error) {
	rec, ok := s.accounts[userID]
	if !ok {
		return pgrepo.AccountRecord{}, pgrepo.ErrAccountNotFound
	}
	return rec, nil
}

type escrowGatewayStub struct {
	approveErr error
	approves   int
	completes  int
}

func (s *escrowGatewayStub) Approve(_ context.Context, _ string) error {
	s.approves++
	return s.approveErr
}

func (s *escrowGatewayStub) Complete(_ context.Context, _ string) error {
	s.completes++
	return nil
}

func (s *escrowGatewayStub) CreatePayout(_ context.Context, _ string, _ decimal.Decimal, _ string) (string, error) {
	return "payout_1", nil
}

func newPurchaseHandlerFixture(t *testing.T, gateway *escrowGatewayStub) (*PurchaseHandler, *purchaseStoreStub) {
	t.Helper()

	sellerExt := "ext-seller"
	purchases := &purchaseStoreStub{purchases: map[int64]pgrepo.PurchaseRecord{
		1: {
			ID:         1,
			ProductID:  1,
			BuyerID:    3,
			SellerID:   2,
			Quantity:   1,
			TotalPrice: decimal.NewFromInt(10),
			Status:     enums.PurchaseStatusAwaitingPayment,
		},
	}}

	svc, err := escrowsvc.NewService(escrowsvc.Dependencies{
		Purchases: purchases,
		Products: &productStoreStub{products: map[int64]pgrepo.ProductRecord{
			1: {ID: 1, SellerID: 2, Name: "Handmade mug", Price: decimal.NewFromInt(10), Available: true},
		}},
		Accounts: &accountStoreStub{accounts: map[int64]pgrepo.AccountRecord{
			2: {UserID: 2, ExternalPaymentID: &sellerExt},
		}},
		Gateway:        gateway,
		CommissionRate: decimal.RequireFromString("0.05"),
	})
	if err != nil {
		t.Fatalf("new escrow service: %v", err)
	}

	return NewPurchaseHandler(svc), purchases
}

func performWebhook(t *testing.T, h *PurchaseHandler, paymentID string, purchaseID int64) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"payment_id":  paymentID,
		"purchase_id": purchaseID,
	})
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestPurchaseHandlerWebhookMovesPurchaseIntoEscrow(t *testing.T) {
	gateway := &escrowGatewayStub{}
	h, purchases := newPurchaseHandlerFixture(t, gateway)

	resp := performWebhook(t, h, "pay-1", 1)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d, body %s", resp.Code, http.StatusOK, resp.Body.String())
	}

	var payload struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.OK || payload.Status != "in_escrow" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if gateway.approves != 1 || gateway.completes != 1 {
		t.Fatalf("expected one approve and one complete, got %d/%d", gateway.approves, gateway.completes)
	}
	if purchases.purchases[1].Status != enums.PurchaseStatusInEscrow {
		t.Fatalf("unexpected stored status: %s", purchases.purchases[1].Status)
	}
}

func TestPurchaseHandlerWebhookRejectedPaymentCancelsPurchase(t *testing.T) {
	gateway := &escrowGatewayStub{approveErr: errors.New("declined")}
	h, purchases := newPurchaseHandlerFixture(t, gateway)

	resp := performWebhook(t, h, "pay-1", 1)
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("unexpected status: got %d want %d", resp.Code, http.StatusPaymentRequired)
	}

	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Code != "PAYMENT_REJECTED" {
		t.Fatalf("unexpected error code: got %q want %q", payload.Code, "PAYMENT_REJECTED")
	}
	if purchases.purchases[1].Status != enums.PurchaseStatusCancelled {
		t.Fatalf("unexpected stored status: %s", purchases.purchases[1].Status)
	}
}

func TestPurchaseHandlerWebhookUnknownPurchase(t *testing.T) {
	h, _ := newPurchaseHandlerFixture(t, &escrowGatewayStub{})

	resp := performWebhook(t, h, "pay-1", 99)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", resp.Code, http.StatusNotFound)
	}
}

func TestPurchaseHandlerShipRequiresSeller(t *testing.T) {
	h, purchases := newPurchaseHandlerFixture(t, &escrowGatewayStub{})
	rec := purchases.purchases[1]
	rec.Status = enums.PurchaseStatusInEscrow
	purchases.purchases[1] = rec

	resp := performPurchaseAction(t, h.MarkShipped, 1, 3)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("buyer ship: got %d want %d", resp.Code, http.StatusForbidden)
	}

	resp = performPurchaseAction(t, h.MarkShipped, 1, 2)
	if resp.Code != http.StatusOK {
		t.Fatalf("seller ship: got %d want %d, body %s", resp.Code, http.StatusOK, resp.Body.String())
	}
	if purchases.purchases[1].Status != enums.PurchaseStatusShipped {
		t.Fatalf("unexpected stored status: %s", purchases.purchases[1].Status)
	}
}

func performPurchaseAction(t *testing.T, action http.HandlerFunc, purchaseID int64, actorID int64) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/purchases/"+strconv.FormatInt(purchaseID, 10)+"/ship", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", strconv.FormatInt(purchaseID, 10))

	ctx := authsvc.WithIdentity(context.Background(), authsvc.Identity{UserID: actorID, Role: authsvc.RoleUser})
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	action(rec, req)
	return rec
}
