package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestApproveSendsKeyAuthorization(t *testing.T) {
	var gotAuth, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	if err := client.Approve(context.Background(), "pay_123"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if gotAuth != "Key test-key" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Key test-key")
	}
	if gotPath != "/payments/pay_123/approve" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestCompleteMapsNon2xxToCallFailed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Complete(context.Background(), "pay_123")
	if !errors.Is(err, ErrCallFailed) {
		t.Fatalf("err = %v, want ErrCallFailed", err)
	}
}

func TestCreatePayoutSendsFixedPointAmount(t *testing.T) {
	var got payoutRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(payoutResponse{Identifier: "payout_42"})
	})

	amount := decimal.RequireFromString("9.5")
	payoutID, err := client.CreatePayout(context.Background(), "user-1", amount, "sale proceeds")
	if err != nil {
		t.Fatalf("CreatePayout: %v", err)
	}
	if payoutID != "payout_42" {
		t.Fatalf("payoutID = %q", payoutID)
	}
	if got.Amount != "9.5000000" {
		t.Fatalf("amount on the wire = %q, want %q", got.Amount, "9.5000000")
	}
	if got.Recipient != "user-1" || got.Memo != "sale proceeds" {
		t.Fatalf("request = %+v", got)
	}
}

func TestCreatePayoutMissingIdentifier(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	_, err := client.CreatePayout(context.Background(), "user-1", decimal.NewFromInt(1), "memo")
	if !errors.Is(err, ErrMissingPayoutID) {
		t.Fatalf("err = %v, want ErrMissingPayoutID", err)
	}
}

func TestMeSendsBearerToken(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(UserInfo{UID: "net-uid", Username: "alice"})
	})

	info, err := client.Me(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if gotAuth != "Bearer user-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if info.UID != "net-uid" || info.Username != "alice" {
		t.Fatalf("info = %+v", info)
	}
}

func TestMeRequiresUID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"username": "alice"})
	})

	if _, err := client.Me(context.Background(), "user-token"); !errors.Is(err, ErrCallFailed) {
		t.Fatalf("err = %v, want ErrCallFailed", err)
	}
}

func TestCreatePayoutRejectsBadInput(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if _, err := client.CreatePayout(context.Background(), "", decimal.NewFromInt(1), ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty recipient: err = %v, want ErrValidation", err)
	}
	if _, err := client.CreatePayout(context.Background(), "user-1", decimal.Zero, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero amount: err = %v, want ErrValidation", err)
	}
}
