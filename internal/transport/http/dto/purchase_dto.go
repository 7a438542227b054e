package dto

import "time"

type PurchaseCreateRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// PaymentIntentResponse tells the client what to submit to the payment
// network. Amount is a fixed-point decimal string.
type PaymentIntentResponse struct {
	PurchaseID int64  `json:"purchase_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
}

type PaymentWebhookRequest struct {
	PaymentID  string `json:"payment_id"`
	PurchaseID int64  `json:"purchase_id"`
}

type PaymentWebhookResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

type PurchaseResponse struct {
	ID               int64     `json:"id"`
	ProductID        int64     `json:"product_id"`
	ProductName      string    `json:"product_name"`
	BuyerID          int64     `json:"buyer_id"`
	SellerID         int64     `json:"seller_id"`
	Quantity         int       `json:"quantity"`
	TotalPrice       string    `json:"total_price"`
	CommissionAmount string    `json:"commission_amount"`
	Status           string    `json:"status"`
	ExternalPayoutID *string   `json:"external_payout_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
