package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/missionhub/backend/internal/domain/money"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	escrowsvc "github.com/missionhub/backend/internal/services/escrow"
	"github.com/missionhub/backend/internal/transport/http/dto"
	httperrors "github.com/missionhub/backend/internal/transport/http/errors"
)

type PurchaseHandler struct {
	escrow *escrowsvc.Service
}

func NewPurchaseHandler(escrow *escrowsvc.Service) *PurchaseHandler {
	return &PurchaseHandler{escrow: escrow}
}

func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.escrow == nil {
		writeInternal(w, "ESCROW_SERVICE_UNAVAILABLE", "escrow service is unavailable")
		return
	}

	var req dto.PurchaseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	intent, err := h.escrow.StartPurchase(r.Context(), req.ProductID, identity.UserID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, escrowsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase payload")
		case errors.Is(err, escrowsvc.ErrProductNotFound):
			writeNotFound(w, "PRODUCT_NOT_FOUND", "product not found or unavailable")
		case errors.Is(err, escrowsvc.ErrOwnProduct):
			writeConflict(w, "OWN_PRODUCT", "cannot buy your own product")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to start purchase")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.PaymentIntentResponse{
		PurchaseID: intent.PurchaseID,
		Amount:     money.Format(intent.Amount),
		Memo:       intent.Memo,
	})
}

// Webhook is the payment network's callback. Replays answer with the
// current status and a 200 so the provider stops retrying.
func (h *PurchaseHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.escrow == nil {
		writeInternal(w, "ESCROW_SERVICE_UNAVAILABLE", "escrow service is unavailable")
		return
	}

	var req dto.PaymentWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	rec, err := h.escrow.HandlePaymentCallback(r.Context(), req.PaymentID, req.PurchaseID)
	if err != nil {
		switch {
		case errors.Is(err, escrowsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "payment_id and purchase_id are required")
		case errors.Is(err, escrowsvc.ErrPurchaseNotFound):
			writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
		case errors.Is(err, escrowsvc.ErrPaymentRejected):
			httperrors.Write(w, http.StatusPaymentRequired, httperrors.APIError{
				Code:    "PAYMENT_REJECTED",
				Message: "payment approval failed, purchase cancelled",
			})
		case errors.Is(err, escrowsvc.ErrPaymentIncomplete):
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "PAYMENT_INCOMPLETE",
				Message: "payment completion failed, purchase disputed",
			})
		case errors.Is(err, escrowsvc.ErrConflict):
			writeConflict(w, "CONFLICT", "purchase changed concurrently")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to process payment callback")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PaymentWebhookResponse{
		OK:     true,
		Status: string(rec.Status),
	})
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.escrow == nil {
		writeInternal(w, "ESCROW_SERVICE_UNAVAILABLE", "escrow service is unavailable")
		return
	}
	purchaseID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase id")
		return
	}

	rec, err := h.escrow.Purchase(r.Context(), purchaseID)
	if err != nil {
		if errors.Is(err, escrowsvc.ErrPurchaseNotFound) {
			writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
		} else {
			writeInternal(w, "INTERNAL_ERROR", "failed to load purchase")
		}
		return
	}
	if rec.BuyerID != identity.UserID && rec.SellerID != identity.UserID && !identity.IsOperator() {
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
		return
	}

	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

func (h *PurchaseHandler) MarkShipped(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.MarkShipped)
}

func (h *PurchaseHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.ConfirmReceipt)
}

func (h *PurchaseHandler) ForceComplete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.ForceComplete)
}

func (h *PurchaseHandler) ConfirmPaymentManually(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.ConfirmPaymentManually)
}

func (h *PurchaseHandler) ResolveForSeller(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.ResolveForSeller)
}

func (h *PurchaseHandler) ResolveForBuyer(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.escrow.ResolveForBuyer)
}

func (h *PurchaseHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, purchaseID, actorID int64) (pgrepo.PurchaseRecord, error)) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.escrow == nil {
		writeInternal(w, "ESCROW_SERVICE_UNAVAILABLE", "escrow service is unavailable")
		return
	}
	purchaseID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase id")
		return
	}

	rec, err := op(r.Context(), purchaseID, identity.UserID)
	if err != nil {
		writeEscrowError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

func writeEscrowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrowsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request")
	case errors.Is(err, escrowsvc.ErrPurchaseNotFound):
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
	case errors.Is(err, escrowsvc.ErrForbidden):
		writeForbidden(w, "FORBIDDEN", "you are not a party to this transition")
	case errors.Is(err, escrowsvc.ErrConflict):
		writeConflict(w, "CONFLICT", "purchase is not in the expected status")
	case errors.Is(err, escrowsvc.ErrNoExternalAccount):
		writeConflict(w, "NO_LINKED_ACCOUNT", "payout recipient has no linked payment account")
	case errors.Is(err, escrowsvc.ErrPayoutFailed):
		httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
			Code:    "PAYOUT_FAILED",
			Message: "payout failed",
		})
	case errors.Is(err, escrowsvc.ErrConsistency):
		writeInternal(w, "CONSISTENCY_FAULT", "payout sent but not recorded, operators alerted")
	default:
		writeInternal(w, "INTERNAL_ERROR", "purchase transition failed")
	}
}

func purchaseResponse(rec pgrepo.PurchaseRecord) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		ID:               rec.ID,
		ProductID:        rec.ProductID,
		ProductName:      rec.ProductName,
		BuyerID:          rec.BuyerID,
		SellerID:         rec.SellerID,
		Quantity:         rec.Quantity,
		TotalPrice:       money.Format(rec.TotalPrice),
		CommissionAmount: money.Format(rec.CommissionAmount),
		Status:           string(rec.Status),
		ExternalPayoutID: rec.ExternalPayoutID,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}
