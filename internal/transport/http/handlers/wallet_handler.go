package handlers

import (
	"errors"
	"net/http"

	"github.com/missionhub/backend/internal/domain/money"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	ledgersvc "github.com/missionhub/backend/internal/services/ledger"
	walletsvc "github.com/missionhub/backend/internal/services/wallet"
	"github.com/missionhub/backend/internal/transport/http/dto"
	httperrors "github.com/missionhub/backend/internal/transport/http/errors"
)

type WalletHandler struct {
	wallet *walletsvc.Service
	ledger *ledgersvc.Service
}

func NewWalletHandler(wallet *walletsvc.Service, ledger *ledgersvc.Service) *WalletHandler {
	return &WalletHandler{wallet: wallet, ledger: ledger}
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil {
		writeInternal(w, "LEDGER_SERVICE_UNAVAILABLE", "ledger service is unavailable")
		return
	}

	snap, err := h.ledger.Balance(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, ledgersvc.ErrAccountNotFound) {
			writeNotFound(w, "ACCOUNT_NOT_FOUND", "account not found")
		} else {
			writeInternal(w, "INTERNAL_ERROR", "failed to load balance")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.BalanceResponse{
		UserID:  snap.UserID,
		Balance: money.Format(snap.Balance),
		Score:   money.Format(snap.Score),
	})
}

func (h *WalletHandler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	var req dto.LinkAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	rec, err := h.wallet.LinkExternalAccount(r.Context(), identity.UserID, req.ExternalID)
	if err != nil {
		switch {
		case errors.Is(err, walletsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "external_id is required")
		case errors.Is(err, walletsvc.ErrAccountNotFound):
			writeNotFound(w, "ACCOUNT_NOT_FOUND", "account not found")
		case errors.Is(err, walletsvc.ErrExternalIDTaken):
			writeConflict(w, "EXTERNAL_ID_TAKEN", "payment account is already linked to another user")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to link payment account")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.BalanceResponse{
		UserID:  rec.UserID,
		Balance: money.Format(rec.Balance),
		Score:   money.Format(rec.Score),
	})
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	var req dto.WithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "amount must be a positive decimal")
		return
	}

	rec, err := h.wallet.Withdraw(r.Context(), identity.UserID, amount)
	if err != nil {
		switch {
		case errors.Is(err, walletsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid withdrawal amount")
		case errors.Is(err, walletsvc.ErrAccountNotFound):
			writeNotFound(w, "ACCOUNT_NOT_FOUND", "account not found")
		case errors.Is(err, walletsvc.ErrInsufficientFunds):
			writeBadRequest(w, "INSUFFICIENT_FUNDS", "balance is lower than the requested amount")
		case errors.Is(err, walletsvc.ErrNoExternalAccount):
			writeConflict(w, "NO_LINKED_ACCOUNT", "link a payment account before withdrawing")
		case errors.Is(err, walletsvc.ErrPayoutFailed):
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "PAYOUT_FAILED",
				Message: "payout failed, funds were returned",
			})
		case errors.Is(err, walletsvc.ErrConsistency):
			writeInternal(w, "CONSISTENCY_FAULT", "payout sent but not recorded, operators alerted")
		default:
			writeInternal(w, "INTERNAL_ERROR", "withdrawal failed")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.WithdrawalResponse{
		ID:       rec.ID,
		Amount:   money.Format(rec.Amount),
		Status:   string(rec.Status),
		PayoutID: rec.PayoutID,
	})
}
