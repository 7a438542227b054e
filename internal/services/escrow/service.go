// Package escrow drives the purchase lifecycle. A purchase is the
// source of truth for where buyer money stands; every move between
// statuses is a guarded transition, and every call that moves real
// money through the payment network happens outside any database
// transaction.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/missionhub/backend/internal/domain/enums"
	"github.com/missionhub/backend/internal/domain/money"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrProductNotFound  = errors.New("product not found")
	ErrPurchaseNotFound = errors.New("purchase not found")

	// ErrOwnProduct rejects a buyer purchasing their own listing.
	ErrOwnProduct = errors.New("cannot buy own product")

	// ErrForbidden means the caller is neither the party a transition
	// belongs to nor an operator.
	ErrForbidden = errors.New("actor is not allowed to perform this transition")

	// ErrConflict is a status guard miss: the purchase moved on between
	// the read and the guarded write, and nothing was changed.
	ErrConflict = errors.New("purchase is not in the expected status")

	// ErrPaymentRejected: the network refused to approve the payment.
	// The purchase has been cancelled.
	ErrPaymentRejected = errors.New("payment approval failed")

	// ErrPaymentIncomplete: approve succeeded but complete failed, so
	// buyer funds may be captured without a finished payment. The
	// purchase has been moved to disputed for an operator.
	ErrPaymentIncomplete = errors.New("payment completion failed")

	// ErrPayoutFailed: the seller (or refund) payout did not go
	// through. No local state was overwritten beyond what the caller's
	// branch dictates.
	ErrPayoutFailed = errors.New("payout failed")

	// ErrNoExternalAccount: the payout recipient never linked a payment
	// network account, so there is nowhere to send funds.
	ErrNoExternalAccount = errors.New("recipient has no linked payment account")

	// ErrConsistency: the payout succeeded on the network but the local
	// record could not be updated to say so. Requires an operator.
	ErrConsistency = errors.New("payout succeeded but local state is stale")
)

// Event identifies a lifecycle change worth telling the parties about.
type Event string

const (
	EventPaid      Event = "purchase_paid"
	EventShipped   Event = "purchase_shipped"
	EventCompleted Event = "purchase_completed"
	EventDisputed  Event = "purchase_disputed"
	EventCancelled Event = "purchase_cancelled"
	EventRefunded  Event = "purchase_refunded"
)

type PurchaseStore interface {
	Create(ctx context.Context, productID, buyerID, sellerID int64, quantity int, totalPrice decimal.Decimal) (pgrepo.PurchaseRecord, error)
	FindByID(ctx context.Context, purchaseID int64) (pgrepo.PurchaseRecord, error)
	Transition(ctx context.Context, purchaseID int64, from, to enums.PurchaseStatus, set pgrepo.TransitionSet) (pgrepo.PurchaseRecord, bool, error)
}

type ProductStore interface {
	FindAvailableByID(ctx context.Context, productID int64) (pgrepo.ProductRecord, error)
}

type AccountStore interface {
	FindByUserID(ctx context.Context, userID int64) (pgrepo.AccountRecord, error)
}

type PaymentGateway interface {
	Approve(ctx context.Context, paymentID string) error
	Complete(ctx context.Context, paymentID string) error
	CreatePayout(ctx context.Context, recipient string, amount decimal.Decimal, memo string) (string, error)
}

type Notifier interface {
	PurchaseChanged(ctx context.Context, event Event, p pgrepo.PurchaseRecord) error
}

// Alerter reaches a human. Used for the two situations the state
// machine cannot settle on its own: captured-but-incomplete payments
// and payouts the database no longer reflects.
type Alerter interface {
	Alert(ctx context.Context, code string, detail string) error
}

type Dependencies struct {
	Purchases PurchaseStore
	Products  ProductStore
	Accounts  AccountStore
	Gateway   PaymentGateway
	Notifier  Notifier
	Alerter   Alerter
	Logger    *zap.Logger

	// CommissionRate is the platform's cut of total_price, taken out of
	// the seller payout on completion.
	CommissionRate decimal.Decimal
}

type Service struct {
	purchases PurchaseStore
	products  ProductStore
	accounts  AccountStore
	gateway   PaymentGateway
	notifier  Notifier
	alerter   Alerter
	log       *zap.Logger
	rate      decimal.Decimal
}

// PaymentIntent is what a buyer needs to start the payment on the
// network side: the freshly created purchase and the exact amount and
// memo the webhook will later reconcile against.
type PaymentIntent struct {
	PurchaseID int64
	Amount     decimal.Decimal
	Memo       string
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Purchases == nil || deps.Products == nil || deps.Accounts == nil {
		return nil, fmt.Errorf("escrow: stores are required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("escrow: gateway is required")
	}
	if deps.CommissionRate.IsNegative() || deps.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("escrow: commission rate must be in [0, 1)")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		purchases: deps.Purchases,
		products:  deps.Products,
		accounts:  deps.Accounts,
		gateway:   deps.Gateway,
		notifier:  deps.Notifier,
		alerter:   deps.Alerter,
		log:       log,
		rate:      deps.CommissionRate,
	}, nil
}

// StartPurchase reserves a product for a buyer and returns the payment
// intent. Nothing moves money yet; the purchase waits in
// awaiting_payment until the network webhook arrives.
func (s *Service) StartPurchase(ctx context.Context, productID, buyerID int64, quantity int) (PaymentIntent, error) {
	if productID <= 0 || buyerID <= 0 {
		return PaymentIntent{}, ErrValidation
	}
	if quantity <= 0 {
		quantity = 1
	}

	product, err := s.products.FindAvailableByID(ctx, productID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrProductNotFound) {
			return PaymentIntent{}, ErrProductNotFound
		}
		return PaymentIntent{}, err
	}
	if product.SellerID == buyerID {
		return PaymentIntent{}, ErrOwnProduct
	}

	total := product.Price.Mul(decimal.NewFromInt(int64(quantity)))
	purchase, err := s.purchases.Create(ctx, product.ID, buyerID, product.SellerID, quantity, total)
	if err != nil {
		return PaymentIntent{}, err
	}

	return PaymentIntent{
		PurchaseID: purchase.ID,
		Amount:     total,
		Memo:       fmt.Sprintf("Purchase #%d: %s", purchase.ID, product.Name),
	}, nil
}

// HandlePaymentCallback reconciles a network payment against its
// purchase. A purchase past awaiting_payment means a replayed or stale
// webhook, which is answered with success and no writes.
//
// The approve and complete calls run before the guarded write on
// purpose: holding a row lock across network calls would serialize the
// whole table behind the provider's latency.
func (s *Service) HandlePaymentCallback(ctx context.Context, paymentID string, purchaseID int64) (pgrepo.PurchaseRecord, error) {
	if paymentID == "" || purchaseID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	purchase, err := s.findPurchase(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if purchase.Status != enums.PurchaseStatusAwaitingPayment {
		s.log.Info("payment callback on settled purchase, ignoring",
			zap.Int64("purchase_id", purchaseID),
			zap.String("status", string(purchase.Status)))
		return purchase, nil
	}

	if err := s.gateway.Approve(ctx, paymentID); err != nil {
		s.log.Warn("payment approve failed, cancelling purchase",
			zap.Int64("purchase_id", purchaseID), zap.Error(err))
		rec, _, terr := s.purchases.Transition(ctx, purchaseID,
			enums.PurchaseStatusAwaitingPayment, enums.PurchaseStatusCancelled,
			pgrepo.TransitionSet{ExternalPaymentID: &paymentID})
		if terr != nil {
			return pgrepo.PurchaseRecord{}, terr
		}
		s.notify(ctx, EventCancelled, rec)
		return rec, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
	}

	if err := s.gateway.Complete(ctx, paymentID); err != nil {
		s.log.Error("payment complete failed after approve, disputing purchase",
			zap.Int64("purchase_id", purchaseID), zap.Error(err))
		rec, _, terr := s.purchases.Transition(ctx, purchaseID,
			enums.PurchaseStatusAwaitingPayment, enums.PurchaseStatusDisputed,
			pgrepo.TransitionSet{ExternalPaymentID: &paymentID})
		if terr != nil {
			return pgrepo.PurchaseRecord{}, terr
		}
		s.alert(ctx, "payment_incomplete",
			fmt.Sprintf("purchase %d: payment %s approved but not completed", purchaseID, paymentID))
		s.notify(ctx, EventDisputed, rec)
		return rec, fmt.Errorf("%w: %v", ErrPaymentIncomplete, err)
	}

	rec, changed, err := s.purchases.Transition(ctx, purchaseID,
		enums.PurchaseStatusAwaitingPayment, enums.PurchaseStatusInEscrow,
		pgrepo.TransitionSet{ExternalPaymentID: &paymentID})
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if !changed {
		return rec, ErrConflict
	}

	s.notify(ctx, EventPaid, rec)
	return rec, nil
}

// Purchase returns a single purchase record by id.
func (s *Service) Purchase(ctx context.Context, purchaseID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}
	return s.findPurchase(ctx, purchaseID)
}

// MarkShipped is the seller declaring the goods are on their way.
func (s *Service) MarkShipped(ctx context.Context, purchaseID, actorID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 || actorID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	purchase, err := s.findPurchase(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if purchase.SellerID != actorID {
		return pgrepo.PurchaseRecord{}, ErrForbidden
	}

	rec, changed, err := s.purchases.Transition(ctx, purchaseID,
		enums.PurchaseStatusInEscrow, enums.PurchaseStatusShipped, pgrepo.TransitionSet{})
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if !changed {
		return rec, ErrConflict
	}

	s.notify(ctx, EventShipped, rec)
	return rec, nil
}

// ConfirmReceipt is the buyer releasing escrow. The seller is paid the
// total minus commission; if the payout fails the purchase goes to
// disputed so an operator settles who gets the money.
func (s *Service) ConfirmReceipt(ctx context.Context, purchaseID, actorID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 || actorID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	purchase, err := s.findPurchase(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if purchase.BuyerID != actorID {
		return pgrepo.PurchaseRecord{}, ErrForbidden
	}

	return s.completeFromShipped(ctx, purchase, true)
}

// ForceComplete is the operator version of ConfirmReceipt. A payout
// failure leaves the purchase in shipped so the operator can retry.
func (s *Service) ForceComplete(ctx context.Context, purchaseID, operatorID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	purchase, err := s.findPurchase(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}

	s.log.Info("operator force-completing purchase",
		zap.Int64("purchase_id", purchaseID), zap.Int64("operator_id", operatorID))
	return s.completeFromShipped(ctx, purchase, false)
}

// ConfirmPaymentManually moves a purchase to in_escrow without touching
// the gateway. For webhooks that never arrived even though the payment
// shows as settled on the provider's dashboard.
func (s *Service) ConfirmPaymentManually(ctx context.Context, purchaseID, operatorID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	rec, changed, err := s.purchases.Transition(ctx, purchaseID,
		enums.PurchaseStatusAwaitingPayment, enums.PurchaseStatusInEscrow, pgrepo.TransitionSet{})
	if err != nil {
		return pgrepo.PurchaseRecord{}, s.mapTransitionErr(err)
	}
	if !changed {
		return rec, ErrConflict
	}

	s.log.Info("payment confirmed manually",
		zap.Int64("purchase_id", purchaseID), zap.Int64("operator_id", operatorID))
	s.notify(ctx, EventPaid, rec)
	return rec, nil
}

// ResolveForSeller settles a dispute in the seller's favor: the normal
// payout sequence runs and the purchase completes.
func (s *Service) ResolveForSeller(ctx context.Context, purchaseID, operatorID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	purchase, err := s.findPurchase(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if purchase.Status != enums.PurchaseStatusDisputed {
		return purchase, ErrConflict
	}

	commission := s.commissionFor(purchase)
	payoutID, err := s.payOut(ctx, purchase.SellerID, purchase.TotalPrice.Sub(commission),
		fmt.Sprintf("Sale of %s (dispute resolved)", purchase.ProductName))
	if err != nil {
		return purchase, err
	}

	rec, err := s.persistPayout(ctx, purchase.ID,
		enums.PurchaseStatusDisputed, enums.PurchaseStatusCompleted, payoutID, commission)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}

	s.log.Info("dispute resolved for seller",
		zap.Int64("purchase_id", purchaseID), zap.Int64("operator_id", operatorID))
	s.notify(ctx, EventCompleted, rec)
	return rec, nil
}

// ResolveForBuyer settles a dispute in the buyer's favor: the full
// price is paid back and the purchase is cancelled. The refund id lands
// in the same payout column, so a terminal purchase always carries the
// identifier of whatever money movement closed it.
func (s *Service) ResolveForBuyer(ctx context.Context, purchaseID, operatorID int64) (pgrepo.PurchaseRecord, error) {
	if purchaseID <= 0 {
		return pgrepo.PurchaseRecord{}, ErrValidation
	}

	purchase, err := s.findPurchase(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}
	if purchase.Status != enums.PurchaseStatusDisputed {
		return purchase, ErrConflict
	}

	payoutID, err := s.payOut(ctx, purchase.BuyerID, purchase.TotalPrice,
		fmt.Sprintf("Refund for %s", purchase.ProductName))
	if err != nil {
		return purchase, err
	}

	rec, err := s.persistPayout(ctx, purchase.ID,
		enums.PurchaseStatusDisputed, enums.PurchaseStatusCancelled, payoutID, decimal.Zero)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}

	s.log.Info("dispute resolved for buyer",
		zap.Int64("purchase_id", purchaseID), zap.Int64("operator_id", operatorID))
	s.notify(ctx, EventRefunded, rec)
	return rec, nil
}

func (s *Service) completeFromShipped(ctx context.Context, purchase pgrepo.PurchaseRecord, disputeOnPayoutFail bool) (pgrepo.PurchaseRecord, error) {
	if purchase.Status != enums.PurchaseStatusShipped {
		return purchase, ErrConflict
	}

	commission := s.commissionFor(purchase)
	payoutID, err := s.payOut(ctx, purchase.SellerID, purchase.TotalPrice.Sub(commission),
		fmt.Sprintf("Sale of %s", purchase.ProductName))
	if err != nil {
		if !disputeOnPayoutFail || errors.Is(err, ErrNoExternalAccount) {
			return purchase, err
		}
		rec, _, terr := s.purchases.Transition(ctx, purchase.ID,
			enums.PurchaseStatusShipped, enums.PurchaseStatusDisputed, pgrepo.TransitionSet{})
		if terr != nil {
			return pgrepo.PurchaseRecord{}, terr
		}
		s.notify(ctx, EventDisputed, rec)
		return rec, err
	}

	rec, err := s.persistPayout(ctx, purchase.ID,
		enums.PurchaseStatusShipped, enums.PurchaseStatusCompleted, payoutID, commission)
	if err != nil {
		return pgrepo.PurchaseRecord{}, err
	}

	s.notify(ctx, EventCompleted, rec)
	return rec, nil
}

// payOut resolves the recipient's linked network account and sends the
// transfer. Never called while holding a database transaction.
func (s *Service) payOut(ctx context.Context, userID int64, amount decimal.Decimal, memo string) (string, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if account.ExternalPaymentID == nil || *account.ExternalPaymentID == "" {
		return "", ErrNoExternalAccount
	}

	payoutID, err := s.gateway.CreatePayout(ctx, *account.ExternalPaymentID, amount, memo)
	if err != nil {
		s.log.Error("payout failed",
			zap.Int64("user_id", userID), zap.String("amount", money.Format(amount)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}
	return payoutID, nil
}

// persistPayout records a payout that already happened. A guard miss or
// write failure here means money moved without a matching record, which
// is the one state this system is never allowed to shrug off.
func (s *Service) persistPayout(ctx context.Context, purchaseID int64, from, to enums.PurchaseStatus, payoutID string, commission decimal.Decimal) (pgrepo.PurchaseRecord, error) {
	rec, changed, err := s.purchases.Transition(ctx, purchaseID, from, to,
		pgrepo.TransitionSet{ExternalPayoutID: &payoutID, CommissionAmount: &commission})
	if err == nil && changed {
		return rec, nil
	}

	detail := fmt.Sprintf("purchase %d: payout %s sent but status write %s->%s did not land", purchaseID, payoutID, from, to)
	if err != nil {
		detail += ": " + err.Error()
	}
	s.log.Error("payout persisted nowhere", zap.String("detail", detail))
	s.alert(ctx, "consistency_fault", detail)
	return rec, ErrConsistency
}

func (s *Service) commissionFor(p pgrepo.PurchaseRecord) decimal.Decimal {
	return p.TotalPrice.Mul(s.rate).Round(money.Scale)
}

func (s *Service) findPurchase(ctx context.Context, purchaseID int64) (pgrepo.PurchaseRecord, error) {
	purchase, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return pgrepo.PurchaseRecord{}, s.mapTransitionErr(err)
	}
	return purchase, nil
}

func (s *Service) mapTransitionErr(err error) error {
	if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
		return ErrPurchaseNotFound
	}
	return err
}

func (s *Service) notify(ctx context.Context, event Event, p pgrepo.PurchaseRecord) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PurchaseChanged(ctx, event, p); err != nil {
		s.log.Warn("purchase notification failed",
			zap.String("event", string(event)), zap.Int64("purchase_id", p.ID), zap.Error(err))
	}
}

func (s *Service) alert(ctx context.Context, code, detail string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, code, detail); err != nil {
		s.log.Error("operator alert failed", zap.String("code", code), zap.Error(err))
	}
}
