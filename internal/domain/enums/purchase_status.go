package enums

// PurchaseStatus tracks an escrowed purchase through its lifecycle.
// completed and cancelled are terminal; disputed is recoverable by support.
type PurchaseStatus string

const (
	PurchaseStatusAwaitingPayment PurchaseStatus = "awaiting_payment"
	PurchaseStatusInEscrow        PurchaseStatus = "in_escrow"
	PurchaseStatusShipped         PurchaseStatus = "shipped"
	PurchaseStatusCompleted       PurchaseStatus = "completed"
	PurchaseStatusDisputed        PurchaseStatus = "disputed"
	PurchaseStatusCancelled       PurchaseStatus = "cancelled"
)

func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusCancelled
}
