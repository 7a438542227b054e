package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/missionhub/backend/internal/config"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	catalogsvc "github.com/missionhub/backend/internal/services/catalog"
	escrowsvc "github.com/missionhub/backend/internal/services/escrow"
	ledgersvc "github.com/missionhub/backend/internal/services/ledger"
	notifysvc "github.com/missionhub/backend/internal/services/notify"
	rewardssvc "github.com/missionhub/backend/internal/services/rewards"
	walletsvc "github.com/missionhub/backend/internal/services/wallet"
	"github.com/missionhub/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService    *authsvc.Service
	CatalogService *catalogsvc.Service
	EscrowService  *escrowsvc.Service
	RewardsService *rewardssvc.Service
	WalletService  *walletsvc.Service
	LedgerService  *ledgersvc.Service
	NotifyService  *notifysvc.Service
	Logger         *zap.Logger
	Config         config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	healthHandler := handlers.NewHealthHandler()
	catalogHandler := handlers.NewCatalogHandler(deps.CatalogService)
	purchaseHandler := handlers.NewPurchaseHandler(deps.EscrowService)
	rewardsHandler := handlers.NewRewardsHandler(deps.RewardsService)
	walletHandler := handlers.NewWalletHandler(deps.WalletService, deps.LedgerService)
	notificationHandler := handlers.NewNotificationHandler(deps.NotifyService)

	authMW := AuthMiddleware(deps.AuthService, deps.Logger)
	operatorMW := RequireOperator()

	r.Get("/healthz", healthHandler.Get)
	r.Post("/auth/login", authHandler.Login)

	// The payment network calls this one; it authenticates with the
	// payment id itself, not a user token.
	r.Post("/webhooks/payments", purchaseHandler.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(authMW)

		r.Post("/products", catalogHandler.Create)
		r.Get("/products/{id}", catalogHandler.Get)
		r.Delete("/products/{id}", catalogHandler.Delete)

		r.Post("/purchases", purchaseHandler.Create)
		r.Get("/purchases/{id}", purchaseHandler.Get)
		r.Post("/purchases/{id}/ship", purchaseHandler.MarkShipped)
		r.Post("/purchases/{id}/confirm", purchaseHandler.ConfirmReceipt)

		r.Post("/missions/{id}/start", rewardsHandler.StartMission)
		r.Post("/missions/{id}/complete", rewardsHandler.CompleteMission)
		r.Post("/proofs", rewardsHandler.SubmitProof)
		r.Delete("/proofs/{id}", rewardsHandler.DeleteProof)

		r.Get("/wallet", walletHandler.Balance)
		r.Post("/wallet/link", walletHandler.LinkAccount)
		r.Post("/wallet/withdraw", walletHandler.Withdraw)

		r.Get("/notifications", notificationHandler.ListUnread)
		r.Post("/notifications/{id}/read", notificationHandler.MarkRead)
	})

	r.Route("/ops", func(r chi.Router) {
		r.Use(authMW, operatorMW)

		r.Post("/proofs/{id}/validate", rewardsHandler.ValidateProof)
		r.Post("/proofs/{id}/reject", rewardsHandler.RejectProof)
		r.Get("/proofs/{id}/photo", rewardsHandler.ProofPhotoURL)

		r.Post("/purchases/{id}/force-complete", purchaseHandler.ForceComplete)
		r.Post("/purchases/{id}/confirm-payment", purchaseHandler.ConfirmPaymentManually)
		r.Post("/purchases/{id}/resolve-seller", purchaseHandler.ResolveForSeller)
		r.Post("/purchases/{id}/resolve-buyer", purchaseHandler.ResolveForBuyer)
	})
}
