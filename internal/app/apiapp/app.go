package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/missionhub/backend/internal/config"
	"github.com/missionhub/backend/internal/infra/httpclient"
	s3infra "github.com/missionhub/backend/internal/infra/s3"
	pgrepo "github.com/missionhub/backend/internal/repo/postgres"
	redrepo "github.com/missionhub/backend/internal/repo/redis"
	authsvc "github.com/missionhub/backend/internal/services/auth"
	catalogsvc "github.com/missionhub/backend/internal/services/catalog"
	escrowsvc "github.com/missionhub/backend/internal/services/escrow"
	gatewaysvc "github.com/missionhub/backend/internal/services/gateway"
	ledgersvc "github.com/missionhub/backend/internal/services/ledger"
	notifysvc "github.com/missionhub/backend/internal/services/notify"
	rewardssvc "github.com/missionhub/backend/internal/services/rewards"
	walletsvc "github.com/missionhub/backend/internal/services/wallet"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	eventRepo := redrepo.NewEventRepo(redisClient, cfg.Notify.ChannelPrefix)

	accountRepo := pgrepo.NewAccountRepo(pool)
	productRepo := pgrepo.NewProductRepo(pool)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)
	missionRepo := pgrepo.NewMissionRepo(pool)
	proofRepo := pgrepo.NewProofRepo(pool)
	badgeRepo := pgrepo.NewBadgeRepo(pool)
	withdrawalRepo := pgrepo.NewWithdrawalRepo(pool)
	notificationRepo := pgrepo.NewNotificationRepo(pool)

	notifyService, err := notifysvc.NewService(notificationRepo, eventRepo, log)
	if err != nil {
		return nil, fmt.Errorf("notify service: %w", err)
	}

	commissionRate, err := decimal.NewFromString(cfg.Escrow.CommissionRate)
	if err != nil {
		return nil, fmt.Errorf("parse commission rate %q: %w", cfg.Escrow.CommissionRate, err)
	}

	var gatewayClient *gatewaysvc.Client
	if c, err := gatewaysvc.NewClient(gatewaysvc.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
	}, httpclient.New(cfg.Gateway.Timeout)); err != nil {
		log.Warn("payment gateway init failed, money surfaces run degraded", zap.Error(err))
	} else {
		gatewayClient = c
	}

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	ledgerService := ledgersvc.NewService(accountRepo)
	catalogService := catalogsvc.NewService(productRepo)

	rewardsDeps := rewardssvc.Dependencies{
		Proofs:      proofRepo,
		Missions:    missionRepo,
		Badges:      badgeRepo,
		Notifier:    notifyService,
		Logger:      log,
		PhotoBucket: cfg.S3.Bucket,
	}
	if s3Client != nil {
		rewardsDeps.Storage = s3Client
	}
	rewardsService, err := rewardssvc.NewService(rewardsDeps)
	if err != nil {
		return nil, fmt.Errorf("rewards service: %w", err)
	}

	var (
		escrowService *escrowsvc.Service
		walletService *walletsvc.Service
		authService   *authsvc.Service
	)
	if gatewayClient != nil {
		escrowService, err = escrowsvc.NewService(escrowsvc.Dependencies{
			Purchases:      purchaseRepo,
			Products:       productRepo,
			Accounts:       accountRepo,
			Gateway:        gatewayClient,
			Notifier:       notifyService,
			Alerter:        notifyService,
			Logger:         log,
			CommissionRate: commissionRate,
		})
		if err != nil {
			return nil, fmt.Errorf("escrow service: %w", err)
		}

		walletService, err = walletsvc.NewService(walletsvc.Dependencies{
			Accounts:    accountRepo,
			Withdrawals: withdrawalRepo,
			Gateway:     gatewayClient,
			Notifier:    notifyService,
			Alerter:     notifyService,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("wallet service: %w", err)
		}

		jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
		authService, err = authsvc.NewService(authsvc.Dependencies{
			Accounts:  accountRepo,
			Verifier:  gatewayClient,
			JWT:       jwtManager,
			Logger:    log,
			Operators: cfg.Auth.Operators,
		})
		if err != nil {
			return nil, fmt.Errorf("auth service: %w", err)
		}
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		AuthService:    authService,
		CatalogService: catalogService,
		EscrowService:  escrowService,
		RewardsService: rewardsService,
		WalletService:  walletService,
		LedgerService:  ledgerService,
		NotifyService:  notifyService,
		Logger:         log,
		Config:         cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
