// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lms-payments/internal/config"
	"lms-payments/internal/domain/ports/adapter"
	payAdapters "lms-payments/internal/infra/adapters/payment"
	"lms-payments/internal/infra/api"
	pg "lms-payments/internal/infra/db/postgres"
	"lms-payments/internal/infra/logging"
	"lms-payments/internal/infra/metrics"
	"lms-payments/internal/infra/rabbitmq"
	red "lms-payments/internal/infra/redis"
	"lms-payments/internal/infra/sched"
	"lms-payments/internal/infra/worker"
	"lms-payments/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, sandbox gateway fallback)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	var (
		limiter adapter.RateLimiter
		locker  adapter.Locker
	)
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	switch {
	case err == nil:
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
		locker = red.NewLocker(redisClient)
	case cfg.Runtime.Dev:
		logger.Warn().Err(err).Msg("redis unavailable; discount throttling and sweep locks disabled")
	default:
		logger.Fatal().Err(err).Msg("redis")
	}

	// ---- RabbitMQ ----
	var events adapter.EventPublisher = rabbitmq.NoopPublisher{Log: logger}
	if cfg.RabbitMQ.URL != "" {
		producer, err := rabbitmq.NewProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable; domain events will be dropped")
		} else {
			defer producer.Close()
			events = producer
		}
	}
	publishPool := worker.NewPool(cfg.RabbitMQ.PublishWorkers, cfg.RabbitMQ.PublishQueue, logger)
	publishPool.Start(context.Background())
	events = worker.NewAsyncPublisher(events, publishPool, cfg.Payment.GatewayTimeout, logger)

	// ---- Gateways ----
	registry := buildRegistry(cfg, logger)

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	discountRepo := pg.NewDiscountRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	webhookRepo := pg.NewWebhookEventRepo(pool)
	invoiceRepo := pg.NewInvoiceRepo(pool)

	// ---- Use cases ----
	discountUC := usecase.NewDiscountUseCase(discountRepo, tm, limiter, cfg.Discount, logger)
	invoiceUC := usecase.NewInvoiceUseCase(invoiceRepo, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, webhookRepo, discountUC, invoiceUC, registry, tm, events, cfg.Payment, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, paymentUC, tm, events, cfg.Payment.DefaultCurrency, cfg.Scheduler, logger)

	// ---- Scheduler ----
	stats := func() (int32, int32, int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	}
	scheduler := sched.New(subUC, locker, cfg.Scheduler, stats, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("scheduler")
	}

	// ---- HTTP ----
	auth := api.NewAdminAuth(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenTTL)
	handler := api.NewHandler(paymentUC, subUC, discountUC, invoiceUC, logger)
	server := api.NewServer(cfg.HTTP.Port, api.NewRouter(handler, auth, cfg.HTTP, logger), logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("sweep still running at shutdown")
	}
	publishPool.Stop()
	logger.Info().Msg("bye")
}

// buildRegistry registers every configured provider. In dev mode, or when the
// sandbox is enabled, the sandbox serves methods whose provider is missing.
func buildRegistry(cfg *config.Config, logger *zerolog.Logger) *payAdapters.Registry {
	registry := payAdapters.NewRegistry()
	pc := cfg.Payment

	if pc.Stripe.APIKey != "" {
		gw, err := payAdapters.NewStripeGateway(pc.Stripe.APIKey, pc.Stripe.WebhookSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
		registry.Register(gw)
	}
	if pc.PayPal.ClientID != "" {
		gw, err := payAdapters.NewPayPalGateway(pc.PayPal.ClientID, pc.PayPal.ClientSecret, pc.PayPal.Mode, pc.PayPal.WebhookID, pc.PayPal.ReturnURL, pc.PayPal.CancelURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("paypal gateway")
		}
		registry.Register(gw)
	}
	if pc.ZarinPal.MerchantID != "" {
		gw, err := payAdapters.NewZarinPalGateway(pc.ZarinPal.MerchantID, pc.ZarinPal.CallbackURL, pc.ZarinPal.Sandbox)
		if err != nil {
			logger.Fatal().Err(err).Msg("zarinpal gateway")
		}
		gw.SetRefundAuth(pc.ZarinPal.AccessToken, "")
		registry.Register(gw)
	}
	if cfg.Runtime.Dev {
		secret := pc.Sandbox.WebhookSecret
		if secret == "" {
			secret = "sandbox-dev-secret"
		}
		sbx := payAdapters.NewSandboxGateway(secret)
		registry.Register(sbx)
		registry.SetFallback(sbx, logger)
	}
	logger.Info().Strs("gateways", registry.Names()).Msg("payment gateways registered")
	return registry
}
