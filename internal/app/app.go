package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/carrier"
	"github.com/xenking/influencer-settlement/internal/domain/commission"
	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/order"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
	"github.com/xenking/influencer-settlement/internal/domain/shipping"
	"github.com/xenking/influencer-settlement/internal/handler"
	"github.com/xenking/influencer-settlement/internal/notify"
	"github.com/xenking/influencer-settlement/internal/notify/smtp"
	"github.com/xenking/influencer-settlement/internal/storage/files"
	"github.com/xenking/influencer-settlement/internal/storage/postgres"
	"github.com/xenking/influencer-settlement/internal/storage/redis"
	"github.com/xenking/influencer-settlement/pkg/health"
	"github.com/xenking/influencer-settlement/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("timezone", cfg.Timezone),
		zap.String("currency", cfg.Currency),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second), health.Optional())

	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}, health.Optional())
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Notifications.
	var sender notify.Sender = notify.NewLogSender(lg.Named("notify"))
	if cfg.SMTP.Host != "" {
		sender = smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	dispatcher := notify.NewDispatcher(sender, lg.Named("notify"), cfg.Notify.Timeout)

	// Repositories.
	discountRepo := postgres.NewDiscountRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	commissionRepo := postgres.NewCommissionRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)
	tx := postgres.NewTxManager(pool)

	// Domain services.
	discountSvc := discount.NewService(discountRepo, cfg.Location())
	codeValidator := discount.NewValidator(discountRepo)
	commissionSvc := commission.NewService(commissionRepo, orderRepo, discountRepo)

	orderOpts := []order.Option{
		order.WithNotifier(dispatcher),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	}
	if cfg.Carrier.BaseURL != "" {
		var rates shipping.RateClient = carrier.New(carrier.Config{
			BaseURL:    cfg.Carrier.BaseURL,
			APIKey:     cfg.Carrier.APIKey,
			CustomerID: cfg.Carrier.CustomerID,
			Timeout:    cfg.Carrier.Timeout,
		}, m.TracerProvider(), m.MeterProvider())
		if rdb != nil {
			rates = redis.NewRateCache(rdb, rates, cfg.Redis.RateTTL)
		}
		orderOpts = append(orderOpts, order.WithShippingQuoter(shipping.NewQuoter(rates, shipping.QuoterConfig{
			OriginPostalCode: cfg.Carrier.OriginPostalCode,
			Product:          cfg.Carrier.Product,
			DeliveryType:     cfg.Carrier.DeliveryType,
			Package: shipping.Package{
				HeightCm: cfg.Carrier.HeightCm,
				WidthCm:  cfg.Carrier.WidthCm,
				LengthCm: cfg.Carrier.LengthCm,
			},
		})))
	} else {
		lg.Info("Carrier not configured, shipping cost will not be recorded")
	}
	orderSvc, err := order.NewService(catalogRepo, orderRepo, codeValidator, commissionSvc, tx,
		order.Config{Currency: cfg.Currency, ShippingCharge: cfg.Charge()},
		orderOpts...,
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	payoutOpts := []payout.Option{
		payout.WithNotifier(dispatcher),
		payout.WithMeterProvider(m.MeterProvider()),
		payout.WithTracerProvider(m.TracerProvider()),
	}
	if cfg.FileBaseURL != "" {
		resolver, err := files.NewBaseURLResolver(cfg.FileBaseURL)
		if err != nil {
			return errors.Wrap(err, "create file resolver")
		}
		payoutOpts = append(payoutOpts, payout.WithURLResolver(resolver))
	}
	payoutSvc, err := payout.NewService(paymentRepo, commissionRepo, profileRepo, tx, cfg.Currency, payoutOpts...)
	if err != nil {
		return errors.Wrap(err, "create payout service")
	}

	// HTTP handlers: health endpoints + API routes on one server.
	h := handler.New(discountSvc, codeValidator, orderSvc, commissionSvc, payoutSvc)
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Route("/api", h.Routes)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(lg),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.ActorKey,
				Exempt:  httpmiddleware.HealthProbe,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("settle-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			lg.Warn("Pending notifications dropped", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
