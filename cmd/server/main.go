// Command server runs the M-Pesa payment gateway API.
//
// @title           Payments Backend API
// @version         1.0
// @description     M-Pesa STK push initiation, callback reconciliation and transaction reads.
// @BasePath        /api/v1
// @schemes         http https
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/text/language"

	_ "github.com/tbourn/go-payments-backend/docs"
	"github.com/tbourn/go-payments-backend/internal/cache"
	"github.com/tbourn/go-payments-backend/internal/config"
	httpapi "github.com/tbourn/go-payments-backend/internal/http"
	"github.com/tbourn/go-payments-backend/internal/locks"
	"github.com/tbourn/go-payments-backend/internal/messaging"
	"github.com/tbourn/go-payments-backend/internal/mpesa"
	"github.com/tbourn/go-payments-backend/internal/notify"
	"github.com/tbourn/go-payments-backend/internal/observability"
	"github.com/tbourn/go-payments-backend/internal/phone"
	"github.com/tbourn/go-payments-backend/internal/repo"
	"github.com/tbourn/go-payments-backend/internal/services"
	"github.com/tbourn/go-payments-backend/internal/sysutil"
	"github.com/tbourn/go-payments-backend/internal/usage"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	logger.Info().Str("version", version).Str("mpesa_env", cfg.Mpesa.Environment).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{Version: version, Environment: cfg.Mpesa.Environment})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(repo.DBConfig{
		Driver:  cfg.DB.Driver,
		DSN:     cfg.DB.URL,
		Tracing: cfg.OTEL.Enabled,
		Debug:   cfg.DB.Debug,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("driver", cfg.DB.Driver).Msg("database migrated")

	// Redis backs the cross-process lock and notifications when configured.
	var (
		locker    services.Locker    = locks.NewLocal()
		publisher services.Publisher = notify.LogPublisher{Log: logger.With().Str("component", "notify").Logger()}
	)
	rcfg := cache.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, UseTLS: cfg.Redis.TLS}
	if rcfg.Enabled() {
		rdb := cache.New(rcfg, logger)
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed closing redis")
			}
		}()
		if err := rdb.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis ping failed")
		}
		locker = locks.NewRedis(rdb.Client(), cfg.Redis.LockTTL, 0, logger)
		publisher = notify.NewRedisPublisher(rdb.Client(), logger)
	}

	mcfg := mpesa.Config{
		Environment:       cfg.Mpesa.Environment,
		BaseURL:           cfg.Mpesa.BaseURL,
		ConsumerKey:       cfg.Mpesa.ConsumerKey,
		ConsumerSecret:    cfg.Mpesa.ConsumerSecret,
		ShortCode:         cfg.Mpesa.ShortCode,
		PassKey:           cfg.Mpesa.PassKey,
		CallbackURL:       cfg.Mpesa.CallbackURL,
		TransactionType:   cfg.Mpesa.TransactionType,
		Timeout:           cfg.Mpesa.Timeout,
		TokenSafetyMargin: cfg.Mpesa.TokenSafetyMargin,
	}
	if !cfg.Mpesa.Ready() {
		logger.Warn().Msg("mpesa credentials incomplete; stk push will fail until configured")
	}
	hc := &http.Client{Timeout: cfg.Mpesa.Timeout}
	mlog := logger.With().Str("component", "mpesa").Logger()
	gateway := mpesa.New(mcfg, mpesa.NewTokenSource(mcfg, hc, mlog), hc, mlog)

	effects := &services.Effects{
		Usage:     usage.NewMeter(db),
		Publisher: publisher,
		Log:       logger.With().Str("component", "effects").Logger(),
	}
	normalizer := phone.Normalizer{CountryCode: cfg.Mpesa.CountryCode}

	locale, err := language.Parse(cfg.Messaging.PromptLocale)
	if err != nil {
		logger.Warn().Err(err).Str("locale", cfg.Messaging.PromptLocale).Msg("invalid PROMPT_LOCALE, using English")
		locale = language.English
	}
	payments := &services.PaymentService{
		DB:             db,
		Gateway:        gateway,
		Phone:          normalizer,
		Effects:        effects,
		Log:            logger.With().Str("component", "payments").Logger(),
		Expiry:         cfg.Mpesa.STKExpiry,
		IdempotencyTTL: cfg.IdempotencyTTL,
		PromptLocale:   locale,
	}
	reconciler := &services.Reconciler{
		DB:      db,
		Locker:  locker,
		Effects: effects,
		Phone:   normalizer,
		Log:     logger.With().Str("component", "reconciler").Logger(),
	}

	senders := map[messaging.Platform]messaging.Sender{}
	if cfg.Messaging.WhatsAppToken != "" && cfg.Messaging.WhatsAppPhoneNumberID != "" {
		senders[messaging.PlatformWhatsApp] = messaging.NewWhatsApp(messaging.WhatsAppConfig{
			AccessToken:   cfg.Messaging.WhatsAppToken,
			PhoneNumberID: cfg.Messaging.WhatsAppPhoneNumberID,
			BaseURL:       cfg.Messaging.GraphBaseURL,
		}, nil)
	}
	if cfg.Messaging.FacebookPageToken != "" {
		senders[messaging.PlatformFacebook] = messaging.NewFacebook(messaging.FacebookConfig{
			PageAccessToken: cfg.Messaging.FacebookPageToken,
			BaseURL:         cfg.Messaging.GraphBaseURL,
		}, nil)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        db,
		Payments:  payments,
		Callbacks: reconciler,
		Senders:   messaging.NewRouter(senders),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("callback", httpapi.CallbackPath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
