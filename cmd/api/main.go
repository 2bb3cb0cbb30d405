package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/app"
	"github.com/telemedika/televisit/internal/config"
	"github.com/telemedika/televisit/internal/controller/httpapi"
	"github.com/telemedika/televisit/internal/events"
	"github.com/telemedika/televisit/internal/payment"
	"github.com/telemedika/televisit/internal/repository"
	"github.com/telemedika/televisit/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("Failed to create connection pool", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	// Репозитории
	userRepo := repository.NewUserRepository(pool)
	slotRepo := repository.NewSlotRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)

	// Внешние коллабораторы
	var gateway payment.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeAPIKey, cfg.PaymentCurrency, logger)
	} else {
		logger.Warn("STRIPE_API_KEY is not set, using nop payment gateway")
		gateway = &payment.NopGateway{Currency: cfg.PaymentCurrency}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = rabbit
	} else {
		logger.Warn("AMQP_URL is not set, events will not be published")
	}

	// Сервисы
	scheduleService := service.NewScheduleService(slotRepo, userRepo, logger)
	bookingService := service.NewBookingService(
		slotRepo, bookingRepo, userRepo,
		gateway, publisher,
		cfg.ReservationTTL, logger,
	)

	// Фоновый свип: отзыв просроченных резерваций и expiry прошедших слотов
	sweeper := app.NewSweeper(bookingService, cfg.SweepInterval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// HTTP
	auth := httpapi.NewAuthenticator(cfg.JWTSecret)
	slotHandler := httpapi.NewSlotHandler(scheduleService, logger)
	bookingHandler := httpapi.NewBookingHandler(bookingService, logger)
	webhookHandler := httpapi.NewWebhookHandler(bookingService, cfg.StripeWebhookSecret, logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(auth, slotHandler, bookingHandler, webhookHandler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("environment", cfg.Environment))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
