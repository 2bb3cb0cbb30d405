package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment    string
	HTTPAddr       string
	DBDSN          string
	MigrationsPath string

	JWTSecret string

	StripeAPIKey        string
	StripeWebhookSecret string
	PaymentCurrency     string

	AMQPURL string

	ReservationTTL time.Duration
	SweepInterval  time.Duration
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Environment:         os.Getenv("ENV"),
		HTTPAddr:            os.Getenv("HTTP_ADDR"),
		DBDSN:               os.Getenv("DB_DSN"),
		MigrationsPath:      os.Getenv("MIGRATIONS_PATH"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     os.Getenv("PAYMENT_CURRENCY"),
		AMQPURL:             os.Getenv("AMQP_URL"),
	}

	// Устанавливаем дефолтные значения
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}
	if cfg.PaymentCurrency == "" {
		cfg.PaymentCurrency = "usd"
	}

	ttlMinutes, err := envInt("RESERVATION_TTL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	cfg.ReservationTTL = time.Duration(ttlMinutes) * time.Minute

	sweepSeconds, err := envInt("SWEEP_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = time.Duration(sweepSeconds) * time.Second

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}

	return value, nil
}
