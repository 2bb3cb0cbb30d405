package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/service"
)

// Sweeper управляет фоновыми задачами обслуживания слотов:
// отзыв просроченных резерваций и перевод прошедших available слотов в expired
type Sweeper struct {
	bookingService *service.BookingService
	interval       time.Duration
	logger         *zap.Logger
	stopChan       chan struct{}
}

// NewSweeper создаёт новый свипер
func NewSweeper(bookingService *service.BookingService, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		bookingService: bookingService,
		interval:       interval,
		logger:         logger,
		stopChan:       make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting background sweeper", zap.Duration("interval", s.interval))

	go s.run(ctx)
}

// Stop останавливает фоновые задачи
func (s *Sweeper) Stop() {
	s.logger.Info("Stopping background sweeper")
	close(s.stopChan)
}

func (s *Sweeper) run(ctx context.Context) {
	// Первый запуск сразу при старте
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("Sweep task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Sweep task cancelled")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.bookingService.ReclaimStaleReservations(ctx); err != nil {
		s.logger.Error("Failed to reclaim stale reservations", zap.Error(err))
	}

	if _, err := s.bookingService.ExpirePastSlots(ctx); err != nil {
		s.logger.Error("Failed to expire past slots", zap.Error(err))
	}
}
