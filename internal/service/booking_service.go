package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/events"
	"github.com/telemedika/televisit/internal/model"
	"github.com/telemedika/televisit/internal/payment"
	"github.com/telemedika/televisit/internal/repository"
)

// BookingService координирует резервацию слотов и жизненный цикл бронирований
type BookingService struct {
	slotRepo       SlotStore
	bookingRepo    BookingStore
	userRepo       UserStore
	gateway        payment.Gateway
	publisher      events.Publisher
	reservationTTL time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewBookingService(
	slotRepo SlotStore,
	bookingRepo BookingStore,
	userRepo UserStore,
	gateway payment.Gateway,
	publisher events.Publisher,
	reservationTTL time.Duration,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		slotRepo:       slotRepo,
		bookingRepo:    bookingRepo,
		userRepo:       userRepo,
		gateway:        gateway,
		publisher:      publisher,
		reservationTTL: reservationTTL,
		logger:         logger,
		now:            time.Now,
	}
}

// Reserve атомарно резервирует слот за пациентом и создаёт pending бронирование.
// Из N конкурентных вызовов на один слот ровно один получает резервацию,
// остальные - ErrSlotUnavailable. Резервация удерживается до подтверждения
// платежа, но не дольше reservationTTL.
func (s *BookingService) Reserve(ctx context.Context, slotID, patientID int64) (*model.Booking, *payment.Order, error) {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		return nil, nil, fmt.Errorf("get slot: %w", err)
	}

	if slot == nil {
		return nil, nil, ErrSlotNotFound
	}

	doctor, err := s.userRepo.GetByID(ctx, slot.OwnerID)
	if err != nil {
		return nil, nil, fmt.Errorf("get doctor: %w", err)
	}

	if doctor == nil {
		return nil, nil, ErrDoctorNotFound
	}

	// Единственная точка защиты от двойного бронирования:
	// условный UPDATE на уровне хранилища
	ok, err := s.slotRepo.Reserve(ctx, slotID, patientID, s.now())
	if err != nil {
		return nil, nil, fmt.Errorf("reserve slot: %w", err)
	}

	if !ok {
		return nil, nil, ErrSlotUnavailable
	}

	booking := &model.Booking{
		SlotID:      slotID,
		PatientID:   patientID,
		DoctorID:    slot.OwnerID,
		Status:      model.BookingStatusPending,
		AmountCents: doctor.ConsultationFeeCents,
	}

	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		s.release(ctx, slotID, patientID)
		// Активная бронь предыдущего пациента ещё не отменена свипом
		if errors.Is(err, repository.ErrDuplicateActiveBooking) {
			return nil, nil, ErrSlotUnavailable
		}
		return nil, nil, fmt.Errorf("create booking: %w", err)
	}

	order, err := s.gateway.CreateOrder(ctx, booking)
	if err != nil {
		// Платёжный ордер не создан - снимаем резервацию целиком
		if _, cancelErr := s.bookingRepo.UpdateStatusIf(ctx, booking.ID, model.BookingStatusPending, model.BookingStatusCancelled); cancelErr != nil {
			s.logger.Error("Failed to cancel booking after payment order failure",
				zap.Int64("booking_id", booking.ID),
				zap.Error(cancelErr))
		}
		s.release(ctx, slotID, patientID)
		return nil, nil, fmt.Errorf("create payment order: %w", err)
	}

	booking.PaymentRef = order.Ref
	if err := s.bookingRepo.SetPaymentRef(ctx, booking.ID, order.Ref); err != nil {
		s.logger.Error("Failed to store payment ref",
			zap.Int64("booking_id", booking.ID),
			zap.Error(err))
	}

	s.logger.Info("Slot reserved",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("slot_id", slotID),
		zap.Int64("patient_id", patientID),
		zap.String("payment_ref", order.Ref),
	)

	s.publish(ctx, events.TypeBookingCreated, booking)

	booking.Slot = slot
	return booking, order, nil
}

// Confirm подтверждает бронирование после успешного платежа.
// Переход требует, чтобы слот всё ещё был reserved тем же пациентом -
// иначе резервация устарела (отозвана по таймауту) и это ErrStaleReservation.
func (s *BookingService) Confirm(ctx context.Context, bookingID int64) error {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("get booking: %w", err)
	}

	if booking == nil {
		return ErrBookingNotFound
	}

	// Повторный webhook по уже подтверждённой брони - no-op,
	// но дотягиваем слот до booked, если прошлое подтверждение оборвалось
	if booking.Status == model.BookingStatusConfirmed {
		if _, err := s.slotRepo.ConfirmBooked(ctx, booking.SlotID, booking.PatientID); err != nil {
			s.logger.Error("Failed to settle slot on repeated confirm",
				zap.Int64("slot_id", booking.SlotID),
				zap.Error(err))
		}
		return nil
	}

	if booking.Status != model.BookingStatusPending {
		return ErrStaleReservation
	}

	ok, err := s.slotRepo.ConfirmBooked(ctx, booking.SlotID, booking.PatientID)
	if err != nil {
		return fmt.Errorf("confirm slot: %w", err)
	}

	if !ok {
		return ErrStaleReservation
	}

	changed, err := s.bookingRepo.UpdateStatusIf(ctx, bookingID, model.BookingStatusPending, model.BookingStatusConfirmed)
	if err != nil {
		// Подтверждение оборвалось - возвращаем слот в reserved,
		// retry вебхука доведёт переход, иначе сработает таймаут резервации
		s.revertBooked(ctx, booking.SlotID)
		return fmt.Errorf("confirm booking: %w", err)
	}

	// Между двумя CAS бронь успела отмениться - слот уже booked, откатываем
	if !changed {
		s.freeBooked(ctx, booking.SlotID)
		return ErrStaleReservation
	}

	s.logger.Info("Booking confirmed",
		zap.Int64("booking_id", bookingID),
		zap.Int64("slot_id", booking.SlotID),
	)

	booking.Status = model.BookingStatusConfirmed
	s.publish(ctx, events.TypeBookingConfirmed, booking)

	return nil
}

// CancelReservation отменяет pending бронирование после неуспешного платежа.
// Идемпотентна: повторный вызов по уже отменённой брони - no-op.
func (s *BookingService) CancelReservation(ctx context.Context, bookingID int64) error {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("get booking: %w", err)
	}

	if booking == nil {
		return ErrBookingNotFound
	}

	if booking.Status == model.BookingStatusCancelled {
		return nil
	}

	if booking.Status != model.BookingStatusPending {
		return ErrStaleReservation
	}

	changed, err := s.bookingRepo.UpdateStatusIf(ctx, bookingID, model.BookingStatusPending, model.BookingStatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}

	if changed {
		s.release(ctx, booking.SlotID, booking.PatientID)
		booking.Status = model.BookingStatusCancelled
		s.publish(ctx, events.TypeBookingCancelled, booking)

		s.logger.Info("Reservation cancelled",
			zap.Int64("booking_id", bookingID),
			zap.Int64("slot_id", booking.SlotID),
		)
	}

	return nil
}

// CancelBooking отменяет бронирование по запросу пациента или врача.
// Подтверждённая бронь освобождает слот, если приём ещё не начался.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, userID int64) error {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("get booking: %w", err)
	}

	if booking == nil {
		return ErrBookingNotFound
	}

	if booking.PatientID != userID && booking.DoctorID != userID {
		return ErrNotPermitted
	}

	switch booking.Status {
	case model.BookingStatusPending:
		return s.CancelReservation(ctx, bookingID)

	case model.BookingStatusConfirmed:
		changed, err := s.bookingRepo.UpdateStatusIf(ctx, bookingID, model.BookingStatusConfirmed, model.BookingStatusCancelled)
		if err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
		if !changed {
			return ErrBookingNotActive
		}

		slot, err := s.slotRepo.GetByID(ctx, booking.SlotID)
		if err != nil {
			return fmt.Errorf("get slot: %w", err)
		}
		if slot != nil && slot.StartTime.After(s.now()) {
			if _, err := s.slotRepo.FreeBooked(ctx, booking.SlotID); err != nil {
				s.logger.Error("Failed to free slot after cancellation",
					zap.Int64("slot_id", booking.SlotID),
					zap.Error(err))
			}
		}

		booking.Status = model.BookingStatusCancelled
		s.publish(ctx, events.TypeBookingCancelled, booking)

		s.logger.Info("Booking cancelled",
			zap.Int64("booking_id", bookingID),
			zap.Int64("user_id", userID),
		)

		return nil

	default:
		return ErrBookingNotActive
	}
}

// CompleteBooking помечает приём завершённым. Только для врача бронирования.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, doctorID int64) error {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("get booking: %w", err)
	}

	if booking == nil {
		return ErrBookingNotFound
	}

	if booking.DoctorID != doctorID {
		return ErrNotPermitted
	}

	changed, err := s.bookingRepo.UpdateStatusIf(ctx, bookingID, model.BookingStatusConfirmed, model.BookingStatusCompleted)
	if err != nil {
		return fmt.Errorf("complete booking: %w", err)
	}

	if !changed {
		return ErrBookingNotActive
	}

	s.logger.Info("Booking completed",
		zap.Int64("booking_id", bookingID),
		zap.Int64("doctor_id", doctorID),
	)

	return nil
}

// ReclaimStaleReservations возвращает в available резервации,
// не подтверждённые в течение reservationTTL, и отменяет их pending брони.
// Сначала отменяются брони, затем освобождаются слоты: в обратном порядке
// новая резервация освободившегося слота упёрлась бы в ещё живую бронь.
// Условие на status и reserved_at в хранилище гарантирует, что
// подтверждённая в интервале бронь отозвана не будет.
func (s *BookingService) ReclaimStaleReservations(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.reservationTTL)

	slotIDs, err := s.slotRepo.StaleReservedIDs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale reservations: %w", err)
	}

	if len(slotIDs) == 0 {
		return 0, nil
	}

	cancelled, err := s.bookingRepo.CancelPendingBySlotIDs(ctx, slotIDs)
	if err != nil {
		return 0, fmt.Errorf("cancel pending bookings: %w", err)
	}

	reclaimed, err := s.slotRepo.ReclaimStale(ctx, slotIDs)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale reservations: %w", err)
	}

	s.logger.Info("Stale reservations reclaimed",
		zap.Int64("slots", reclaimed),
		zap.Int64("bookings_cancelled", cancelled),
	)

	return int(reclaimed), nil
}

// ExpirePastSlots переводит available слоты с прошедшим началом в expired
func (s *BookingService) ExpirePastSlots(ctx context.Context) (int64, error) {
	expired, err := s.slotRepo.ExpirePast(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire past slots: %w", err)
	}

	if expired > 0 {
		s.logger.Info("Past slots expired", zap.Int64("count", expired))
	}

	return expired, nil
}

// GetBooking получает бронирование, доступное пользователю
func (s *BookingService) GetBooking(ctx context.Context, bookingID, userID int64) (*model.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	if booking == nil {
		return nil, ErrBookingNotFound
	}

	if booking.PatientID != userID && booking.DoctorID != userID {
		return nil, ErrNotPermitted
	}

	return booking, nil
}

// GetPatientBookings получает все бронирования пациента
func (s *BookingService) GetPatientBookings(ctx context.Context, patientID int64) ([]*model.Booking, error) {
	return s.bookingRepo.GetByPatientID(ctx, patientID)
}

// GetDoctorBookings получает все бронирования врача
func (s *BookingService) GetDoctorBookings(ctx context.Context, doctorID int64) ([]*model.Booking, error) {
	return s.bookingRepo.GetByDoctorID(ctx, doctorID)
}

// freeBooked возвращает booked слот в available, логируя неуспех -
// используется когда бронь отменилась между двумя CAS шагами Confirm
func (s *BookingService) freeBooked(ctx context.Context, slotID int64) {
	ok, err := s.slotRepo.FreeBooked(ctx, slotID)
	if err != nil {
		s.logger.Error("Failed to free slot after losing confirm race",
			zap.Int64("slot_id", slotID),
			zap.Error(err))
		return
	}
	if !ok {
		s.logger.Warn("Slot was not in booked state on rollback",
			zap.Int64("slot_id", slotID))
	}
}

// revertBooked возвращает слот из booked в reserved после сбоя
// на втором CAS шаге Confirm - резервация остаётся за пациентом
func (s *BookingService) revertBooked(ctx context.Context, slotID int64) {
	ok, err := s.slotRepo.RevertBooked(ctx, slotID)
	if err != nil {
		s.logger.Error("Failed to revert slot after confirm failure",
			zap.Int64("slot_id", slotID),
			zap.Error(err))
		return
	}
	if !ok {
		s.logger.Warn("Slot was not in booked state on revert",
			zap.Int64("slot_id", slotID))
	}
}

// release снимает резервацию, логируя неуспех вместо возврата ошибки -
// используется в компенсационных ветках
func (s *BookingService) release(ctx context.Context, slotID, patientID int64) {
	ok, err := s.slotRepo.Release(ctx, slotID, patientID)
	if err != nil {
		s.logger.Error("Failed to release slot",
			zap.Int64("slot_id", slotID),
			zap.Error(err))
		return
	}
	if !ok {
		s.logger.Warn("Slot was not in reserved state on release",
			zap.Int64("slot_id", slotID))
	}
}

// publish отправляет событие, не прерывая основную операцию при ошибке брокера
func (s *BookingService) publish(ctx context.Context, eventType string, booking *model.Booking) {
	event := events.BookingEvent{
		BookingID: booking.ID,
		SlotID:    booking.SlotID,
		PatientID: booking.PatientID,
		DoctorID:  booking.DoctorID,
		Status:    string(booking.Status),
	}

	if err := s.publisher.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("type", eventType),
			zap.Int64("booking_id", booking.ID),
			zap.Error(err))
	}
}
