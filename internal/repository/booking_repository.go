package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemedika/televisit/internal/model"
	"github.com/telemedika/televisit/internal/repository/base"
)

const bookingColumns = `id, slot_id, patient_id, doctor_id, status, amount_cents, payment_ref, created_at, updated_at`

// ErrDuplicateActiveBooking нарушение частичного уникального индекса:
// у слота уже есть pending или confirmed бронь
var ErrDuplicateActiveBooking = errors.New("slot already has an active booking")

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(pool)}
}

func scanBooking(row pgx.Row, booking *model.Booking) error {
	return row.Scan(
		&booking.ID,
		&booking.SlotID,
		&booking.PatientID,
		&booking.DoctorID,
		&booking.Status,
		&booking.AmountCents,
		&booking.PaymentRef,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
}

func scanBookings(rows pgx.Rows) ([]*model.Booking, error) {
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		var booking model.Booking
		if err := scanBooking(rows, &booking); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, &booking)
	}
	return bookings, rows.Err()
}

// Create создаёт новое бронирование.
// Частичный уникальный индекс по slot_id не допускает второй активной брони на слот.
func (r *BookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (slot_id, patient_id, doctor_id, status, amount_cents, payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.DB().QueryRow(
		ctx, query,
		booking.SlotID,
		booking.PatientID,
		booking.DoctorID,
		booking.Status,
		booking.AmountCents,
		booking.PaymentRef,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return ErrDuplicateActiveBooking
		}
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	var booking model.Booking
	err := scanBooking(r.DB().QueryRow(ctx, query, id), &booking)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return &booking, nil
}

// GetActiveBySlotID получает активное (pending или confirmed) бронирование слота
func (r *BookingRepository) GetActiveBySlotID(ctx context.Context, slotID int64) (*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
		LIMIT 1
	`

	var booking model.Booking
	err := scanBooking(r.DB().QueryRow(ctx, query, slotID), &booking)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by slot: %w", err)
	}

	return &booking, nil
}

// GetByPatientID получает все бронирования пациента
func (r *BookingRepository) GetByPatientID(ctx context.Context, patientID int64) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.DB().Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("get bookings by patient: %w", err)
	}

	return scanBookings(rows)
}

// GetByDoctorID получает все бронирования врача
func (r *BookingRepository) GetByDoctorID(ctx context.Context, doctorID int64) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE doctor_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.DB().Query(ctx, query, doctorID)
	if err != nil {
		return nil, fmt.Errorf("get bookings by doctor: %w", err)
	}

	return scanBookings(rows)
}

// UpdateStatusIf условно обновляет статус бронирования.
// Возвращает false если текущий статус не совпал с ожидаемым.
func (r *BookingRepository) UpdateStatusIf(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	affected, err := r.ExecAffected(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}

	return affected == 1, nil
}

// SetPaymentRef сохраняет идентификатор платёжного ордера
func (r *BookingRepository) SetPaymentRef(ctx context.Context, id int64, ref string) error {
	query := `
		UPDATE bookings
		SET payment_ref = $1, updated_at = now()
		WHERE id = $2
	`

	affected, err := r.ExecAffected(ctx, query, ref, id)
	if err != nil {
		return fmt.Errorf("set payment ref: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// CancelPendingBySlotIDs отменяет pending бронирования по списку слотов.
// Используется свипом отзыва просроченных резерваций.
func (r *BookingRepository) CancelPendingBySlotIDs(ctx context.Context, slotIDs []int64) (int64, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE bookings
		SET status = 'cancelled', updated_at = now()
		WHERE slot_id = ANY($1) AND status = 'pending'
	`

	affected, err := r.ExecAffected(ctx, query, slotIDs)
	if err != nil {
		return 0, fmt.Errorf("cancel pending bookings: %w", err)
	}

	return affected, nil
}
