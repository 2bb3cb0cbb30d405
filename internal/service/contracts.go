package service

import (
	"context"
	"time"

	"github.com/telemedika/televisit/internal/model"
)

// SlotStore персистентное хранилище слотов.
// Reserve, ConfirmBooked, Release и ReclaimStale обязаны быть атомарными
// условными обновлениями на уровне хранилища - это единственная защита
// от двойного бронирования при нескольких инстансах сервера.
type SlotStore interface {
	CreateBatch(ctx context.Context, slots []*model.Slot) error
	GetByID(ctx context.Context, id int64) (*model.Slot, error)
	GetActiveInRange(ctx context.Context, ownerID int64, from, to time.Time) ([]*model.Slot, error)
	GetAvailable(ctx context.Context, ownerID int64, from, to time.Time) ([]*model.Slot, error)
	Reserve(ctx context.Context, slotID, patientID int64, now time.Time) (bool, error)
	ConfirmBooked(ctx context.Context, slotID, patientID int64) (bool, error)
	Release(ctx context.Context, slotID, patientID int64) (bool, error)
	FreeBooked(ctx context.Context, slotID int64) (bool, error)
	RevertBooked(ctx context.Context, slotID int64) (bool, error)
	StaleReservedIDs(ctx context.Context, cutoff time.Time) ([]int64, error)
	ReclaimStale(ctx context.Context, slotIDs []int64) (int64, error)
	ExpirePast(ctx context.Context, now time.Time) (int64, error)
	Cancel(ctx context.Context, slotID, ownerID int64) (bool, error)
}

// BookingStore персистентное хранилище бронирований
type BookingStore interface {
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	GetActiveBySlotID(ctx context.Context, slotID int64) (*model.Booking, error)
	GetByPatientID(ctx context.Context, patientID int64) ([]*model.Booking, error)
	GetByDoctorID(ctx context.Context, doctorID int64) ([]*model.Booking, error)
	UpdateStatusIf(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error)
	SetPaymentRef(ctx context.Context, id int64, ref string) error
	CancelPendingBySlotIDs(ctx context.Context, slotIDs []int64) (int64, error)
}

// UserStore доступ к профилям пользователей
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetDoctors(ctx context.Context) ([]*model.User, error)
}
