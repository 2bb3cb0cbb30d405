package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telemedika/televisit/internal/model"
	"github.com/telemedika/televisit/internal/payment"
	"github.com/telemedika/televisit/internal/repository"
)

// fakeSlotStore потокобезопасное in-memory хранилище слотов.
// Условные переходы повторяют семантику условных UPDATE в Postgres.
type fakeSlotStore struct {
	mu     sync.Mutex
	nextID int64
	slots  map[int64]*model.Slot

	failCreateBatch bool
}

func newFakeSlotStore() *fakeSlotStore {
	return &fakeSlotStore{nextID: 1, slots: make(map[int64]*model.Slot)}
}

func (f *fakeSlotStore) CreateBatch(_ context.Context, slots []*model.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreateBatch {
		return fmt.Errorf("storage failure")
	}

	for _, slot := range slots {
		slot.ID = f.nextID
		slot.CreatedAt = time.Now()
		f.nextID++
		copied := *slot
		f.slots[slot.ID] = &copied
	}
	return nil
}

func (f *fakeSlotStore) GetByID(_ context.Context, id int64) (*model.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[id]
	if !ok {
		return nil, nil
	}
	copied := *slot
	return &copied, nil
}

func (f *fakeSlotStore) GetActiveInRange(_ context.Context, ownerID int64, from, to time.Time) ([]*model.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*model.Slot
	for _, slot := range f.slots {
		if slot.OwnerID == ownerID && slot.Status.Active() &&
			slot.StartTime.Before(to) && slot.EndTime.After(from) {
			copied := *slot
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *fakeSlotStore) GetAvailable(_ context.Context, ownerID int64, from, to time.Time) ([]*model.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var result []*model.Slot
	for _, slot := range f.slots {
		if slot.OwnerID == ownerID && slot.Status == model.SlotStatusAvailable &&
			slot.StartTime.After(now) &&
			!slot.StartTime.Before(from) && slot.StartTime.Before(to) {
			copied := *slot
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *fakeSlotStore) Reserve(_ context.Context, slotID, patientID int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.Status != model.SlotStatusAvailable || !slot.StartTime.After(now) {
		return false, nil
	}

	slot.Status = model.SlotStatusReserved
	slot.ReservedBy = &patientID
	reservedAt := now
	slot.ReservedAt = &reservedAt
	return true, nil
}

func (f *fakeSlotStore) ConfirmBooked(_ context.Context, slotID, patientID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.Status != model.SlotStatusReserved ||
		slot.ReservedBy == nil || *slot.ReservedBy != patientID {
		return false, nil
	}

	slot.Status = model.SlotStatusBooked
	return true, nil
}

func (f *fakeSlotStore) Release(_ context.Context, slotID, patientID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.Status != model.SlotStatusReserved ||
		slot.ReservedBy == nil || *slot.ReservedBy != patientID {
		return false, nil
	}

	slot.Status = model.SlotStatusAvailable
	slot.ReservedBy = nil
	slot.ReservedAt = nil
	return true, nil
}

func (f *fakeSlotStore) FreeBooked(_ context.Context, slotID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.Status != model.SlotStatusBooked {
		return false, nil
	}

	slot.Status = model.SlotStatusAvailable
	slot.ReservedBy = nil
	slot.ReservedAt = nil
	return true, nil
}

func (f *fakeSlotStore) RevertBooked(_ context.Context, slotID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.Status != model.SlotStatusBooked {
		return false, nil
	}

	slot.Status = model.SlotStatusReserved
	return true, nil
}

func (f *fakeSlotStore) StaleReservedIDs(_ context.Context, cutoff time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int64
	for _, slot := range f.slots {
		if slot.Status == model.SlotStatusReserved &&
			slot.ReservedAt != nil && slot.ReservedAt.Before(cutoff) {
			ids = append(ids, slot.ID)
		}
	}
	return ids, nil
}

func (f *fakeSlotStore) ReclaimStale(_ context.Context, slotIDs []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, id := range slotIDs {
		slot, ok := f.slots[id]
		if !ok || slot.Status != model.SlotStatusReserved {
			continue
		}
		slot.Status = model.SlotStatusAvailable
		slot.ReservedBy = nil
		slot.ReservedAt = nil
		count++
	}
	return count, nil
}

func (f *fakeSlotStore) ExpirePast(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, slot := range f.slots {
		if slot.Status == model.SlotStatusAvailable && !slot.StartTime.After(now) {
			slot.Status = model.SlotStatusExpired
			count++
		}
	}
	return count, nil
}

func (f *fakeSlotStore) Cancel(_ context.Context, slotID, ownerID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok || slot.OwnerID != ownerID || slot.Status != model.SlotStatusAvailable {
		return false, nil
	}

	slot.Status = model.SlotStatusCancelled
	return true, nil
}

// add кладёт слот в хранилище напрямую, минуя генератор
func (f *fakeSlotStore) add(slot *model.Slot) *model.Slot {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot.ID = f.nextID
	f.nextID++
	copied := *slot
	f.slots[slot.ID] = &copied
	return slot
}

func (f *fakeSlotStore) status(id int64) model.SlotStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[id].Status
}

type fakeBookingStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]*model.Booking

	failCreate bool
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{nextID: 1, bookings: make(map[int64]*model.Booking)}
}

func (f *fakeBookingStore) Create(_ context.Context, booking *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate {
		return fmt.Errorf("storage failure")
	}

	// частичный уникальный индекс: одна активная бронь на слот
	for _, existing := range f.bookings {
		if existing.SlotID == booking.SlotID &&
			(existing.Status == model.BookingStatusPending || existing.Status == model.BookingStatusConfirmed) {
			return repository.ErrDuplicateActiveBooking
		}
	}

	booking.ID = f.nextID
	f.nextID++
	booking.CreatedAt = time.Now()
	booking.UpdatedAt = booking.CreatedAt
	copied := *booking
	f.bookings[booking.ID] = &copied
	return nil
}

func (f *fakeBookingStore) GetByID(_ context.Context, id int64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	booking, ok := f.bookings[id]
	if !ok {
		return nil, nil
	}
	copied := *booking
	return &copied, nil
}

func (f *fakeBookingStore) GetActiveBySlotID(_ context.Context, slotID int64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, booking := range f.bookings {
		if booking.SlotID == slotID &&
			(booking.Status == model.BookingStatusPending || booking.Status == model.BookingStatusConfirmed) {
			copied := *booking
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingStore) GetByPatientID(_ context.Context, patientID int64) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*model.Booking
	for _, booking := range f.bookings {
		if booking.PatientID == patientID {
			copied := *booking
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *fakeBookingStore) GetByDoctorID(_ context.Context, doctorID int64) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*model.Booking
	for _, booking := range f.bookings {
		if booking.DoctorID == doctorID {
			copied := *booking
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *fakeBookingStore) UpdateStatusIf(_ context.Context, id int64, from, to model.BookingStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	booking, ok := f.bookings[id]
	if !ok || booking.Status != from {
		return false, nil
	}
	booking.Status = to
	booking.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeBookingStore) SetPaymentRef(_ context.Context, id int64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	booking, ok := f.bookings[id]
	if !ok {
		return fmt.Errorf("booking not found")
	}
	booking.PaymentRef = ref
	return nil
}

func (f *fakeBookingStore) CancelPendingBySlotIDs(_ context.Context, slotIDs []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := make(map[int64]bool, len(slotIDs))
	for _, id := range slotIDs {
		wanted[id] = true
	}

	var count int64
	for _, booking := range f.bookings {
		if wanted[booking.SlotID] && booking.Status == model.BookingStatusPending {
			booking.Status = model.BookingStatusCancelled
			count++
		}
	}
	return count, nil
}

func (f *fakeBookingStore) status(id int64) model.BookingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookings[id].Status
}

type fakeUserStore struct {
	users map[int64]*model.User
}

func newFakeUserStore(users ...*model.User) *fakeUserStore {
	store := &fakeUserStore{users: make(map[int64]*model.User)}
	for _, user := range users {
		store.users[user.ID] = user
	}
	return store
}

func (f *fakeUserStore) GetByID(_ context.Context, id int64) (*model.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return user, nil
}

func (f *fakeUserStore) GetDoctors(_ context.Context) ([]*model.User, error) {
	var result []*model.User
	for _, user := range f.users {
		if user.Role == model.RoleDoctor {
			result = append(result, user)
		}
	}
	return result, nil
}

// fakeGateway платёжный шлюз для тестов
type fakeGateway struct {
	mu      sync.Mutex
	fail    bool
	created []int64
}

func (f *fakeGateway) CreateOrder(_ context.Context, booking *model.Booking) (*payment.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, fmt.Errorf("gateway unreachable")
	}

	f.created = append(f.created, booking.ID)
	return &payment.Order{
		Ref:          fmt.Sprintf("pi_test_%d", booking.ID),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", booking.ID),
		AmountCents:  booking.AmountCents,
		Currency:     "usd",
	}, nil
}

// fakePublisher собирает опубликованные события
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(_ context.Context, eventType string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}
