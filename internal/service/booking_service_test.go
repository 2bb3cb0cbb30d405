package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/events"
	"github.com/telemedika/televisit/internal/model"
)

type bookingFixture struct {
	svc       *BookingService
	slots     *fakeSlotStore
	bookings  *fakeBookingStore
	users     *fakeUserStore
	gateway   *fakeGateway
	publisher *fakePublisher
	now       time.Time
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()

	fx := &bookingFixture{
		slots:     newFakeSlotStore(),
		bookings:  newFakeBookingStore(),
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	fx.users = newFakeUserStore(
		testDoctor(),
		&model.User{ID: 100, Role: model.RolePatient, FullName: "Patient A", Email: "a@example.com"},
		&model.User{ID: 101, Role: model.RolePatient, FullName: "Patient B", Email: "b@example.com"},
	)

	fx.svc = NewBookingService(
		fx.slots, fx.bookings, fx.users,
		fx.gateway, fx.publisher,
		15*time.Minute, zap.NewNop(),
	)
	fx.svc.now = func() time.Time { return fx.now }

	return fx
}

// availableSlot создаёт доступный слот врача через час после now
func (fx *bookingFixture) availableSlot() *model.Slot {
	return fx.slots.add(&model.Slot{
		OwnerID:         7,
		StartTime:       fx.now.Add(time.Hour),
		EndTime:         fx.now.Add(time.Hour + 20*time.Minute),
		DurationMinutes: 20,
		Status:          model.SlotStatusAvailable,
	})
}

func TestReserve_Success(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, order, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	assert.Equal(t, model.BookingStatusPending, booking.Status)
	assert.Equal(t, slot.ID, booking.SlotID)
	assert.Equal(t, int64(100), booking.PatientID)
	assert.Equal(t, int64(7), booking.DoctorID)
	assert.Equal(t, int64(5000), booking.AmountCents)

	require.NotNil(t, order)
	assert.NotEmpty(t, order.Ref)
	assert.Equal(t, order.Ref, booking.PaymentRef)

	assert.Equal(t, model.SlotStatusReserved, fx.slots.status(slot.ID))
	assert.Equal(t, []string{events.TypeBookingCreated}, fx.publisher.types())
}

func TestReserve_SlotNotFound(t *testing.T) {
	fx := newBookingFixture(t)

	_, _, err := fx.svc.Reserve(context.Background(), 42, 100)
	require.ErrorIs(t, err, ErrSlotNotFound)
}

func TestReserve_SlotAlreadyTaken(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	_, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	_, _, err = fx.svc.Reserve(context.Background(), slot.ID, 101)
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestReserve_SlotInThePast(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.slots.add(&model.Slot{
		OwnerID:         7,
		StartTime:       fx.now.Add(-time.Hour),
		EndTime:         fx.now.Add(-40 * time.Minute),
		DurationMinutes: 20,
		Status:          model.SlotStatusAvailable,
	})

	_, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

// Из N конкурентных попыток резервации один слот достаётся ровно одному пациенту
func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	const attempts = 50

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(patientID int64) {
			defer wg.Done()

			_, _, err := fx.svc.Reserve(context.Background(), slot.ID, patientID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrSlotUnavailable):
				unavailable++
			}
		}(int64(1000 + i))
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, unavailable)
}

func TestReserve_GatewayFailureReleasesSlot(t *testing.T) {
	fx := newBookingFixture(t)
	fx.gateway.fail = true
	slot := fx.availableSlot()

	_, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.Error(t, err)

	// Слот возвращён в available, бронь отменена
	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))

	booking, err := fx.bookings.GetActiveBySlotID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Nil(t, booking)

	// После сбоя слот снова можно резервировать
	fx.gateway.fail = false
	_, _, err = fx.svc.Reserve(context.Background(), slot.ID, 101)
	require.NoError(t, err)
}

func TestConfirm_Success(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Confirm(context.Background(), booking.ID))

	assert.Equal(t, model.SlotStatusBooked, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusConfirmed, fx.bookings.status(booking.ID))
	assert.Equal(t, []string{events.TypeBookingCreated, events.TypeBookingConfirmed}, fx.publisher.types())
}

func TestConfirm_IdempotentOnRepeatedWebhook(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Confirm(context.Background(), booking.ID))
	require.NoError(t, fx.svc.Confirm(context.Background(), booking.ID))

	assert.Equal(t, model.BookingStatusConfirmed, fx.bookings.status(booking.ID))
}

func TestConfirm_UnknownBooking(t *testing.T) {
	fx := newBookingFixture(t)

	err := fx.svc.Confirm(context.Background(), 42)
	require.ErrorIs(t, err, ErrBookingNotFound)
}

func TestCancelReservation_FreesSlot(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	require.NoError(t, fx.svc.CancelReservation(context.Background(), booking.ID))

	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusCancelled, fx.bookings.status(booking.ID))

	// Слот снова доступен другому пациенту
	_, _, err = fx.svc.Reserve(context.Background(), slot.ID, 101)
	require.NoError(t, err)
}

func TestReclaim_StaleReservationReturnsSlot(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	// Таймаут резервации истёк без подтверждения платежа
	fx.now = fx.now.Add(16 * time.Minute)

	reclaimed, err := fx.svc.ReclaimStaleReservations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusCancelled, fx.bookings.status(booking.ID))

	// Следующий пациент успешно резервирует тот же слот
	_, _, err = fx.svc.Reserve(context.Background(), slot.ID, 101)
	require.NoError(t, err)
}

func TestReclaim_DoesNotTouchFreshReservation(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	_, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	fx.now = fx.now.Add(5 * time.Minute)

	reclaimed, err := fx.svc.ReclaimStaleReservations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Equal(t, model.SlotStatusReserved, fx.slots.status(slot.ID))
}

// Подтверждённая бронь не может быть отозвана свипом, даже просроченным
func TestReclaim_NeverClobbersConfirmedBooking(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Confirm(context.Background(), booking.ID))

	fx.now = fx.now.Add(time.Hour)

	reclaimed, err := fx.svc.ReclaimStaleReservations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	assert.Equal(t, model.SlotStatusBooked, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusConfirmed, fx.bookings.status(booking.ID))
}

// Подтверждение после отзыва резервации сообщает StaleReservation
func TestConfirm_AfterReclaimIsStale(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	fx.now = fx.now.Add(16 * time.Minute)
	_, err = fx.svc.ReclaimStaleReservations(context.Background())
	require.NoError(t, err)

	err = fx.svc.Confirm(context.Background(), booking.ID)
	require.ErrorIs(t, err, ErrStaleReservation)

	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
}

func TestCancelBooking_Authorization(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	// Посторонний пользователь не может отменить чужую бронь
	err = fx.svc.CancelBooking(context.Background(), booking.ID, 101)
	require.ErrorIs(t, err, ErrNotPermitted)

	// Пациент может
	require.NoError(t, fx.svc.CancelBooking(context.Background(), booking.ID, 100))
	assert.Equal(t, model.BookingStatusCancelled, fx.bookings.status(booking.ID))
}

func TestCancelBooking_ConfirmedFreesFutureSlot(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Confirm(context.Background(), booking.ID))

	// Врач отменяет подтверждённый приём
	require.NoError(t, fx.svc.CancelBooking(context.Background(), booking.ID, 7))

	assert.Equal(t, model.BookingStatusCancelled, fx.bookings.status(booking.ID))
	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
}

func TestCompleteBooking(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Confirm(context.Background(), booking.ID))

	// Завершить может только врач бронирования
	err = fx.svc.CompleteBooking(context.Background(), booking.ID, 100)
	require.ErrorIs(t, err, ErrNotPermitted)

	require.NoError(t, fx.svc.CompleteBooking(context.Background(), booking.ID, 7))
	assert.Equal(t, model.BookingStatusCompleted, fx.bookings.status(booking.ID))

	// Повторное завершение - конфликт состояния
	err = fx.svc.CompleteBooking(context.Background(), booking.ID, 7)
	require.ErrorIs(t, err, ErrBookingNotActive)
}

// interceptBookingStore вклинивается перед условным переходом брони в confirmed,
// моделируя конкурентные операции между двумя CAS шагами Confirm
type interceptBookingStore struct {
	*fakeBookingStore
	onConfirmCAS func() error
}

func (s *interceptBookingStore) UpdateStatusIf(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error) {
	if to == model.BookingStatusConfirmed && s.onConfirmCAS != nil {
		if err := s.onConfirmCAS(); err != nil {
			return false, err
		}
	}
	return s.fakeBookingStore.UpdateStatusIf(ctx, id, from, to)
}

// Отмена успевает между подтверждением слота и подтверждением брони:
// Confirm обязан откатить слот и сообщить об устаревшей резервации
func TestConfirm_CancelWinsBetweenSlotAndBookingUpdate(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	store := &interceptBookingStore{fakeBookingStore: fx.bookings}
	store.onConfirmCAS = func() error {
		_, err := fx.bookings.UpdateStatusIf(context.Background(), booking.ID,
			model.BookingStatusPending, model.BookingStatusCancelled)
		return err
	}

	svc := NewBookingService(fx.slots, store, fx.users, fx.gateway, fx.publisher, 15*time.Minute, zap.NewNop())
	svc.now = func() time.Time { return fx.now }

	err = svc.Confirm(context.Background(), booking.ID)
	require.ErrorIs(t, err, ErrStaleReservation)

	// Слот не завис в booked, бронь осталась отменённой
	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusCancelled, fx.bookings.status(booking.ID))

	// Слот снова можно резервировать
	_, _, err = fx.svc.Reserve(context.Background(), slot.ID, 101)
	require.NoError(t, err)
}

// Сбой хранилища на втором CAS шаге возвращает слот в reserved,
// и повторный вызов доводит подтверждение до конца
func TestConfirm_StorageFailureKeepsReservation(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	store := &interceptBookingStore{fakeBookingStore: fx.bookings}
	fail := true
	store.onConfirmCAS = func() error {
		if fail {
			return errors.New("storage failure")
		}
		return nil
	}

	svc := NewBookingService(fx.slots, store, fx.users, fx.gateway, fx.publisher, 15*time.Minute, zap.NewNop())
	svc.now = func() time.Time { return fx.now }

	err = svc.Confirm(context.Background(), booking.ID)
	require.Error(t, err)

	assert.Equal(t, model.SlotStatusReserved, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusPending, fx.bookings.status(booking.ID))

	fail = false
	require.NoError(t, svc.Confirm(context.Background(), booking.ID))
	assert.Equal(t, model.SlotStatusBooked, fx.slots.status(slot.ID))
	assert.Equal(t, model.BookingStatusConfirmed, fx.bookings.status(booking.ID))
}

// Слот освободился, но pending бронь предыдущего пациента ещё не отменена:
// новая резервация получает конфликт, а не внутреннюю ошибку, и слот не теряется
func TestReserve_PendingBookingStillActiveOnFreedSlot(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	require.NoError(t, fx.bookings.Create(context.Background(), &model.Booking{
		SlotID:    slot.ID,
		PatientID: 100,
		DoctorID:  7,
		Status:    model.BookingStatusPending,
	}))

	_, _, err := fx.svc.Reserve(context.Background(), slot.ID, 101)
	require.ErrorIs(t, err, ErrSlotUnavailable)

	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
}

type interceptSlotStore struct {
	*fakeSlotStore
	onReclaim func(slotIDs []int64)
}

func (s *interceptSlotStore) ReclaimStale(ctx context.Context, slotIDs []int64) (int64, error) {
	if s.onReclaim != nil {
		s.onReclaim(slotIDs)
	}
	return s.fakeSlotStore.ReclaimStale(ctx, slotIDs)
}

// Свип отменяет pending бронь до освобождения слота: иначе резервация
// освободившегося слота упёрлась бы в ещё живую бронь
func TestReclaim_CancelsBookingBeforeFreeingSlot(t *testing.T) {
	fx := newBookingFixture(t)
	slot := fx.availableSlot()

	booking, _, err := fx.svc.Reserve(context.Background(), slot.ID, 100)
	require.NoError(t, err)

	store := &interceptSlotStore{fakeSlotStore: fx.slots}
	var statusAtReclaim model.BookingStatus
	store.onReclaim = func([]int64) {
		statusAtReclaim = fx.bookings.status(booking.ID)
	}

	svc := NewBookingService(store, fx.bookings, fx.users, fx.gateway, fx.publisher, 15*time.Minute, zap.NewNop())
	svc.now = func() time.Time { return fx.now }

	fx.now = fx.now.Add(16 * time.Minute)

	reclaimed, err := svc.ReclaimStaleReservations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	assert.Equal(t, model.BookingStatusCancelled, statusAtReclaim)
	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(slot.ID))
}

func TestExpirePastSlots(t *testing.T) {
	fx := newBookingFixture(t)

	past := fx.slots.add(&model.Slot{
		OwnerID:         7,
		StartTime:       fx.now.Add(-time.Hour),
		EndTime:         fx.now.Add(-40 * time.Minute),
		DurationMinutes: 20,
		Status:          model.SlotStatusAvailable,
	})
	future := fx.availableSlot()

	expired, err := fx.svc.ExpirePastSlots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	assert.Equal(t, model.SlotStatusExpired, fx.slots.status(past.ID))
	assert.Equal(t, model.SlotStatusAvailable, fx.slots.status(future.ID))
}
