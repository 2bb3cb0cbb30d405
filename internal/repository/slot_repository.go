package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemedika/televisit/internal/model"
	"github.com/telemedika/televisit/internal/repository/base"
)

const slotColumns = `id, owner_id, start_time, end_time, duration_minutes, status, reserved_by, reserved_at, created_at`

type SlotRepository struct {
	*base.Repository
	pool *pgxpool.Pool
}

func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{Repository: base.NewRepository(pool), pool: pool}
}

func scanSlot(row pgx.Row, slot *model.Slot) error {
	return row.Scan(
		&slot.ID,
		&slot.OwnerID,
		&slot.StartTime,
		&slot.EndTime,
		&slot.DurationMinutes,
		&slot.Status,
		&slot.ReservedBy,
		&slot.ReservedAt,
		&slot.CreatedAt,
	)
}

func scanSlots(rows pgx.Rows) ([]*model.Slot, error) {
	defer rows.Close()

	var slots []*model.Slot
	for rows.Next() {
		var slot model.Slot
		if err := scanSlot(rows, &slot); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, &slot)
	}
	return slots, rows.Err()
}

// CreateBatch создаёт набор слотов в одной транзакции.
// Либо записываются все слоты, либо ни одного.
func (r *SlotRepository) CreateBatch(ctx context.Context, slots []*model.Slot) error {
	if len(slots) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := r.WithTx(tx)

	query := `
		INSERT INTO slots (owner_id, start_time, end_time, duration_minutes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	for _, slot := range slots {
		err := txRepo.DB().QueryRow(
			ctx, query,
			slot.OwnerID,
			slot.StartTime,
			slot.EndTime,
			slot.DurationMinutes,
			slot.Status,
		).Scan(&slot.ID, &slot.CreatedAt)

		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID получает слот по ID
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*model.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`

	var slot model.Slot
	err := scanSlot(r.DB().QueryRow(ctx, query, id), &slot)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get slot by id: %w", err)
	}

	return &slot, nil
}

// GetActiveInRange получает активные слоты владельца, пересекающие диапазон [from, to).
// Expired и cancelled слоты не учитываются - их интервалы свободны.
func (r *SlotRepository) GetActiveInRange(ctx context.Context, ownerID int64, from, to time.Time) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE owner_id = $1
		  AND status IN ('available', 'reserved', 'booked')
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`

	rows, err := r.DB().Query(ctx, query, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get active slots in range: %w", err)
	}

	return scanSlots(rows)
}

// GetAvailable получает доступные для записи слоты врача в диапазоне времени.
// Слоты с прошедшим start_time отфильтровываются здесь же -
// лениво эквивалентно переводу в expired.
func (r *SlotRepository) GetAvailable(ctx context.Context, ownerID int64, from, to time.Time) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE owner_id = $1
		  AND status = 'available'
		  AND start_time > now()
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`

	rows, err := r.DB().Query(ctx, query, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get available slots: %w", err)
	}

	return scanSlots(rows)
}

// Reserve атомарно резервирует слот за пациентом.
// Условный UPDATE - два конкурентных вызова дадут ровно одну успешную резервацию.
func (r *SlotRepository) Reserve(ctx context.Context, slotID, patientID int64, now time.Time) (bool, error) {
	query := `
		UPDATE slots
		SET status = 'reserved', reserved_by = $1, reserved_at = $2
		WHERE id = $3 AND status = 'available' AND start_time > $2
	`

	affected, err := r.ExecAffected(ctx, query, patientID, now, slotID)
	if err != nil {
		return false, fmt.Errorf("reserve slot: %w", err)
	}

	return affected == 1, nil
}

// ConfirmBooked переводит слот из reserved в booked.
// Условие на reserved_by защищает от подтверждения чужой резервации.
func (r *SlotRepository) ConfirmBooked(ctx context.Context, slotID, patientID int64) (bool, error) {
	query := `
		UPDATE slots
		SET status = 'booked'
		WHERE id = $1 AND status = 'reserved' AND reserved_by = $2
	`

	affected, err := r.ExecAffected(ctx, query, slotID, patientID)
	if err != nil {
		return false, fmt.Errorf("confirm slot booked: %w", err)
	}

	return affected == 1, nil
}

// Release возвращает зарезервированный слот в available.
// Условие на status и reserved_by не даёт затереть подтверждённую бронь.
func (r *SlotRepository) Release(ctx context.Context, slotID, patientID int64) (bool, error) {
	query := `
		UPDATE slots
		SET status = 'available', reserved_by = NULL, reserved_at = NULL
		WHERE id = $1 AND status = 'reserved' AND reserved_by = $2
	`

	affected, err := r.ExecAffected(ctx, query, slotID, patientID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}

	return affected == 1, nil
}

// FreeBooked освобождает booked слот при отмене подтверждённой брони
func (r *SlotRepository) FreeBooked(ctx context.Context, slotID int64) (bool, error) {
	query := `
		UPDATE slots
		SET status = 'available', reserved_by = NULL, reserved_at = NULL
		WHERE id = $1 AND status = 'booked'
	`

	affected, err := r.ExecAffected(ctx, query, slotID)
	if err != nil {
		return false, fmt.Errorf("free booked slot: %w", err)
	}

	return affected == 1, nil
}

// RevertBooked возвращает слот из booked в reserved, не трогая резервацию.
// Откат оборвавшегося подтверждения: retry доведёт его до конца,
// иначе резервацию отзовёт свип по таймауту.
func (r *SlotRepository) RevertBooked(ctx context.Context, slotID int64) (bool, error) {
	query := `
		UPDATE slots
		SET status = 'reserved'
		WHERE id = $1 AND status = 'booked'
	`

	affected, err := r.ExecAffected(ctx, query, slotID)
	if err != nil {
		return false, fmt.Errorf("revert booked slot: %w", err)
	}

	return affected == 1, nil
}

// StaleReservedIDs находит резервации старше cutoff
func (r *SlotRepository) StaleReservedIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		SELECT id
		FROM slots
		WHERE status = 'reserved' AND reserved_at < $1
	`

	rows, err := r.DB().Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale reservations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale slot id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ReclaimStale возвращает перечисленные слоты в available.
// Условие на status = 'reserved' гарантирует, что подтверждённая
// после выборки бронь не будет отозвана.
func (r *SlotRepository) ReclaimStale(ctx context.Context, slotIDs []int64) (int64, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE slots
		SET status = 'available', reserved_by = NULL, reserved_at = NULL
		WHERE id = ANY($1) AND status = 'reserved'
	`

	affected, err := r.ExecAffected(ctx, query, slotIDs)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale reservations: %w", err)
	}

	return affected, nil
}

// ExpirePast переводит в expired все available слоты с прошедшим start_time
func (r *SlotRepository) ExpirePast(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE slots
		SET status = 'expired'
		WHERE status = 'available' AND start_time <= $1
	`

	affected, err := r.ExecAffected(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire past slots: %w", err)
	}

	return affected, nil
}

// Cancel отменяет свободный слот владельца
func (r *SlotRepository) Cancel(ctx context.Context, slotID, ownerID int64) (bool, error) {
	query := `
		UPDATE slots
		SET status = 'cancelled'
		WHERE id = $1 AND owner_id = $2 AND status = 'available'
	`

	affected, err := r.ExecAffected(ctx, query, slotID, ownerID)
	if err != nil {
		return false, fmt.Errorf("cancel slot: %w", err)
	}

	return affected == 1, nil
}
