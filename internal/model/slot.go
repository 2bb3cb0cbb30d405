package model

import "time"

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusReserved  SlotStatus = "reserved"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusExpired   SlotStatus = "expired"
	SlotStatusCancelled SlotStatus = "cancelled"
)

// Active возвращает true если слот занимает свой интервал времени.
// Expired и cancelled слоты освобождают интервал для повторной генерации.
func (s SlotStatus) Active() bool {
	return s == SlotStatusAvailable || s == SlotStatusReserved || s == SlotStatusBooked
}

type Slot struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
	ReservedBy      *int64     `json:"reserved_by"` // указатель - может быть nil
	ReservedAt      *time.Time `json:"reserved_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Overlaps проверяет пересечение полуоткрытого интервала слота [start, end)
// с заданным интервалом
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && s.EndTime.After(start)
}
