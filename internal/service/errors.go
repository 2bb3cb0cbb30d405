package service

import "errors"

// Ошибки валидации входных данных генератора.
// Возвращаются до любых записей в базу - частичных наборов слотов не бывает.
var (
	ErrInvalidDuration   = errors.New("duration is below the minimum consult length")
	ErrWindowTooShort    = errors.New("daily window is shorter than one slot")
	ErrInvalidRecurrence = errors.New("invalid recurrence pattern")
	ErrPastDate          = errors.New("start date is in the past")
)

// Ошибки конфликтов состояния. Повторять запрос с тем же слотом бессмысленно.
var (
	ErrSlotNotFound     = errors.New("slot not found")
	ErrSlotUnavailable  = errors.New("slot is not available")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrStaleReservation = errors.New("reservation is no longer held")
	ErrNotPermitted     = errors.New("no permission for this booking")
	ErrBookingNotActive = errors.New("booking is not active")
	ErrDoctorNotFound   = errors.New("doctor not found")
)
