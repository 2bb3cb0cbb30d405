package model

import "time"

// ClockTime представляет локальное время суток (час и минута)
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// On возвращает timestamp для этого времени суток в заданную дату
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// MinutesOfDay возвращает количество минут с полуночи
func (c ClockTime) MinutesOfDay() int {
	return c.Hour*60 + c.Minute
}

// Recurrence описывает повторение генерации по дням недели.
// Пустой Weekdays означает режим одного дня.
type Recurrence struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Weekdays  []int     `json:"weekdays"` // 0 = Sunday, 6 = Saturday
}

// Single возвращает true для режима одного дня (без повторения)
func (r Recurrence) Single() bool {
	return len(r.Weekdays) == 0
}

// GenerationRequest входные данные генератора слотов. Не персистится -
// это эфемерный запрос, слоты создаются сразу на весь диапазон.
type GenerationRequest struct {
	Date            time.Time  `json:"date"` // используется в режиме одного дня
	DailyStart      ClockTime  `json:"daily_start"`
	DailyEnd        ClockTime  `json:"daily_end"`
	DurationMinutes int        `json:"duration_minutes"`
	Recurrence      Recurrence `json:"recurrence"`
}

// GenerationResult результат генерации: созданные слоты и их количество.
// Count может быть нулём если все кандидаты пересеклись с существующими слотами.
type GenerationResult struct {
	Created []*Slot `json:"created"`
	Count   int     `json:"count"`
}
