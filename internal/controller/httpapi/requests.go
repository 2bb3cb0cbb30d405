package httpapi

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/telemedika/televisit/internal/model"
)

var validate = validator.New()

// generateSlotsRequest тело запроса генерации слотов.
// Даты - календарные (без времени суток), время задаётся парами час/минута.
type generateSlotsRequest struct {
	Date            string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DailyStartHour  int    `json:"daily_start_hour" validate:"min=0,max=23"`
	DailyStartMin   int    `json:"daily_start_minute" validate:"min=0,max=59"`
	DailyEndHour    int    `json:"daily_end_hour" validate:"min=0,max=23"`
	DailyEndMin     int    `json:"daily_end_minute" validate:"min=0,max=59"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1"`

	Recurrence *recurrenceRequest `json:"recurrence" validate:"omitempty"`
}

type recurrenceRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Weekdays  []int  `json:"weekdays" validate:"required,min=1,dive,min=0,max=6"`
}

func (r *generateSlotsRequest) toModel() (model.GenerationRequest, error) {
	req := model.GenerationRequest{
		DailyStart:      model.ClockTime{Hour: r.DailyStartHour, Minute: r.DailyStartMin},
		DailyEnd:        model.ClockTime{Hour: r.DailyEndHour, Minute: r.DailyEndMin},
		DurationMinutes: r.DurationMinutes,
	}

	if r.Recurrence != nil {
		start, err := time.Parse("2006-01-02", r.Recurrence.StartDate)
		if err != nil {
			return model.GenerationRequest{}, err
		}
		end, err := time.Parse("2006-01-02", r.Recurrence.EndDate)
		if err != nil {
			return model.GenerationRequest{}, err
		}
		req.Recurrence = model.Recurrence{
			StartDate: start,
			EndDate:   end,
			Weekdays:  r.Recurrence.Weekdays,
		}
		return req, nil
	}

	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return model.GenerationRequest{}, err
	}
	req.Date = date

	return req, nil
}

type reserveSlotRequest struct {
	SlotID int64 `json:"slot_id" validate:"required,min=1"`
}

// parseTimeRange разбирает границы диапазона запроса списка слотов,
// подставляя дефолтное окно в две недели
func parseTimeRange(fromRaw, toRaw string, now time.Time) (time.Time, time.Time, error) {
	from := now
	to := now.AddDate(0, 0, 14)

	if fromRaw != "" {
		parsed, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toRaw != "" {
		parsed, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}
