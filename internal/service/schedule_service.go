package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/model"
)

// MinConsultMinutes минимальная длительность консультации
const MinConsultMinutes = 20

// ScheduleService генерирует слоты расписания врача
type ScheduleService struct {
	slotRepo SlotStore
	userRepo UserStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduleService(slotRepo SlotStore, userRepo UserStore, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{
		slotRepo: slotRepo,
		userRepo: userRepo,
		logger:   logger,
		now:      time.Now,
	}
}

// Generate генерирует слоты по запросу врача.
// Ошибки валидации возвращаются до любых записей в базу.
// Кандидаты, пересекающиеся с существующими активными слотами, молча
// пропускаются - повторный запуск для того же окна только заполняет пробелы.
func (s *ScheduleService) Generate(ctx context.Context, ownerID int64, req model.GenerationRequest) (*model.GenerationResult, error) {
	owner, err := s.userRepo.GetByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}

	if owner == nil || owner.Role != model.RoleDoctor {
		return nil, ErrDoctorNotFound
	}

	loc := owner.Location()
	now := s.now().In(loc)

	if err := validateRequest(req, now); err != nil {
		return nil, err
	}

	dates := targetDates(req, loc)
	candidates := buildCandidates(ownerID, req, dates, loc, now)

	if len(candidates) == 0 {
		return &model.GenerationResult{}, nil
	}

	// Один запрос на весь диапазон генерации, пересечения проверяем в памяти
	existing, err := s.slotRepo.GetActiveInRange(
		ctx, ownerID,
		candidates[0].StartTime,
		candidates[len(candidates)-1].EndTime,
	)
	if err != nil {
		return nil, fmt.Errorf("get existing slots: %w", err)
	}

	var accepted []*model.Slot
	for _, candidate := range candidates {
		if overlapsAny(candidate, existing) {
			s.logger.Debug("Candidate overlaps existing slot, skipping",
				zap.Int64("owner_id", ownerID),
				zap.Time("start_time", candidate.StartTime),
			)
			continue
		}
		accepted = append(accepted, candidate)
	}

	// Атомарная батч-запись: либо все уцелевшие кандидаты, либо ни одного
	if err := s.slotRepo.CreateBatch(ctx, accepted); err != nil {
		return nil, fmt.Errorf("persist slots: %w", err)
	}

	s.logger.Info("Slots generated",
		zap.Int64("owner_id", ownerID),
		zap.Int("candidates", len(candidates)),
		zap.Int("created", len(accepted)),
	)

	return &model.GenerationResult{Created: accepted, Count: len(accepted)}, nil
}

// GetAvailableSlots получает доступные для записи слоты врача
func (s *ScheduleService) GetAvailableSlots(ctx context.Context, doctorID int64, from, to time.Time) ([]*model.Slot, error) {
	return s.slotRepo.GetAvailable(ctx, doctorID, from, to)
}

// GetDoctors получает список врачей
func (s *ScheduleService) GetDoctors(ctx context.Context) ([]*model.User, error) {
	return s.userRepo.GetDoctors(ctx)
}

// CancelSlot отменяет свободный слот врача
func (s *ScheduleService) CancelSlot(ctx context.Context, slotID, ownerID int64) error {
	ok, err := s.slotRepo.Cancel(ctx, slotID, ownerID)
	if err != nil {
		return fmt.Errorf("cancel slot: %w", err)
	}

	if !ok {
		slot, err := s.slotRepo.GetByID(ctx, slotID)
		if err != nil {
			return fmt.Errorf("get slot: %w", err)
		}
		if slot == nil {
			return ErrSlotNotFound
		}
		return ErrSlotUnavailable
	}

	s.logger.Info("Slot cancelled",
		zap.Int64("slot_id", slotID),
		zap.Int64("owner_id", ownerID),
	)

	return nil
}

// validateRequest проверяет структурные ограничения запроса генерации.
// Порядок проверок фиксирован: длительность, окно, recurrence, прошедшая дата.
func validateRequest(req model.GenerationRequest, now time.Time) error {
	if req.DurationMinutes < MinConsultMinutes {
		return ErrInvalidDuration
	}

	window := req.DailyEnd.MinutesOfDay() - req.DailyStart.MinutesOfDay()
	if window <= 0 || window < req.DurationMinutes {
		return ErrWindowTooShort
	}

	startDate := req.Date
	if !req.Recurrence.Single() {
		for _, weekday := range req.Recurrence.Weekdays {
			if weekday < 0 || weekday > 6 {
				return ErrInvalidRecurrence
			}
		}
		if req.Recurrence.EndDate.Before(req.Recurrence.StartDate) {
			return ErrInvalidRecurrence
		}
		startDate = req.Recurrence.StartDate
	}

	// Сравниваем календарные даты в локальном времени врача
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, now.Location())
	if start.Before(today) {
		return ErrPastDate
	}

	return nil
}

// targetDates перечисляет целевые календарные даты генерации
func targetDates(req model.GenerationRequest, loc *time.Location) []time.Time {
	if req.Recurrence.Single() {
		date := req.Date
		return []time.Time{time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)}
	}

	wanted := make(map[time.Weekday]bool, len(req.Recurrence.Weekdays))
	for _, weekday := range req.Recurrence.Weekdays {
		wanted[time.Weekday(weekday)] = true
	}

	start := req.Recurrence.StartDate
	end := req.Recurrence.EndDate

	var dates []time.Time
	for date := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc); ; date = date.AddDate(0, 0, 1) {
		if date.Year() > end.Year() ||
			(date.Year() == end.Year() && date.YearDay() > end.YearDay()) {
			break
		}
		if wanted[date.Weekday()] {
			dates = append(dates, date)
		}
	}

	return dates
}

// buildCandidates раскладывает дневное окно на слоты фиксированной длительности.
// Неполный хвост короче duration не эмитится. Кандидаты с прошедшим началом
// пропускаются - они сразу стали бы expired.
func buildCandidates(ownerID int64, req model.GenerationRequest, dates []time.Time, loc *time.Location, now time.Time) []*model.Slot {
	duration := time.Duration(req.DurationMinutes) * time.Minute

	var candidates []*model.Slot
	for _, date := range dates {
		dayEnd := req.DailyEnd.On(date, loc)

		for start := req.DailyStart.On(date, loc); !start.Add(duration).After(dayEnd); start = start.Add(duration) {
			if !start.After(now) {
				continue
			}
			candidates = append(candidates, &model.Slot{
				OwnerID:         ownerID,
				StartTime:       start.UTC(),
				EndTime:         start.Add(duration).UTC(),
				DurationMinutes: req.DurationMinutes,
				Status:          model.SlotStatusAvailable,
			})
		}
	}

	return candidates
}

// overlapsAny проверяет пересечение кандидата с существующими слотами
func overlapsAny(candidate *model.Slot, existing []*model.Slot) bool {
	for _, slot := range existing {
		if slot.Overlaps(candidate.StartTime, candidate.EndTime) {
			return true
		}
	}
	return false
}
