package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/service"
)

type SlotHandler struct {
	scheduleService *service.ScheduleService
	logger          *zap.Logger
}

func NewSlotHandler(scheduleService *service.ScheduleService, logger *zap.Logger) *SlotHandler {
	return &SlotHandler{scheduleService: scheduleService, logger: logger}
}

// GenerateSlots обрабатывает запрос врача на генерацию слотов
func (h *SlotHandler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	var req generateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return
	}

	if req.Recurrence == nil && req.Date == "" {
		writeError(w, http.StatusBadRequest, "either date or recurrence is required")
		return
	}

	generation, err := req.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format")
		return
	}

	result, err := h.scheduleService.Generate(r.Context(), session.UserID, generation)
	if err != nil {
		h.logger.Warn("Slot generation failed",
			zap.Int64("owner_id", session.UserID),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ListDoctorSlots возвращает доступные слоты врача в диапазоне времени
func (h *SlotHandler) ListDoctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := strconv.ParseInt(chi.URLParam(r, "doctorID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid doctor id")
		return
	}

	from, to, err := parseTimeRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time range, use RFC3339")
		return
	}

	slots, err := h.scheduleService.GetAvailableSlots(r.Context(), doctorID, from, to)
	if err != nil {
		h.logger.Error("Failed to list slots",
			zap.Int64("doctor_id", doctorID),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, slots)
}

// ListDoctors возвращает список врачей
func (h *SlotHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.scheduleService.GetDoctors(r.Context())
	if err != nil {
		h.logger.Error("Failed to list doctors", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doctors)
}

// CancelSlot отменяет свободный слот врача
func (h *SlotHandler) CancelSlot(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	slotID, err := strconv.ParseInt(chi.URLParam(r, "slotID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return
	}

	if err := h.scheduleService.CancelSlot(r.Context(), slotID, session.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
