package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/model"
	"github.com/telemedika/televisit/internal/payment"
	"github.com/telemedika/televisit/internal/service"
)

type BookingHandler struct {
	bookingService *service.BookingService
	logger         *zap.Logger
}

func NewBookingHandler(bookingService *service.BookingService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{bookingService: bookingService, logger: logger}
}

type reserveResponse struct {
	Booking *model.Booking `json:"booking"`
	Payment *payment.Order `json:"payment"`
}

// Reserve резервирует слот за пациентом и возвращает платёжный ордер
func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	var req reserveSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request validation failed: "+err.Error())
		return
	}

	booking, order, err := h.bookingService.Reserve(r.Context(), req.SlotID, session.UserID)
	if err != nil {
		h.logger.Info("Reservation rejected",
			zap.Int64("slot_id", req.SlotID),
			zap.Int64("patient_id", session.UserID),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reserveResponse{Booking: booking, Payment: order})
}

// GetBooking возвращает бронирование участнику
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	booking, err := h.bookingService.GetBooking(r.Context(), bookingID, session.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// ListMine возвращает бронирования текущего пользователя
func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	var (
		bookings []*model.Booking
		err      error
	)

	if session.Role == model.RoleDoctor {
		bookings, err = h.bookingService.GetDoctorBookings(r.Context(), session.UserID)
	} else {
		bookings, err = h.bookingService.GetPatientBookings(r.Context(), session.UserID)
	}

	if err != nil {
		h.logger.Error("Failed to list bookings",
			zap.Int64("user_id", session.UserID),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookings)
}

// Cancel отменяет бронирование по запросу пациента или врача
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if err := h.bookingService.CancelBooking(r.Context(), bookingID, session.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Complete помечает приём завершённым (только врач)
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	session, _ := SessionFromContext(r.Context())

	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if err := h.bookingService.CompleteBooking(r.Context(), bookingID, session.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
