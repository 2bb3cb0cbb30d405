package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/telemedika/televisit/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError отображает ошибки сервисного слоя в HTTP статусы
// и сообщения, пригодные для показа пользователю
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDuration):
		writeError(w, http.StatusUnprocessableEntity, "consultation duration must be at least 20 minutes")
	case errors.Is(err, service.ErrWindowTooShort):
		writeError(w, http.StatusUnprocessableEntity, "daily window is too short for a single slot")
	case errors.Is(err, service.ErrInvalidRecurrence):
		writeError(w, http.StatusUnprocessableEntity, "recurrence pattern is invalid")
	case errors.Is(err, service.ErrPastDate):
		writeError(w, http.StatusUnprocessableEntity, "start date must not be in the past")
	case errors.Is(err, service.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, service.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "this slot was just taken, please choose another")
	case errors.Is(err, service.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, service.ErrStaleReservation):
		writeError(w, http.StatusConflict, "reservation is no longer held")
	case errors.Is(err, service.ErrNotPermitted):
		writeError(w, http.StatusForbidden, "no permission for this booking")
	case errors.Is(err, service.ErrBookingNotActive):
		writeError(w, http.StatusConflict, "booking is not active")
	case errors.Is(err, service.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor not found")
	default:
		writeError(w, http.StatusInternalServerError, "something went wrong, please try again later")
	}
}
