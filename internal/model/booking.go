package model

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

type Booking struct {
	ID          int64         `json:"id"`
	SlotID      int64         `json:"slot_id"`
	PatientID   int64         `json:"patient_id"`
	DoctorID    int64         `json:"doctor_id"`
	Status      BookingStatus `json:"status"`
	AmountCents int64         `json:"amount_cents"`
	PaymentRef  string        `json:"payment_ref,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// Заполняется для ответов API, не хранится в строке bookings
	Slot *Slot `json:"slot,omitempty"`
}
