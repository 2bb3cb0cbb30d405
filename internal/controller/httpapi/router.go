package httpapi

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/telemedika/televisit/internal/model"
)

// NewRouter собирает HTTP маршруты сервиса
func NewRouter(
	auth *Authenticator,
	slotHandler *SlotHandler,
	bookingHandler *BookingHandler,
	webhookHandler *WebhookHandler,
) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(httprate.LimitByIP(100, time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/api/v1", func(r chi.Router) {
		// Webhook аутентифицируется подписью, не bearer токеном
		r.Post("/webhooks/stripe", webhookHandler.HandleStripe)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Get("/doctors", slotHandler.ListDoctors)
			r.Get("/doctors/{doctorID}/slots", slotHandler.ListDoctorSlots)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(model.RoleDoctor))
				r.Post("/slots/generate", slotHandler.GenerateSlots)
				r.Post("/slots/{slotID}/cancel", slotHandler.CancelSlot)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(model.RolePatient))
				r.Post("/bookings", bookingHandler.Reserve)
			})

			r.Get("/bookings", bookingHandler.ListMine)
			r.Get("/bookings/{bookingID}", bookingHandler.GetBooking)
			r.Post("/bookings/{bookingID}/cancel", bookingHandler.Cancel)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(model.RoleDoctor))
				r.Post("/bookings/{bookingID}/complete", bookingHandler.Complete)
			})
		})
	})

	return router
}
