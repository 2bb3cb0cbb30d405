package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/payment"
	"github.com/telemedika/televisit/internal/service"
)

// maxWebhookBody ограничивает размер тела webhook запроса
const maxWebhookBody = 64 * 1024

// WebhookHandler принимает подписанные callbacks платёжного шлюза
// и транслирует их в подтверждение или отмену резервации
type WebhookHandler struct {
	bookingService *service.BookingService
	signingSecret  string
	logger         *zap.Logger
}

func NewWebhookHandler(bookingService *service.BookingService, signingSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		bookingService: bookingService,
		signingSecret:  signingSecret,
		logger:         logger,
	}
}

// HandleStripe обрабатывает webhook от Stripe
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	event, err := payment.VerifyWebhook(body, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		h.applyIntent(w, r.Context(), event, h.bookingService.Confirm)
	case "payment_intent.payment_failed", "payment_intent.canceled":
		h.applyIntent(w, r.Context(), event, h.bookingService.CancelReservation)
	default:
		// Неинтересные события подтверждаем, чтобы шлюз их не ретраил
		w.WriteHeader(http.StatusOK)
	}
}

func (h *WebhookHandler) applyIntent(
	w http.ResponseWriter,
	ctx context.Context,
	event stripe.Event,
	apply func(ctx context.Context, bookingID int64) error,
) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		h.logger.Error("Failed to parse payment intent from webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}

	bookingID, err := payment.BookingIDFromIntent(&intent)
	if err != nil {
		h.logger.Error("Webhook intent has no booking reference",
			zap.String("intent_id", intent.ID),
			zap.Error(err))
		// Подтверждаем, ретрай шлюза здесь не поможет
		w.WriteHeader(http.StatusOK)
		return
	}

	err = apply(ctx, bookingID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrBookingNotFound), errors.Is(err, service.ErrStaleReservation):
		// Состояние уже разрешено другой стороной гонки, ретрай не нужен
		h.logger.Info("Webhook applied to settled booking",
			zap.Int64("booking_id", bookingID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		w.WriteHeader(http.StatusOK)
	default:
		h.logger.Error("Failed to apply payment webhook",
			zap.Int64("booking_id", bookingID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "temporary failure")
	}
}
