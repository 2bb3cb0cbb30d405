package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/telemedika/televisit/internal/model"
)

// MetadataBookingID ключ метаданных PaymentIntent с ID бронирования
const MetadataBookingID = "booking_id"

// StripeGateway создаёт PaymentIntent на каждое бронирование.
// stripe.Key устанавливается один раз при старте приложения.
type StripeGateway struct {
	currency string
	logger   *zap.Logger
}

func NewStripeGateway(apiKey, currency string, logger *zap.Logger) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{currency: currency, logger: logger}
}

// CreateOrder создаёт платёжный ордер с booking_id в метаданных,
// чтобы webhook мог связать платёж с бронированием
func (g *StripeGateway) CreateOrder(ctx context.Context, booking *model.Booking) (*Order, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				MetadataBookingID: strconv.FormatInt(booking.ID, 10),
			},
		},
		Amount:   stripe.Int64(booking.AmountCents),
		Currency: stripe.String(g.currency),
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	g.logger.Info("Payment order created",
		zap.Int64("booking_id", booking.ID),
		zap.String("payment_ref", intent.ID),
		zap.Int64("amount_cents", booking.AmountCents),
	)

	return &Order{
		Ref:          intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  booking.AmountCents,
		Currency:     g.currency,
	}, nil
}

// VerifyWebhook проверяет подпись webhook и возвращает событие
func VerifyWebhook(payload []byte, signature, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("verify webhook signature: %w", err)
	}
	return event, nil
}

// BookingIDFromIntent извлекает ID бронирования из метаданных PaymentIntent
func BookingIDFromIntent(intent *stripe.PaymentIntent) (int64, error) {
	raw, ok := intent.Metadata[MetadataBookingID]
	if !ok {
		return 0, fmt.Errorf("payment intent %s has no %s metadata", intent.ID, MetadataBookingID)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse booking id from metadata: %w", err)
	}

	return id, nil
}
