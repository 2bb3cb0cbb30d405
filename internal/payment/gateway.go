package payment

import (
	"context"
	"fmt"

	"github.com/telemedika/televisit/internal/model"
)

// Order платёжный ордер, привязанный к бронированию
type Order struct {
	Ref          string `json:"ref"`
	ClientSecret string `json:"client_secret,omitempty"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// Gateway внешний платёжный шлюз. Подтверждение приходит асинхронно
// через подписанный webhook, а не возвратом из CreateOrder.
type Gateway interface {
	CreateOrder(ctx context.Context, booking *model.Booking) (*Order, error)
}

// NopGateway заглушка для окружений без платёжного шлюза
type NopGateway struct {
	Currency string
}

func (g *NopGateway) CreateOrder(_ context.Context, booking *model.Booking) (*Order, error) {
	return &Order{
		Ref:         fmt.Sprintf("nop_%d", booking.ID),
		AmountCents: booking.AmountCents,
		Currency:    g.Currency,
	}, nil
}
