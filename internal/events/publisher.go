package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Типы событий, публикуемых ядром бронирования
const (
	TypeBookingCreated   = "booking.created"
	TypeBookingConfirmed = "booking.confirmed"
	TypeBookingCancelled = "booking.cancelled"
)

// NotificationQueueName durable очередь для слоя уведомлений
const NotificationQueueName = "televisit_notifications"

// Envelope обёртка события в очереди
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// BookingEvent полезная нагрузка событий бронирования
type BookingEvent struct {
	BookingID int64  `json:"booking_id"`
	SlotID    int64  `json:"slot_id"`
	PatientID int64  `json:"patient_id"`
	DoctorID  int64  `json:"doctor_id"`
	Status    string `json:"status"`
}

// Publisher односторонняя публикация событий для слоя доставки уведомлений.
// Ядро бронирования только публикует - соединениями с получателями
// занимается отдельный компонент.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
	Close() error
}

// RabbitPublisher публикует события в durable очередь RabbitMQ
type RabbitPublisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

func NewRabbitPublisher(url string, logger *zap.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		NotificationQueueName, // name
		true,                  // durable
		false,                 // autoDelete
		false,                 // exclusive
		false,                 // noWait
		nil,                   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	logger.Info("Connected to RabbitMQ", zap.String("queue", NotificationQueueName))

	return &RabbitPublisher{conn: conn, ch: ch, logger: logger}, nil
}

// Publish отправляет событие в очередь уведомлений
func (p *RabbitPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	body, err := json.Marshal(Envelope{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",                    // exchange
		NotificationQueueName, // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug("Event published", zap.String("type", eventType))

	return nil
}

// Close закрывает канал и соединение
func (p *RabbitPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher заглушка для окружений без брокера
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }
