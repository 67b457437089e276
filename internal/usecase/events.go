package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
)

// PaymentEvent is the body of payment.* messages.
type PaymentEvent struct {
	PaymentID     string    `json:"paymentId"`
	TransactionID string    `json:"transactionId"`
	StudentID     string    `json:"studentId"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Gateway       string    `json:"gateway,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// SubscriptionEvent is the body of subscription.* messages.
type SubscriptionEvent struct {
	SubscriptionID string    `json:"subscriptionId"`
	StudentID      string    `json:"studentId"`
	Type           string    `json:"type"`
	EndDate        time.Time `json:"endDate"`
	PaymentID      string    `json:"paymentId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func paymentEvent(p *model.Payment, at time.Time) PaymentEvent {
	return PaymentEvent{
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		StudentID:     p.StudentID,
		Status:        string(p.Status),
		Amount:        p.Amount.StringFixed(model.CurrencyExponent(p.Currency)),
		Currency:      p.Currency,
		Gateway:       p.Gateway,
		OccurredAt:    at,
	}
}

func subscriptionEvent(s *model.Subscription, at time.Time) SubscriptionEvent {
	e := SubscriptionEvent{
		SubscriptionID: s.ID,
		StudentID:      s.StudentID,
		Type:           string(s.Type),
		EndDate:        s.EndDate,
		OccurredAt:     at,
	}
	if s.LastPaymentID != nil {
		e.PaymentID = *s.LastPaymentID
	}
	return e
}

// publish is fire-and-forget; state is already committed when it runs.
func publish(ctx context.Context, events adapter.EventPublisher, log *zerolog.Logger, key string, payload any) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, key, payload); err != nil {
		log.Warn().Err(err).Str("routing_key", key).Msg("failed to publish event")
	}
}

// paymentStatusEvent picks the routing key announcing p's current status.
func paymentStatusEvent(s model.PaymentStatus) string {
	switch s {
	case model.PaymentStatusCompleted:
		return adapter.EventPaymentCompleted
	case model.PaymentStatusFailed:
		return adapter.EventPaymentFailed
	case model.PaymentStatusRefunded:
		return adapter.EventPaymentRefunded
	default:
		return adapter.EventPaymentStatusChanged
	}
}
