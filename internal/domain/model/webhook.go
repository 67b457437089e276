package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WebhookEventKind is the provider-neutral meaning of a gateway callback.
type WebhookEventKind string

const (
	WebhookPaymentSucceeded WebhookEventKind = "payment.succeeded"
	WebhookPaymentFailed    WebhookEventKind = "payment.failed"
	WebhookChargeRefunded   WebhookEventKind = "charge.refunded"
	WebhookPaymentCanceled  WebhookEventKind = "payment.canceled"
	WebhookPaymentDisputed  WebhookEventKind = "payment.disputed"
	WebhookPaymentExpired   WebhookEventKind = "payment.expired"
	WebhookUnknown          WebhookEventKind = "unknown"
)

// TargetStatus maps an event kind onto the payment state machine.
func (k WebhookEventKind) TargetStatus() (PaymentStatus, bool) {
	switch k {
	case WebhookPaymentSucceeded:
		return PaymentStatusCompleted, true
	case WebhookPaymentFailed:
		return PaymentStatusFailed, true
	case WebhookChargeRefunded:
		return PaymentStatusRefunded, true
	case WebhookPaymentCanceled:
		return PaymentStatusCancelled, true
	case WebhookPaymentDisputed:
		return PaymentStatusDisputed, true
	case WebhookPaymentExpired:
		return PaymentStatusExpired, true
	}
	return "", false
}

// WebhookEvent is a verified, decoded gateway callback.
type WebhookEvent struct {
	Gateway       string
	EventID       string // provider event id, if any
	EventType     string // raw provider type, e.g. payment_intent.succeeded
	Kind          WebhookEventKind
	ExternalRef   string
	PaymentID     string // internal id echoed back through provider metadata
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

// ProcessedWebhook is the idempotency record of an event already handled.
type ProcessedWebhook struct {
	Gateway     string
	ExternalRef string
	EventType   string
	EventID     string
	PaymentID   string
	Applied     bool
	ReceivedAt  time.Time
}
