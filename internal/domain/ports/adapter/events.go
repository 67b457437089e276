package adapter

import "context"

// Routing keys of published domain events.
const (
	EventPaymentCreated        = "payment.created"
	EventPaymentCompleted      = "payment.completed"
	EventPaymentFailed         = "payment.failed"
	EventPaymentRefunded       = "payment.refunded"
	EventPaymentStatusChanged  = "payment.status_changed"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionExpired   = "subscription.expired"

	EventSubscriptionRenewalFailed = "subscription.renewal_failed"
)

// EventPublisher emits domain events after state has been committed. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}
