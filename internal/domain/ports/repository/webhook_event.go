package repository

import (
	"context"

	"lms-payments/internal/domain/model"
)

type WebhookEventRepository interface {
	// Record stores the event once per (gateway, external ref, event type); false means replay.
	// Callers record only events that applied or can never apply.
	Record(ctx context.Context, tx Tx, e *model.ProcessedWebhook) (bool, error)
}
