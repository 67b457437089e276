package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct{ pool *pgxpool.Pool }

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) Record(ctx context.Context, tx repository.Tx, e *model.ProcessedWebhook) (bool, error) {
	const q = `
INSERT INTO webhook_events (gateway, external_ref, event_type, event_id, payment_id, applied, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (gateway, external_ref, event_type) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, e.Gateway, e.ExternalRef, e.EventType, e.EventID, e.PaymentID, e.Applied, e.ReceivedAt)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}
