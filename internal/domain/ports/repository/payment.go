package repository

import (
	"context"
	"time"

	"lms-payments/internal/domain/model"
)

// PaymentRepository stores payments. Passing a tx locks the returned row.
type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByExternalRef(ctx context.Context, tx Tx, gateway, externalRef string) (*model.Payment, error)
	ListByStudent(ctx context.Context, tx Tx, studentID string) ([]*model.Payment, error)
	// Aggregate groups payments created in [from, to) by status, gateway and currency.
	Aggregate(ctx context.Context, tx Tx, from, to time.Time) ([]model.PaymentAggregate, error)
}
