package repository

import (
	"context"
	"time"

	"lms-payments/internal/domain/model"
)

type SubscriptionRepository interface {
	// Save upserts; a second active subscription for a student yields domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindActiveByStudent(ctx context.Context, tx Tx, studentID string) (*model.Subscription, error)
	ListByStudent(ctx context.Context, tx Tx, studentID string) ([]*model.Subscription, error)
	// ListDueForRenewal returns active auto-renewing subscriptions billed at or before horizon
	// that have no renewal charge in flight.
	ListDueForRenewal(ctx context.Context, tx Tx, horizon time.Time, limit int) ([]*model.Subscription, error)
	// ListExpired returns active, non-renewing subscriptions that ended before now
	// and have no renewal charge in flight.
	ListExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	// ListAwaitingPayment returns active subscriptions whose renewal charge has not settled.
	ListAwaitingPayment(ctx context.Context, tx Tx, limit int) ([]*model.Subscription, error)
	// LockStudent serializes subscription creation per student for the rest of tx.
	LockStudent(ctx context.Context, tx Tx, studentID string) error
}
