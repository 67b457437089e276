package repository

import (
	"context"

	"lms-payments/internal/domain/model"
)

type DiscountRepository interface {
	// Create fails with domain.ErrAlreadyExists on a duplicate code.
	Create(ctx context.Context, tx Tx, d *model.Discount) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Discount, error)
	// IncrementUsage bumps uses_count only while below max_uses; false means exhausted.
	IncrementUsage(ctx context.Context, tx Tx, id string) (bool, error)
	CountRedemptions(ctx context.Context, tx Tx, discountID, ownerID string) (int, error)
	SaveRedemption(ctx context.Context, tx Tx, r *model.DiscountRedemption) error
}
