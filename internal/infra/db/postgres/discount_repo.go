package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

var _ repository.DiscountRepository = (*discountRepo)(nil)

type discountRepo struct{ pool *pgxpool.Pool }

func NewDiscountRepo(pool *pgxpool.Pool) *discountRepo {
	return &discountRepo{pool: pool}
}

func (r *discountRepo) Create(ctx context.Context, tx repository.Tx, d *model.Discount) error {
	const q = `
INSERT INTO discounts (id, code, type, value, start_date, end_date, max_uses, max_uses_per_user, uses_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := execSQL(ctx, r.pool, tx, q, d.ID, d.Code, string(d.Type), d.Value, d.StartDate, d.EndDate, d.MaxUses, d.MaxUsesPerUser, d.UsesCount, d.CreatedAt, d.UpdatedAt)
	return mapWriteErr(err)
}

func (r *discountRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Discount, error) {
	q := forUpdate(`
SELECT id, code, type, value, start_date, end_date, max_uses, max_uses_per_user, uses_count, created_at, updated_at
  FROM discounts
 WHERE code=$1`, tx) + ";"
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	d := &model.Discount{}
	var typ string
	if err := row.Scan(&d.ID, &d.Code, &typ, &d.Value, &d.StartDate, &d.EndDate, &d.MaxUses, &d.MaxUsesPerUser, &d.UsesCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, mapReadErr(err)
	}
	d.Type = model.DiscountType(typ)
	return d, nil
}

// IncrementUsage is the atomic check-and-increment for the global use cap.
func (r *discountRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `
UPDATE discounts
   SET uses_count = uses_count + 1,
       updated_at = NOW()
 WHERE id = $1
   AND (max_uses IS NULL OR uses_count < max_uses);`
	cmd, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *discountRepo) CountRedemptions(ctx context.Context, tx repository.Tx, discountID, ownerID string) (int, error) {
	const q = `SELECT COUNT(*) FROM discount_redemptions WHERE discount_id=$1 AND owner_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, discountID, ownerID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapReadErr(err)
	}
	return n, nil
}

func (r *discountRepo) SaveRedemption(ctx context.Context, tx repository.Tx, rd *model.DiscountRedemption) error {
	const q = `INSERT INTO discount_redemptions (id, discount_id, owner_id, payment_id, redeemed_at) VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, rd.ID, rd.DiscountID, rd.OwnerID, rd.PaymentID, rd.RedeemedAt)
	return mapWriteErr(err)
}
