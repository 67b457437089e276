package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, student_id, course_id, subscription_id, amount, currency, method, gateway, status,
  transaction_id, external_ref, discount_code, discount_amount, processing_fee, platform_fee, net_amount,
  is_refunded, refunded_amount, failure_reason, description, metadata, created_at, updated_at, paid_at, refunded_at`

// Save upserts p. transaction_id and created_at are never overwritten.
func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25
) ON CONFLICT (id) DO UPDATE SET
  gateway=$8, status=$9, external_ref=$11, processing_fee=$14, platform_fee=$15, net_amount=$16,
  is_refunded=$17, refunded_amount=$18, failure_reason=$19, metadata=$21, updated_at=$23, paid_at=$24, refunded_at=$25;`

	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.StudentID, p.CourseID, p.SubscriptionID, p.Amount, p.Currency, string(p.Method), p.Gateway, string(p.Status),
		p.TransactionID, p.ExternalRef, p.DiscountCode, p.DiscountAmount, p.ProcessingFee, p.PlatformFee, p.NetAmount,
		p.IsRefunded, p.RefundedAmount, p.FailureReason, p.Description, p.Metadata, p.CreatedAt, p.UpdatedAt, p.PaidAt, p.RefundedAt)
	return mapWriteErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx) + ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByExternalRef(ctx context.Context, tx repository.Tx, gateway, externalRef string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE gateway=$1 AND external_ref=$2 LIMIT 1`, tx) + ";"
	return r.queryOne(ctx, tx, q, gateway, externalRef)
}

func (r *paymentRepo) ListByStudent(ctx context.Context, tx repository.Tx, studentID string) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE student_id=$1 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, studentID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	out := make([]*model.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...any) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var method, status string
	if err := row.Scan(
		&p.ID, &p.StudentID, &p.CourseID, &p.SubscriptionID, &p.Amount, &p.Currency, &method, &p.Gateway, &status,
		&p.TransactionID, &p.ExternalRef, &p.DiscountCode, &p.DiscountAmount, &p.ProcessingFee, &p.PlatformFee, &p.NetAmount,
		&p.IsRefunded, &p.RefundedAmount, &p.FailureReason, &p.Description, &p.Metadata, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.RefundedAt,
	); err != nil {
		return nil, err
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	return p, nil
}
