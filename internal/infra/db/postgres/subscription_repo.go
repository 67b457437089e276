package postgres

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, student_id, type, start_date, end_date, trial_end_date, is_active, is_cancelled, cancelled_at,
  auto_renew, price, currency, payment_method, next_billing_date, last_payment_id, pending_payment_id,
  payment_method_ref, customer_ref, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (id) DO UPDATE SET
  start_date=$4, end_date=$5, trial_end_date=$6, is_active=$7, is_cancelled=$8, cancelled_at=$9,
  auto_renew=$10, next_billing_date=$14, last_payment_id=$15, pending_payment_id=$16,
  payment_method_ref=$17, customer_ref=$18, updated_at=$20;`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.StudentID, string(s.Type), s.StartDate, s.EndDate, s.TrialEndDate, s.IsActive, s.IsCancelled, s.CancelledAt,
		s.AutoRenew, s.Price, s.Currency, string(s.PaymentMethod), s.NextBillingDate, s.LastPaymentID, s.PendingPaymentID,
		s.PaymentMethodRef, s.CustomerRef, s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, tx) + ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindActiveByStudent(ctx context.Context, tx repository.Tx, studentID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE student_id=$1 AND is_active LIMIT 1`, tx) + ";"
	return r.queryOne(ctx, tx, q, studentID)
}

func (r *subscriptionRepo) ListByStudent(ctx context.Context, tx repository.Tx, studentID string) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE student_id=$1 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, studentID)
}

func (r *subscriptionRepo) ListDueForRenewal(ctx context.Context, tx repository.Tx, horizon time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE is_active AND auto_renew AND NOT is_cancelled
   AND pending_payment_id IS NULL
   AND next_billing_date IS NOT NULL
   AND next_billing_date <= $1
 ORDER BY next_billing_date ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, horizon, limit)
}

func (r *subscriptionRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE is_active AND NOT auto_renew
   AND pending_payment_id IS NULL
   AND end_date < $1
 ORDER BY end_date ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) ListAwaitingPayment(ctx context.Context, tx repository.Tx, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE is_active AND pending_payment_id IS NOT NULL
 ORDER BY updated_at ASC
 LIMIT $1;`
	return r.queryMany(ctx, tx, q, limit)
}

// LockStudent takes a transaction-scoped advisory lock keyed by the student id.
func (r *subscriptionRepo) LockStudent(ctx context.Context, tx repository.Tx, studentID string) error {
	if !isTx(tx) {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, "SELECT pg_advisory_xact_lock($1)", hashToInt64(studentID))
	return mapWriteErr(err)
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	out := make([]*model.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var typ, method string
	if err := row.Scan(
		&s.ID, &s.StudentID, &typ, &s.StartDate, &s.EndDate, &s.TrialEndDate, &s.IsActive, &s.IsCancelled, &s.CancelledAt,
		&s.AutoRenew, &s.Price, &s.Currency, &method, &s.NextBillingDate, &s.LastPaymentID, &s.PendingPaymentID,
		&s.PaymentMethodRef, &s.CustomerRef, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Type = model.PlanType(typ)
	s.PaymentMethod = model.PaymentMethod(method)
	return s, nil
}
