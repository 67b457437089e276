package postgres

import (
	"context"
	"time"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

func (r *paymentRepo) Aggregate(ctx context.Context, tx repository.Tx, from, to time.Time) ([]model.PaymentAggregate, error) {
	const q = `
SELECT status, gateway, currency, COUNT(*), COALESCE(SUM(amount),0), COALESCE(SUM(platform_fee),0), COALESCE(SUM(net_amount),0)
FROM payments
WHERE created_at >= $1 AND created_at < $2
GROUP BY status, gateway, currency;`
	rows, err := queryRows(ctx, r.pool, tx, q, from, to)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	out := make([]model.PaymentAggregate, 0)
	for rows.Next() {
		var (
			a      model.PaymentAggregate
			status string
		)
		if err := rows.Scan(&status, &a.Gateway, &a.Currency, &a.Count, &a.Amount, &a.PlatformFees, &a.NetAmount); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		a.Status = model.PaymentStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
