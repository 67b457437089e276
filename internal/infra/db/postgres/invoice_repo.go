package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*invoiceRepo)(nil)

type invoiceRepo struct{ pool *pgxpool.Pool }

func NewInvoiceRepo(pool *pgxpool.Pool) *invoiceRepo {
	return &invoiceRepo{pool: pool}
}

const invoiceColumns = `id, invoice_number, payment_id, student_id, subtotal, discount, tax, total,
  amount_paid, amount_refunded, currency, status, items, issued_at, paid_at, updated_at`

// Save upserts inv. The number, amounts and items are fixed at issue.
func (r *invoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	const q = `
INSERT INTO invoices (` + invoiceColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
) ON CONFLICT (id) DO UPDATE SET
  amount_refunded=$10, status=$12, updated_at=$16;`

	_, err := execSQL(ctx, r.pool, tx, q,
		inv.ID, inv.Number, inv.PaymentID, inv.StudentID, inv.Subtotal, inv.Discount, inv.Tax, inv.Total,
		inv.AmountPaid, inv.AmountRefunded, inv.Currency, string(inv.Status), inv.Items, inv.IssuedAt, inv.PaidAt, inv.UpdatedAt)
	return mapWriteErr(err)
}

func (r *invoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	q := forUpdate(`SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, tx) + ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *invoiceRepo) FindByNumber(ctx context.Context, tx repository.Tx, number string) (*model.Invoice, error) {
	q := forUpdate(`SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number=$1`, tx) + ";"
	return r.queryOne(ctx, tx, q, number)
}

func (r *invoiceRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Invoice, error) {
	q := forUpdate(`SELECT `+invoiceColumns+` FROM invoices WHERE payment_id=$1`, tx) + ";"
	return r.queryOne(ctx, tx, q, paymentID)
}

func (r *invoiceRepo) ListByStudent(ctx context.Context, tx repository.Tx, studentID string, status *model.InvoiceStatus, limit int) ([]*model.Invoice, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	var st *string
	if status != nil {
		s := string(*status)
		st = &s
	}
	const q = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE student_id=$1 AND ($2::text IS NULL OR status=$2)
ORDER BY issued_at DESC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, studentID, st, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	out := make([]*model.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *invoiceRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...any) (*model.Invoice, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return inv, nil
}

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	inv := &model.Invoice{}
	var status string
	if err := row.Scan(
		&inv.ID, &inv.Number, &inv.PaymentID, &inv.StudentID, &inv.Subtotal, &inv.Discount, &inv.Tax, &inv.Total,
		&inv.AmountPaid, &inv.AmountRefunded, &inv.Currency, &status, &inv.Items, &inv.IssuedAt, &inv.PaidAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Status = model.InvoiceStatus(status)
	return inv, nil
}
