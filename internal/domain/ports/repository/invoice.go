package repository

import (
	"context"

	"lms-payments/internal/domain/model"
)

// InvoiceRepository stores invoices, one per payment. Passing a tx locks the returned row.
type InvoiceRepository interface {
	// Save upserts by id; a second invoice for the same payment is ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, inv *model.Invoice) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Invoice, error)
	FindByNumber(ctx context.Context, tx Tx, number string) (*model.Invoice, error)
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Invoice, error)
	// ListByStudent is newest first; a nil status lists all.
	ListByStudent(ctx context.Context, tx Tx, studentID string, status *model.InvoiceStatus, limit int) ([]*model.Invoice, error)
}
