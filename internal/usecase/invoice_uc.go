package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
	"lms-payments/internal/infra/logging"
	"lms-payments/internal/infra/metrics"
)

// Compile-time check
var _ InvoiceUseCase = (*invoiceUC)(nil)

const invoiceListLimit = 50

// InvoiceSyncer keeps a payment's invoice in step with its status. It runs
// inside the transaction that changed the payment.
type InvoiceSyncer interface {
	SyncTx(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Invoice, error)
}

type InvoiceUseCase interface {
	InvoiceSyncer
	Get(ctx context.Context, id string) (*model.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*model.Invoice, error)
	GetByPayment(ctx context.Context, paymentID string) (*model.Invoice, error)
	// ListByStudent returns the newest invoices first; an empty status lists all.
	ListByStudent(ctx context.Context, studentID, status string) ([]*model.Invoice, error)
}

type invoiceUC struct {
	invoices repository.InvoiceRepository
	log      *zerolog.Logger
	now      func() time.Time
}

func NewInvoiceUseCase(invoices repository.InvoiceRepository, logger *zerolog.Logger) *invoiceUC {
	l := logger.With().Str("component", "InvoiceUC").Logger()
	return &invoiceUC{invoices: invoices, log: &l, now: time.Now}
}

// SyncTx issues the invoice when p completes and mirrors refunds and
// disputes onto it afterwards. Other statuses leave invoices untouched.
func (u *invoiceUC) SyncTx(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Invoice, error) {
	switch p.Status {
	case model.PaymentStatusCompleted, model.PaymentStatusRefunded, model.PaymentStatusDisputed:
	default:
		return nil, nil
	}
	log := logging.With(ctx, u.log)
	now := u.now()

	inv, err := u.invoices.FindByPaymentID(ctx, tx, p.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if p.Status != model.PaymentStatusCompleted {
			// completed before invoicing existed; nothing to follow
			return nil, nil
		}
		inv, err = model.NewInvoice(uuid.NewString(), p, now)
		if err != nil {
			return nil, err
		}
		if err := u.invoices.Save(ctx, tx, inv); err != nil {
			return nil, err
		}
		metrics.IncInvoice("issued")
		log.Info().Str("invoice_number", inv.Number).Str("payment_id", p.ID).Str("total", inv.Total.String()).Msg("invoice issued")
		return inv, nil
	case err != nil:
		return nil, err
	}

	if !inv.Follow(p, now) {
		return inv, nil
	}
	if err := u.invoices.Save(ctx, tx, inv); err != nil {
		return nil, err
	}
	metrics.IncInvoice(string(inv.Status))
	log.Info().Str("invoice_number", inv.Number).Str("status", string(inv.Status)).Msg("invoice updated")
	return inv, nil
}

func (u *invoiceUC) Get(ctx context.Context, id string) (*model.Invoice, error) {
	defer logging.TraceDuration(u.log, "InvoiceUC.Get")()
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ValidationError("invoice id must be a UUID")
	}
	inv, err := u.invoices.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.PaymentError(domain.ErrNotFound, "invoice %s not found", id)
	}
	return inv, err
}

func (u *invoiceUC) GetByNumber(ctx context.Context, number string) (*model.Invoice, error) {
	defer logging.TraceDuration(u.log, "InvoiceUC.GetByNumber")()
	number = strings.ToUpper(strings.TrimSpace(number))
	if !strings.HasPrefix(number, "INV-") {
		return nil, domain.ValidationError("invoice number must start with INV-")
	}
	inv, err := u.invoices.FindByNumber(ctx, repository.NoTX, number)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.PaymentError(domain.ErrNotFound, "invoice %s not found", number)
	}
	return inv, err
}

func (u *invoiceUC) GetByPayment(ctx context.Context, paymentID string) (*model.Invoice, error) {
	defer logging.TraceDuration(u.log, "InvoiceUC.GetByPayment")()
	if _, err := uuid.Parse(paymentID); err != nil {
		return nil, domain.ValidationError("payment id must be a UUID")
	}
	inv, err := u.invoices.FindByPaymentID(ctx, repository.NoTX, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.PaymentError(domain.ErrNotFound, "payment %s has no invoice", paymentID)
	}
	return inv, err
}

func (u *invoiceUC) ListByStudent(ctx context.Context, studentID, status string) ([]*model.Invoice, error) {
	defer logging.TraceDuration(u.log, "InvoiceUC.ListByStudent")()
	if strings.TrimSpace(studentID) == "" {
		return nil, domain.ValidationError("studentId is required")
	}
	var filter *model.InvoiceStatus
	if status != "" {
		st, err := model.ParseInvoiceStatus(status)
		if err != nil {
			return nil, domain.ValidationError("unknown invoice status %q", status)
		}
		filter = &st
	}
	return u.invoices.ListByStudent(ctx, repository.NoTX, studentID, filter, invoiceListLimit)
}
