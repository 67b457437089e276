package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
)

type InvoiceStatus string

const (
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusRefunded InvoiceStatus = "REFUNDED"
	InvoiceStatusDisputed InvoiceStatus = "DISPUTED"
)

// ParseInvoiceStatus accepts any casing of a known status.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	st := InvoiceStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case InvoiceStatusPaid, InvoiceStatusRefunded, InvoiceStatusDisputed:
		return st, nil
	}
	return "", domain.ErrInvalidArgument
}

type InvoiceItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice is the receipt for one completed payment. It is issued once and
// afterwards only follows the payment into REFUNDED or DISPUTED.
type Invoice struct {
	ID             string
	Number         string // INV-YYYYMMDD-<ulid>
	PaymentID      string
	StudentID      string
	Subtotal       decimal.Decimal // before discount
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	AmountPaid     decimal.Decimal
	AmountRefunded decimal.Decimal
	Currency       string
	Status         InvoiceStatus
	Items          []InvoiceItem
	IssuedAt       time.Time
	PaidAt         time.Time
	UpdatedAt      time.Time
}

// NewInvoiceNumber is sortable by issue day and unique without a sequence.
func NewInvoiceNumber(at time.Time) string {
	return fmt.Sprintf("INV-%s-%s", at.UTC().Format("20060102"), ulid.Make().String())
}

// NewInvoice issues a paid invoice for a completed payment.
func NewInvoice(id string, p *Payment, now time.Time) (*Invoice, error) {
	if id == "" || p == nil {
		return nil, domain.ErrInvalidArgument
	}
	if p.Status != PaymentStatusCompleted {
		return nil, domain.PaymentError(domain.ErrInvalidState, "payment %s is %s; only completed payments are invoiced", p.ID, p.Status)
	}
	paidAt := now
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	subtotal := p.Amount.Add(p.DiscountAmount)
	return &Invoice{
		ID:             id,
		Number:         NewInvoiceNumber(now),
		PaymentID:      p.ID,
		StudentID:      p.StudentID,
		Subtotal:       subtotal,
		Discount:       p.DiscountAmount,
		Tax:            decimal.Zero,
		Total:          p.Amount,
		AmountPaid:     p.Amount,
		AmountRefunded: decimal.Zero,
		Currency:       p.Currency,
		Status:         InvoiceStatusPaid,
		Items: []InvoiceItem{{
			Description: invoiceLine(p),
			Quantity:    1,
			UnitPrice:   subtotal,
			Amount:      subtotal,
		}},
		IssuedAt:  now,
		PaidAt:    paidAt,
		UpdatedAt: now,
	}, nil
}

func invoiceLine(p *Payment) string {
	switch {
	case p.Description != "":
		return p.Description
	case p.SubscriptionID != nil:
		return "Subscription " + *p.SubscriptionID
	case p.CourseID != nil:
		return "Course " + *p.CourseID
	}
	return "Payment " + p.TransactionID
}

// AmountDue is what the student still owes; zero once paid.
func (i *Invoice) AmountDue() decimal.Decimal {
	due := i.Total.Sub(i.AmountPaid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// Follow mirrors a later payment status onto the invoice and reports
// whether anything changed.
func (i *Invoice) Follow(p *Payment, now time.Time) bool {
	switch p.Status {
	case PaymentStatusRefunded:
		if i.Status == InvoiceStatusRefunded && i.AmountRefunded.Equal(p.RefundedAmount) {
			return false
		}
		i.Status = InvoiceStatusRefunded
		i.AmountRefunded = p.RefundedAmount
	case PaymentStatusDisputed:
		if i.Status == InvoiceStatusDisputed {
			return false
		}
		i.Status = InvoiceStatusDisputed
	default:
		return false
	}
	i.UpdatedAt = now
	return true
}
