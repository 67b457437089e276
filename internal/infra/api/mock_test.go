//go:build !integration

package api_test

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
	"lms-payments/internal/usecase"
)

type mockPayments struct {
	CreateFunc  func(ctx context.Context, req model.PaymentRequest) (*usecase.PaymentResult, error)
	GetFunc     func(ctx context.Context, id string) (*model.Payment, error)
	ListFunc    func(ctx context.Context, studentID string) ([]*model.Payment, error)
	RefundFunc  func(ctx context.Context, id string, amount *decimal.Decimal) (*model.Payment, error)
	WebhookFunc func(ctx context.Context, gateway string, payload []byte, header http.Header) (usecase.WebhookOutcome, error)
	StatsFunc   func(ctx context.Context, from, to time.Time) (*model.PaymentStatistics, error)
}

func (m *mockPayments) CreatePayment(ctx context.Context, req model.PaymentRequest) (*usecase.PaymentResult, error) {
	return m.CreateFunc(ctx, req)
}

func (m *mockPayments) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	if m.GetFunc == nil {
		return nil, domain.PaymentError(domain.ErrNotFound, "payment %s not found", id)
	}
	return m.GetFunc(ctx, id)
}

func (m *mockPayments) ListByStudent(ctx context.Context, studentID string) ([]*model.Payment, error) {
	return m.ListFunc(ctx, studentID)
}

func (m *mockPayments) RefundPayment(ctx context.Context, id string, amount *decimal.Decimal) (*model.Payment, error) {
	return m.RefundFunc(ctx, id, amount)
}

func (m *mockPayments) HandleWebhook(ctx context.Context, gateway string, payload []byte, header http.Header) (usecase.WebhookOutcome, error) {
	return m.WebhookFunc(ctx, gateway, payload, header)
}

func (m *mockPayments) Statistics(ctx context.Context, from, to time.Time) (*model.PaymentStatistics, error) {
	return m.StatsFunc(ctx, from, to)
}

type mockSubscriptions struct {
	CreateFunc func(ctx context.Context, in usecase.CreateSubscriptionInput) (*model.Subscription, error)
	CancelFunc func(ctx context.Context, id string) (*model.Subscription, error)
	GetFunc    func(ctx context.Context, id string) (*model.Subscription, error)
	ListFunc   func(ctx context.Context, studentID string) ([]*model.Subscription, error)
}

func (m *mockSubscriptions) Create(ctx context.Context, in usecase.CreateSubscriptionInput) (*model.Subscription, error) {
	return m.CreateFunc(ctx, in)
}

func (m *mockSubscriptions) Cancel(ctx context.Context, id string) (*model.Subscription, error) {
	return m.CancelFunc(ctx, id)
}

func (m *mockSubscriptions) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockSubscriptions) ListByStudent(ctx context.Context, studentID string) ([]*model.Subscription, error) {
	return m.ListFunc(ctx, studentID)
}

func (m *mockSubscriptions) ProcessRenewals(ctx context.Context) (usecase.SweepReport, error) {
	return usecase.SweepReport{}, nil
}

func (m *mockSubscriptions) DeactivateExpired(ctx context.Context) (usecase.SweepReport, error) {
	return usecase.SweepReport{}, nil
}

type mockDiscounts struct {
	CreateFunc  func(ctx context.Context, in usecase.CreateDiscountInput) (*model.Discount, error)
	GetFunc     func(ctx context.Context, code string) (*model.Discount, error)
	PreviewFunc func(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*usecase.DiscountApplication, error)
}

func (m *mockDiscounts) Create(ctx context.Context, in usecase.CreateDiscountInput) (*model.Discount, error) {
	return m.CreateFunc(ctx, in)
}

func (m *mockDiscounts) Get(ctx context.Context, code string) (*model.Discount, error) {
	return m.GetFunc(ctx, code)
}

func (m *mockDiscounts) Preview(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*usecase.DiscountApplication, error) {
	return m.PreviewFunc(ctx, code, amount, currency, ownerID)
}

func (m *mockDiscounts) Apply(ctx context.Context, code string, amount decimal.Decimal, currency, ownerID string) (*usecase.DiscountApplication, error) {
	return nil, domain.ErrOperationFailed
}

func (m *mockDiscounts) ApplyTx(ctx context.Context, tx repository.Tx, code string, amount decimal.Decimal, currency, ownerID, paymentID string) (*usecase.DiscountApplication, error) {
	return nil, domain.ErrOperationFailed
}

type mockInvoices struct {
	GetFunc       func(ctx context.Context, id string) (*model.Invoice, error)
	ByNumberFunc  func(ctx context.Context, number string) (*model.Invoice, error)
	ByPaymentFunc func(ctx context.Context, paymentID string) (*model.Invoice, error)
	ListFunc      func(ctx context.Context, studentID, status string) ([]*model.Invoice, error)
}

func (m *mockInvoices) SyncTx(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Invoice, error) {
	return nil, nil
}

func (m *mockInvoices) Get(ctx context.Context, id string) (*model.Invoice, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockInvoices) GetByNumber(ctx context.Context, number string) (*model.Invoice, error) {
	return m.ByNumberFunc(ctx, number)
}

func (m *mockInvoices) GetByPayment(ctx context.Context, paymentID string) (*model.Invoice, error) {
	return m.ByPaymentFunc(ctx, paymentID)
}

func (m *mockInvoices) ListByStudent(ctx context.Context, studentID, status string) ([]*model.Invoice, error) {
	return m.ListFunc(ctx, studentID, status)
}
