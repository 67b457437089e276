//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"lms-payments/internal/config"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/usecase"
)

type fixture struct {
	payments  *MockPaymentRepo
	discounts *MockDiscountRepo
	subs      *MockSubscriptionRepo
	webhooks  *MockWebhookEventRepo
	invoices  *MockInvoiceRepo
	gateway   *MockGateway
	events    *MockPublisher
	limiter   *MockLimiter

	discountUC usecase.DiscountUseCase
	invoiceUC  usecase.InvoiceUseCase
	paymentUC  usecase.PaymentUseCase
	subUC      usecase.SubscriptionUseCase
}

func newFixture(tm *MockTxManager) *fixture {
	f := &fixture{
		payments:  NewMockPaymentRepo(),
		discounts: NewMockDiscountRepo(),
		subs:      NewMockSubscriptionRepo(),
		webhooks:  NewMockWebhookEventRepo(),
		invoices:  NewMockInvoiceRepo(),
		gateway:   NewMockGateway("stripe"),
		events:    &MockPublisher{},
		limiter:   &MockLimiter{},
	}
	logger := newTestLogger()
	f.discountUC = usecase.NewDiscountUseCase(f.discounts, tm, f.limiter,
		config.DiscountConfig{AttemptLimit: 5, AttemptWindow: time.Hour}, logger)
	f.invoiceUC = usecase.NewInvoiceUseCase(f.invoices, logger)
	f.paymentUC = usecase.NewPaymentUseCase(f.payments, f.webhooks, f.discountUC, f.invoiceUC, NewMockRegistry(f.gateway), tm, f.events,
		config.PaymentConfig{DefaultCurrency: "USD", GatewayTimeout: 200 * time.Millisecond}, logger)
	f.subUC = usecase.NewSubscriptionUseCase(f.subs, f.paymentUC, tm, f.events, "USD",
		config.SchedulerConfig{RenewalWindow: 24 * time.Hour, BatchSize: 2}, logger)
	return f
}

// seedDiscount creates an active code valid from an hour ago for a week.
func (f *fixture) seedDiscount(t *testing.T, code string, typ model.DiscountType, value string, maxUses *int, perUser int) *model.Discount {
	t.Helper()
	d, err := f.discountUC.Create(context.Background(), usecase.CreateDiscountInput{
		Code:           code,
		Type:           typ,
		Value:          dec(value),
		StartDate:      time.Now().Add(-time.Hour),
		EndDate:        time.Now().Add(7 * 24 * time.Hour),
		MaxUses:        maxUses,
		MaxUsesPerUser: perUser,
	})
	if err != nil {
		t.Fatalf("failed to seed discount: %v", err)
	}
	return d
}

// seedCompleted stores a completed 100.00 USD payment charged through the mock gateway.
func (f *fixture) seedCompleted(t *testing.T) *model.Payment {
	t.Helper()
	res, err := f.paymentUC.CreatePayment(context.Background(), model.PaymentRequest{
		StudentID: "student-1",
		Amount:    dec("100.00"),
		Currency:  "USD",
		Method:    model.PaymentMethodCreditCard,
	})
	if err != nil {
		t.Fatalf("failed to seed payment: %v", err)
	}
	if res.Payment.Status != model.PaymentStatusCompleted {
		t.Fatalf("seeded payment not completed: %s", res.Payment.Status)
	}
	return res.Payment
}

func intPtr(v int) *int { return &v }
