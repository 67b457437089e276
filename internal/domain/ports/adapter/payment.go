package adapter

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain/model"
)

// ChargeResult is the normalized outcome of a gateway charge.
type ChargeResult struct {
	ExternalRef   string
	Status        model.PaymentStatus // never a provider-specific value
	ClientSecret  string              // for client-side confirmation (stripe)
	RedirectURL   string              // for redirect flows (paypal, zarinpal)
	ProcessingFee decimal.Decimal     // zero when the provider does not report it synchronously
}

// RefundRequest carries what a provider needs to refund a settled charge.
type RefundRequest struct {
	PaymentID      string
	ExternalRef    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Reason         string
}

// RefundResult captures a minimal, provider-agnostic result of a refund request.
type RefundResult struct {
	ID     string // provider refund id
	Status string // provider status e.g. pending / succeeded
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string

	// ProcessPayment submits the charge for p; amounts are converted exactly to minor units.
	ProcessPayment(ctx context.Context, p *model.Payment, req *model.PaymentRequest) (*ChargeResult, error)
	// RefundPayment refunds by the gateway's external reference, never the internal id.
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// VerifyAndDecode authenticates a callback and decodes it. Signature failures
	// wrap domain.ErrInvalidSignature. Unrecognized events return Kind WebhookUnknown.
	VerifyAndDecode(ctx context.Context, payload []byte, header http.Header) (*model.WebhookEvent, error)
}

// GatewayRegistry resolves adapters by payment method or gateway name.
type GatewayRegistry interface {
	ForMethod(method model.PaymentMethod) (PaymentGateway, error)
	ForName(name string) (PaymentGateway, error)
}
