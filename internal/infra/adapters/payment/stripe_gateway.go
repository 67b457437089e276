// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"
	"github.com/stripe/stripe-go/webhook"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeAPI is the slice of the Stripe SDK the gateway needs.
type StripeAPI interface {
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type sdkStripeAPI struct{ api *client.API }

func (s sdkStripeAPI) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.api.PaymentIntents.New(params)
}

func (s sdkStripeAPI) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return s.api.Refunds.New(params)
}

// StripeGateway implements adapter.PaymentGateway on PaymentIntents.
type StripeGateway struct {
	api           StripeAPI
	webhookSecret string
}

func NewStripeGateway(apiKey, webhookSecret string) (*StripeGateway, error) {
	if apiKey == "" {
		return nil, errors.New("stripe api key empty")
	}
	return &StripeGateway{api: sdkStripeAPI{api: client.New(apiKey, nil)}, webhookSecret: webhookSecret}, nil
}

// NewStripeGatewayWithAPI wires a custom SDK implementation (tests, proxies).
func NewStripeGatewayWithAPI(api StripeAPI, webhookSecret string) *StripeGateway {
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (s *StripeGateway) Name() string { return GatewayStripe }

func (s *StripeGateway) ProcessPayment(ctx context.Context, p *model.Payment, req *model.PaymentRequest) (*adapter.ChargeResult, error) {
	amount, err := model.ToMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return nil, domain.PaymentError(err, "amount %s %s cannot be charged exactly", p.Amount, p.Currency)
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(strings.ToLower(p.Currency)),
		Description:        stripe.String(p.Description),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.SetIdempotencyKey("charge-" + p.ID)
	params.AddMetadata("payment_id", p.ID)
	params.AddMetadata("transaction_id", p.TransactionID)
	params.AddMetadata("student_id", p.StudentID)
	if req != nil && req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req != nil && req.CardToken != "" {
		params.PaymentMethod = stripe.String(req.CardToken)
		params.Confirm = stripe.Bool(true)
		if req.OffSession {
			params.OffSession = stripe.Bool(true)
		}
	}

	pi, err := s.api.NewPaymentIntent(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &adapter.ChargeResult{
		ExternalRef:  pi.ID,
		Status:       mapStripeStatus(string(pi.Status)),
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (s *StripeGateway) RefundPayment(ctx context.Context, req adapter.RefundRequest) (*adapter.RefundResult, error) {
	amount, err := model.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, domain.PaymentError(err, "refund amount %s %s cannot be refunded exactly", req.Amount, req.Currency)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalRef),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	rf, err := s.api.NewRefund(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create refund: %w", err)
	}
	return &adapter.RefundResult{ID: rf.ID, Status: string(rf.Status)}, nil
}

// stripeObject is the subset of payment_intent/charge/dispute fields we read from events.
type stripeObject struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Amount           int64             `json:"amount"`
	AmountRefunded   int64             `json:"amount_refunded"`
	Currency         string            `json:"currency"`
	PaymentIntent    string            `json:"payment_intent"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

var stripeEventKinds = map[string]model.WebhookEventKind{
	"payment_intent.succeeded":      model.WebhookPaymentSucceeded,
	"payment_intent.payment_failed": model.WebhookPaymentFailed,
	"payment_intent.canceled":       model.WebhookPaymentCanceled,
	"charge.refunded":               model.WebhookChargeRefunded,
	"charge.dispute.created":        model.WebhookPaymentDisputed,
}

func (s *StripeGateway) VerifyAndDecode(ctx context.Context, payload []byte, header http.Header) (*model.WebhookEvent, error) {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return nil, domain.ValidationError("missing Stripe-Signature header")
	}
	evt, err := webhook.ConstructEvent(payload, sig, s.webhookSecret)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindValidation, Msg: "invalid stripe signature", Err: fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)}
	}

	out := &model.WebhookEvent{Gateway: GatewayStripe, EventID: evt.ID, EventType: evt.Type, Kind: model.WebhookUnknown}
	kind, ok := stripeEventKinds[evt.Type]
	if !ok || evt.Data == nil {
		return out, nil
	}
	var obj stripeObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return nil, domain.ValidationError("malformed stripe event object")
	}
	out.Kind = kind
	out.Currency = strings.ToUpper(obj.Currency)
	out.PaymentID = obj.Metadata["payment_id"]

	switch obj.Object {
	case "payment_intent":
		out.ExternalRef = obj.ID
		out.Amount = model.FromMinorUnits(obj.Amount, out.Currency)
		if obj.LastPaymentError != nil {
			out.FailureReason = obj.LastPaymentError.Message
		}
	case "charge":
		out.ExternalRef = obj.PaymentIntent
		out.Amount = model.FromMinorUnits(obj.AmountRefunded, out.Currency)
	case "dispute":
		out.ExternalRef = obj.PaymentIntent
		out.Amount = model.FromMinorUnits(obj.Amount, out.Currency)
	}
	if out.ExternalRef == "" && out.PaymentID == "" {
		return nil, domain.ValidationError("stripe event %s carries no payment reference", evt.ID)
	}
	return out, nil
}

// mapStripeStatus keeps Stripe's vocabulary out of shared state.
func mapStripeStatus(status string) model.PaymentStatus {
	switch stripe.PaymentIntentStatus(status) {
	case stripe.PaymentIntentStatusSucceeded:
		return model.PaymentStatusCompleted
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return model.PaymentStatusProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return model.PaymentStatusPending
	case stripe.PaymentIntentStatusCanceled:
		return model.PaymentStatusCancelled
	default:
		return model.PaymentStatusFailed
	}
}
