package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*SandboxGateway)(nil)

const SandboxSignatureHeader = "X-Sandbox-Signature"

// SandboxGateway is an in-memory gateway for development and tests.
// Webhooks are JSON bodies signed with hex(HMAC-SHA256(secret, body)).
type SandboxGateway struct {
	secret       string
	chargeStatus model.PaymentStatus

	mu      sync.Mutex
	seq     int64
	charges map[string]decimal.Decimal // external ref -> charged amount
	refunds map[string]decimal.Decimal // external ref -> refunded amount
}

func NewSandboxGateway(secret string) *SandboxGateway {
	return &SandboxGateway{
		secret:       secret,
		chargeStatus: model.PaymentStatusCompleted,
		charges:      make(map[string]decimal.Decimal),
		refunds:      make(map[string]decimal.Decimal),
	}
}

// SetChargeStatus changes the status reported for new charges (e.g. PENDING to exercise webhooks).
func (g *SandboxGateway) SetChargeStatus(s model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeStatus = s
}

func (g *SandboxGateway) Name() string { return GatewaySandbox }

func (g *SandboxGateway) ProcessPayment(ctx context.Context, p *model.Payment, _ *model.PaymentRequest) (*adapter.ChargeResult, error) {
	if _, err := model.ToMinorUnits(p.Amount, p.Currency); err != nil {
		return nil, domain.PaymentError(err, "amount %s %s cannot be charged exactly", p.Amount, p.Currency)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ref := fmt.Sprintf("sbx_%d", g.seq)
	g.charges[ref] = p.Amount
	return &adapter.ChargeResult{
		ExternalRef:  ref,
		Status:       g.chargeStatus,
		ClientSecret: ref + "_secret",
	}, nil
}

func (g *SandboxGateway) RefundPayment(ctx context.Context, req adapter.RefundRequest) (*adapter.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	charged, ok := g.charges[req.ExternalRef]
	if !ok {
		return nil, fmt.Errorf("sandbox: charge %s not found", req.ExternalRef)
	}
	if _, done := g.refunds[req.ExternalRef]; done {
		// replay of the same refund; no second movement of money
		return &adapter.RefundResult{ID: "re_" + req.ExternalRef, Status: "succeeded"}, nil
	}
	if req.Amount.GreaterThan(charged) {
		return nil, fmt.Errorf("sandbox: refund %s exceeds charge %s", req.Amount, charged)
	}
	g.refunds[req.ExternalRef] = req.Amount
	return &adapter.RefundResult{ID: "re_" + req.ExternalRef, Status: "succeeded"}, nil
}

// Refunded returns the refunded amount for ref, if any.
func (g *SandboxGateway) Refunded(ref string) (decimal.Decimal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.refunds[ref]
	return a, ok
}

// SandboxEvent is the webhook body accepted by the sandbox gateway.
type SandboxEvent struct {
	ID          string `json:"id"`
	Type        string `json:"type"` // one of model.WebhookEventKind
	ExternalRef string `json:"external_ref"`
	PaymentID   string `json:"payment_id,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Sign returns the signature header value for body.
func (g *SandboxGateway) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *SandboxGateway) VerifyAndDecode(ctx context.Context, payload []byte, header http.Header) (*model.WebhookEvent, error) {
	sig, err := hex.DecodeString(header.Get(SandboxSignatureHeader))
	if err != nil || len(sig) == 0 {
		return nil, &domain.Error{Kind: domain.KindValidation, Msg: "missing or malformed sandbox signature", Err: domain.ErrInvalidSignature}
	}
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, &domain.Error{Kind: domain.KindValidation, Msg: "invalid sandbox signature", Err: domain.ErrInvalidSignature}
	}
	var evt SandboxEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, domain.ValidationError("malformed sandbox event")
	}
	out := &model.WebhookEvent{
		Gateway:       GatewaySandbox,
		EventID:       evt.ID,
		EventType:     evt.Type,
		Kind:          model.WebhookUnknown,
		ExternalRef:   evt.ExternalRef,
		PaymentID:     evt.PaymentID,
		Currency:      evt.Currency,
		FailureReason: evt.Reason,
	}
	if _, ok := model.WebhookEventKind(evt.Type).TargetStatus(); ok {
		out.Kind = model.WebhookEventKind(evt.Type)
	}
	if evt.Amount != "" {
		amt, err := decimal.NewFromString(evt.Amount)
		if err != nil {
			return nil, domain.ValidationError("malformed sandbox event amount")
		}
		out.Amount = amt
	}
	return out, nil
}
