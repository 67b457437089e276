package model

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"    // persisted, gateway not yet confirmed
	PaymentStatusProcessing PaymentStatus = "PROCESSING" // accepted by gateway, awaiting settlement
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
	PaymentStatusDisputed   PaymentStatus = "DISPUTED" // chargeback opened at the provider
	PaymentStatusExpired    PaymentStatus = "EXPIRED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusCancelled, PaymentStatusExpired, PaymentStatusDisputed,
	},
	PaymentStatusProcessing: {
		PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled,
		PaymentStatusExpired, PaymentStatusDisputed,
	},
	PaymentStatusCompleted: {PaymentStatusRefunded, PaymentStatusDisputed},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanReach reports whether target lies strictly ahead of s on some path
// through the state machine.
func (s PaymentStatus) CanReach(target PaymentStatus) bool {
	seen := map[PaymentStatus]bool{s: true}
	queue := []PaymentStatus{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range paymentTransitions[cur] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentMethodPayPal       PaymentMethod = "PAYPAL"
	PaymentMethodStripe       PaymentMethod = "STRIPE"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	PaymentMethodCrypto       PaymentMethod = "CRYPTO"
	PaymentMethodApplePay     PaymentMethod = "APPLE_PAY"
	PaymentMethodGooglePay    PaymentMethod = "GOOGLE_PAY"
	PaymentMethodZarinPal     PaymentMethod = "ZARINPAL"
)

var paymentMethods = []PaymentMethod{
	PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPayPal, PaymentMethodStripe,
	PaymentMethodBankTransfer, PaymentMethodMobileMoney, PaymentMethodCrypto,
	PaymentMethodApplePay, PaymentMethodGooglePay, PaymentMethodZarinPal,
}

// ParsePaymentMethod accepts any casing of a known method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range paymentMethods {
		if known == m {
			return m, nil
		}
	}
	return "", domain.ErrInvalidArgument
}

// Payment is a single monetary transaction attempt. Records are never deleted.
type Payment struct {
	ID             string // UUID
	StudentID      string
	CourseID       *string
	SubscriptionID *string
	Amount         decimal.Decimal // charged amount, after discount
	Currency       string
	Method         PaymentMethod
	Gateway        string // adapter name that executed the charge
	Status         PaymentStatus
	TransactionID  string  // TXN-<ulid>, assigned once
	ExternalRef    *string // gateway-assigned reference
	DiscountCode   *string
	DiscountAmount decimal.Decimal
	ProcessingFee  decimal.Decimal
	PlatformFee    decimal.Decimal
	NetAmount      decimal.Decimal
	IsRefunded     bool
	RefundedAmount decimal.Decimal
	FailureReason  *string
	Description    string
	Metadata       map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	RefundedAt     *time.Time
}

// PaymentRequest is the intent submitted by a caller.
type PaymentRequest struct {
	StudentID      string
	Amount         decimal.Decimal
	Currency       string
	Method         PaymentMethod
	CourseID       string
	SubscriptionID string
	DiscountCode   string
	Description    string
	Metadata       map[string]interface{}
	CardToken      string // stripe payment method id, optional
	CustomerRef    string // gateway customer that owns CardToken
	OffSession     bool   // charged without the payer present, e.g. renewals
	ReturnURL      string // where redirect-based gateways send the payer back
}

// Validate normalizes the currency and rejects malformed input.
func (r *PaymentRequest) Validate() error {
	if strings.TrimSpace(r.StudentID) == "" {
		return domain.ValidationError("studentId is required")
	}
	if !r.Amount.IsPositive() {
		return domain.ValidationError("amount must be greater than zero")
	}
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	c, err := NormalizeCurrency(r.Currency)
	if err != nil {
		return domain.ValidationError("currency must be a 3-letter code")
	}
	r.Currency = c
	if _, err := ToMinorUnits(r.Amount, c); err != nil {
		return domain.ValidationError("amount has more decimals than %s allows", c)
	}
	if r.Method == "" {
		return domain.ValidationError("method is required")
	}
	return nil
}

// NewTransactionID returns a unique, human-inspectable transaction reference.
func NewTransactionID() string {
	return "TXN-" + ulid.Make().String()
}

// NewPayment builds a PENDING payment. finalAmount is the amount after discount.
func NewPayment(id string, req PaymentRequest, finalAmount, feeRate decimal.Decimal, now time.Time) (*Payment, error) {
	if id == "" || req.StudentID == "" || finalAmount.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	fee := PlatformFee(finalAmount, feeRate, req.Currency)
	p := &Payment{
		ID:             id,
		StudentID:      req.StudentID,
		Amount:         finalAmount,
		Currency:       req.Currency,
		Method:         req.Method,
		Status:         PaymentStatusPending,
		TransactionID:  NewTransactionID(),
		DiscountAmount: req.Amount.Sub(finalAmount),
		ProcessingFee:  decimal.Zero,
		PlatformFee:    fee,
		NetAmount:      finalAmount.Sub(fee),
		RefundedAmount: decimal.Zero,
		Description:    req.Description,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.CourseID != "" {
		p.CourseID = &req.CourseID
	}
	if req.SubscriptionID != "" {
		p.SubscriptionID = &req.SubscriptionID
	}
	if req.DiscountCode != "" {
		p.DiscountCode = &req.DiscountCode
	}
	return p, nil
}

// PlatformFee is amount * rate/100, rounded to the currency's minor unit.
func PlatformFee(amount, ratePercent decimal.Decimal, currency string) decimal.Decimal {
	return RoundToCurrency(amount.Mul(ratePercent).Div(decimal.NewFromInt(100)), currency)
}

// Transition moves the payment to next when allowed. Same-status is a no-op.
func (p *Payment) Transition(next PaymentStatus, now time.Time) (bool, error) {
	if p.Status == next {
		return false, nil
	}
	if !p.Status.CanTransitionTo(next) {
		return false, domain.ErrInvalidState
	}
	p.Status = next
	p.UpdatedAt = now
	if next == PaymentStatusCompleted && p.PaidAt == nil {
		p.PaidAt = &now
	}
	return true, nil
}

// SetProcessingFee records the gateway fee and recomputes the net amount.
func (p *Payment) SetProcessingFee(fee decimal.Decimal) {
	p.ProcessingFee = fee
	p.NetAmount = p.Amount.Sub(p.PlatformFee).Sub(fee)
}

// ValidateRefund checks whether amount can be refunded from p.
func (p *Payment) ValidateRefund(amount decimal.Decimal) error {
	if p.IsRefunded || p.Status == PaymentStatusRefunded {
		return domain.PaymentError(domain.ErrInvalidState, "payment %s is already refunded", p.ID)
	}
	if p.Status != PaymentStatusCompleted {
		return domain.PaymentError(domain.ErrInvalidState, "only completed payments can be refunded (status %s)", p.Status)
	}
	if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
		return domain.PaymentError(domain.ErrInvalidArgument, "refund amount must be greater than zero and at most %s", p.Amount.StringFixed(CurrencyExponent(p.Currency)))
	}
	if p.ExternalRef == nil || *p.ExternalRef == "" {
		return domain.PaymentError(domain.ErrInvalidState, "payment %s has no gateway reference", p.ID)
	}
	return nil
}

// MarkRefunded applies a refund that the gateway accepted.
func (p *Payment) MarkRefunded(amount decimal.Decimal, now time.Time) error {
	if _, err := p.Transition(PaymentStatusRefunded, now); err != nil {
		return err
	}
	if amount.GreaterThan(p.Amount) {
		amount = p.Amount
	}
	p.IsRefunded = true
	p.RefundedAmount = amount
	p.RefundedAt = &now
	return nil
}
