package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
)

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

var hundred = decimal.NewFromInt(100)

// Discount is a promotional code. Code, type and value never change after creation.
type Discount struct {
	ID             string
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	StartDate      time.Time
	EndDate        time.Time
	MaxUses        *int // nil means unlimited
	MaxUsesPerUser int
	UsesCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DiscountRedemption records one successful application by an owner.
type DiscountRedemption struct {
	ID         string
	DiscountID string
	OwnerID    string
	PaymentID  *string
	RedeemedAt time.Time
}

// NewDiscount validates and builds a discount code.
func NewDiscount(id, code string, typ DiscountType, value decimal.Decimal, start, end time.Time, maxUses *int, maxUsesPerUser int, now time.Time) (*Discount, error) {
	code = strings.TrimSpace(code)
	switch {
	case id == "":
		return nil, domain.ErrInvalidArgument
	case code == "":
		return nil, domain.ValidationError("code is required")
	case typ != DiscountTypePercentage && typ != DiscountTypeFixedAmount:
		return nil, domain.ValidationError("unknown discount type %q", typ)
	case !value.IsPositive():
		return nil, domain.ValidationError("value must be greater than zero")
	case typ == DiscountTypePercentage && value.GreaterThan(hundred):
		return nil, domain.ValidationError("percentage cannot exceed 100")
	case !end.After(start):
		return nil, domain.ValidationError("endDate must be after startDate")
	case maxUses != nil && *maxUses <= 0:
		return nil, domain.ValidationError("maxUses must be positive")
	}
	if maxUsesPerUser <= 0 {
		maxUsesPerUser = 1
	}
	return &Discount{
		ID:             id,
		Code:           code,
		Type:           typ,
		Value:          value,
		StartDate:      start,
		EndDate:        end,
		MaxUses:        maxUses,
		MaxUsesPerUser: maxUsesPerUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CheckValid reports why the code cannot be used at now, in order: not started, expired, exhausted.
func (d *Discount) CheckValid(now time.Time) error {
	if now.Before(d.StartDate) {
		return domain.DiscountError(domain.ErrInvalidState, "discount code %s is not yet valid", d.Code)
	}
	if now.After(d.EndDate) {
		return domain.DiscountError(domain.ErrInvalidState, "discount code %s has expired", d.Code)
	}
	if d.Exhausted() {
		return domain.DiscountError(domain.ErrInvalidState, "discount code %s usage limit reached", d.Code)
	}
	return nil
}

func (d *Discount) Exhausted() bool {
	return d.MaxUses != nil && d.UsesCount >= *d.MaxUses
}

// Apply returns the discounted amount, never negative, rounded to the currency's minor unit.
func (d *Discount) Apply(amount decimal.Decimal, currency string) decimal.Decimal {
	var out decimal.Decimal
	switch d.Type {
	case DiscountTypePercentage:
		out = amount.Mul(hundred.Sub(d.Value)).Div(hundred)
	default:
		out = amount.Sub(d.Value)
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return RoundToCurrency(out, currency)
}
