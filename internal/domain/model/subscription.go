package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
)

type PlanType string

const (
	PlanFree       PlanType = "FREE"
	PlanMonthly    PlanType = "MONTHLY"
	PlanQuarterly  PlanType = "QUARTERLY"
	PlanSemiAnnual PlanType = "SEMI_ANNUAL"
	PlanAnnual     PlanType = "ANNUAL"
	PlanLifetime   PlanType = "LIFETIME"
	PlanEnterprise PlanType = "ENTERPRISE"
	PlanStudent    PlanType = "STUDENT"
	PlanTeam       PlanType = "TEAM"
)

// Billing period in months; plans missing here cannot be subscribed to directly.
var planMonths = map[PlanType]int{
	PlanMonthly:    1,
	PlanQuarterly:  3,
	PlanSemiAnnual: 6,
	PlanAnnual:     12,
	PlanLifetime:   100 * 12,
}

var planPrices = map[PlanType]decimal.Decimal{
	PlanMonthly:    decimal.RequireFromString("9.99"),
	PlanQuarterly:  decimal.RequireFromString("24.99"),
	PlanSemiAnnual: decimal.RequireFromString("44.99"),
	PlanAnnual:     decimal.RequireFromString("79.99"),
	PlanStudent:    decimal.RequireFromString("4.99"),
	PlanLifetime:   decimal.RequireFromString("299.99"),
}

func ParsePlanType(s string) (PlanType, error) {
	p := PlanType(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PlanFree, PlanMonthly, PlanQuarterly, PlanSemiAnnual, PlanAnnual, PlanLifetime, PlanEnterprise, PlanStudent, PlanTeam:
		return p, nil
	}
	return "", domain.ErrInvalidArgument
}

// Months returns the billing period and whether the plan has one.
func (p PlanType) Months() (int, bool) {
	m, ok := planMonths[p]
	return m, ok
}

func (p PlanType) Price() decimal.Decimal {
	return planPrices[p]
}

func (p PlanType) IsLifetime() bool { return p == PlanLifetime }

// AddMonths adds n calendar months, clamping to the last day of the target month
// (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Subscription is a recurring-access grant. At most one is active per student.
type Subscription struct {
	ID              string
	StudentID       string
	Type            PlanType
	StartDate       time.Time
	EndDate         time.Time
	TrialEndDate    *time.Time
	IsActive        bool
	IsCancelled     bool
	CancelledAt     *time.Time
	AutoRenew       bool
	Price           decimal.Decimal
	Currency        string
	PaymentMethod   PaymentMethod
	NextBillingDate *time.Time
	LastPaymentID   *string
	// PendingPaymentID is a renewal charge the gateway has not settled yet.
	// The period is only extended once it completes.
	PendingPaymentID *string
	// Saved gateway references used to charge renewals off-session.
	PaymentMethodRef *string
	CustomerRef      *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSubscription builds an active subscription starting at now.
func NewSubscription(id, studentID string, plan PlanType, method PaymentMethod, autoRenew bool, trialDays int, currency string, now time.Time) (*Subscription, error) {
	if id == "" || strings.TrimSpace(studentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	months, ok := plan.Months()
	if !ok {
		return nil, domain.SubscriptionError(domain.ErrInvalidArgument, "invalid plan %s", plan)
	}
	if trialDays < 0 {
		return nil, domain.ValidationError("trialDays cannot be negative")
	}
	s := &Subscription{
		ID:            id,
		StudentID:     studentID,
		Type:          plan,
		StartDate:     now,
		EndDate:       AddMonths(now, months),
		IsActive:      true,
		AutoRenew:     autoRenew && !plan.IsLifetime(),
		Price:         plan.Price(),
		Currency:      currency,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if trialDays > 0 {
		te := now.AddDate(0, 0, trialDays)
		s.TrialEndDate = &te
	}
	if s.AutoRenew {
		nb := s.EndDate
		s.NextBillingDate = &nb
	}
	return s, nil
}

// Cancel stops renewal; the subscription stays usable until EndDate.
// Returns false if it was already cancelled.
func (s *Subscription) Cancel(now time.Time) bool {
	if s.IsCancelled {
		return false
	}
	s.IsCancelled = true
	s.CancelledAt = &now
	s.AutoRenew = false
	s.NextBillingDate = nil
	s.UpdatedAt = now
	return true
}

// DueForRenewal reports whether the renewal sweep should charge s before horizon.
func (s *Subscription) DueForRenewal(horizon time.Time) bool {
	return s.IsActive && s.AutoRenew && !s.IsCancelled && s.PendingPaymentID == nil &&
		s.NextBillingDate != nil && !s.NextBillingDate.After(horizon)
}

// AwaitRenewal parks s on a renewal charge that is still in flight.
func (s *Subscription) AwaitRenewal(paymentID string, now time.Time) {
	s.PendingPaymentID = &paymentID
	s.UpdatedAt = now
}

// Renew shifts the period forward by one plan period after a completed charge.
// A subscription cancelled while the charge was in flight keeps the paid
// period but is not billed again.
func (s *Subscription) Renew(paymentID string, now time.Time) error {
	months, ok := s.Type.Months()
	if !ok || s.Type.IsLifetime() {
		return domain.SubscriptionError(domain.ErrInvalidState, "plan %s does not renew", s.Type)
	}
	s.StartDate = AddMonths(s.StartDate, months)
	s.EndDate = AddMonths(s.EndDate, months)
	s.NextBillingDate = nil
	if s.AutoRenew {
		nb := s.EndDate
		s.NextBillingDate = &nb
	}
	s.LastPaymentID = &paymentID
	s.PendingPaymentID = nil
	s.UpdatedAt = now
	return nil
}

// RenewalFailed stops billing after a declined renewal. The current period is
// kept; the expiry sweep ends the subscription once EndDate passes.
func (s *Subscription) RenewalFailed(now time.Time) {
	s.PendingPaymentID = nil
	s.AutoRenew = false
	s.NextBillingDate = nil
	s.UpdatedAt = now
}

// Expired reports whether a non-renewing subscription has passed its end date.
// A renewal still in flight holds expiry off until it settles.
func (s *Subscription) Expired(now time.Time) bool {
	return s.IsActive && !s.AutoRenew && s.PendingPaymentID == nil && s.EndDate.Before(now)
}

func (s *Subscription) Deactivate(now time.Time) {
	s.IsActive = false
	s.UpdatedAt = now
}
