package api

import (
	"time"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain/model"
	"lms-payments/internal/usecase"
)

type createPaymentRequest struct {
	StudentID      string                 `json:"studentId"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	Method         string                 `json:"method"`
	CourseID       string                 `json:"courseId"`
	SubscriptionID string                 `json:"subscriptionId"`
	DiscountCode   string                 `json:"discountCode"`
	Description    string                 `json:"description"`
	Metadata       map[string]interface{} `json:"metadata"`
	CardToken      string                 `json:"paymentMethodId"`
	ReturnURL      string                 `json:"returnUrl"`
}

type createPaymentResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	ClientSecret  string    `json:"clientSecret,omitempty"`
	RedirectURL   string    `json:"redirectUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type paymentResponse struct {
	ID             string                 `json:"id"`
	TransactionID  string                 `json:"transactionId"`
	StudentID      string                 `json:"studentId"`
	CourseID       *string                `json:"courseId,omitempty"`
	SubscriptionID *string                `json:"subscriptionId,omitempty"`
	Amount         string                 `json:"amount"`
	Currency       string                 `json:"currency"`
	Method         string                 `json:"method"`
	Gateway        string                 `json:"gateway"`
	Status         string                 `json:"status"`
	ExternalRef    *string                `json:"externalRef,omitempty"`
	DiscountCode   *string                `json:"discountCode,omitempty"`
	DiscountAmount string                 `json:"discountAmount"`
	ProcessingFee  string                 `json:"processingFee"`
	PlatformFee    string                 `json:"platformFee"`
	NetAmount      string                 `json:"netAmount"`
	IsRefunded     bool                   `json:"isRefunded"`
	RefundedAmount string                 `json:"refundedAmount"`
	FailureReason  *string                `json:"failureReason,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	PaidAt         *time.Time             `json:"paidAt,omitempty"`
	RefundedAt     *time.Time             `json:"refundedAt,omitempty"`
}

// money renders an amount with the currency's minor-unit digits.
func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(model.CurrencyExponent(currency))
}

func toCreatePaymentResponse(res *usecase.PaymentResult) createPaymentResponse {
	p := res.Payment
	return createPaymentResponse{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		Amount:        money(p.Amount, p.Currency),
		Currency:      p.Currency,
		Status:        string(p.Status),
		ClientSecret:  res.ClientSecret,
		RedirectURL:   res.RedirectURL,
		CreatedAt:     p.CreatedAt,
	}
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		TransactionID:  p.TransactionID,
		StudentID:      p.StudentID,
		CourseID:       p.CourseID,
		SubscriptionID: p.SubscriptionID,
		Amount:         money(p.Amount, p.Currency),
		Currency:       p.Currency,
		Method:         string(p.Method),
		Gateway:        p.Gateway,
		Status:         string(p.Status),
		ExternalRef:    p.ExternalRef,
		DiscountCode:   p.DiscountCode,
		DiscountAmount: money(p.DiscountAmount, p.Currency),
		ProcessingFee:  money(p.ProcessingFee, p.Currency),
		PlatformFee:    money(p.PlatformFee, p.Currency),
		NetAmount:      money(p.NetAmount, p.Currency),
		IsRefunded:     p.IsRefunded,
		RefundedAmount: money(p.RefundedAmount, p.Currency),
		FailureReason:  p.FailureReason,
		Description:    p.Description,
		Metadata:       p.Metadata,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		PaidAt:         p.PaidAt,
		RefundedAt:     p.RefundedAt,
	}
}

type createSubscriptionRequest struct {
	StudentID     string `json:"studentId"`
	Type          string `json:"type"`
	PaymentMethod string `json:"paymentMethod"`
	AutoRenew     *bool  `json:"autoRenew"`
	TrialDays     int    `json:"trialDays"`
	Currency      string `json:"currency"`
	PaymentID     string `json:"paymentId"`
	// gateway payment method and customer kept for renewals
	PaymentMethodRef string `json:"paymentMethodRef"`
	CustomerRef      string `json:"customerRef"`
}

type subscriptionResponse struct {
	ID              string     `json:"id"`
	StudentID       string     `json:"studentId"`
	Type            string     `json:"type"`
	StartDate       time.Time  `json:"startDate"`
	EndDate         time.Time  `json:"endDate"`
	TrialEndDate    *time.Time `json:"trialEndDate,omitempty"`
	IsActive        bool       `json:"isActive"`
	IsCancelled     bool       `json:"isCancelled"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	AutoRenew       bool       `json:"autoRenew"`
	Price           string     `json:"price"`
	Currency        string     `json:"currency"`
	PaymentMethod   string     `json:"paymentMethod"`
	NextBillingDate *time.Time `json:"nextBillingDate,omitempty"`
	LastPaymentID   *string    `json:"lastPaymentId,omitempty"`
	PendingPayment  *string    `json:"pendingPaymentId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:              s.ID,
		StudentID:       s.StudentID,
		Type:            string(s.Type),
		StartDate:       s.StartDate,
		EndDate:         s.EndDate,
		TrialEndDate:    s.TrialEndDate,
		IsActive:        s.IsActive,
		IsCancelled:     s.IsCancelled,
		CancelledAt:     s.CancelledAt,
		AutoRenew:       s.AutoRenew,
		Price:           money(s.Price, s.Currency),
		Currency:        s.Currency,
		PaymentMethod:   string(s.PaymentMethod),
		NextBillingDate: s.NextBillingDate,
		LastPaymentID:   s.LastPaymentID,
		PendingPayment:  s.PendingPaymentID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

type createDiscountRequest struct {
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	Value          decimal.Decimal `json:"value"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	MaxUses        *int            `json:"maxUses"`
	MaxUsesPerUser int             `json:"maxUsesPerUser"`
}

type discountResponse struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Type           string    `json:"type"`
	Value          string    `json:"value"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	MaxUses        *int      `json:"maxUses,omitempty"`
	MaxUsesPerUser int       `json:"maxUsesPerUser"`
	UsesCount      int       `json:"usesCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toDiscountResponse(d *model.Discount) discountResponse {
	return discountResponse{
		ID:             d.ID,
		Code:           d.Code,
		Type:           string(d.Type),
		Value:          d.Value.String(),
		StartDate:      d.StartDate,
		EndDate:        d.EndDate,
		MaxUses:        d.MaxUses,
		MaxUsesPerUser: d.MaxUsesPerUser,
		UsesCount:      d.UsesCount,
		CreatedAt:      d.CreatedAt,
	}
}

type validateDiscountRequest struct {
	Code      string          `json:"code"`
	StudentID string          `json:"studentId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// discountQuoteResponse prices an amount under a code that has not been redeemed.
type discountQuoteResponse struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	Value          string `json:"value"`
	OriginalAmount string `json:"originalAmount"`
	DiscountAmount string `json:"discountAmount"`
	FinalAmount    string `json:"finalAmount"`
	Currency       string `json:"currency"`
}

func toDiscountQuoteResponse(app *usecase.DiscountApplication, amount decimal.Decimal) discountQuoteResponse {
	currency := app.Currency
	return discountQuoteResponse{
		Code:           app.Discount.Code,
		Type:           string(app.Discount.Type),
		Value:          app.Discount.Value.String(),
		OriginalAmount: money(amount, currency),
		DiscountAmount: money(amount.Sub(app.FinalAmount), currency),
		FinalAmount:    money(app.FinalAmount, currency),
		Currency:       currency,
	}
}

type invoiceItemResponse struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Amount      string `json:"amount"`
}

type invoiceResponse struct {
	ID             string                `json:"id"`
	InvoiceNumber  string                `json:"invoiceNumber"`
	PaymentID      string                `json:"paymentId"`
	StudentID      string                `json:"studentId"`
	Subtotal       string                `json:"subtotal"`
	Discount       string                `json:"discount"`
	Tax            string                `json:"tax"`
	Total          string                `json:"total"`
	AmountPaid     string                `json:"amountPaid"`
	AmountDue      string                `json:"amountDue"`
	AmountRefunded string                `json:"amountRefunded"`
	Currency       string                `json:"currency"`
	Status         string                `json:"status"`
	Items          []invoiceItemResponse `json:"items"`
	IssuedAt       time.Time             `json:"issueDate"`
	PaidAt         time.Time             `json:"paidAt"`
}

func toInvoiceResponse(inv *model.Invoice) invoiceResponse {
	items := make([]invoiceItemResponse, 0, len(inv.Items))
	for _, it := range inv.Items {
		items = append(items, invoiceItemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice, inv.Currency),
			Amount:      money(it.Amount, inv.Currency),
		})
	}
	return invoiceResponse{
		ID:             inv.ID,
		InvoiceNumber:  inv.Number,
		PaymentID:      inv.PaymentID,
		StudentID:      inv.StudentID,
		Subtotal:       money(inv.Subtotal, inv.Currency),
		Discount:       money(inv.Discount, inv.Currency),
		Tax:            money(inv.Tax, inv.Currency),
		Total:          money(inv.Total, inv.Currency),
		AmountPaid:     money(inv.AmountPaid, inv.Currency),
		AmountDue:      money(inv.AmountDue(), inv.Currency),
		AmountRefunded: money(inv.AmountRefunded, inv.Currency),
		Currency:       inv.Currency,
		Status:         string(inv.Status),
		Items:          items,
		IssuedAt:       inv.IssuedAt,
		PaidAt:         inv.PaidAt,
	}
}

type currencyTotalsResponse struct {
	Currency          string `json:"currency"`
	TotalAmount       string `json:"total_amount"`
	TotalPlatformFees string `json:"total_platform_fees"`
	TotalNetAmount    string `json:"total_net_amount"`
}

type gatewayTotalsResponse struct {
	Gateway   string `json:"gateway"`
	Payments  int64  `json:"payments"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

type paymentStatisticsResponse struct {
	From          time.Time                `json:"from"`
	To            time.Time                `json:"to"`
	TotalPayments int64                    `json:"total_payments"`
	Completed     int64                    `json:"completed"`
	Failed        int64                    `json:"failed"`
	Refunded      int64                    `json:"refunded"`
	SuccessRate   float64                  `json:"success_rate"`
	ByStatus      map[string]int64         `json:"by_status"`
	ByCurrency    []currencyTotalsResponse `json:"by_currency"`
	ByGateway     []gatewayTotalsResponse  `json:"by_gateway"`
}

func toPaymentStatisticsResponse(s *model.PaymentStatistics) paymentStatisticsResponse {
	rate, _ := s.SuccessRate.Float64()
	out := paymentStatisticsResponse{
		From:          s.From,
		To:            s.To,
		TotalPayments: s.TotalPayments,
		Completed:     s.Completed,
		Failed:        s.Failed,
		Refunded:      s.Refunded,
		SuccessRate:   rate,
		ByStatus:      make(map[string]int64, len(s.ByStatus)),
		ByCurrency:    make([]currencyTotalsResponse, 0, len(s.ByCurrency)),
		ByGateway:     make([]gatewayTotalsResponse, 0, len(s.ByGateway)),
	}
	for st, n := range s.ByStatus {
		out.ByStatus[string(st)] = n
	}
	for _, c := range s.ByCurrency {
		out.ByCurrency = append(out.ByCurrency, currencyTotalsResponse{
			Currency:          c.Currency,
			TotalAmount:       money(c.Amount, c.Currency),
			TotalPlatformFees: money(c.PlatformFees, c.Currency),
			TotalNetAmount:    money(c.NetAmount, c.Currency),
		})
	}
	for _, g := range s.ByGateway {
		out.ByGateway = append(out.ByGateway, gatewayTotalsResponse(g))
	}
	return out
}
