package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentAggregate is one group of payments sharing status, gateway and
// currency inside a reporting window.
type PaymentAggregate struct {
	Status       PaymentStatus
	Gateway      string
	Currency     string
	Count        int64
	Amount       decimal.Decimal
	PlatformFees decimal.Decimal
	NetAmount    decimal.Decimal
}

// CurrencyTotals sums completed payments in one currency. Currencies are
// never converted into each other.
type CurrencyTotals struct {
	Currency     string
	Amount       decimal.Decimal
	PlatformFees decimal.Decimal
	NetAmount    decimal.Decimal
}

type GatewayTotals struct {
	Gateway   string
	Payments  int64
	Completed int64
	Failed    int64
}

type PaymentStatistics struct {
	From          time.Time
	To            time.Time
	TotalPayments int64
	Completed     int64
	Failed        int64
	Refunded      int64
	SuccessRate   decimal.Decimal // percent of all payments that completed, two decimals
	ByStatus      map[PaymentStatus]int64
	ByCurrency    []CurrencyTotals
	ByGateway     []GatewayTotals
}

// BuildPaymentStatistics folds aggregate rows into the report. Money totals
// only count COMPLETED payments.
func BuildPaymentStatistics(from, to time.Time, rows []PaymentAggregate) *PaymentStatistics {
	s := &PaymentStatistics{From: from, To: to, SuccessRate: decimal.Zero, ByStatus: map[PaymentStatus]int64{}}
	currencies := map[string]*CurrencyTotals{}
	gateways := map[string]*GatewayTotals{}

	for _, r := range rows {
		s.TotalPayments += r.Count
		s.ByStatus[r.Status] += r.Count

		g := gateways[r.Gateway]
		if g == nil {
			g = &GatewayTotals{Gateway: r.Gateway}
			gateways[r.Gateway] = g
		}
		g.Payments += r.Count

		switch r.Status {
		case PaymentStatusCompleted:
			s.Completed += r.Count
			g.Completed += r.Count
			c := currencies[r.Currency]
			if c == nil {
				c = &CurrencyTotals{Currency: r.Currency}
				currencies[r.Currency] = c
			}
			c.Amount = c.Amount.Add(r.Amount)
			c.PlatformFees = c.PlatformFees.Add(r.PlatformFees)
			c.NetAmount = c.NetAmount.Add(r.NetAmount)
		case PaymentStatusFailed:
			s.Failed += r.Count
			g.Failed += r.Count
		case PaymentStatusRefunded:
			s.Refunded += r.Count
		}
	}

	if s.TotalPayments > 0 {
		s.SuccessRate = decimal.NewFromInt(s.Completed).Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(s.TotalPayments)).Round(2)
	}
	for _, c := range currencies {
		s.ByCurrency = append(s.ByCurrency, *c)
	}
	sort.Slice(s.ByCurrency, func(i, j int) bool { return s.ByCurrency[i].Currency < s.ByCurrency[j].Currency })
	for _, g := range gateways {
		s.ByGateway = append(s.ByGateway, *g)
	}
	sort.Slice(s.ByGateway, func(i, j int) bool { return s.ByGateway[i].Gateway < s.ByGateway[j].Gateway })
	return s
}
