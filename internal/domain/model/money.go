package model

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
)

const DefaultCurrency = "USD"

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Currencies whose minor unit differs from cents.
var currencyExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0, "KRW": 0, "MGA": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"IRR": 0, // gateways settle rials as integers
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// NormalizeCurrency upper-cases and validates a 3-letter currency code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !currencyRe.MatchString(c) {
		return "", domain.ErrInvalidArgument
	}
	return c, nil
}

// CurrencyExponent returns the number of minor-unit digits for a currency.
func CurrencyExponent(currency string) int32 {
	if e, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// ToMinorUnits converts amount to the currency's smallest unit.
// Amounts with more precision than the currency allows are rejected, never rounded.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	scaled := amount.Shift(CurrencyExponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, domain.ErrInexactAmount
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, domain.ErrInexactAmount
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -CurrencyExponent(currency))
}

// RoundToCurrency rounds half away from zero to the currency's minor unit.
func RoundToCurrency(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyExponent(currency))
}
