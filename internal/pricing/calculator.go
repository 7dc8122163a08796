// Package pricing computes line totals, tax and platform fees in minor units.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeInput is returned for negative prices, quantities or percentages
	ErrNegativeInput = errors.New("pricing: negative input")
	// ErrPercentOutOfRange is returned for discount or fee percentages above 100
	ErrPercentOutOfRange = errors.New("pricing: percentage above 100")
	// ErrAmountOutOfRange is returned when a line or the grand total exceeds MaxAmount
	ErrAmountOutOfRange = errors.New("pricing: amount exceeds maximum charge")
)

// MaxAmount is the largest chargeable amount in minor units (999,999.99)
const MaxAmount int64 = 99_999_999

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(MaxAmount)
)

// Line is a unit price in minor units and a quantity
type Line struct {
	UnitPrice int64
	Quantity  int64
}

// Input holds everything the calculator needs. Percentages are 0-100.
type Input struct {
	Lines              []Line
	DiscountPercent    decimal.Decimal
	TaxRatePercent     decimal.Decimal
	PlatformFeePercent decimal.Decimal
}

// LineAmount is a computed line
type LineAmount struct {
	UnitPrice int64
	Quantity  int64
	Gross     int64
	Discount  int64
	Net       int64
}

// Breakdown is the result of Calculate. All amounts are minor units.
type Breakdown struct {
	Lines          []LineAmount
	GrossSubtotal  int64
	DiscountTotal  int64
	Subtotal       int64
	Tax            int64
	HasTaxLine     bool
	GrandTotal     int64
	PlatformFee    int64
	MerchantAmount int64
}

// Calculate is pure: identical inputs always yield identical outputs.
// Each line is rounded half-up on its own; tax is one line on the
// discounted subtotal; the platform fee is taken on the tax-inclusive total.
func Calculate(in Input) (*Breakdown, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	keep := hundred.Sub(in.DiscountPercent)
	b := &Breakdown{Lines: make([]LineAmount, 0, len(in.Lines))}

	for i, l := range in.Lines {
		grossDec := decimal.NewFromInt(l.UnitPrice).Mul(decimal.NewFromInt(l.Quantity))
		if grossDec.GreaterThan(maxAmount) {
			return nil, fmt.Errorf("line %d: %w", i, ErrAmountOutOfRange)
		}
		gross := grossDec.IntPart()
		net := roundMinor(grossDec.Mul(keep).Div(hundred))
		b.Lines = append(b.Lines, LineAmount{
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Gross:     gross,
			Discount:  gross - net,
			Net:       net,
		})
		b.GrossSubtotal += gross
		b.DiscountTotal += gross - net
		b.Subtotal += net
		if b.GrossSubtotal > MaxAmount {
			return nil, ErrAmountOutOfRange
		}
	}

	if in.TaxRatePercent.IsPositive() {
		tax := decimal.NewFromInt(b.Subtotal).Mul(in.TaxRatePercent).Div(hundred).Round(0)
		if tax.Add(decimal.NewFromInt(b.Subtotal)).GreaterThan(maxAmount) {
			return nil, ErrAmountOutOfRange
		}
		b.HasTaxLine = true
		b.Tax = tax.IntPart()
	}

	b.GrandTotal = b.Subtotal + b.Tax
	b.PlatformFee = percentOf(b.GrandTotal, in.PlatformFeePercent)
	b.MerchantAmount = b.GrandTotal - b.PlatformFee

	return b, nil
}

func validate(in Input) error {
	for i, l := range in.Lines {
		if l.UnitPrice < 0 || l.Quantity < 0 {
			return fmt.Errorf("line %d: %w", i, ErrNegativeInput)
		}
		if l.UnitPrice > MaxAmount || l.Quantity > MaxAmount {
			return fmt.Errorf("line %d: %w", i, ErrAmountOutOfRange)
		}
	}
	if in.DiscountPercent.IsNegative() || in.TaxRatePercent.IsNegative() || in.PlatformFeePercent.IsNegative() {
		return ErrNegativeInput
	}
	if in.DiscountPercent.GreaterThan(hundred) || in.PlatformFeePercent.GreaterThan(hundred) {
		return ErrPercentOutOfRange
	}
	return nil
}

func percentOf(amount int64, percent decimal.Decimal) int64 {
	return roundMinor(decimal.NewFromInt(amount).Mul(percent).Div(hundred))
}

// roundMinor rounds half away from zero, which is half-up for the
// non-negative values validate admits
func roundMinor(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// FormatMinor renders minor units as a two-place decimal string, e.g. 1944 -> "19.44"
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// ParseMinor parses a decimal string such as "19.44" into minor units
func ParseMinor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return roundMinor(d.Shift(2)), nil
}
