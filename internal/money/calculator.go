package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/buildledger/buildledger/internal/shared"
)

// Scale is the number of fractional digits kept on every persisted amount.
const Scale = 2

var (
	hundred = decimal.NewFromInt(100)
	// Zero is the additive identity, exported for callers comparing balances.
	Zero = decimal.Zero
)

// Item is the arithmetic view of a document line.
type Item struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Totals groups the three derived document amounts. They are always computed together.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ValidateItem rejects non-positive quantities and negative prices.
func ValidateItem(idx int, item Item) error {
	if !item.Quantity.IsPositive() {
		return shared.NewValidationError(fmt.Sprintf("items[%d].quantity", idx), "must be greater than zero")
	}
	if item.UnitPrice.IsNegative() {
		return shared.NewValidationError(fmt.Sprintf("items[%d].unit_price", idx), "must not be negative")
	}
	return nil
}

// ValidateTaxRate ensures rate is a percentage in [0, 100].
func ValidateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return shared.NewValidationError("tax_rate", "must be between 0 and 100")
	}
	return nil
}

// LineTotal returns quantity * unit price without rounding.
func LineTotal(item Item) decimal.Decimal {
	return item.Quantity.Mul(item.UnitPrice)
}

// ComputeTotals derives subtotal, tax and total. Rounding is half-up to two places and is applied
// once to the aggregate subtotal and once to the tax amount.
func ComputeTotals(items []Item, taxRate decimal.Decimal) (Totals, error) {
	if err := ValidateTaxRate(taxRate); err != nil {
		return Totals{}, err
	}
	sum := decimal.Zero
	for i, item := range items {
		if err := ValidateItem(i, item); err != nil {
			return Totals{}, err
		}
		sum = sum.Add(LineTotal(item))
	}
	subtotal := Round(sum)
	tax := Round(subtotal.Mul(taxRate).Div(hundred))
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}, nil
}

// Round rounds half away from zero to Scale places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ApplyPayment returns max(0, balance - amount).
func ApplyPayment(balance, amount decimal.Decimal) decimal.Decimal {
	remaining := Round(balance.Sub(amount))
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ToMinorUnits converts an amount to integer cents for the payment processor.
func ToMinorUnits(d decimal.Decimal) int64 {
	return Round(d).Shift(Scale).IntPart()
}

// FromMinorUnits converts processor cents back to a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -Scale)
}
