package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders amounts for people, e.g. "$ 3,255.00".
type Formatter struct {
	unit    currency.Unit
	printer *message.Printer
}

// NewFormatter builds a Formatter for an ISO 4217 code. Unknown codes fall back to USD.
func NewFormatter(code string) Formatter {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		unit = currency.USD
	}
	return Formatter{unit: unit, printer: message.NewPrinter(language.English)}
}

// Format prints amount with the currency symbol, grouping and the currency's standard scale.
func (f Formatter) Format(amount decimal.Decimal) string {
	scale, _ := currency.Standard.Rounding(f.unit)
	value := amount.Round(int32(scale)).InexactFloat64()
	return f.printer.Sprintf("%v %v", currency.Symbol(f.unit), number.Decimal(value, number.Scale(scale)))
}

// Code is the upper-case ISO code.
func (f Formatter) Code() string {
	return f.unit.String()
}
