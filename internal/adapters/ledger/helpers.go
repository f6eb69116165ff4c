package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// amountText renders an amount for a TEXT decimal column
func amountText(d decimal.Decimal) string {
	return d.String()
}

// textToDecimal converts a TEXT decimal column back to decimal.Decimal
func textToDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}
