package distribution

import "github.com/shopspring/decimal"

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
