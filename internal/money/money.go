// Package money holds the currency rounding rule shared by every derived
// monetary field.
package money

import "github.com/shopspring/decimal"

// Places is the currency precision.
const Places int32 = 2

// Round rounds half away from zero to currency precision, which is
// round-half-up for the non-negative amounts the service stores.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Format renders an amount with exactly two decimals for API responses.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Column precision of stored quantities and unit costs. Inputs are rounded
// to it before anything is derived from them, so a total recomputed from the
// stored rows matches the total written with them.
const (
	QuantityPlaces int32 = 3
	UnitCostPlaces int32 = 4
)

func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

func UnitCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(UnitCostPlaces)
}
