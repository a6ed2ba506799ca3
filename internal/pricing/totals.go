// Package pricing derives purchase-order money columns from items and
// adjustments. Everything here is pure.
package pricing

import (
	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/money"

	"github.com/shopspring/decimal"
)

// TaxRate is the VAT applied to the discounted subtotal.
var TaxRate = decimal.RequireFromString("0.22")

type Item struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Adjustments are order-level amounts applied on top of the items. Zero
// values mean no discount and free shipping.
type Adjustments struct {
	Discount decimal.Decimal
	Shipping decimal.Decimal
}

type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Discounted     decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
}

// LineTotal is the denormalized total_price of one item.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return money.Round(quantity.Mul(unitPrice))
}

// Compute derives the order totals. Subtotal and tax are rounded before they
// are combined so total always equals discounted + tax + shipping exactly.
func Compute(items []Item, adj Adjustments) Totals {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Quantity.Mul(it.UnitPrice))
	}

	subtotal := money.Round(sum)
	discount := money.Round(adj.Discount)
	shipping := money.Round(adj.Shipping)
	discounted := subtotal.Sub(discount)
	tax := money.Round(discounted.Mul(TaxRate))

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Discounted:     discounted,
		TaxAmount:      tax,
		ShippingCost:   shipping,
		Total:          discounted.Add(tax).Add(shipping),
	}
}

// Consistent reports whether stored totals satisfy
// total == round((subtotal - discount) * (1 + TaxRate) + shipping).
func Consistent(subtotal, discount, shipping, total decimal.Decimal) bool {
	want := money.Round(subtotal.Sub(discount).Mul(decimal.NewFromInt(1).Add(TaxRate)).Add(shipping))
	return want.Equal(total)
}

// Validate rejects items and adjustments the calculator must never see.
func Validate(op string, items []Item, adj Adjustments) error {
	if len(items) == 0 {
		return apperr.Validation(op, "at least one item is required")
	}
	for i, it := range items {
		if !it.Quantity.IsPositive() {
			return apperr.Validation(op, "item %d: quantity must be greater than zero", i+1)
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation(op, "item %d: unit_price must not be negative", i+1)
		}
	}
	return ValidateAdjustments(op, Compute(items, Adjustments{}).Subtotal, adj)
}

func ValidateAdjustments(op string, subtotal decimal.Decimal, adj Adjustments) error {
	if adj.Discount.IsNegative() {
		return apperr.Validation(op, "discount_amount must not be negative")
	}
	if adj.Shipping.IsNegative() {
		return apperr.Validation(op, "shipping_cost must not be negative")
	}
	if money.Round(adj.Discount).GreaterThan(subtotal) {
		return apperr.Validation(op, "discount_amount %s exceeds subtotal %s", money.Format(adj.Discount), money.Format(subtotal))
	}
	return nil
}
