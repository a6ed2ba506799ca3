package purchasing

import (
	"context"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/pricing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Drift compares the stored money columns of an order with the values
// recomputed from its items.
type Drift struct {
	OrderID     uint
	OrderNumber string
	Stored      pricing.Totals
	Recomputed  pricing.Totals
	// Items whose total_price no longer equals quantity * unit_price.
	BadItems []uint
}

func (d Drift) Drifted() bool {
	return len(d.BadItems) > 0 ||
		!d.Stored.Subtotal.Equal(d.Recomputed.Subtotal) ||
		!d.Stored.TaxAmount.Equal(d.Recomputed.TaxAmount) ||
		!d.Stored.Total.Equal(d.Recomputed.Total) ||
		!pricing.Consistent(d.Stored.Subtotal, d.Stored.DiscountAmount, d.Stored.ShippingCost, d.Stored.Total)
}

func driftOf(po models.PurchaseOrder) Drift {
	d := Drift{
		OrderID:     po.ID,
		OrderNumber: po.OrderNumber,
		Stored: pricing.Totals{
			Subtotal:       po.Subtotal,
			DiscountAmount: po.DiscountAmount,
			Discounted:     po.Subtotal.Sub(po.DiscountAmount),
			TaxAmount:      po.TaxAmount,
			ShippingCost:   po.ShippingCost,
			Total:          po.Total,
		},
		Recomputed: pricing.Compute(pricingItems(po.Items), pricing.Adjustments{
			Discount: po.DiscountAmount,
			Shipping: po.ShippingCost,
		}),
	}
	for _, it := range po.Items {
		if !it.TotalPrice.Equal(pricing.LineTotal(it.Quantity, it.UnitPrice)) {
			d.BadItems = append(d.BadItems, it.ID)
		}
	}
	return d
}

func Verify(db *gorm.DB, orderID uint) (Drift, error) {
	var po models.PurchaseOrder
	if err := db.Preload("Items").First(&po, orderID).Error; err != nil {
		return Drift{}, apperr.Lookup("purchasing.Verify", "purchase order", orderID, err)
	}
	return driftOf(po), nil
}

// VerifyAll scans every order and returns the ones that drifted.
func VerifyAll(db *gorm.DB) ([]Drift, error) {
	var (
		batch   []models.PurchaseOrder
		drifted []Drift
	)
	err := db.Preload("Items").FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, po := range batch {
			if d := driftOf(po); d.Drifted() {
				drifted = append(drifted, d)
			}
		}
		return nil
	}).Error
	if err != nil {
		return nil, apperr.FromDB("purchasing.VerifyAll", err)
	}
	return drifted, nil
}

// Repair rewrites item total_price values and the order totals from the
// stored quantities and prices, then advances the version. A discount that
// now exceeds the subtotal is reported rather than written.
func Repair(tx *gorm.DB, orderID uint) (decimal.Decimal, error) {
	const op = "purchasing.Repair"

	po, err := lockOrder(tx, op, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	for i := range po.Items {
		it := &po.Items[i]
		want := pricing.LineTotal(it.Quantity, it.UnitPrice)
		if it.TotalPrice.Equal(want) {
			continue
		}
		it.TotalPrice = want
		if err := tx.Model(it).UpdateColumn("total_price", want).Error; err != nil {
			return decimal.Zero, apperr.FromDB(op, err)
		}
	}
	if err := applyTotals(op, po, po.Items, po.DiscountAmount, po.ShippingCost); err != nil {
		return decimal.Zero, err
	}
	err = tx.Model(&models.PurchaseOrder{}).Where("id = ?", po.ID).UpdateColumns(map[string]any{
		"subtotal":        po.Subtotal,
		"discount_amount": po.DiscountAmount,
		"tax_amount":      po.TaxAmount,
		"shipping_cost":   po.ShippingCost,
		"total":           po.Total,
		"version":         gorm.Expr("version + 1"),
	}).Error
	if err != nil {
		return decimal.Zero, apperr.FromDB(op, err)
	}
	return po.Total, nil
}

func (s *Service) Verify(ctx context.Context, id uint) (Drift, error) {
	return Verify(s.tx.DB(ctx), id)
}
