package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseOrderStatus string

const (
	POStatusDraft     PurchaseOrderStatus = "draft"
	POStatusSent      PurchaseOrderStatus = "sent"
	POStatusConfirmed PurchaseOrderStatus = "confirmed"
	POStatusDelivered PurchaseOrderStatus = "delivered"
	POStatusInvoiced  PurchaseOrderStatus = "invoiced"
	POStatusPaid      PurchaseOrderStatus = "paid"
	POStatusCancelled PurchaseOrderStatus = "cancelled"
)

// PurchaseOrderStatuses lists every status in lifecycle order.
var PurchaseOrderStatuses = []PurchaseOrderStatus{
	POStatusDraft,
	POStatusSent,
	POStatusConfirmed,
	POStatusDelivered,
	POStatusInvoiced,
	POStatusPaid,
	POStatusCancelled,
}

func (s PurchaseOrderStatus) Valid() bool {
	for _, known := range PurchaseOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PurchaseOrder owns its items. The money columns are derived from the items
// plus discount and shipping and are rewritten together with them.
type PurchaseOrder struct {
	ID                   uint                `gorm:"primaryKey"`
	OrderNumber          string              `gorm:"size:32;not null;uniqueIndex"`
	SupplierID           uint                `gorm:"index;not null"`
	Supplier             *Supplier           `gorm:"constraint:OnDelete:RESTRICT"`
	Status               PurchaseOrderStatus `gorm:"size:20;not null;index"`
	OrderDate            time.Time           `gorm:"not null"`
	ExpectedDeliveryDate *time.Time
	ActualDeliveryDate   *time.Time
	Subtotal             decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TaxAmount            decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	DiscountAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	ShippingCost         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Total                decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	InvoiceNumber        *string         `gorm:"size:64"`
	Notes                string          `gorm:"size:1000"`
	Version              int64           `gorm:"not null;default:0"`
	StatusChangedAt      time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Items []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderID;constraint:OnDelete:CASCADE"`
}

type PurchaseOrderItem struct {
	ID               uint            `gorm:"primaryKey"`
	PurchaseOrderID  uint            `gorm:"index;not null"`
	IngredientID     uint            `gorm:"index;not null"`
	Ingredient       *Ingredient     `gorm:"constraint:OnDelete:RESTRICT"`
	Quantity         decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	Unit             string          `gorm:"size:20;not null"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(12,4);not null"`
	TotalPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null"` // quantity * unit_price, recomputed on write
	ReceivedQuantity decimal.Decimal `gorm:"type:decimal(12,3);not null;default:0"`
	CreatedAt        time.Time
}
