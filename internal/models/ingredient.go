package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ingredient is the catalog definition of something the kitchen buys and
// stocks. CostPerUnit is the live price; recipe lines copy it at creation.
type Ingredient struct {
	ID          uint            `gorm:"primaryKey"`
	Name        string          `gorm:"size:100;not null;uniqueIndex"`
	Unit        string          `gorm:"size:20;not null"` // kg, l, pz
	CostPerUnit decimal.Decimal `gorm:"type:decimal(12,4);not null;default:0"`
	SupplierID  *uint           `gorm:"index"`
	Supplier    *Supplier       `gorm:"constraint:OnDelete:SET NULL"`
	Active      bool            `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
