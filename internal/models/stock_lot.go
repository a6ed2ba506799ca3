package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockLot is one received batch of an ingredient. Its status is never
// stored; it is classified on every read.
type StockLot struct {
	ID                uint                `gorm:"primaryKey"`
	IngredientID      uint                `gorm:"index;not null"`
	Ingredient        *Ingredient         `gorm:"constraint:OnDelete:RESTRICT"`
	BatchCode         string              `gorm:"size:64;not null;index"`
	AvailableQuantity decimal.Decimal     `gorm:"type:decimal(12,3);not null"`
	ReservedQuantity  decimal.Decimal     `gorm:"type:decimal(12,3);not null;default:0"`
	MinThreshold      decimal.Decimal     `gorm:"type:decimal(12,3);not null;default:0"`
	MaxThreshold      decimal.NullDecimal `gorm:"type:decimal(12,3)"`
	ExpiryDate        *time.Time          `gorm:"index"`
	CostPerUnit       decimal.Decimal     `gorm:"type:decimal(12,4);not null"`
	ReceivedAt        time.Time           `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
