package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Recipe owns its ingredient lines. TotalCost is derived from them and is
// only written by the cost roll-up inside the same transaction as the lines.
type Recipe struct {
	ID              uint            `gorm:"primaryKey"`
	Name            string          `gorm:"size:150;not null;index"`
	Description     string          `gorm:"size:1000"`
	PortionSize     decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	PreparationTime int             `gorm:"not null;default:0"` // minutes
	CookingTime     int             `gorm:"not null;default:0"`
	Difficulty      Difficulty      `gorm:"size:10;not null"`
	TotalCost       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Version         int64           `gorm:"not null;default:0"`
	Active          bool            `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Ingredients []RecipeIngredient `gorm:"foreignKey:RecipeID;constraint:OnDelete:CASCADE"`
}

// RecipeIngredient is one line of a recipe. CostPerUnit is a snapshot taken
// when the line was written and is never refreshed implicitly.
type RecipeIngredient struct {
	ID              uint            `gorm:"primaryKey"`
	RecipeID        uint            `gorm:"index;not null"`
	IngredientID    uint            `gorm:"index;not null"`
	Ingredient      *Ingredient     `gorm:"constraint:OnDelete:RESTRICT"`
	Quantity        decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	Unit            string          `gorm:"size:20;not null"`
	CostPerUnit     decimal.Decimal `gorm:"type:decimal(12,4);not null"`
	IsOptional      bool            `gorm:"not null;default:false"`
	PreparationStep int             `gorm:"not null;default:0"`
	CreatedAt       time.Time
}
