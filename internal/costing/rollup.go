// Package costing keeps a recipe's total_cost equal to the rounded sum of
// its ingredient lines.
package costing

import (
	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Line struct {
	Quantity    decimal.Decimal
	CostPerUnit decimal.Decimal
}

// RollUp returns round(Σ quantity*cost_per_unit, 2). An empty slice costs zero.
func RollUp(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Quantity.Mul(l.CostPerUnit))
	}
	return money.Round(sum)
}

func LinesOf(rows []models.RecipeIngredient) []Line {
	lines := make([]Line, len(rows))
	for i, r := range rows {
		lines[i] = Line{Quantity: r.Quantity, CostPerUnit: r.CostPerUnit}
	}
	return lines
}

// ValidateLines checks what the roll-up requires of its input.
func ValidateLines(op string, lines []Line) error {
	if len(lines) == 0 {
		return apperr.Validation(op, "a recipe needs at least one ingredient line")
	}
	for i, l := range lines {
		if !l.Quantity.IsPositive() {
			return apperr.Validation(op, "ingredient line %d: quantity must be greater than zero", i+1)
		}
		if l.CostPerUnit.IsNegative() {
			return apperr.Validation(op, "ingredient line %d: cost_per_unit must not be negative", i+1)
		}
	}
	return nil
}

// ReplaceLines rounds rows to column precision, swaps the recipe's
// ingredient lines for them and stores the new total_cost. It must run on a transaction handle; the caller owns the
// version bump so one mutation advances the version once.
func ReplaceLines(tx *gorm.DB, recipeID uint, rows []models.RecipeIngredient) (decimal.Decimal, error) {
	const op = "costing.ReplaceLines"

	for i := range rows {
		rows[i].Quantity = money.Quantity(rows[i].Quantity)
		rows[i].CostPerUnit = money.UnitCost(rows[i].CostPerUnit)
	}
	if err := ValidateLines(op, LinesOf(rows)); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Where("recipe_id = ?", recipeID).Delete(&models.RecipeIngredient{}).Error; err != nil {
		return decimal.Zero, apperr.FromDB(op, err)
	}

	for i := range rows {
		rows[i].ID = 0
		rows[i].RecipeID = recipeID
	}
	if err := tx.Omit(clause.Associations).Create(&rows).Error; err != nil {
		return decimal.Zero, apperr.FromDB(op, err)
	}

	total := RollUp(LinesOf(rows))
	res := tx.Model(&models.Recipe{}).Where("id = ?", recipeID).UpdateColumn("total_cost", total)
	if res.Error != nil {
		return decimal.Zero, apperr.FromDB(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, apperr.NotFound(op, "recipe", recipeID)
	}
	return total, nil
}
