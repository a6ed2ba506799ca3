package costing

import (
	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Drift compares a stored total_cost with the value recomputed from the
// recipe's lines.
type Drift struct {
	RecipeID   uint
	Name       string
	Lines      int
	Stored     decimal.Decimal
	Recomputed decimal.Decimal
}

func (d Drift) Drifted() bool { return !d.Stored.Equal(d.Recomputed) }

func driftOf(r models.Recipe) Drift {
	return Drift{
		RecipeID:   r.ID,
		Name:       r.Name,
		Lines:      len(r.Ingredients),
		Stored:     r.TotalCost,
		Recomputed: RollUp(LinesOf(r.Ingredients)),
	}
}

func Verify(db *gorm.DB, recipeID uint) (Drift, error) {
	var recipe models.Recipe
	if err := db.Preload("Ingredients").First(&recipe, recipeID).Error; err != nil {
		return Drift{}, apperr.FromDB("costing.Verify", err)
	}
	return driftOf(recipe), nil
}

// VerifyAll scans every recipe and returns the ones that drifted.
func VerifyAll(db *gorm.DB) ([]Drift, error) {
	var (
		batch   []models.Recipe
		drifted []Drift
	)
	err := db.Preload("Ingredients").FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, r := range batch {
			if d := driftOf(r); d.Drifted() {
				drifted = append(drifted, d)
			}
		}
		return nil
	}).Error
	if err != nil {
		return nil, apperr.FromDB("costing.VerifyAll", err)
	}
	return drifted, nil
}

// Repair rewrites total_cost from the stored lines and advances the version.
func Repair(tx *gorm.DB, recipeID uint) (decimal.Decimal, error) {
	const op = "costing.Repair"

	var rows []models.RecipeIngredient
	if err := tx.Where("recipe_id = ?", recipeID).Find(&rows).Error; err != nil {
		return decimal.Zero, apperr.FromDB(op, err)
	}
	total := RollUp(LinesOf(rows))
	res := tx.Model(&models.Recipe{}).Where("id = ?", recipeID).UpdateColumns(map[string]any{
		"total_cost": total,
		"version":    gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return decimal.Zero, apperr.FromDB(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, apperr.NotFound(op, "recipe", recipeID)
	}
	return total, nil
}
