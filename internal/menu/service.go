// Package menu manages recipes and keeps their cost roll-up and version in
// step with every change to their ingredient lines.
package menu

import (
	"context"
	"fmt"
	"strings"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/costing"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/txn"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const entityType = "recipe"

type Service struct {
	tx *txn.Coordinator
}

func NewService(coordinator *txn.Coordinator) *Service {
	return &Service{tx: coordinator}
}

type LineInput struct {
	IngredientID uint
	Quantity     decimal.Decimal
	// Empty takes the ingredient's unit.
	Unit string
	// Nil snapshots the ingredient's current catalog cost.
	CostPerUnit     *decimal.Decimal
	IsOptional      bool
	PreparationStep int
}

type RecipeInput struct {
	Name            string
	Description     string
	PortionSize     decimal.Decimal
	PreparationTime int
	CookingTime     int
	Difficulty      models.Difficulty
	Active          bool
	Lines           []LineInput
}

// UpdateInput fields left nil are not touched. Lines replaces the whole
// ingredient list.
type UpdateInput struct {
	ExpectedVersion *int64
	Name            *string
	Description     *string
	PortionSize     *decimal.Decimal
	PreparationTime *int
	CookingTime     *int
	Difficulty      *models.Difficulty
	Active          *bool
	Lines           *[]LineInput
}

// CostResult is what a line mutation reports back.
type CostResult struct {
	RecipeID  uint
	TotalCost decimal.Decimal
	Version   int64
}

func validateLines(op string, lines []LineInput) error {
	if len(lines) == 0 {
		return apperr.Validation(op, "a recipe needs at least one ingredient line")
	}
	for i, l := range lines {
		if l.IngredientID == 0 {
			return apperr.Validation(op, "ingredient line %d: ingredient_id is required", i+1)
		}
		if !l.Quantity.IsPositive() {
			return apperr.Validation(op, "ingredient line %d: quantity must be greater than zero", i+1)
		}
		if l.CostPerUnit != nil && l.CostPerUnit.IsNegative() {
			return apperr.Validation(op, "ingredient line %d: cost_per_unit must not be negative", i+1)
		}
		if l.PreparationStep < 0 {
			return apperr.Validation(op, "ingredient line %d: preparation_step must not be negative", i+1)
		}
	}
	return nil
}

func validateScalars(op, name string, portion decimal.Decimal, prep, cook int, difficulty models.Difficulty) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation(op, "name is required")
	}
	if !portion.IsPositive() {
		return apperr.Validation(op, "portion_size must be greater than zero")
	}
	if prep < 0 || cook < 0 {
		return apperr.Validation(op, "preparation and cooking times must not be negative")
	}
	if !difficulty.Valid() {
		return apperr.Validation(op, "difficulty must be one of easy, medium, hard")
	}
	return nil
}

// buildLines resolves unit and cost snapshots from the catalog.
func buildLines(tx *gorm.DB, op string, inputs []LineInput) ([]models.RecipeIngredient, error) {
	ids := make([]uint, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.IngredientID)
	}
	var ingredients []models.Ingredient
	if err := tx.Where("id IN ?", ids).Find(&ingredients).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	byID := make(map[uint]models.Ingredient, len(ingredients))
	for _, ing := range ingredients {
		byID[ing.ID] = ing
	}

	rows := make([]models.RecipeIngredient, 0, len(inputs))
	for _, in := range inputs {
		ing, ok := byID[in.IngredientID]
		if !ok {
			return nil, apperr.NotFound(op, "ingredient", in.IngredientID)
		}
		row := models.RecipeIngredient{
			IngredientID:    in.IngredientID,
			Quantity:        in.Quantity,
			Unit:            strings.TrimSpace(in.Unit),
			CostPerUnit:     ing.CostPerUnit,
			IsOptional:      in.IsOptional,
			PreparationStep: in.PreparationStep,
		}
		if row.Unit == "" {
			row.Unit = ing.Unit
		}
		if in.CostPerUnit != nil {
			row.CostPerUnit = *in.CostPerUnit
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CreateRecipe stores the recipe and its lines with total_cost rolled up and
// version 1.
func (s *Service) CreateRecipe(ctx context.Context, in RecipeInput) (*models.Recipe, error) {
	const op = "menu.CreateRecipe"

	if in.Difficulty == "" {
		in.Difficulty = models.DifficultyMedium
	}
	if err := validateScalars(op, in.Name, in.PortionSize, in.PreparationTime, in.CookingTime, in.Difficulty); err != nil {
		return nil, err
	}
	if err := validateLines(op, in.Lines); err != nil {
		return nil, err
	}

	recipe := &models.Recipe{
		Name:            strings.TrimSpace(in.Name),
		Description:     strings.TrimSpace(in.Description),
		PortionSize:     in.PortionSize,
		PreparationTime: in.PreparationTime,
		CookingTime:     in.CookingTime,
		Difficulty:      in.Difficulty,
		TotalCost:       decimal.Zero,
		Version:         1,
		Active:          in.Active,
	}

	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		rows, err := buildLines(tx, op, in.Lines)
		if err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(recipe).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		if recipe.TotalCost, err = costing.ReplaceLines(tx, recipe.ID, rows); err != nil {
			return err
		}
		recipe.Ingredients = rows

		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    recipe.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("%s created, cost %s", recipe.Name, recipe.TotalCost.StringFixed(2)),
			After:       recipe,
		})
	})
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

func lockRecipe(tx *gorm.DB, op string, id uint) (*models.Recipe, error) {
	var recipe models.Recipe
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&recipe, id).Error; err != nil {
		return nil, apperr.Lookup(op, "recipe", id, err)
	}
	if err := tx.Where("recipe_id = ?", id).Order("preparation_step, id").Find(&recipe.Ingredients).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	return &recipe, nil
}

func checkVersion(op string, r *models.Recipe, expected *int64) error {
	if expected != nil && *expected != r.Version {
		return apperr.Conflict(op, "recipe %d was modified concurrently (version %d, expected %d)", r.ID, r.Version, *expected)
	}
	return nil
}

// mutate locks the recipe, lets change edit it and, when change reports a
// modification, stores it with the version advanced by one.
func (s *Service) mutate(ctx context.Context, op string, id uint, expected *int64, describe string,
	change func(tx *gorm.DB, r *models.Recipe) (bool, error)) (*models.Recipe, error) {

	var recipe *models.Recipe
	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var err error
		if recipe, err = lockRecipe(tx, op, id); err != nil {
			return err
		}
		if err := checkVersion(op, recipe, expected); err != nil {
			return err
		}
		before := *recipe
		before.Ingredients = append([]models.RecipeIngredient(nil), recipe.Ingredients...)

		changed, err := change(tx, recipe)
		if err != nil || !changed {
			return err
		}

		recipe.Version++
		if err := tx.Omit(clause.Associations).Save(recipe).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    recipe.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("%s: %s", recipe.Name, describe),
			Before:      before,
			After:       recipe,
		})
	})
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

func replace(tx *gorm.DB, op string, r *models.Recipe, inputs []LineInput) error {
	rows, err := buildLines(tx, op, inputs)
	if err != nil {
		return err
	}
	if r.TotalCost, err = costing.ReplaceLines(tx, r.ID, rows); err != nil {
		return err
	}
	r.Ingredients = rows
	return nil
}

// ReplaceIngredients swaps every ingredient line of the recipe.
func (s *Service) ReplaceIngredients(ctx context.Context, id uint, lines []LineInput, expectedVersion *int64) (CostResult, error) {
	const op = "menu.ReplaceIngredients"

	if err := validateLines(op, lines); err != nil {
		return CostResult{}, err
	}
	recipe, err := s.mutate(ctx, op, id, expectedVersion, "ingredients replaced", func(tx *gorm.DB, r *models.Recipe) (bool, error) {
		return true, replace(tx, op, r, lines)
	})
	if err != nil {
		return CostResult{}, err
	}
	return CostResult{RecipeID: recipe.ID, TotalCost: recipe.TotalCost, Version: recipe.Version}, nil
}

// UpdateRecipe applies scalar edits and an optional line replacement as one
// mutation. Without lines, total_cost is left as stored.
func (s *Service) UpdateRecipe(ctx context.Context, id uint, in UpdateInput) (*models.Recipe, error) {
	const op = "menu.UpdateRecipe"

	if in.Lines != nil {
		if err := validateLines(op, *in.Lines); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, op, id, in.ExpectedVersion, "updated", func(tx *gorm.DB, r *models.Recipe) (bool, error) {
		changed := false
		if in.Name != nil {
			r.Name = strings.TrimSpace(*in.Name)
			changed = true
		}
		if in.Description != nil {
			r.Description = strings.TrimSpace(*in.Description)
			changed = true
		}
		if in.PortionSize != nil {
			r.PortionSize = *in.PortionSize
			changed = true
		}
		if in.PreparationTime != nil {
			r.PreparationTime = *in.PreparationTime
			changed = true
		}
		if in.CookingTime != nil {
			r.CookingTime = *in.CookingTime
			changed = true
		}
		if in.Difficulty != nil {
			r.Difficulty = *in.Difficulty
			changed = true
		}
		if in.Active != nil {
			r.Active = *in.Active
			changed = true
		}
		if err := validateScalars(op, r.Name, r.PortionSize, r.PreparationTime, r.CookingTime, r.Difficulty); err != nil {
			return false, err
		}
		if in.Lines != nil {
			if err := replace(tx, op, r, *in.Lines); err != nil {
				return false, err
			}
			changed = true
		}
		return changed, nil
	})
}

// RefreshCosts re-snapshots every line's cost_per_unit from the catalog and
// rolls the total up again. A recipe whose costs did not move is left alone.
func (s *Service) RefreshCosts(ctx context.Context, id uint) (CostResult, error) {
	const op = "menu.RefreshCosts"

	recipe, err := s.mutate(ctx, op, id, nil, "costs refreshed from catalog", func(tx *gorm.DB, r *models.Recipe) (bool, error) {
		inputs := make([]LineInput, len(r.Ingredients))
		moved := false
		for i, row := range r.Ingredients {
			inputs[i] = LineInput{
				IngredientID:    row.IngredientID,
				Quantity:        row.Quantity,
				Unit:            row.Unit,
				IsOptional:      row.IsOptional,
				PreparationStep: row.PreparationStep,
			}
		}
		rows, err := buildLines(tx, op, inputs)
		if err != nil {
			return false, err
		}
		for i := range rows {
			if !rows[i].CostPerUnit.Equal(r.Ingredients[i].CostPerUnit) {
				moved = true
			}
		}
		if !moved {
			return false, nil
		}
		if r.TotalCost, err = costing.ReplaceLines(tx, r.ID, rows); err != nil {
			return false, err
		}
		r.Ingredients = rows
		return true, nil
	})
	if err != nil {
		return CostResult{}, err
	}
	return CostResult{RecipeID: recipe.ID, TotalCost: recipe.TotalCost, Version: recipe.Version}, nil
}

// DeleteRecipe removes the recipe; its lines go with it.
func (s *Service) DeleteRecipe(ctx context.Context, id uint) error {
	const op = "menu.DeleteRecipe"

	return s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		recipe, err := lockRecipe(tx, op, id)
		if err != nil {
			return err
		}
		if err := tx.Where("recipe_id = ?", id).Delete(&models.RecipeIngredient{}).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		if err := tx.Delete(&models.Recipe{}, id).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    id,
			Action:      models.AuditActionDelete,
			Description: recipe.Name + " deleted",
			Before:      recipe,
		})
	})
}

func linesOrdered(db *gorm.DB) *gorm.DB { return db.Order("preparation_step, id") }

func (s *Service) Get(ctx context.Context, id uint) (*models.Recipe, error) {
	var recipe models.Recipe
	if err := s.tx.DB(ctx).Preload("Ingredients", linesOrdered).First(&recipe, id).Error; err != nil {
		return nil, apperr.Lookup("menu.Get", "recipe", id, err)
	}
	return &recipe, nil
}

type ListFilter struct {
	Active     *bool
	Difficulty models.Difficulty
	Search     string
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Recipe, error) {
	q := s.tx.DB(ctx).Model(&models.Recipe{})
	if f.Active != nil {
		q = q.Where("active = ?", *f.Active)
	}
	if f.Difficulty != "" {
		q = q.Where("difficulty = ?", f.Difficulty)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(term)+"%")
	}

	var recipes []models.Recipe
	if err := q.Preload("Ingredients", linesOrdered).Order("name, id").Find(&recipes).Error; err != nil {
		return nil, apperr.FromDB("menu.List", err)
	}
	return recipes, nil
}

func (s *Service) Verify(ctx context.Context, id uint) (costing.Drift, error) {
	return costing.Verify(s.tx.DB(ctx), id)
}
