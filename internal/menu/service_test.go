package menu

import (
	"context"
	"io"
	"testing"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/database/dbtest"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cost(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "got %s, want %s", got.String(), want)
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	flour  models.Ingredient
	basil  models.Ingredient
	cheese models.Ingredient
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.New(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := fixture{db: db, svc: NewService(txn.New(db, log))}
	f.flour = models.Ingredient{Name: "Farina 00", Unit: "kg", CostPerUnit: d("1.20"), Active: true}
	f.basil = models.Ingredient{Name: "Basilico", Unit: "mazzo", CostPerUnit: d("0.80"), Active: true}
	f.cheese = models.Ingredient{Name: "Parmigiano", Unit: "kg", CostPerUnit: d("18.50"), Active: true}
	for _, ing := range []*models.Ingredient{&f.flour, &f.basil, &f.cheese} {
		require.NoError(t, db.Create(ing).Error)
	}
	return f
}

func (f fixture) create(t *testing.T) *models.Recipe {
	t.Helper()
	r, err := f.svc.CreateRecipe(context.Background(), RecipeInput{
		Name:        "Pizza Margherita",
		PortionSize: d("1"),
		Difficulty:  models.DifficultyEasy,
		Active:      true,
		Lines: []LineInput{
			{IngredientID: f.flour.ID, Quantity: d("2"), CostPerUnit: cost("1.50"), PreparationStep: 1},
			{IngredientID: f.cheese.ID, Quantity: d("1"), CostPerUnit: cost("3.00"), PreparationStep: 2},
		},
	})
	require.NoError(t, err)
	return r
}

func lineCount(t *testing.T, db *gorm.DB, recipeID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.RecipeIngredient{}).Where("recipe_id = ?", recipeID).Count(&n).Error)
	return n
}

func TestCreateRecipeRollsUpCost(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	requireDecimal(t, "6.00", r.TotalCost)
	require.EqualValues(t, 1, r.Version)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	requireDecimal(t, "6.00", stored.TotalCost)
	require.EqualValues(t, 1, stored.Version)
	require.Len(t, stored.Ingredients, 2)
	require.Equal(t, "kg", stored.Ingredients[0].Unit)

	drift, err := f.svc.Verify(context.Background(), r.ID)
	require.NoError(t, err)
	require.False(t, drift.Drifted())
}

func TestCreateRecipeSnapshotsCatalogCost(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.CreateRecipe(context.Background(), RecipeInput{
		Name:        "Pesto",
		PortionSize: d("0.25"),
		Lines:       []LineInput{{IngredientID: f.basil.ID, Quantity: d("3")}},
	})
	require.NoError(t, err)
	require.Equal(t, models.DifficultyMedium, r.Difficulty)
	requireDecimal(t, "0.80", r.Ingredients[0].CostPerUnit)
	require.Equal(t, "mazzo", r.Ingredients[0].Unit)
	requireDecimal(t, "2.40", r.TotalCost)
}

func TestCreateRecipeStoresColumnPrecision(t *testing.T) {
	requireStoredPrecision(t, newFixture(t))
}

func requireStoredPrecision(t *testing.T, f fixture) {
	t.Helper()
	ctx := context.Background()
	// 0.00125 is stored as 0.0013, so the total must be derived from that.
	r, err := f.svc.CreateRecipe(ctx, RecipeInput{
		Name:        "Focaccia",
		PortionSize: d("1"),
		Lines:       []LineInput{{IngredientID: f.flour.ID, Quantity: d("400.0004"), CostPerUnit: cost("0.00125")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "0.52", r.TotalCost)

	stored, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	requireDecimal(t, "0.0013", stored.Ingredients[0].CostPerUnit)
	requireDecimal(t, "400", stored.Ingredients[0].Quantity)

	drift, err := f.svc.Verify(ctx, r.ID)
	require.NoError(t, err)
	require.False(t, drift.Drifted(), "stored %s, recomputed %s", drift.Stored, drift.Recomputed)

	_, err = f.svc.CreateRecipe(ctx, RecipeInput{
		Name:        "Briciole",
		PortionSize: d("1"),
		Lines:       []LineInput{{IngredientID: f.flour.ID, Quantity: d("0.0004")}},
	})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateRecipeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := []LineInput{{IngredientID: f.flour.ID, Quantity: d("1")}}

	cases := map[string]RecipeInput{
		"no lines":       {Name: "Vuota", PortionSize: d("1")},
		"no name":        {PortionSize: d("1"), Lines: line},
		"zero portion":   {Name: "X", Lines: line},
		"bad difficulty": {Name: "X", PortionSize: d("1"), Difficulty: "extreme", Lines: line},
		"zero quantity":  {Name: "X", PortionSize: d("1"), Lines: []LineInput{{IngredientID: f.flour.ID, Quantity: d("0")}}},
		"negative cost":  {Name: "X", PortionSize: d("1"), Lines: []LineInput{{IngredientID: f.flour.ID, Quantity: d("1"), CostPerUnit: cost("-0.01")}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateRecipe(ctx, in)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	_, err := f.svc.CreateRecipe(ctx, RecipeInput{Name: "X", PortionSize: d("1"), Lines: []LineInput{
		{IngredientID: f.flour.ID, Quantity: d("1")},
		{IngredientID: 4242, Quantity: d("1")},
	}})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	var recipes int64
	require.NoError(t, f.db.Model(&models.Recipe{}).Count(&recipes).Error)
	require.Zero(t, recipes)
}

func TestReplaceIngredientsBumpsVersionOnce(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	res, err := f.svc.ReplaceIngredients(context.Background(), r.ID, []LineInput{
		{IngredientID: f.flour.ID, Quantity: d("0.333"), CostPerUnit: cost("1.5")},
		{IngredientID: f.basil.ID, Quantity: d("1"), CostPerUnit: cost("0.0050")},
	}, nil)
	require.NoError(t, err)
	// 0.4995 + 0.005 = 0.5045 -> 0.50
	requireDecimal(t, "0.50", res.TotalCost)
	require.EqualValues(t, 2, res.Version)
	require.EqualValues(t, 2, lineCount(t, f.db, r.ID))

	_, err = f.svc.ReplaceIngredients(context.Background(), r.ID, nil, nil)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReplaceIngredientsRollsBackOnUnknownIngredient(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	_, err := f.svc.ReplaceIngredients(context.Background(), r.ID, []LineInput{
		{IngredientID: f.basil.ID, Quantity: d("1")},
		{IngredientID: 9999, Quantity: d("1")},
	}, nil)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	requireDecimal(t, "6.00", stored.TotalCost)
	require.EqualValues(t, 1, stored.Version)
	require.Len(t, stored.Ingredients, 2)
	require.Equal(t, f.flour.ID, stored.Ingredients[0].IngredientID)
}

func TestReplaceIngredientsUnknownRecipe(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReplaceIngredients(context.Background(), 77, []LineInput{{IngredientID: f.flour.ID, Quantity: d("1")}}, nil)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateRecipe(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	ctx := context.Background()

	name := "Margherita DOP"
	prep := 25
	r, err := f.svc.UpdateRecipe(ctx, r.ID, UpdateInput{Name: &name, PreparationTime: &prep})
	require.NoError(t, err)
	require.Equal(t, name, r.Name)
	require.EqualValues(t, 2, r.Version)
	requireDecimal(t, "6.00", r.TotalCost)

	lines := []LineInput{{IngredientID: f.cheese.ID, Quantity: d("0.2")}}
	hard := models.DifficultyHard
	r, err = f.svc.UpdateRecipe(ctx, r.ID, UpdateInput{Difficulty: &hard, Lines: &lines})
	require.NoError(t, err)
	require.EqualValues(t, 3, r.Version, "scalar and line edits in one call are one mutation")
	requireDecimal(t, "3.70", r.TotalCost)

	r, err = f.svc.UpdateRecipe(ctx, r.ID, UpdateInput{})
	require.NoError(t, err)
	require.EqualValues(t, 3, r.Version)

	empty := ""
	_, err = f.svc.UpdateRecipe(ctx, r.ID, UpdateInput{Name: &empty})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateRecipeExpectedVersion(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	ctx := context.Background()

	v := int64(1)
	desc := "classica"
	_, err := f.svc.UpdateRecipe(ctx, r.ID, UpdateInput{ExpectedVersion: &v, Description: &desc})
	require.NoError(t, err)

	_, err = f.svc.ReplaceIngredients(ctx, r.ID, []LineInput{{IngredientID: f.flour.ID, Quantity: d("1")}}, &v)
	require.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Version)
	requireDecimal(t, "6.00", stored.TotalCost)
}

func TestRefreshCosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.CreateRecipe(ctx, RecipeInput{
		Name:        "Focaccia",
		PortionSize: d("1"),
		Lines:       []LineInput{{IngredientID: f.flour.ID, Quantity: d("0.5")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "0.60", r.TotalCost)

	res, err := f.svc.RefreshCosts(ctx, r.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Version, "unchanged catalog leaves the recipe alone")

	require.NoError(t, f.db.Model(&f.flour).Update("cost_per_unit", d("1.45")).Error)
	stored, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	requireDecimal(t, "0.60", stored.TotalCost)

	res, err = f.svc.RefreshCosts(ctx, r.ID)
	require.NoError(t, err)
	requireDecimal(t, "0.73", res.TotalCost) // 0.725
	require.EqualValues(t, 2, res.Version)
}

func TestDeleteRecipeCascadesLines(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	require.NoError(t, f.svc.DeleteRecipe(context.Background(), r.ID))
	require.Zero(t, lineCount(t, f.db, r.ID))
	_, err := f.svc.Get(context.Background(), r.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	var logs int64
	require.NoError(t, f.db.Model(&models.AuditLog{}).Where("entity_type = ? AND entity_id = ?", entityType, r.ID).Count(&logs).Error)
	require.EqualValues(t, 2, logs)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	_, err := f.svc.CreateRecipe(ctx, RecipeInput{
		Name:        "Bruschetta",
		PortionSize: d("1"),
		Lines:       []LineInput{{IngredientID: f.basil.ID, Quantity: d("1")}},
	})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Bruschetta", all[0].Name)

	active := true
	found, err := f.svc.List(ctx, ListFilter{Active: &active, Search: "marg"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Len(t, found[0].Ingredients, 2)
}
