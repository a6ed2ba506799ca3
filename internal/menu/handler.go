package menu

import (
	"trattoria-backend/internal/httpx"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/money"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type LineRequest struct {
	IngredientID    uint             `json:"ingredient_id" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Unit            string           `json:"unit" validate:"max=20"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit"`
	IsOptional      bool             `json:"is_optional"`
	PreparationStep int              `json:"preparation_step" validate:"gte=0"`
}

type CreateRecipeRequest struct {
	Name            string            `json:"name" validate:"required,max=150"`
	Description     string            `json:"description" validate:"max=1000"`
	PortionSize     decimal.Decimal   `json:"portion_size"`
	PreparationTime int               `json:"preparation_time" validate:"gte=0"`
	CookingTime     int               `json:"cooking_time" validate:"gte=0"`
	Difficulty      models.Difficulty `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Active          *bool             `json:"active"`
	Ingredients     []LineRequest     `json:"ingredients" validate:"required,min=1,dive"`
}

type UpdateRecipeRequest struct {
	ExpectedVersion *int64             `json:"expected_version"`
	Name            *string            `json:"name" validate:"omitempty,max=150"`
	Description     *string            `json:"description" validate:"omitempty,max=1000"`
	PortionSize     *decimal.Decimal   `json:"portion_size"`
	PreparationTime *int               `json:"preparation_time" validate:"omitempty,gte=0"`
	CookingTime     *int               `json:"cooking_time" validate:"omitempty,gte=0"`
	Difficulty      *models.Difficulty `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Active          *bool              `json:"active"`
	Ingredients     *[]LineRequest     `json:"ingredients" validate:"omitempty,min=1,dive"`
}

type ReplaceIngredientsRequest struct {
	ExpectedVersion *int64        `json:"expected_version"`
	Ingredients     []LineRequest `json:"ingredients" validate:"required,min=1,dive"`
}

type LineResponse struct {
	ID              uint   `json:"id"`
	IngredientID    uint   `json:"ingredient_id"`
	Quantity        string `json:"quantity"`
	Unit            string `json:"unit"`
	CostPerUnit     string `json:"cost_per_unit"`
	LineCost        string `json:"line_cost"`
	IsOptional      bool   `json:"is_optional"`
	PreparationStep int    `json:"preparation_step"`
}

type RecipeResponse struct {
	ID              uint              `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	PortionSize     string            `json:"portion_size"`
	PreparationTime int               `json:"preparation_time"`
	CookingTime     int               `json:"cooking_time"`
	Difficulty      models.Difficulty `json:"difficulty"`
	TotalCost       string            `json:"total_cost"`
	Version         int64             `json:"version"`
	Active          bool              `json:"active"`
	Ingredients     []LineResponse    `json:"ingredients"`
}

func toResponse(r *models.Recipe) RecipeResponse {
	resp := RecipeResponse{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		PortionSize:     r.PortionSize.String(),
		PreparationTime: r.PreparationTime,
		CookingTime:     r.CookingTime,
		Difficulty:      r.Difficulty,
		TotalCost:       money.Format(r.TotalCost),
		Version:         r.Version,
		Active:          r.Active,
		Ingredients:     make([]LineResponse, 0, len(r.Ingredients)),
	}
	for _, l := range r.Ingredients {
		resp.Ingredients = append(resp.Ingredients, LineResponse{
			ID:              l.ID,
			IngredientID:    l.IngredientID,
			Quantity:        l.Quantity.String(),
			Unit:            l.Unit,
			CostPerUnit:     l.CostPerUnit.StringFixed(4),
			LineCost:        money.Format(l.Quantity.Mul(l.CostPerUnit)),
			IsOptional:      l.IsOptional,
			PreparationStep: l.PreparationStep,
		})
	}
	return resp
}

func costResponse(res CostResult) fiber.Map {
	return fiber.Map{
		"id":         res.RecipeID,
		"total_cost": money.Format(res.TotalCost),
		"version":    res.Version,
	}
}

func lineInputs(reqs []LineRequest) []LineInput {
	out := make([]LineInput, len(reqs))
	for i, r := range reqs {
		out[i] = LineInput{
			IngredientID:    r.IngredientID,
			Quantity:        r.Quantity,
			Unit:            r.Unit,
			CostPerUnit:     r.CostPerUnit,
			IsOptional:      r.IsOptional,
			PreparationStep: r.PreparationStep,
		}
	}
	return out
}

// POST /api/recipes
func CreateRecipeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateRecipeRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		active := true
		if body.Active != nil {
			active = *body.Active
		}

		recipe, err := svc.CreateRecipe(c.UserContext(), RecipeInput{
			Name:            body.Name,
			Description:     body.Description,
			PortionSize:     body.PortionSize,
			PreparationTime: body.PreparationTime,
			CookingTime:     body.CookingTime,
			Difficulty:      body.Difficulty,
			Active:          active,
			Lines:           lineInputs(body.Ingredients),
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(toResponse(recipe))
	}
}

// GET /api/recipes?active=true&difficulty=easy&q=pizza
func ListRecipesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f := ListFilter{
			Difficulty: models.Difficulty(c.Query("difficulty")),
			Search:     c.Query("q"),
		}
		if f.Difficulty != "" && !f.Difficulty.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "unknown difficulty "+string(f.Difficulty))
		}
		if raw := c.Query("active"); raw != "" {
			active := c.QueryBool("active")
			f.Active = &active
		}

		recipes, err := svc.List(c.UserContext(), f)
		if err != nil {
			return err
		}
		out := make([]RecipeResponse, 0, len(recipes))
		for i := range recipes {
			out = append(out, toResponse(&recipes[i]))
		}
		return c.JSON(out)
	}
}

// GET /api/recipes/:id
func GetRecipeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		recipe, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(recipe))
	}
}

// PUT /api/recipes/:id
func UpdateRecipeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body UpdateRecipeRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}

		in := UpdateInput{
			ExpectedVersion: body.ExpectedVersion,
			Name:            body.Name,
			Description:     body.Description,
			PortionSize:     body.PortionSize,
			PreparationTime: body.PreparationTime,
			CookingTime:     body.CookingTime,
			Difficulty:      body.Difficulty,
			Active:          body.Active,
		}
		if body.Ingredients != nil {
			lines := lineInputs(*body.Ingredients)
			in.Lines = &lines
		}

		recipe, err := svc.UpdateRecipe(c.UserContext(), id, in)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(recipe))
	}
}

// PUT /api/recipes/:id/ingredients
func ReplaceIngredientsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body ReplaceIngredientsRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		res, err := svc.ReplaceIngredients(c.UserContext(), id, lineInputs(body.Ingredients), body.ExpectedVersion)
		if err != nil {
			return err
		}
		return c.JSON(costResponse(res))
	}
}

// POST /api/recipes/:id/refresh-costs
func RefreshCostsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		res, err := svc.RefreshCosts(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(costResponse(res))
	}
}

// DELETE /api/recipes/:id
func DeleteRecipeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.DeleteRecipe(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/recipes/:id/verify
func VerifyRecipeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		d, err := svc.Verify(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"recipe_id":       d.RecipeID,
			"lines":           d.Lines,
			"drifted":         d.Drifted(),
			"stored_cost":     money.Format(d.Stored),
			"recomputed_cost": money.Format(d.Recomputed),
		})
	}
}
