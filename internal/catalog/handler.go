package catalog

import (
	"trattoria-backend/internal/httpx"
	"trattoria-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type IngredientResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	CostPerUnit string `json:"cost_per_unit"`
	SupplierID  *uint  `json:"supplier_id"`
	Active      bool   `json:"active"`
}

type CreateIngredientRequest struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Unit        string          `json:"unit" validate:"required,max=20"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	SupplierID  *uint           `json:"supplier_id"`
	Active      *bool           `json:"active"`
}

type UpdateIngredientRequest struct {
	Name          *string          `json:"name" validate:"omitempty,max=100"`
	Unit          *string          `json:"unit" validate:"omitempty,max=20"`
	CostPerUnit   *decimal.Decimal `json:"cost_per_unit"`
	SupplierID    *uint            `json:"supplier_id"`
	ClearSupplier bool             `json:"clear_supplier"`
	Active        *bool            `json:"active"`
}

type SupplierResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Notes       string `json:"notes"`
	Active      bool   `json:"active"`
}

type CreateSupplierRequest struct {
	Name        string `json:"name" validate:"required,max=150"`
	ContactName string `json:"contact_name" validate:"max=100"`
	Email       string `json:"email" validate:"omitempty,email,max=150"`
	Phone       string `json:"phone" validate:"max=50"`
	Notes       string `json:"notes" validate:"max=500"`
	Active      *bool  `json:"active"`
}

type UpdateSupplierRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=150"`
	ContactName *string `json:"contact_name" validate:"omitempty,max=100"`
	Email       *string `json:"email" validate:"omitempty,email,max=150"`
	Phone       *string `json:"phone" validate:"omitempty,max=50"`
	Notes       *string `json:"notes" validate:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

func ingredientResponse(i *models.Ingredient) IngredientResponse {
	return IngredientResponse{
		ID:          i.ID,
		Name:        i.Name,
		Unit:        i.Unit,
		CostPerUnit: i.CostPerUnit.StringFixed(4),
		SupplierID:  i.SupplierID,
		Active:      i.Active,
	}
}

func supplierResponse(s *models.Supplier) SupplierResponse {
	return SupplierResponse{
		ID:          s.ID,
		Name:        s.Name,
		ContactName: s.ContactName,
		Email:       s.Email,
		Phone:       s.Phone,
		Notes:       s.Notes,
		Active:      s.Active,
	}
}

func activeOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GET /api/ingredients?supplier_id=2&active=true
func ListIngredientsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := svc.ListIngredients(c.UserContext(), uint(max(c.QueryInt("supplier_id"), 0)), c.QueryBool("active"))
		if err != nil {
			return err
		}
		res := make([]IngredientResponse, 0, len(list))
		for i := range list {
			res = append(res, ingredientResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/ingredients/:id
func GetIngredientHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		ing, err := svc.GetIngredient(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(ingredientResponse(ing))
	}
}

// POST /api/ingredients
func CreateIngredientHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateIngredientRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		ing, err := svc.CreateIngredient(c.UserContext(), IngredientInput{
			Name:        body.Name,
			Unit:        body.Unit,
			CostPerUnit: body.CostPerUnit,
			SupplierID:  body.SupplierID,
			Active:      activeOr(body.Active, true),
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ingredientResponse(ing))
	}
}

// PUT /api/ingredients/:id
func UpdateIngredientHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body UpdateIngredientRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		ing, err := svc.UpdateIngredient(c.UserContext(), id, IngredientPatch{
			Name:          body.Name,
			Unit:          body.Unit,
			CostPerUnit:   body.CostPerUnit,
			SupplierID:    body.SupplierID,
			ClearSupplier: body.ClearSupplier,
			Active:        body.Active,
		})
		if err != nil {
			return err
		}
		return c.JSON(ingredientResponse(ing))
	}
}

// DELETE /api/ingredients/:id
func DeleteIngredientHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.DeleteIngredient(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/suppliers?active=true
func ListSuppliersHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := svc.ListSuppliers(c.UserContext(), c.QueryBool("active"))
		if err != nil {
			return err
		}
		res := make([]SupplierResponse, 0, len(list))
		for i := range list {
			res = append(res, supplierResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

// GET /api/suppliers/:id
func GetSupplierHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		sup, err := svc.GetSupplier(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(supplierResponse(sup))
	}
}

// POST /api/suppliers
func CreateSupplierHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateSupplierRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		sup, err := svc.CreateSupplier(c.UserContext(), SupplierInput{
			Name:        body.Name,
			ContactName: body.ContactName,
			Email:       body.Email,
			Phone:       body.Phone,
			Notes:       body.Notes,
			Active:      activeOr(body.Active, true),
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(supplierResponse(sup))
	}
}

// PUT /api/suppliers/:id
func UpdateSupplierHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body UpdateSupplierRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		sup, err := svc.UpdateSupplier(c.UserContext(), id, SupplierPatch{
			Name:        body.Name,
			ContactName: body.ContactName,
			Email:       body.Email,
			Phone:       body.Phone,
			Notes:       body.Notes,
			Active:      body.Active,
		})
		if err != nil {
			return err
		}
		return c.JSON(supplierResponse(sup))
	}
}

// DELETE /api/suppliers/:id
func DeleteSupplierHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.DeleteSupplier(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
