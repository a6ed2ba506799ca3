// Package catalog maintains the ingredients and suppliers every other
// module points at.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/money"
	"trattoria-backend/internal/txn"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	tx *txn.Coordinator
}

func NewService(coordinator *txn.Coordinator) *Service {
	return &Service{tx: coordinator}
}

type IngredientInput struct {
	Name        string
	Unit        string
	CostPerUnit decimal.Decimal
	SupplierID  *uint
	Active      bool
}

type IngredientPatch struct {
	Name        *string
	Unit        *string
	CostPerUnit *decimal.Decimal
	SupplierID  *uint
	// Detaches the ingredient from its supplier.
	ClearSupplier bool
	Active        *bool
}

// nameTaken reports whether another row of model already uses name.
func nameTaken(tx *gorm.DB, model any, name string, exceptID uint) (bool, error) {
	var n int64
	err := tx.Model(model).Where("LOWER(name) = ? AND id <> ?", strings.ToLower(name), exceptID).Count(&n).Error
	return n > 0, err
}

func checkIngredient(op string, name, unit string, cost decimal.Decimal) error {
	if name == "" {
		return apperr.Validation(op, "name is required")
	}
	if unit == "" {
		return apperr.Validation(op, "unit is required")
	}
	if cost.IsNegative() {
		return apperr.Validation(op, "cost_per_unit must not be negative")
	}
	return nil
}

func (s *Service) CreateIngredient(ctx context.Context, in IngredientInput) (*models.Ingredient, error) {
	const op = "catalog.CreateIngredient"

	ing := &models.Ingredient{
		Name:        strings.TrimSpace(in.Name),
		Unit:        strings.TrimSpace(in.Unit),
		CostPerUnit: money.UnitCost(in.CostPerUnit),
		SupplierID:  in.SupplierID,
		Active:      in.Active,
	}
	if err := checkIngredient(op, ing.Name, ing.Unit, ing.CostPerUnit); err != nil {
		return nil, err
	}

	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		if taken, err := nameTaken(tx, &models.Ingredient{}, ing.Name, 0); err != nil {
			return err
		} else if taken {
			return apperr.Conflict(op, "an ingredient named %q already exists", ing.Name)
		}
		if ing.SupplierID != nil {
			if err := tx.Select("id").First(&models.Supplier{}, *ing.SupplierID).Error; err != nil {
				return apperr.Lookup(op, "supplier", *ing.SupplierID, err)
			}
		}
		if err := tx.Omit(clause.Associations).Create(ing).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      audit.ActorFrom(ctx),
			EntityType: "ingredient",
			EntityID:   ing.ID,
			Action:     models.AuditActionCreate,
			After:      ing,
		})
	})
	if err != nil {
		return nil, err
	}
	return ing, nil
}

// UpdateIngredient changes the catalog entry. Recipe lines keep the cost
// they snapshotted; menu.RefreshCosts picks up a new price explicitly.
func (s *Service) UpdateIngredient(ctx context.Context, id uint, p IngredientPatch) (*models.Ingredient, error) {
	const op = "catalog.UpdateIngredient"

	var ing models.Ingredient
	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ing, id).Error; err != nil {
			return apperr.Lookup(op, "ingredient", id, err)
		}
		before := ing

		if p.Name != nil {
			ing.Name = strings.TrimSpace(*p.Name)
		}
		if p.Unit != nil {
			ing.Unit = strings.TrimSpace(*p.Unit)
		}
		if p.CostPerUnit != nil {
			ing.CostPerUnit = money.UnitCost(*p.CostPerUnit)
		}
		if p.Active != nil {
			ing.Active = *p.Active
		}
		if p.ClearSupplier {
			ing.SupplierID = nil
		} else if p.SupplierID != nil {
			if err := tx.Select("id").First(&models.Supplier{}, *p.SupplierID).Error; err != nil {
				return apperr.Lookup(op, "supplier", *p.SupplierID, err)
			}
			ing.SupplierID = p.SupplierID
		}
		if err := checkIngredient(op, ing.Name, ing.Unit, ing.CostPerUnit); err != nil {
			return err
		}
		if taken, err := nameTaken(tx, &models.Ingredient{}, ing.Name, ing.ID); err != nil {
			return err
		} else if taken {
			return apperr.Conflict(op, "an ingredient named %q already exists", ing.Name)
		}

		if err := tx.Omit(clause.Associations).Save(&ing).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      audit.ActorFrom(ctx),
			EntityType: "ingredient",
			EntityID:   ing.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      ing,
		})
	})
	if err != nil {
		return nil, err
	}
	return &ing, nil
}

// DeleteIngredient refuses while recipe lines, order items or stock lots
// still reference the ingredient.
func (s *Service) DeleteIngredient(ctx context.Context, id uint) error {
	const op = "catalog.DeleteIngredient"

	return s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var ing models.Ingredient
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ing, id).Error; err != nil {
			return apperr.Lookup(op, "ingredient", id, err)
		}

		refs := []struct {
			model any
			what  string
		}{
			{&models.RecipeIngredient{}, "recipe lines"},
			{&models.PurchaseOrderItem{}, "purchase order items"},
			{&models.StockLot{}, "stock lots"},
		}
		for _, ref := range refs {
			var n int64
			if err := tx.Model(ref.model).Where("ingredient_id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return apperr.Conflict(op, "%s is used by %d %s", ing.Name, n, ref.what)
			}
		}

		if err := tx.Delete(&ing).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      audit.ActorFrom(ctx),
			EntityType: "ingredient",
			EntityID:   ing.ID,
			Action:     models.AuditActionDelete,
			Before:     ing,
		})
	})
}

func (s *Service) GetIngredient(ctx context.Context, id uint) (*models.Ingredient, error) {
	var ing models.Ingredient
	if err := s.tx.DB(ctx).First(&ing, id).Error; err != nil {
		return nil, apperr.Lookup("catalog.GetIngredient", "ingredient", id, err)
	}
	return &ing, nil
}

func (s *Service) ListIngredients(ctx context.Context, supplierID uint, activeOnly bool) ([]models.Ingredient, error) {
	q := s.tx.DB(ctx).Model(&models.Ingredient{})
	if supplierID > 0 {
		q = q.Where("supplier_id = ?", supplierID)
	}
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.Ingredient
	if err := q.Order("name asc").Find(&out).Error; err != nil {
		return nil, apperr.FromDB("catalog.ListIngredients", err)
	}
	return out, nil
}

type SupplierInput struct {
	Name        string
	ContactName string
	Email       string
	Phone       string
	Notes       string
	Active      bool
}

type SupplierPatch struct {
	Name        *string
	ContactName *string
	Email       *string
	Phone       *string
	Notes       *string
	Active      *bool
}

func (s *Service) CreateSupplier(ctx context.Context, in SupplierInput) (*models.Supplier, error) {
	const op = "catalog.CreateSupplier"

	sup := &models.Supplier{
		Name:        strings.TrimSpace(in.Name),
		ContactName: strings.TrimSpace(in.ContactName),
		Email:       strings.TrimSpace(strings.ToLower(in.Email)),
		Phone:       strings.TrimSpace(in.Phone),
		Notes:       strings.TrimSpace(in.Notes),
		Active:      in.Active,
	}
	if sup.Name == "" {
		return nil, apperr.Validation(op, "name is required")
	}

	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		if taken, err := nameTaken(tx, &models.Supplier{}, sup.Name, 0); err != nil {
			return err
		} else if taken {
			return apperr.Conflict(op, "a supplier named %q already exists", sup.Name)
		}
		if err := tx.Create(sup).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      audit.ActorFrom(ctx),
			EntityType: "supplier",
			EntityID:   sup.ID,
			Action:     models.AuditActionCreate,
			After:      sup,
		})
	})
	if err != nil {
		return nil, err
	}
	return sup, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id uint, p SupplierPatch) (*models.Supplier, error) {
	const op = "catalog.UpdateSupplier"

	var sup models.Supplier
	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sup, id).Error; err != nil {
			return apperr.Lookup(op, "supplier", id, err)
		}
		before := sup

		set := func(dst *string, v *string) {
			if v != nil {
				*dst = strings.TrimSpace(*v)
			}
		}
		set(&sup.Name, p.Name)
		set(&sup.ContactName, p.ContactName)
		set(&sup.Email, p.Email)
		set(&sup.Phone, p.Phone)
		set(&sup.Notes, p.Notes)
		if p.Active != nil {
			sup.Active = *p.Active
		}
		if sup.Name == "" {
			return apperr.Validation(op, "name must not be empty")
		}
		if taken, err := nameTaken(tx, &models.Supplier{}, sup.Name, sup.ID); err != nil {
			return err
		} else if taken {
			return apperr.Conflict(op, "a supplier named %q already exists", sup.Name)
		}

		if err := tx.Save(&sup).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      audit.ActorFrom(ctx),
			EntityType: "supplier",
			EntityID:   sup.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      sup,
		})
	})
	if err != nil {
		return nil, err
	}
	return &sup, nil
}

// DeleteSupplier refuses while purchase orders reference the supplier.
// Ingredients lose their supplier link.
func (s *Service) DeleteSupplier(ctx context.Context, id uint) error {
	const op = "catalog.DeleteSupplier"

	return s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var sup models.Supplier
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sup, id).Error; err != nil {
			return apperr.Lookup(op, "supplier", id, err)
		}

		var orders int64
		if err := tx.Model(&models.PurchaseOrder{}).Where("supplier_id = ?", id).Count(&orders).Error; err != nil {
			return err
		}
		if orders > 0 {
			return apperr.Conflict(op, "%s has %d purchase orders", sup.Name, orders)
		}

		if err := tx.Model(&models.Ingredient{}).Where("supplier_id = ?", id).Update("supplier_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&sup).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  "supplier",
			EntityID:    sup.ID,
			Action:      models.AuditActionDelete,
			Description: fmt.Sprintf("%s deleted", sup.Name),
			Before:      sup,
		})
	})
}

func (s *Service) GetSupplier(ctx context.Context, id uint) (*models.Supplier, error) {
	var sup models.Supplier
	if err := s.tx.DB(ctx).First(&sup, id).Error; err != nil {
		return nil, apperr.Lookup("catalog.GetSupplier", "supplier", id, err)
	}
	return &sup, nil
}

func (s *Service) ListSuppliers(ctx context.Context, activeOnly bool) ([]models.Supplier, error) {
	q := s.tx.DB(ctx).Model(&models.Supplier{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.Supplier
	if err := q.Order("name asc").Find(&out).Error; err != nil {
		return nil, apperr.FromDB("catalog.ListSuppliers", err)
	}
	return out, nil
}
