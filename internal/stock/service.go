// Package stock records ingredient lots and classifies them on read.
package stock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/money"
	"trattoria-backend/internal/txn"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const entityType = "stock_lot"

// LotView is a lot together with the status derived for it at read time.
type LotView struct {
	models.StockLot
	Status Status
}

type Service struct {
	tx         *txn.Coordinator
	classifier Classifier
	clock      func() time.Time
}

type Deps struct {
	Coordinator *txn.Coordinator
	Classifier  Classifier
	Clock       func() time.Time
}

func NewService(deps Deps) *Service {
	s := &Service{tx: deps.Coordinator, classifier: deps.Classifier, clock: deps.Clock}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.classifier.CriticalFraction.IsZero() {
		s.classifier.CriticalFraction = CriticalFraction
	}
	return s
}

func (s *Service) view(lot models.StockLot, now time.Time) LotView {
	return LotView{StockLot: lot, Status: s.classifier.Classify(Levels{
		Available:    lot.AvailableQuantity,
		MinThreshold: lot.MinThreshold,
		MaxThreshold: lot.MaxThreshold,
		ExpiryDate:   lot.ExpiryDate,
	}, now)}
}

type ReceiptInput struct {
	IngredientID uint
	BatchCode    string
	Quantity     decimal.Decimal
	// Nil takes the ingredient's current catalog cost.
	CostPerUnit  *decimal.Decimal
	MinThreshold decimal.Decimal
	MaxThreshold decimal.NullDecimal
	ExpiryDate   *time.Time
	ReceivedAt   *time.Time
}

func validateThresholds(op string, min decimal.Decimal, max decimal.NullDecimal) error {
	if min.IsNegative() {
		return apperr.Validation(op, "min_threshold must not be negative")
	}
	if max.Valid && max.Decimal.LessThan(min) {
		return apperr.Validation(op, "max_threshold must not be below min_threshold")
	}
	return nil
}

// RecordReceipt creates a lot for goods that arrived.
func (s *Service) RecordReceipt(ctx context.Context, in ReceiptInput) (LotView, error) {
	const op = "stock.RecordReceipt"

	in.Quantity = money.Quantity(in.Quantity)
	in.MinThreshold = money.Quantity(in.MinThreshold)
	in.MaxThreshold.Decimal = money.Quantity(in.MaxThreshold.Decimal)
	if in.CostPerUnit != nil {
		c := money.UnitCost(*in.CostPerUnit)
		in.CostPerUnit = &c
	}
	if in.IngredientID == 0 {
		return LotView{}, apperr.Validation(op, "ingredient_id is required")
	}
	if !in.Quantity.IsPositive() {
		return LotView{}, apperr.Validation(op, "quantity must be greater than zero")
	}
	if in.CostPerUnit != nil && in.CostPerUnit.IsNegative() {
		return LotView{}, apperr.Validation(op, "cost_per_unit must not be negative")
	}
	if err := validateThresholds(op, in.MinThreshold, in.MaxThreshold); err != nil {
		return LotView{}, err
	}

	now := s.clock()
	lot := models.StockLot{
		IngredientID:      in.IngredientID,
		BatchCode:         strings.TrimSpace(in.BatchCode),
		AvailableQuantity: in.Quantity,
		ReservedQuantity:  decimal.Zero,
		MinThreshold:      in.MinThreshold,
		MaxThreshold:      in.MaxThreshold,
		ExpiryDate:        in.ExpiryDate,
		ReceivedAt:        now,
	}
	if lot.BatchCode == "" {
		lot.BatchCode = "LOT-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if in.ReceivedAt != nil {
		lot.ReceivedAt = *in.ReceivedAt
	}

	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var ing models.Ingredient
		if err := tx.First(&ing, in.IngredientID).Error; err != nil {
			return apperr.Lookup(op, "ingredient", in.IngredientID, err)
		}
		lot.CostPerUnit = money.UnitCost(ing.CostPerUnit)
		if in.CostPerUnit != nil {
			lot.CostPerUnit = *in.CostPerUnit
		}

		if err := tx.Omit(clause.Associations).Create(&lot).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    lot.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("received %s of %s (%s)", lot.AvailableQuantity, ing.Name, lot.BatchCode),
			After:       lot,
		})
	})
	if err != nil {
		return LotView{}, err
	}
	return s.view(lot, now), nil
}

// mutate locks the lot, applies change and stores the result with an audit entry.
func (s *Service) mutate(ctx context.Context, op string, id uint, describe string, change func(lot *models.StockLot) error) (LotView, error) {
	var lot models.StockLot
	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lot, id).Error; err != nil {
			return apperr.Lookup(op, "stock lot", id, err)
		}
		before := lot

		if err := change(&lot); err != nil {
			return err
		}

		if err := tx.Omit(clause.Associations).Save(&lot).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    lot.ID,
			Action:      models.AuditActionUpdate,
			Description: describe,
			Before:      before,
			After:       lot,
		})
	})
	if err != nil {
		return LotView{}, err
	}
	return s.view(lot, s.clock()), nil
}

func requirePositive(op string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return apperr.Validation(op, "quantity must be greater than zero")
	}
	return nil
}

// Consume takes qty out of the unreserved part of the lot.
func (s *Service) Consume(ctx context.Context, id uint, qty decimal.Decimal, note string) (LotView, error) {
	const op = "stock.Consume"
	qty = money.Quantity(qty)
	if err := requirePositive(op, qty); err != nil {
		return LotView{}, err
	}
	describe := "consumed " + qty.String()
	if note = strings.TrimSpace(note); note != "" {
		describe += ": " + note
	}
	return s.mutate(ctx, op, id, describe, func(lot *models.StockLot) error {
		free := lot.AvailableQuantity.Sub(lot.ReservedQuantity)
		if qty.GreaterThan(free) {
			return apperr.Conflict(op, "insufficient stock in lot %s: %s unreserved, %s requested", lot.BatchCode, free, qty)
		}
		lot.AvailableQuantity = lot.AvailableQuantity.Sub(qty)
		return nil
	})
}

func (s *Service) Reserve(ctx context.Context, id uint, qty decimal.Decimal) (LotView, error) {
	const op = "stock.Reserve"
	qty = money.Quantity(qty)
	if err := requirePositive(op, qty); err != nil {
		return LotView{}, err
	}
	return s.mutate(ctx, op, id, "reserved "+qty.String(), func(lot *models.StockLot) error {
		reserved := lot.ReservedQuantity.Add(qty)
		if reserved.GreaterThan(lot.AvailableQuantity) {
			return apperr.Conflict(op, "cannot reserve %s in lot %s: only %s unreserved", qty, lot.BatchCode, lot.AvailableQuantity.Sub(lot.ReservedQuantity))
		}
		lot.ReservedQuantity = reserved
		return nil
	})
}

func (s *Service) Release(ctx context.Context, id uint, qty decimal.Decimal) (LotView, error) {
	const op = "stock.Release"
	qty = money.Quantity(qty)
	if err := requirePositive(op, qty); err != nil {
		return LotView{}, err
	}
	return s.mutate(ctx, op, id, "released "+qty.String(), func(lot *models.StockLot) error {
		if qty.GreaterThan(lot.ReservedQuantity) {
			return apperr.Conflict(op, "cannot release %s from lot %s: only %s reserved", qty, lot.BatchCode, lot.ReservedQuantity)
		}
		lot.ReservedQuantity = lot.ReservedQuantity.Sub(qty)
		return nil
	})
}

func (s *Service) UpdateThresholds(ctx context.Context, id uint, min decimal.Decimal, max decimal.NullDecimal) (LotView, error) {
	const op = "stock.UpdateThresholds"
	min = money.Quantity(min)
	max.Decimal = money.Quantity(max.Decimal)
	if err := validateThresholds(op, min, max); err != nil {
		return LotView{}, err
	}
	return s.mutate(ctx, op, id, "thresholds updated", func(lot *models.StockLot) error {
		lot.MinThreshold = min
		lot.MaxThreshold = max
		return nil
	})
}

// Delete removes an emptied lot. Lots that still hold stock are kept.
func (s *Service) Delete(ctx context.Context, id uint) error {
	const op = "stock.Delete"
	return s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var lot models.StockLot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lot, id).Error; err != nil {
			return apperr.Lookup(op, "stock lot", id, err)
		}
		if lot.AvailableQuantity.IsPositive() {
			return apperr.Conflict(op, "lot %s still holds %s", lot.BatchCode, lot.AvailableQuantity)
		}
		if err := tx.Delete(&lot).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      audit.ActorFrom(ctx),
			EntityType: entityType,
			EntityID:   lot.ID,
			Action:     models.AuditActionDelete,
			Before:     lot,
		})
	})
}

func (s *Service) Get(ctx context.Context, id uint) (LotView, error) {
	var lot models.StockLot
	if err := s.tx.DB(ctx).First(&lot, id).Error; err != nil {
		return LotView{}, apperr.Lookup("stock.Get", "stock lot", id, err)
	}
	return s.view(lot, s.clock()), nil
}

type ListFilter struct {
	IngredientID uint
	// Empty keeps every status.
	Statuses []Status
}

// List returns lots ordered by expiry (soonest first) with their status.
// Status filtering happens after classification since status is not stored.
func (s *Service) List(ctx context.Context, f ListFilter) ([]LotView, error) {
	q := s.tx.DB(ctx).Model(&models.StockLot{})
	if f.IngredientID > 0 {
		q = q.Where("ingredient_id = ?", f.IngredientID)
	}

	var lots []models.StockLot
	if err := q.Order("expiry_date IS NULL, expiry_date ASC, id ASC").Find(&lots).Error; err != nil {
		return nil, apperr.FromDB("stock.List", err)
	}

	keep := make(map[Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		keep[st] = true
	}

	now := s.clock()
	views := make([]LotView, 0, len(lots))
	for _, lot := range lots {
		v := s.view(lot, now)
		if len(keep) > 0 && !keep[v.Status] {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// Alerts lists every lot whose status needs attention.
func (s *Service) Alerts(ctx context.Context) ([]LotView, error) {
	return s.List(ctx, ListFilter{Statuses: []Status{
		StatusExpired, StatusOutOfStock, StatusCritical, StatusExpiring, StatusLow, StatusOverstock,
	}})
}
