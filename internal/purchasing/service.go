// Package purchasing owns purchase orders: numbering, totals and the status
// lifecycle.
package purchasing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/money"
	"trattoria-backend/internal/pricing"
	"trattoria-backend/internal/sequence"
	"trattoria-backend/internal/txn"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const entityType = "purchase_order"

type Service struct {
	tx    *txn.Coordinator
	seq   *sequence.Allocator
	clock func() time.Time
}

type Deps struct {
	Coordinator *txn.Coordinator
	Allocator   *sequence.Allocator
	Clock       func() time.Time
}

func NewService(deps Deps) *Service {
	s := &Service{tx: deps.Coordinator, seq: deps.Allocator, clock: deps.Clock}
	if s.seq == nil {
		s.seq = sequence.New(sequence.Options{})
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

type ItemInput struct {
	IngredientID uint
	Quantity     decimal.Decimal
	// Empty takes the ingredient's catalog unit.
	Unit string
	// Nil takes the ingredient's catalog cost.
	UnitPrice *decimal.Decimal
}

type CreateInput struct {
	SupplierID uint
	// Nil means today.
	OrderDate            *time.Time
	ExpectedDeliveryDate *time.Time
	Items                []ItemInput
	DiscountAmount       decimal.Decimal
	ShippingCost         decimal.Decimal
	Notes                string
}

// UpdateInput fields left nil are not touched.
type UpdateInput struct {
	ExpectedVersion      *int64
	SupplierID           *uint
	OrderDate            *time.Time
	ExpectedDeliveryDate *time.Time
	ActualDeliveryDate   *time.Time
	Items                *[]ItemInput
	DiscountAmount       *decimal.Decimal
	ShippingCost         *decimal.Decimal
	Status               *Status
	InvoiceNumber        *string
	Notes                *string
}

type TransitionInput struct {
	Status             Status
	ActualDeliveryDate *time.Time
	InvoiceNumber      *string
	ExpectedVersion    *int64
}

type ItemReceipt struct {
	ItemID   uint
	Quantity decimal.Decimal
}

func validateItems(op string, items []ItemInput) error {
	if len(items) == 0 {
		return apperr.Validation(op, "at least one item is required")
	}
	for i, it := range items {
		if it.IngredientID == 0 {
			return apperr.Validation(op, "item %d: ingredient_id is required", i+1)
		}
		if !it.Quantity.IsPositive() {
			return apperr.Validation(op, "item %d: quantity must be greater than zero", i+1)
		}
		if it.UnitPrice != nil && it.UnitPrice.IsNegative() {
			return apperr.Validation(op, "item %d: unit_price must not be negative", i+1)
		}
	}
	return nil
}

func validateAdjustment(op, field string, v *decimal.Decimal) error {
	if v != nil && v.IsNegative() {
		return apperr.Validation(op, "%s must not be negative", field)
	}
	return nil
}

// buildItems resolves catalog defaults and derives total_price for each line.
func buildItems(tx *gorm.DB, op string, inputs []ItemInput) ([]models.PurchaseOrderItem, error) {
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

	items := make([]models.PurchaseOrderItem, 0, len(inputs))
	for _, in := range inputs {
		ing, ok := byID[in.IngredientID]
		if !ok {
			return nil, apperr.NotFound(op, "ingredient", in.IngredientID)
		}
		item := models.PurchaseOrderItem{
			IngredientID:     in.IngredientID,
			Quantity:         money.Quantity(in.Quantity),
			Unit:             strings.TrimSpace(in.Unit),
			UnitPrice:        money.UnitCost(ing.CostPerUnit),
			ReceivedQuantity: decimal.Zero,
		}
		if item.Unit == "" {
			item.Unit = ing.Unit
		}
		if in.UnitPrice != nil {
			item.UnitPrice = money.UnitCost(*in.UnitPrice)
		}
		if !item.Quantity.IsPositive() {
			return nil, apperr.Validation(op, "ingredient %d: quantity %s rounds to zero", in.IngredientID, in.Quantity)
		}
		item.TotalPrice = pricing.LineTotal(item.Quantity, item.UnitPrice)
		items = append(items, item)
	}
	return items, nil
}

func pricingItems(items []models.PurchaseOrderItem) []pricing.Item {
	out := make([]pricing.Item, len(items))
	for i, it := range items {
		out[i] = pricing.Item{Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

// applyTotals recomputes every money column of po from items.
func applyTotals(op string, po *models.PurchaseOrder, items []models.PurchaseOrderItem, discount, shipping decimal.Decimal) error {
	adj := pricing.Adjustments{Discount: discount, Shipping: shipping}
	lines := pricingItems(items)
	if err := pricing.Validate(op, lines, adj); err != nil {
		return err
	}
	totals := pricing.Compute(lines, adj)
	po.Subtotal = totals.Subtotal
	po.DiscountAmount = totals.DiscountAmount
	po.TaxAmount = totals.TaxAmount
	po.ShippingCost = totals.ShippingCost
	po.Total = totals.Total
	return nil
}

func anyReceived(items []models.PurchaseOrderItem) bool {
	for _, it := range items {
		if it.ReceivedQuantity.IsPositive() {
			return true
		}
	}
	return false
}

func replaceItems(tx *gorm.DB, op string, orderID uint, items []models.PurchaseOrderItem) error {
	if err := tx.Where("purchase_order_id = ?", orderID).Delete(&models.PurchaseOrderItem{}).Error; err != nil {
		return apperr.FromDB(op, err)
	}
	for i := range items {
		items[i].ID = 0
		items[i].PurchaseOrderID = orderID
	}
	if err := tx.Omit(clause.Associations).Create(&items).Error; err != nil {
		return apperr.FromDB(op, err)
	}
	return nil
}

func requireSupplier(tx *gorm.DB, op string, id uint) error {
	var supplier models.Supplier
	if err := tx.Select("id").First(&supplier, id).Error; err != nil {
		return apperr.Lookup(op, "supplier", id, err)
	}
	return nil
}

// Create numbers the order, prices its items and stores it as a draft.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.PurchaseOrder, error) {
	const op = "purchasing.Create"

	if in.SupplierID == 0 {
		return nil, apperr.Validation(op, "supplier_id is required")
	}
	if err := validateItems(op, in.Items); err != nil {
		return nil, err
	}
	if err := validateAdjustment(op, "discount_amount", &in.DiscountAmount); err != nil {
		return nil, err
	}
	if err := validateAdjustment(op, "shipping_cost", &in.ShippingCost); err != nil {
		return nil, err
	}

	now := s.clock()
	po := &models.PurchaseOrder{
		SupplierID:           in.SupplierID,
		Status:               models.POStatusDraft,
		OrderDate:            now,
		ExpectedDeliveryDate: in.ExpectedDeliveryDate,
		Notes:                strings.TrimSpace(in.Notes),
		Version:              1,
		StatusChangedAt:      now,
	}
	if in.OrderDate != nil {
		po.OrderDate = *in.OrderDate
	}

	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		if err := requireSupplier(tx, op, in.SupplierID); err != nil {
			return err
		}
		items, err := buildItems(tx, op, in.Items)
		if err != nil {
			return err
		}
		if err := applyTotals(op, po, items, in.DiscountAmount, in.ShippingCost); err != nil {
			return err
		}

		number, err := s.seq.Next(tx, now)
		if err != nil {
			return err
		}
		po.OrderNumber = number

		if err := tx.Omit(clause.Associations).Create(po).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		if err := replaceItems(tx, op, po.ID, items); err != nil {
			return err
		}
		po.Items = items

		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    po.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("%s created, total %s", po.OrderNumber, po.Total.StringFixed(2)),
			After:       po,
		})
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// lockOrder reads the order and its items with the order row locked for the
// rest of the transaction.
func lockOrder(tx *gorm.DB, op string, id uint) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&po, id).Error; err != nil {
		return nil, apperr.Lookup(op, "purchase order", id, err)
	}
	if err := tx.Where("purchase_order_id = ?", id).Order("id").Find(&po.Items).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	return &po, nil
}

func checkVersion(op string, po *models.PurchaseOrder, expected *int64) error {
	if expected != nil && *expected != po.Version {
		return apperr.Conflict(op, "order %s was modified concurrently (version %d, expected %d)", po.OrderNumber, po.Version, *expected)
	}
	return nil
}

func snapshot(po *models.PurchaseOrder) models.PurchaseOrder {
	cp := *po
	cp.Items = append([]models.PurchaseOrderItem(nil), po.Items...)
	return cp
}

// Update applies every supplied field in one unit of work. Totals are
// recomputed when items, discount or shipping change; otherwise they are
// left as stored.
func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*models.PurchaseOrder, error) {
	return s.update(ctx, "purchasing.Update", id, in)
}

// Transition changes only the status, with its side effects.
func (s *Service) Transition(ctx context.Context, id uint, in TransitionInput) (*models.PurchaseOrder, error) {
	status := in.Status
	return s.update(ctx, "purchasing.Transition", id, UpdateInput{
		ExpectedVersion:    in.ExpectedVersion,
		Status:             &status,
		ActualDeliveryDate: in.ActualDeliveryDate,
		InvoiceNumber:      in.InvoiceNumber,
	})
}

func (s *Service) update(ctx context.Context, op string, id uint, in UpdateInput) (*models.PurchaseOrder, error) {
	if in.Items != nil {
		if err := validateItems(op, *in.Items); err != nil {
			return nil, err
		}
	}
	if err := validateAdjustment(op, "discount_amount", in.DiscountAmount); err != nil {
		return nil, err
	}
	if err := validateAdjustment(op, "shipping_cost", in.ShippingCost); err != nil {
		return nil, err
	}
	if in.SupplierID != nil && *in.SupplierID == 0 {
		return nil, apperr.Validation(op, "supplier_id must not be zero")
	}
	if in.Status != nil && !in.Status.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", *in.Status)
	}

	now := s.clock()
	var po *models.PurchaseOrder

	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var err error
		if po, err = lockOrder(tx, op, id); err != nil {
			return err
		}
		if err := checkVersion(op, po, in.ExpectedVersion); err != nil {
			return err
		}
		before := snapshot(po)
		changed := false

		moneyChange := in.Items != nil || in.DiscountAmount != nil || in.ShippingCost != nil
		if (moneyChange || in.SupplierID != nil) && !ItemsEditable(po.Status) {
			return apperr.Conflict(op, "order %s is %s and its items can no longer change", po.OrderNumber, po.Status)
		}
		if in.Items != nil && anyReceived(po.Items) {
			return apperr.Conflict(op, "order %s already has received goods and its items can no longer be replaced", po.OrderNumber)
		}

		if in.SupplierID != nil && *in.SupplierID != po.SupplierID {
			if err := requireSupplier(tx, op, *in.SupplierID); err != nil {
				return err
			}
			po.SupplierID = *in.SupplierID
			changed = true
		}
		if in.OrderDate != nil {
			po.OrderDate = *in.OrderDate
			changed = true
		}
		if in.ExpectedDeliveryDate != nil {
			po.ExpectedDeliveryDate = in.ExpectedDeliveryDate
			changed = true
		}
		if in.Notes != nil {
			po.Notes = strings.TrimSpace(*in.Notes)
			changed = true
		}

		if moneyChange {
			discount, shipping := po.DiscountAmount, po.ShippingCost
			if in.DiscountAmount != nil {
				discount = *in.DiscountAmount
			}
			if in.ShippingCost != nil {
				shipping = *in.ShippingCost
			}
			items := po.Items
			if in.Items != nil {
				if items, err = buildItems(tx, op, *in.Items); err != nil {
					return err
				}
			}
			if err := applyTotals(op, po, items, discount, shipping); err != nil {
				return err
			}
			if in.Items != nil {
				if err := replaceItems(tx, op, po.ID, items); err != nil {
					return err
				}
				po.Items = items
			}
			changed = true
		}

		statusChanged := false
		if in.Status != nil {
			statusChanged, err = Transition(po, *in.Status, TransitionOptions{
				ActualDeliveryDate: in.ActualDeliveryDate,
				InvoiceNumber:      in.InvoiceNumber,
			}, now)
			if err != nil {
				return err
			}
			changed = changed || statusChanged
		}
		if !statusChanged {
			// Corrections to fields owned by an already-entered status.
			if in.ActualDeliveryDate != nil {
				if !settled[po.Status] {
					return apperr.Validation(op, "actual_delivery_date can only be set on delivered orders")
				}
				d := *in.ActualDeliveryDate
				po.ActualDeliveryDate = &d
				changed = true
			}
			if in.InvoiceNumber != nil {
				if po.Status != models.POStatusInvoiced && po.Status != models.POStatusPaid {
					return apperr.Validation(op, "invoice_number can only be set on invoiced orders")
				}
				n := strings.TrimSpace(*in.InvoiceNumber)
				po.InvoiceNumber = &n
				changed = true
			}
		}

		if !changed {
			return nil
		}

		po.Version++
		if err := tx.Omit(clause.Associations).Save(po).Error; err != nil {
			return apperr.FromDB(op, err)
		}

		action := models.AuditActionUpdate
		desc := fmt.Sprintf("%s updated", po.OrderNumber)
		if statusChanged {
			action = models.AuditActionStatusChange
			desc = fmt.Sprintf("%s %s -> %s", po.OrderNumber, before.Status, po.Status)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    po.ID,
			Action:      action,
			Description: desc,
			Before:      before,
			After:       po,
		})
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// Delete removes an order that has not been delivered yet, items included.
func (s *Service) Delete(ctx context.Context, id uint) error {
	const op = "purchasing.Delete"

	return s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		po, err := lockOrder(tx, op, id)
		if err != nil {
			return err
		}
		if !CanDelete(po.Status) {
			return apperr.Conflict(op, "order %s is %s and cannot be deleted", po.OrderNumber, po.Status)
		}

		if err := tx.Where("purchase_order_id = ?", po.ID).Delete(&models.PurchaseOrderItem{}).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		if err := tx.Delete(&models.PurchaseOrder{}, po.ID).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    po.ID,
			Action:      models.AuditActionDelete,
			Description: po.OrderNumber + " deleted",
			Before:      po,
		})
	})
}

// RecordReceipt adds received quantities to the items of a confirmed or
// delivered order. An item never records more than was ordered.
func (s *Service) RecordReceipt(ctx context.Context, id uint, receipts []ItemReceipt) (*models.PurchaseOrder, error) {
	const op = "purchasing.RecordReceipt"

	if len(receipts) == 0 {
		return nil, apperr.Validation(op, "at least one receipt line is required")
	}
	for i := range receipts {
		r := &receipts[i]
		if r.ItemID == 0 {
			return nil, apperr.Validation(op, "receipt %d: item_id is required", i+1)
		}
		r.Quantity = money.Quantity(r.Quantity)
		if !r.Quantity.IsPositive() {
			return nil, apperr.Validation(op, "receipt %d: quantity must be greater than zero", i+1)
		}
	}

	var po *models.PurchaseOrder
	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var err error
		if po, err = lockOrder(tx, op, id); err != nil {
			return err
		}
		if po.Status != models.POStatusConfirmed && po.Status != models.POStatusDelivered {
			return apperr.Conflict(op, "order %s is %s; goods can only be received on confirmed or delivered orders", po.OrderNumber, po.Status)
		}
		before := snapshot(po)

		index := make(map[uint]int, len(po.Items))
		for i, it := range po.Items {
			index[it.ID] = i
		}
		for _, r := range receipts {
			i, ok := index[r.ItemID]
			if !ok {
				return apperr.NotFound(op, "purchase order item", r.ItemID)
			}
			item := &po.Items[i]
			received := item.ReceivedQuantity.Add(r.Quantity)
			if received.GreaterThan(item.Quantity) {
				return apperr.Conflict(op, "item %d would receive %s of %s ordered", item.ID, received, item.Quantity)
			}
			item.ReceivedQuantity = received
			if err := tx.Model(item).UpdateColumn("received_quantity", received).Error; err != nil {
				return apperr.FromDB(op, err)
			}
		}

		po.Version++
		if err := tx.Model(po).UpdateColumns(map[string]any{"version": po.Version, "updated_at": s.clock()}).Error; err != nil {
			return apperr.FromDB(op, err)
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       audit.ActorFrom(ctx),
			EntityType:  entityType,
			EntityID:    po.ID,
			Action:      models.AuditActionUpdate,
			Description: po.OrderNumber + " goods received",
			Before:      before,
			After:       po,
		})
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := s.tx.DB(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).First(&po, id).Error
	if err != nil {
		return nil, apperr.Lookup("purchasing.Get", "purchase order", id, err)
	}
	return &po, nil
}

type ListFilter struct {
	Status     Status
	SupplierID uint
	From       *time.Time
	To         *time.Time
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]models.PurchaseOrder, error) {
	q := s.tx.DB(ctx).Model(&models.PurchaseOrder{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.SupplierID > 0 {
		q = q.Where("supplier_id = ?", f.SupplierID)
	}
	if f.From != nil {
		q = q.Where("order_date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("order_date < ?", *f.To)
	}

	var orders []models.PurchaseOrder
	err := q.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("order_date DESC, id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, apperr.FromDB("purchasing.List", err)
	}
	return orders, nil
}
