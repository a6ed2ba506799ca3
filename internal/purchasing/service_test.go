package purchasing

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/database/dbtest"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/sequence"
	"trattoria-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var jan2025 = time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "got %s, want %s", got.String(), want)
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	supplier models.Supplier
	flour    models.Ingredient
	tomatoes models.Ingredient
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.New(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := fixture{db: db}
	f.supplier = models.Supplier{Name: "Molino Grassi", Active: true}
	require.NoError(t, db.Create(&f.supplier).Error)
	f.flour = models.Ingredient{Name: "Farina 00", Unit: "kg", CostPerUnit: d("2.00"), Active: true}
	f.tomatoes = models.Ingredient{Name: "Pomodori San Marzano", Unit: "kg", CostPerUnit: d("4.00"), Active: true}
	require.NoError(t, db.Create(&f.flour).Error)
	require.NoError(t, db.Create(&f.tomatoes).Error)

	f.svc = NewService(Deps{
		Coordinator: txn.New(db, log),
		Allocator:   sequence.New(sequence.Options{}),
		Clock:       func() time.Time { return jan2025 },
	})
	return f
}

func (f fixture) create(t *testing.T) *models.PurchaseOrder {
	t.Helper()
	po, err := f.svc.Create(context.Background(), CreateInput{
		SupplierID: f.supplier.ID,
		Items: []ItemInput{
			{IngredientID: f.flour.ID, Quantity: d("10"), UnitPrice: price("2.00")},
			{IngredientID: f.tomatoes.ID, Quantity: d("5"), UnitPrice: price("4.00")},
		},
		DiscountAmount: d("5.00"),
		ShippingCost:   d("3.00"),
	})
	require.NoError(t, err)
	return po
}

// forceStatus walks the order along the lifecycle to target.
func (f fixture) forceStatus(t *testing.T, id uint, path ...Status) *models.PurchaseOrder {
	t.Helper()
	var po *models.PurchaseOrder
	for _, st := range path {
		var err error
		po, err = f.svc.Transition(context.Background(), id, TransitionInput{Status: st})
		require.NoError(t, err)
	}
	return po
}

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	require.Equal(t, "ORD-202501-001", po.OrderNumber)
	require.Equal(t, models.POStatusDraft, po.Status)
	require.EqualValues(t, 1, po.Version)
	requireDecimal(t, "40.00", po.Subtotal)
	requireDecimal(t, "5.00", po.DiscountAmount)
	requireDecimal(t, "7.70", po.TaxAmount)
	requireDecimal(t, "3.00", po.ShippingCost)
	requireDecimal(t, "45.70", po.Total)

	got, err := f.svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	requireDecimal(t, "20.00", got.Items[0].TotalPrice)
	requireDecimal(t, "20.00", got.Items[1].TotalPrice)
	require.Equal(t, "kg", got.Items[0].Unit)
	requireDecimal(t, "45.70", got.Total)

	drift, err := f.svc.Verify(context.Background(), po.ID)
	require.NoError(t, err)
	require.False(t, drift.Drifted())
}

func TestCreateTakesCatalogPriceWhenOmitted(t *testing.T) {
	f := newFixture(t)
	po, err := f.svc.Create(context.Background(), CreateInput{
		SupplierID: f.supplier.ID,
		Items:      []ItemInput{{IngredientID: f.tomatoes.ID, Quantity: d("2.5")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "4.00", po.Items[0].UnitPrice)
	requireDecimal(t, "10.00", po.Subtotal)
	requireDecimal(t, "2.20", po.TaxAmount)
	requireDecimal(t, "12.20", po.Total)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := []ItemInput{{IngredientID: f.flour.ID, Quantity: d("1")}}

	cases := map[string]CreateInput{
		"no supplier":    {Items: item},
		"no items":       {SupplierID: f.supplier.ID},
		"zero quantity":  {SupplierID: f.supplier.ID, Items: []ItemInput{{IngredientID: f.flour.ID, Quantity: d("0")}}},
		"negative price": {SupplierID: f.supplier.ID, Items: []ItemInput{{IngredientID: f.flour.ID, Quantity: d("1"), UnitPrice: price("-1")}}},
		"negative ship":  {SupplierID: f.supplier.ID, Items: item, ShippingCost: d("-0.01")},
		"discount > sub": {SupplierID: f.supplier.ID, Items: item, DiscountAmount: d("2.01")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, in)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	_, err := f.svc.Create(ctx, CreateInput{SupplierID: 999, Items: item})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Create(ctx, CreateInput{SupplierID: f.supplier.ID, Items: []ItemInput{{IngredientID: 999, Quantity: d("1")}}})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	var orders, sequences int64
	require.NoError(t, f.db.Model(&models.PurchaseOrder{}).Count(&orders).Error)
	require.NoError(t, f.db.Model(&models.OrderSequence{}).Count(&sequences).Error)
	require.Zero(t, orders)
	require.Zero(t, sequences, "failed creates must not consume numbers")
}

// createConcurrently runs n creates at once and returns the sorted numbers.
func createConcurrently(t *testing.T, f fixture, n int) []string {
	t.Helper()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			po, err := f.svc.Create(context.Background(), CreateInput{
				SupplierID: f.supplier.ID,
				Items:      []ItemInput{{IngredientID: f.flour.ID, Quantity: d("1")}},
			})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			numbers = append(numbers, po.OrderNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Strings(numbers)
	return numbers
}

func TestConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, []string{"ORD-202501-001", "ORD-202501-002"}, createConcurrently(t, f, 2))
}

func TestDeletePaidOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)
	f.forceStatus(t, po.ID, models.POStatusSent, models.POStatusConfirmed, models.POStatusDelivered, models.POStatusInvoiced, models.POStatusPaid)

	err := f.svc.Delete(context.Background(), po.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)

	var orders, items int64
	require.NoError(t, f.db.Model(&models.PurchaseOrder{}).Where("id = ?", po.ID).Count(&orders).Error)
	require.NoError(t, f.db.Model(&models.PurchaseOrderItem{}).Where("purchase_order_id = ?", po.ID).Count(&items).Error)
	require.EqualValues(t, 1, orders)
	require.EqualValues(t, 2, items)
}

func TestDeleteDraftRemovesItems(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	require.NoError(t, f.svc.Delete(context.Background(), po.ID))

	var items int64
	require.NoError(t, f.db.Model(&models.PurchaseOrderItem{}).Where("purchase_order_id = ?", po.ID).Count(&items).Error)
	require.Zero(t, items)

	_, err := f.svc.Get(context.Background(), po.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(context.Background(), po.ID), apperr.ErrNotFound)
}

func TestUpdateWithoutItemsRecomputesFromStoredItems(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	po, err := f.svc.Update(context.Background(), po.ID, UpdateInput{ShippingCost: price("0")})
	require.NoError(t, err)
	requireDecimal(t, "40.00", po.Subtotal)
	requireDecimal(t, "7.70", po.TaxAmount)
	requireDecimal(t, "42.70", po.Total)
	require.EqualValues(t, 2, po.Version)

	notes := "consegna al retro"
	po, err = f.svc.Update(context.Background(), po.ID, UpdateInput{Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, notes, po.Notes)
	requireDecimal(t, "42.70", po.Total)
	require.EqualValues(t, 3, po.Version)
}

func TestUpdateReplacesItems(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	items := []ItemInput{{IngredientID: f.flour.ID, Quantity: d("25"), UnitPrice: price("1.80")}}
	po, err := f.svc.Update(context.Background(), po.ID, UpdateInput{Items: &items})
	require.NoError(t, err)
	requireDecimal(t, "45.00", po.Subtotal)
	requireDecimal(t, "40.00", po.Subtotal.Sub(po.DiscountAmount))
	requireDecimal(t, "8.80", po.TaxAmount)
	requireDecimal(t, "51.80", po.Total)

	got, err := f.svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	requireDecimal(t, "45.00", got.Items[0].TotalPrice)
}

func TestUpdateEmptyIsNoop(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	got, err := f.svc.Update(context.Background(), po.ID, UpdateInput{})
	require.NoError(t, err)
	require.EqualValues(t, 1, got.Version)
}

func TestUpdateVersionConflict(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	stale := int64(1)
	notes := "first"
	_, err := f.svc.Update(context.Background(), po.ID, UpdateInput{ExpectedVersion: &stale, Notes: &notes})
	require.NoError(t, err)

	notes = "second"
	_, err = f.svc.Update(context.Background(), po.ID, UpdateInput{ExpectedVersion: &stale, Notes: &notes})
	require.ErrorIs(t, err, apperr.ErrConflict)

	got, err := f.svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, "first", got.Notes)
	require.EqualValues(t, 2, got.Version)
}

func TestUpdateItemsLockedAfterDelivery(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)
	f.forceStatus(t, po.ID, models.POStatusSent, models.POStatusConfirmed, models.POStatusDelivered)

	_, err := f.svc.Update(context.Background(), po.ID, UpdateInput{DiscountAmount: price("1")})
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestTransitionSideEffectsAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := audit.WithActor(context.Background(), audit.Actor{UserID: 7, UserName: "giulia"})
	po := f.create(t)

	_, err := f.svc.Transition(ctx, po.ID, TransitionInput{Status: models.POStatusDelivered})
	require.ErrorIs(t, err, apperr.ErrConflict)

	f.forceStatus(t, po.ID, models.POStatusSent, models.POStatusConfirmed)
	delivered := time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC)
	po, err = f.svc.Transition(ctx, po.ID, TransitionInput{Status: models.POStatusDelivered, ActualDeliveryDate: &delivered})
	require.NoError(t, err)
	require.Equal(t, models.POStatusDelivered, po.Status)
	require.True(t, po.ActualDeliveryDate.Equal(delivered))
	require.EqualValues(t, 4, po.Version)

	_, err = f.svc.Transition(ctx, po.ID, TransitionInput{Status: models.POStatusCancelled})
	require.ErrorIs(t, err, apperr.ErrConflict)

	invoice := " FT-2025/118 "
	po, err = f.svc.Transition(ctx, po.ID, TransitionInput{Status: models.POStatusInvoiced, InvoiceNumber: &invoice})
	require.NoError(t, err)
	require.Equal(t, "FT-2025/118", *po.InvoiceNumber)

	var logs []models.AuditLog
	require.NoError(t, f.db.Where("entity_type = ? AND action = ?", entityType, models.AuditActionStatusChange).
		Where("user_name = ?", "giulia").Find(&logs).Error)
	require.Len(t, logs, 2)
}

func TestInvoiceNumberOnlyOnInvoicedOrders(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)

	n := "FT-1"
	_, err := f.svc.Update(context.Background(), po.ID, UpdateInput{InvoiceNumber: &n})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRecordReceiptBound(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)
	ctx := context.Background()
	stored, err := f.svc.Get(ctx, po.ID)
	require.NoError(t, err)
	item := stored.Items[0].ID

	_, err = f.svc.RecordReceipt(ctx, po.ID, []ItemReceipt{{ItemID: item, Quantity: d("1")}})
	require.ErrorIs(t, err, apperr.ErrConflict, "draft orders cannot receive goods")

	f.forceStatus(t, po.ID, models.POStatusSent, models.POStatusConfirmed)
	po, err = f.svc.RecordReceipt(ctx, po.ID, []ItemReceipt{{ItemID: item, Quantity: d("6")}})
	require.NoError(t, err)
	requireDecimal(t, "6", po.Items[0].ReceivedQuantity)

	_, err = f.svc.RecordReceipt(ctx, po.ID, []ItemReceipt{{ItemID: item, Quantity: d("4.001")}})
	require.ErrorIs(t, err, apperr.ErrConflict)

	po, err = f.svc.RecordReceipt(ctx, po.ID, []ItemReceipt{{ItemID: item, Quantity: d("4")}})
	require.NoError(t, err)
	requireDecimal(t, "10", po.Items[0].ReceivedQuantity)

	_, err = f.svc.RecordReceipt(ctx, po.ID, []ItemReceipt{{ItemID: 999, Quantity: d("1")}})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVerifyAllAndRepair(t *testing.T) {
	f := newFixture(t)
	po := f.create(t)
	clean := f.create(t)

	require.NoError(t, f.db.Exec("UPDATE purchase_orders SET total = ? WHERE id = ?", "99.99", po.ID).Error)

	drifted, err := VerifyAll(f.db)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	require.Equal(t, po.ID, drifted[0].OrderID)
	requireDecimal(t, "45.70", drifted[0].Recomputed.Total)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := Repair(tx, po.ID)
		return err
	}))

	drifted, err = VerifyAll(f.db)
	require.NoError(t, err)
	require.Empty(t, drifted)

	got, err := f.svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	requireDecimal(t, "45.70", got.Total)
	require.EqualValues(t, 2, got.Version)

	other, err := f.svc.Get(context.Background(), clean.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, other.Version)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	a := f.create(t)
	f.create(t)
	f.forceStatus(t, a.ID, models.POStatusSent)

	all, err := f.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	sent, err := f.svc.List(context.Background(), ListFilter{Status: models.POStatusSent})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, a.ID, sent[0].ID)
	require.Len(t, sent[0].Items, 2)
}

func TestItemsStoredAtColumnPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, err := f.svc.Create(ctx, CreateInput{
		SupplierID: f.supplier.ID,
		Items:      []ItemInput{{IngredientID: f.flour.ID, Quantity: d("400"), UnitPrice: price("0.00125")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "0.0013", po.Items[0].UnitPrice)
	requireDecimal(t, "0.52", po.Items[0].TotalPrice)
	requireDecimal(t, "0.52", po.Subtotal)

	po, err = f.svc.Update(ctx, po.ID, UpdateInput{ShippingCost: price("1.00")})
	require.NoError(t, err)
	requireDecimal(t, "0.52", po.Subtotal)

	drifted, err := VerifyAll(f.db)
	require.NoError(t, err)
	require.Empty(t, drifted)
}

func TestReplaceItemsRejectedAfterReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.create(t)
	f.forceStatus(t, po.ID, models.POStatusSent, models.POStatusConfirmed)
	stored, err := f.svc.Get(ctx, po.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordReceipt(ctx, po.ID, []ItemReceipt{{ItemID: stored.Items[0].ID, Quantity: d("4")}})
	require.NoError(t, err)

	items := []ItemInput{
		{IngredientID: f.flour.ID, Quantity: d("10"), UnitPrice: price("2.00")},
		{IngredientID: f.tomatoes.ID, Quantity: d("5"), UnitPrice: price("4.00")},
	}
	_, err = f.svc.Update(ctx, po.ID, UpdateInput{Items: &items})
	require.ErrorIs(t, err, apperr.ErrConflict)

	after, err := f.svc.Get(ctx, po.ID)
	require.NoError(t, err)
	requireDecimal(t, "4", after.Items[0].ReceivedQuantity)
	require.Equal(t, stored.Items[0].ID, after.Items[0].ID)

	// Discount and shipping stay editable.
	_, err = f.svc.Update(ctx, po.ID, UpdateInput{DiscountAmount: price("0")})
	require.NoError(t, err)
}
