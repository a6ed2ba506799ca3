package sequence

import (
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/database/dbtest"
	"trattoria-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var jan2025 = time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC)

func next(t *testing.T, db *gorm.DB, a *Allocator, now time.Time) string {
	t.Helper()
	var number string
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		number, err = a.Next(tx, now)
		return err
	}))
	return number
}

func TestFormatAndPeriod(t *testing.T) {
	a := New(Options{})
	require.Equal(t, "202501", a.Period(jan2025))
	require.Equal(t, "ORD-202501-007", a.Format("202501", 7))

	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	local := New(Options{Prefix: "PO", Width: 4, Location: rome})
	// 23:30 UTC on Jan 31 is already February in Rome
	require.Equal(t, "202502", local.Period(time.Date(2025, 1, 31, 23, 30, 0, 0, time.UTC)))
	require.Equal(t, "PO-202502-0012", local.Format("202502", 12))
}

func TestNextStartsAtOneAndIncrements(t *testing.T) {
	db := dbtest.New(t)
	a := New(Options{})

	require.Equal(t, "ORD-202501-001", next(t, db, a, jan2025))
	require.Equal(t, "ORD-202501-002", next(t, db, a, jan2025))
	require.Equal(t, "ORD-202502-001", next(t, db, a, jan2025.AddDate(0, 1, 0)))
	require.Equal(t, "ORD-202501-003", next(t, db, a, jan2025.AddDate(0, 0, 3)))
}

func TestNextSeedsFromExistingOrders(t *testing.T) {
	db := dbtest.New(t)
	supplier := models.Supplier{Name: "Ortofrutta Verdi", Active: true}
	require.NoError(t, db.Create(&supplier).Error)

	for _, number := range []string{"ORD-202501-004", "ORD-202501-017", "ORD-202412-090"} {
		po := models.PurchaseOrder{
			OrderNumber: number,
			SupplierID:  supplier.ID,
			Status:      models.POStatusDraft,
			OrderDate:   jan2025,
			Subtotal:    decimal.Zero,
			TaxAmount:   decimal.Zero,
			Total:       decimal.Zero,
		}
		require.NoError(t, db.Create(&po).Error)
	}

	require.Equal(t, "ORD-202501-018", next(t, db, New(Options{}), jan2025))
}

func TestNextRollsBackWithTransaction(t *testing.T) {
	db := dbtest.New(t)
	a := New(Options{})

	require.Equal(t, "ORD-202501-001", next(t, db, a, jan2025))

	err := db.Transaction(func(tx *gorm.DB) error {
		number, err := a.Next(tx, jan2025)
		require.NoError(t, err)
		require.Equal(t, "ORD-202501-002", number)
		return apperr.Conflict("test", "abort")
	})
	require.Error(t, err)

	// the aborted allocation leaves no gap
	require.Equal(t, "ORD-202501-002", next(t, db, a, jan2025))
}

func TestNextConcurrentCallersGetDistinctNumbers(t *testing.T) {
	db := dbtest.New(t)
	a := New(Options{})

	const callers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]int)
		errs    = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				number, err := a.Next(tx, jan2025)
				if err != nil {
					return err
				}
				mu.Lock()
				numbers[number]++
				mu.Unlock()
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, numbers, callers)
	for number, count := range numbers {
		require.Equal(t, 1, count, number)
	}
	require.Contains(t, numbers, "ORD-202501-001")
	require.Contains(t, numbers, "ORD-202501-012")
}

func TestNextExhausted(t *testing.T) {
	db := dbtest.New(t)
	require.NoError(t, db.Create(&models.OrderSequence{Prefix: DefaultPrefix, Period: "202501", LastValue: 999}).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := New(Options{}).Next(tx, jan2025)
		return err
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	var row models.OrderSequence
	require.NoError(t, db.Where("prefix = ? AND period = ?", DefaultPrefix, "202501").Take(&row).Error)
	require.Equal(t, 999, row.LastValue)
}

func TestPrefixesCountIndependently(t *testing.T) {
	db := dbtest.New(t)
	ord := New(Options{})
	acq := New(Options{Prefix: "ACQ"})

	require.Equal(t, "ORD-202501-001", next(t, db, ord, jan2025))
	require.Equal(t, "ORD-202501-002", next(t, db, ord, jan2025))
	require.Equal(t, "ACQ-202501-001", next(t, db, acq, jan2025))
	require.Equal(t, "ORD-202501-003", next(t, db, ord, jan2025))

	var rows int64
	require.NoError(t, db.Model(&models.OrderSequence{}).Where("period = ?", "202501").Count(&rows).Error)
	require.EqualValues(t, 2, rows)
}
