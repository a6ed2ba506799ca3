// Package sequence hands out human-readable purchase-order numbers of the
// form PREFIX-YYYYMM-NNN, gapless within a calendar month.
package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/metrics"
	"trattoria-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPrefix = "ORD"
	DefaultWidth  = 3
)

type Options struct {
	Prefix string
	// Digits in the per-month counter. The month is exhausted once the
	// counter no longer fits.
	Width int
	// Zone in which month boundaries are evaluated.
	Location *time.Location
}

type Allocator struct {
	prefix string
	width  int
	max    int
	loc    *time.Location
}

func New(opts Options) *Allocator {
	a := &Allocator{prefix: opts.Prefix, width: opts.Width, loc: opts.Location}
	if a.prefix == "" {
		a.prefix = DefaultPrefix
	}
	if a.width <= 0 {
		a.width = DefaultWidth
	}
	if a.loc == nil {
		a.loc = time.UTC
	}
	a.max = 1
	for i := 0; i < a.width; i++ {
		a.max *= 10
	}
	a.max--
	return a
}

// Period is the YYYYMM key of the month containing t.
func (a *Allocator) Period(t time.Time) string {
	return t.In(a.loc).Format("200601")
}

func (a *Allocator) Format(period string, n int) string {
	return fmt.Sprintf("%s-%s-%0*d", a.prefix, period, a.width, n)
}

func (a *Allocator) periodPrefix(period string) string {
	return a.prefix + "-" + period + "-"
}

// Next allocates the next number for the month containing now. It must be
// called on the transaction that inserts the order: the counter row stays
// locked by the increment until that transaction ends, so concurrent callers
// queue instead of reading the same value.
func (a *Allocator) Next(tx *gorm.DB, now time.Time) (string, error) {
	const op = "sequence.Next"
	period := a.Period(now)

	affected, err := a.increment(tx, period, now)
	if err != nil {
		return "", apperr.FromDB(op, err)
	}

	if affected == 0 {
		// First number of the month: seed the counter from whatever orders
		// already carry this month's prefix.
		seed, err := a.highestExisting(tx, period)
		if err != nil {
			return "", apperr.FromDB(op, err)
		}
		row := models.OrderSequence{Prefix: a.prefix, Period: period, LastValue: seed, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return "", apperr.FromDB(op, err)
		}
		if affected, err = a.increment(tx, period, now); err != nil {
			return "", apperr.FromDB(op, err)
		}
		if affected == 0 {
			return "", apperr.Persistence(op, fmt.Errorf("counter row for %s missing after seed", period))
		}
	}

	var current models.OrderSequence
	if err := tx.Where("prefix = ? AND period = ?", a.prefix, period).Take(&current).Error; err != nil {
		return "", apperr.FromDB(op, err)
	}
	if current.LastValue > a.max {
		return "", apperr.Conflict(op, "order numbers for %s are exhausted (max %d)", period, a.max)
	}

	metrics.OrderNumberAllocated()
	return a.Format(period, current.LastValue), nil
}

func (a *Allocator) increment(tx *gorm.DB, period string, now time.Time) (int64, error) {
	res := tx.Model(&models.OrderSequence{}).
		Where("prefix = ? AND period = ?", a.prefix, period).
		UpdateColumns(map[string]any{
			"last_value": gorm.Expr("last_value + ?", 1),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// highestExisting parses the suffix of the lexicographically greatest order
// number in the period. Unparseable suffixes count as zero.
func (a *Allocator) highestExisting(tx *gorm.DB, period string) (int, error) {
	prefix := a.periodPrefix(period)

	var numbers []string
	err := tx.Model(&models.PurchaseOrder{}).
		Where("order_number LIKE ?", prefix+"%").
		Order("order_number DESC").
		Limit(1).
		Pluck("order_number", &numbers).Error
	if err != nil || len(numbers) == 0 {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimPrefix(numbers[0], prefix))
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}
