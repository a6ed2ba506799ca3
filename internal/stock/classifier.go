package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusExpired    Status = "expired"
	StatusOutOfStock Status = "out_of_stock"
	StatusCritical   Status = "critical"
	StatusExpiring   Status = "expiring"
	StatusLow        Status = "low"
	StatusOverstock  Status = "overstock"
	StatusOK         Status = "ok"
)

// Statuses in priority order; the first matching one wins.
var Statuses = []Status{
	StatusExpired,
	StatusOutOfStock,
	StatusCritical,
	StatusExpiring,
	StatusLow,
	StatusOverstock,
	StatusOK,
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// CriticalFraction of the minimum threshold at or below which a lot is critical.
var CriticalFraction = decimal.RequireFromString("0.5")

const DefaultExpiryLookahead = 7 * 24 * time.Hour

// Levels is what the classifier reads from a lot.
type Levels struct {
	Available    decimal.Decimal
	MinThreshold decimal.Decimal
	MaxThreshold decimal.NullDecimal
	ExpiryDate   *time.Time
}

type Classifier struct {
	Lookahead        time.Duration
	CriticalFraction decimal.Decimal
}

func DefaultClassifier() Classifier {
	return Classifier{Lookahead: DefaultExpiryLookahead, CriticalFraction: CriticalFraction}
}

// Classify returns exactly one status for the lot as of now.
func (c Classifier) Classify(l Levels, now time.Time) Status {
	if l.ExpiryDate != nil && l.ExpiryDate.Before(now) {
		return StatusExpired
	}
	if !l.Available.IsPositive() {
		return StatusOutOfStock
	}
	if l.Available.LessThanOrEqual(l.MinThreshold.Mul(c.CriticalFraction)) {
		return StatusCritical
	}
	if l.ExpiryDate != nil && !l.ExpiryDate.After(now.Add(c.Lookahead)) {
		return StatusExpiring
	}
	if l.Available.LessThanOrEqual(l.MinThreshold) {
		return StatusLow
	}
	if l.MaxThreshold.Valid && l.Available.GreaterThan(l.MaxThreshold.Decimal) {
		return StatusOverstock
	}
	return StatusOK
}
