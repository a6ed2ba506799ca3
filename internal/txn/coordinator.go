// Package txn runs units of work inside a single database transaction.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Func is the body of a unit of work. Every read and write it performs must
// go through tx.
type Func func(tx *gorm.DB) error

type Coordinator struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

func New(db *gorm.DB, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{db: db, log: log}
}

// DB returns the pool handle for reads that do not need a transaction.
func (c *Coordinator) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

// Run executes fn in a transaction at the default isolation level.
func (c *Coordinator) Run(ctx context.Context, op string, fn Func) error {
	return c.RunWithOptions(ctx, op, nil, fn)
}

// RunWithOptions commits when fn returns nil and rolls back when it returns
// an error or panics. A panic is reported as a persistence error rather than
// propagated. Errors come back classified by apperr.
func (c *Coordinator) RunWithOptions(ctx context.Context, op string, opts *sql.TxOptions, fn Func) error {
	start := time.Now()

	var txOpts []*sql.TxOptions
	if opts != nil {
		txOpts = append(txOpts, opts)
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperr.Persistence(op, fmt.Errorf("panic: %v", r))
			}
		}()
		return fn(tx)
	}, txOpts...)
	err = apperr.FromDB(op, err)

	elapsed := time.Since(start)
	entry := c.log.WithFields(logrus.Fields{"op": op, "elapsed_ms": elapsed.Milliseconds()})
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.ObserveUnitOfWork(op, string(kind), elapsed)
		if kind == apperr.KindPersistence {
			entry.WithError(err).Error("unit of work rolled back")
		} else {
			entry.WithError(err).WithField("kind", kind).Info("unit of work rejected")
		}
		return err
	}

	metrics.ObserveUnitOfWork(op, "commit", elapsed)
	entry.Debug("unit of work committed")
	return nil
}
