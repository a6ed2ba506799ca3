// Command verify-aggregates recomputes every recipe cost and purchase-order
// total and reports rows whose stored value drifted, for example after a
// manual SQL edit. With -fix the drifted rows are rewritten.
package main

import (
	"context"
	"flag"
	"os"

	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/config"
	"trattoria-backend/internal/costing"
	"trattoria-backend/internal/database"
	"trattoria-backend/internal/logging"
	"trattoria-backend/internal/metrics"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/purchasing"
	"trattoria-backend/internal/txn"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	fix := flag.Bool("fix", false, "rewrite drifted values")
	flag.Parse()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}

	drifted, err := run(context.Background(), db, log, *fix)
	if err != nil {
		logging.LogError(log, "verify-aggregates", "run", "scan aggregates", nil, err)
		os.Exit(2)
	}
	if drifted > 0 && !*fix {
		os.Exit(1)
	}
}

// run returns the number of drifted rows found.
func run(ctx context.Context, db *gorm.DB, log *logrus.Logger, fix bool) (int, error) {
	coordinator := txn.New(db, log)
	ctx = audit.WithActor(ctx, audit.Actor{UserName: "verify-aggregates"})

	recipes, err := costing.VerifyAll(db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	metrics.SetDrift("recipe", len(recipes))
	for _, d := range recipes {
		entry := log.WithFields(logrus.Fields{
			"recipe_id":  d.RecipeID,
			"name":       d.Name,
			"lines":      d.Lines,
			"stored":     d.Stored.StringFixed(2),
			"recomputed": d.Recomputed.StringFixed(2),
		})
		entry.Warn("recipe cost drift")
		if !fix {
			continue
		}
		err := coordinator.Run(ctx, "verify.RepairRecipe", func(tx *gorm.DB) error {
			total, err := costing.Repair(tx, d.RecipeID)
			if err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				Actor:       audit.ActorFrom(ctx),
				EntityType:  "recipe",
				EntityID:    d.RecipeID,
				Action:      models.AuditActionUpdate,
				Description: "total_cost repaired " + d.Stored.StringFixed(2) + " -> " + total.StringFixed(2),
			})
		})
		if err != nil {
			logging.LogError(log, "verify-aggregates", "run", "repair recipe", d.RecipeID, err)
			continue
		}
		entry.Info("recipe cost repaired")
	}

	orders, err := purchasing.VerifyAll(db.WithContext(ctx))
	if err != nil {
		return len(recipes), err
	}
	metrics.SetDrift("purchase_order", len(orders))
	for _, d := range orders {
		entry := log.WithFields(logrus.Fields{
			"order_id":         d.OrderID,
			"order_number":     d.OrderNumber,
			"stored_total":     d.Stored.Total.StringFixed(2),
			"recomputed_total": d.Recomputed.Total.StringFixed(2),
			"bad_items":        d.BadItems,
		})
		entry.Warn("purchase order total drift")
		if !fix {
			continue
		}
		err := coordinator.Run(ctx, "verify.RepairOrder", func(tx *gorm.DB) error {
			total, err := purchasing.Repair(tx, d.OrderID)
			if err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				Actor:       audit.ActorFrom(ctx),
				EntityType:  "purchase_order",
				EntityID:    d.OrderID,
				Action:      models.AuditActionUpdate,
				Description: d.OrderNumber + " totals repaired, total " + total.StringFixed(2),
			})
		})
		if err != nil {
			logging.LogError(log, "verify-aggregates", "run", "repair purchase order", d.OrderID, err)
			continue
		}
		entry.Info("purchase order totals repaired")
	}

	total := len(recipes) + len(orders)
	log.WithFields(logrus.Fields{"recipes": len(recipes), "purchase_orders": len(orders), "fix": fix}).Info("verification finished")
	return total, nil
}
