package database

import (
	"fmt"
	"time"

	"trattoria-backend/internal/config"
	"trattoria-backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxConnectAttempts = 5

// Open connects to Postgres, tunes the pool and installs the optional
// tracing plugin. Connection failures are retried with exponential backoff.
func Open(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         GormLogger(log, cfg.DBSlowQuery),
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), gormCfg)
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<attempt)
		log.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).
			WithError(err).Warn("database connection failed")
		if attempt < maxConnectAttempts {
			time.Sleep(sleep)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	}

	if cfg.DBTracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			log.WithError(err).Warn("otelgorm plugin not installed")
		}
	}

	return db, nil
}

// GormLogger routes gorm's own messages (slow queries, errors) through logrus.
func GormLogger(log *logrus.Logger, slow time.Duration) logger.Interface {
	return logger.New(log, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Supplier{},
		&models.Ingredient{},
		&models.Recipe{},
		&models.RecipeIngredient{},
		&models.OrderSequence{},
		&models.PurchaseOrder{},
		&models.PurchaseOrderItem{},
		&models.StockLot{},
		&models.AuditLog{},
	)
}
