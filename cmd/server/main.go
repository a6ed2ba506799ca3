package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trattoria-backend/internal/audit"
	"trattoria-backend/internal/auth"
	"trattoria-backend/internal/catalog"
	"trattoria-backend/internal/config"
	"trattoria-backend/internal/database"
	"trattoria-backend/internal/httpx"
	"trattoria-backend/internal/logging"
	"trattoria-backend/internal/menu"
	"trattoria-backend/internal/metrics"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/purchasing"
	"trattoria-backend/internal/sequence"
	"trattoria-backend/internal/stock"
	"trattoria-backend/internal/txn"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("migration failed")
	}

	coordinator := txn.New(db, log)
	catalogSvc := catalog.NewService(coordinator)
	menuSvc := menu.NewService(coordinator)
	purchasingSvc := purchasing.NewService(purchasing.Deps{
		Coordinator: coordinator,
		Allocator: sequence.New(sequence.Options{
			Prefix:   cfg.OrderNumberPrefix,
			Location: cfg.BusinessLocation,
		}),
	})
	stockSvc := stock.NewService(stock.Deps{
		Coordinator: coordinator,
		Classifier: stock.Classifier{
			Lookahead:        cfg.ExpiryLookahead,
			CriticalFraction: stock.CriticalFraction,
		},
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: httpx.ErrorHandler(log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(httpx.RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "db unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-admin", auth.RegisterAdminHandler(db))
	api.Post("/auth/login", auth.LoginHandler(db, cfg.JWTSecret))

	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	anyone := auth.RequireRole(models.RoleAdmin, models.RoleManager, models.RoleStaff)
	managers := auth.RequireRole(models.RoleAdmin, models.RoleManager)
	admins := auth.RequireRole(models.RoleAdmin)

	protected.Get("/auth/me", auth.MeHandler(db))
	protected.Post("/users", admins, auth.CreateUserHandler(db))
	protected.Get("/users", admins, auth.ListUsersHandler(db))

	// Catalog
	protected.Get("/ingredients", anyone, catalog.ListIngredientsHandler(catalogSvc))
	protected.Get("/ingredients/:id", anyone, catalog.GetIngredientHandler(catalogSvc))
	protected.Post("/ingredients", managers, catalog.CreateIngredientHandler(catalogSvc))
	protected.Put("/ingredients/:id", managers, catalog.UpdateIngredientHandler(catalogSvc))
	protected.Delete("/ingredients/:id", managers, catalog.DeleteIngredientHandler(catalogSvc))

	protected.Get("/suppliers", anyone, catalog.ListSuppliersHandler(catalogSvc))
	protected.Get("/suppliers/:id", anyone, catalog.GetSupplierHandler(catalogSvc))
	protected.Post("/suppliers", managers, catalog.CreateSupplierHandler(catalogSvc))
	protected.Put("/suppliers/:id", managers, catalog.UpdateSupplierHandler(catalogSvc))
	protected.Delete("/suppliers/:id", managers, catalog.DeleteSupplierHandler(catalogSvc))

	// Recipes
	protected.Get("/recipes", anyone, menu.ListRecipesHandler(menuSvc))
	protected.Get("/recipes/:id", anyone, menu.GetRecipeHandler(menuSvc))
	protected.Get("/recipes/:id/verify", anyone, menu.VerifyRecipeHandler(menuSvc))
	protected.Post("/recipes", managers, menu.CreateRecipeHandler(menuSvc))
	protected.Put("/recipes/:id", managers, menu.UpdateRecipeHandler(menuSvc))
	protected.Put("/recipes/:id/ingredients", managers, menu.ReplaceIngredientsHandler(menuSvc))
	protected.Post("/recipes/:id/refresh-costs", managers, menu.RefreshCostsHandler(menuSvc))
	protected.Delete("/recipes/:id", managers, menu.DeleteRecipeHandler(menuSvc))

	// Purchase orders
	protected.Get("/purchase-orders", anyone, purchasing.ListPurchaseOrdersHandler(purchasingSvc))
	protected.Get("/purchase-orders/:id", anyone, purchasing.GetPurchaseOrderHandler(purchasingSvc))
	protected.Get("/purchase-orders/:id/verify", anyone, purchasing.VerifyPurchaseOrderHandler(purchasingSvc))
	protected.Post("/purchase-orders", managers, purchasing.CreatePurchaseOrderHandler(purchasingSvc))
	protected.Put("/purchase-orders/:id", managers, purchasing.UpdatePurchaseOrderHandler(purchasingSvc))
	protected.Post("/purchase-orders/:id/status", managers, purchasing.TransitionPurchaseOrderHandler(purchasingSvc))
	protected.Post("/purchase-orders/:id/receipts", anyone, purchasing.ReceivePurchaseOrderHandler(purchasingSvc))
	protected.Delete("/purchase-orders/:id", managers, purchasing.DeletePurchaseOrderHandler(purchasingSvc))

	// Stock lots
	protected.Get("/stock-alerts", anyone, stock.StockAlertsHandler(stockSvc))
	protected.Get("/stock-lots", anyone, stock.ListStockLotsHandler(stockSvc))
	protected.Get("/stock-lots/:id", anyone, stock.GetStockLotHandler(stockSvc))
	protected.Post("/stock-lots", anyone, stock.ReceiveStockHandler(stockSvc))
	protected.Post("/stock-lots/:id/consume", anyone, stock.ConsumeStockHandler(stockSvc))
	protected.Post("/stock-lots/:id/reserve", anyone, stock.ReserveStockHandler(stockSvc))
	protected.Post("/stock-lots/:id/release", anyone, stock.ReleaseStockHandler(stockSvc))
	protected.Put("/stock-lots/:id/thresholds", managers, stock.UpdateThresholdsHandler(stockSvc))
	protected.Delete("/stock-lots/:id", managers, stock.DeleteStockLotHandler(stockSvc))

	protected.Get("/audit-logs", admins, audit.ListAuditLogsHandler(db))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithField("port", cfg.HTTPPort).Info("listening")
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
