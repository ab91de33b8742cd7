// Package server assembles the fiber application: middleware, the error
// handler and the /api route table with role gating.
package server

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/auth"
	"github.com/oussamajomaa/mont-vert/internal/dashboard"
	"github.com/oussamajomaa/mont-vert/internal/inventory"
	"github.com/oussamajomaa/mont-vert/internal/logging"
	"github.com/oussamajomaa/mont-vert/internal/mealplan"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/recipe"
	"github.com/oussamajomaa/mont-vert/internal/reservation"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"gorm.io/gorm"
)

// Deps is everything the route table needs. Engines and services are built
// once by the caller and shared across requests.
type Deps struct {
	DB           *gorm.DB
	Log          *logrus.Logger
	JWTSecret    string
	CORSOrigins  []string
	LoginLimiter *limiter.Limiter // nil disables login throttling

	Stock        *stock.Engine
	Reservations *reservation.Engine
	Recipes      *recipe.Service
	Plans        *mealplan.Service
	Dashboard    *dashboard.Service
	Audit        *audit.Recorder
}

// InvalidateOn bumps the cache generation after every committed stock
// change. Failures only cost a stale dashboard until the TTL runs out.
func InvalidateOn(st *stock.Engine, bump func(context.Context) error, log *logrus.Logger) {
	st.OnChange(func(ctx context.Context) {
		if err := bump(ctx); err != nil {
			log.WithError(err).Warn("dashboard cache invalidation failed")
		}
	})
}

func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(d.Log),
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(d.CORSOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}))
	app.Use(logging.Middleware(d.Log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	registerRoutes(app.Group("/api"), d)
	return app
}

var (
	adminOnly = auth.RequireRole(models.RoleAdmin)
	kitchen   = auth.RequireRole(models.RoleAdmin, models.RoleKitchen)
	anyRole   = auth.RequireRole(models.RoleAdmin, models.RoleKitchen, models.RoleDirector)
)

func registerRoutes(api fiber.Router, d Deps) {
	// Public auth
	api.Post("/auth/register-admin", auth.RegisterAdminHandler(d.DB))
	if d.LoginLimiter != nil {
		api.Post("/auth/login", auth.RateLimit(d.LoginLimiter, d.Log), auth.LoginHandler(d.DB, d.JWTSecret))
	} else {
		api.Post("/auth/login", auth.LoginHandler(d.DB, d.JWTSecret))
	}

	protected := api.Group("", auth.JWTMiddleware(d.JWTSecret))
	protected.Get("/auth/me", auth.MeHandler(d.DB))
	protected.Post("/users", adminOnly, auth.CreateUserHandler(d.DB))
	protected.Get("/audit-logs", adminOnly, audit.ListAuditLogsHandler(d.DB))

	// Products
	protected.Get("/products", anyRole, inventory.ListProductsHandler(d.DB))
	protected.Get("/products/:id/availability", anyRole, inventory.ProductAvailabilityHandler(d.Reservations))
	protected.Post("/products", adminOnly, inventory.CreateProductHandler(d.DB, d.Audit))
	protected.Put("/products/:id", adminOnly, inventory.UpdateProductHandler(d.DB, d.Audit))
	protected.Delete("/products/:id", adminOnly, inventory.DeleteProductHandler(d.DB, d.Audit))

	// Lots
	protected.Get("/lots", anyRole, inventory.ListLotsHandler(d.DB, d.Stock))
	protected.Post("/lots", kitchen, inventory.ReceiveLotHandler(d.Stock, d.Audit))
	protected.Post("/lots/import", kitchen, inventory.ImportLotsHandler(d.Stock, d.Audit))
	protected.Post("/lots/expire", adminOnly, inventory.ExpireLotsHandler(d.Stock, d.Audit))
	protected.Post("/lots/:id/count", kitchen, inventory.CountLotHandler(d.Stock, d.Audit))
	protected.Post("/lots/:id/close", kitchen, inventory.CloseLotHandler(d.Stock, d.Audit))

	// Movements and stock
	protected.Get("/movements", anyRole, inventory.ListMovementsHandler(d.DB))
	protected.Post("/movements", kitchen, inventory.ApplyMovementHandler(d.Stock, d.Audit))
	protected.Get("/stock", anyRole, inventory.StockSummaryHandler(d.Stock))

	// Recipes
	protected.Get("/recipes", anyRole, recipe.ListHandler(d.Recipes))
	protected.Get("/recipes/:id/items", anyRole, recipe.ItemsHandler(d.Recipes))
	protected.Post("/recipes", adminOnly, recipe.CreateHandler(d.Recipes))
	protected.Patch("/recipes/:id", adminOnly, recipe.UpdateHandler(d.Recipes))
	protected.Delete("/recipes/:id", adminOnly, recipe.DeleteHandler(d.Recipes))

	// Meal plans
	protected.Get("/meal-plans", anyRole, mealplan.ListHandler(d.Plans))
	protected.Get("/meal-plans/:id", anyRole, mealplan.GetHandler(d.Plans))
	protected.Post("/meal-plans", kitchen, mealplan.CreateHandler(d.Plans))
	protected.Post("/meal-plans/:id/confirm", kitchen, mealplan.ConfirmHandler(d.Plans))
	protected.Post("/meal-plans/:id/execute", kitchen, mealplan.ExecuteHandler(d.Plans))
	protected.Delete("/meal-plans/:id", kitchen, mealplan.CancelHandler(d.Plans))

	// Dashboard
	protected.Get("/dashboard/overview", anyRole, dashboard.OverviewHandler(d.Dashboard))
}
