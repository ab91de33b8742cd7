package inventory

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/reservation"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateProductRequest struct {
	Name           string          `json:"name"`
	Unit           string          `json:"unit"`
	Cost           decimal.Decimal `json:"cost"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	Active         *bool           `json:"active"`
}

type UpdateProductRequest struct {
	Name           *string          `json:"name"`
	Unit           *string          `json:"unit"`
	Cost           *decimal.Decimal `json:"cost"`
	AlertThreshold *decimal.Decimal `json:"alert_threshold"`
	Active         *bool            `json:"active"`
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func validateProduct(p *models.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Unit = strings.TrimSpace(p.Unit)
	if p.Name == "" || p.Unit == "" {
		return apperr.Validation("name and unit are required")
	}
	if p.Cost.IsNegative() {
		return apperr.Validation("cost cannot be negative")
	}
	if p.AlertThreshold.IsNegative() {
		return apperr.Validation("alert_threshold cannot be negative")
	}
	p.Cost = stock.Round(p.Cost)
	p.AlertThreshold = stock.Round(p.AlertThreshold)
	return nil
}

func duplicateName(err error, name string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("product %q already exists", name)
	}
	return err
}

// GET /api/products?active=true&q=flour
func ListProductsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := db.WithContext(c.UserContext()).Model(&models.Product{})

		switch c.Query("active") {
		case "true":
			dbq = dbq.Where("active = ?", true)
		case "false":
			dbq = dbq.Where("active = ?", false)
		}
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			dbq = dbq.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
		}

		products := []models.Product{}
		if err := dbq.Order("name ASC").Find(&products).Error; err != nil {
			return err
		}
		return c.JSON(products)
	}
}

// POST /api/products (ADMIN)
func CreateProductHandler(db *gorm.DB, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}

		p := models.Product{
			Name:           body.Name,
			Unit:           body.Unit,
			Cost:           body.Cost,
			AlertThreshold: body.AlertThreshold,
			Active:         true,
		}
		if err := validateProduct(&p); err != nil {
			return err
		}

		err := database.WithTx(c.UserContext(), db, func(tx *gorm.DB) error {
			if err := tx.Create(&p).Error; err != nil {
				return duplicateName(err, p.Name)
			}
			// default:true swallows a zero value on insert
			if body.Active != nil && !*body.Active {
				p.Active = false
				return tx.Model(&p).Update("active", false).Error
			}
			return nil
		})
		if err != nil {
			return err
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "product",
			EntityID:    p.ID,
			Action:      models.AuditActionCreate,
			Description: "product " + p.Name + " created",
			After:       p,
		})
		return c.Status(fiber.StatusCreated).JSON(p)
	}
}

// PUT /api/products/:id (ADMIN)
func UpdateProductHandler(db *gorm.DB, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		var body UpdateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}

		var before, p models.Product
		if err := db.WithContext(c.UserContext()).First(&p, id).Error; err != nil {
			return database.NotFound(err, "product %d not found", id)
		}
		before = p

		if body.Name != nil {
			p.Name = *body.Name
		}
		if body.Unit != nil {
			p.Unit = *body.Unit
		}
		if body.Cost != nil {
			p.Cost = *body.Cost
		}
		if body.AlertThreshold != nil {
			p.AlertThreshold = *body.AlertThreshold
		}
		if body.Active != nil {
			p.Active = *body.Active
		}
		if err := validateProduct(&p); err != nil {
			return err
		}

		if err := db.WithContext(c.UserContext()).Model(&p).Updates(map[string]any{
			"name":            p.Name,
			"unit":            p.Unit,
			"cost":            p.Cost,
			"alert_threshold": p.AlertThreshold,
			"active":          p.Active,
		}).Error; err != nil {
			return duplicateName(err, p.Name)
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "product",
			EntityID:    p.ID,
			Action:      models.AuditActionUpdate,
			Description: "product " + p.Name + " updated",
			Before:      before,
			After:       p,
		})
		return c.JSON(p)
	}
}

// DELETE /api/products/:id (ADMIN)
// Products referenced by lots or recipes are kept; deactivate them instead.
func DeleteProductHandler(db *gorm.DB, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var p models.Product
		if err := db.WithContext(c.UserContext()).First(&p, id).Error; err != nil {
			return database.NotFound(err, "product %d not found", id)
		}

		if err := db.WithContext(c.UserContext()).Delete(&p).Error; err != nil {
			if database.IsForeignKeyViolation(err) {
				return apperr.Conflict("Cannot delete: product in use.")
			}
			return err
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "product",
			EntityID:    p.ID,
			Action:      models.AuditActionDelete,
			Description: "product " + p.Name + " deleted",
			Before:      p,
		})
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/products/:id/availability
func ProductAvailabilityHandler(res *reservation.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		lots, err := res.Availability(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(lots)
	}
}
