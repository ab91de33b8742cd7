package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ApplyMovementRequest struct {
	LotID    uint   `json:"lot_id"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Reason   string `json:"reason"`
}

type MovementResponse struct {
	ID          uint                `json:"id"`
	LotID       uint                `json:"lot_id"`
	BatchNumber string              `json:"batch_number"`
	ProductID   uint                `json:"product_id"`
	ProductName string              `json:"product_name"`
	Unit        string              `json:"unit"`
	Type        models.MovementType `json:"type"`
	Reason      *string             `json:"reason"`
	Quantity    decimal.Decimal     `json:"quantity"`
	MovedAt     time.Time           `json:"moved_at"`
}

// GET /api/movements?lot_id=&product_id=&type=OUT&from=2026-10-01&to=2026-10-31&limit=200
func ListMovementsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := db.WithContext(c.UserContext()).
			Preload("Lot.Product").
			Joins("JOIN lots ON lots.id = stock_movements.lot_id")

		if lid := c.QueryInt("lot_id"); lid > 0 {
			dbq = dbq.Where("stock_movements.lot_id = ?", lid)
		}
		if pid := c.QueryInt("product_id"); pid > 0 {
			dbq = dbq.Where("lots.product_id = ?", pid)
		}
		if t := models.MovementType(strings.ToUpper(c.Query("type"))); t != "" {
			if !t.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "unknown movement type")
			}
			dbq = dbq.Where("stock_movements.type = ?", t)
		}
		if from := c.Query("from"); from != "" {
			d, err := stock.ParseDate(from)
			if err != nil {
				return err
			}
			dbq = dbq.Where("stock_movements.moved_at >= ?", d)
		}
		if to := c.Query("to"); to != "" {
			d, err := stock.ParseDate(to)
			if err != nil {
				return err
			}
			dbq = dbq.Where("stock_movements.moved_at < ?", d.AddDate(0, 0, 1))
		}

		limit := c.QueryInt("limit", 200)
		if limit < 1 || limit > 1000 {
			limit = 200
		}

		var mvs []models.StockMovement
		if err := dbq.Order("stock_movements.moved_at DESC, stock_movements.id DESC").
			Limit(limit).
			Find(&mvs).Error; err != nil {
			return err
		}

		resp := make([]MovementResponse, 0, len(mvs))
		for _, m := range mvs {
			resp = append(resp, MovementResponse{
				ID:          m.ID,
				LotID:       m.LotID,
				BatchNumber: m.Lot.BatchNumber,
				ProductID:   m.Lot.ProductID,
				ProductName: m.Lot.Product.Name,
				Unit:        m.Lot.Product.Unit,
				Type:        m.Type,
				Reason:      m.Reason,
				Quantity:    m.Quantity,
				MovedAt:     m.MovedAt,
			})
		}
		return c.JSON(resp)
	}
}

// POST /api/movements (ADMIN, KITCHEN)
func ApplyMovementHandler(st *stock.Engine, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ApplyMovementRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
		qty, err := stock.ParseQuantity(body.Quantity)
		if err != nil {
			return err
		}

		mv, err := st.ApplyMovement(c.UserContext(), stock.MovementInput{
			LotID:    body.LotID,
			Type:     models.MovementType(strings.ToUpper(strings.TrimSpace(body.Type))),
			Quantity: qty,
			Reason:   body.Reason,
		})
		if err != nil {
			return err
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "lot",
			EntityID:    mv.LotID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("%s %s", mv.Type, mv.Quantity),
			After:       mv,
		})
		return c.Status(fiber.StatusCreated).JSON(mv)
	}
}

// GET /api/stock?all=true
func StockSummaryHandler(st *stock.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rows, err := st.Summary(c.UserContext(), c.Query("all") != "true")
		if err != nil {
			return err
		}
		return c.JSON(rows)
	}
}
