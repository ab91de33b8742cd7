package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/audit"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"gorm.io/gorm"
)

type ReceiveLotRequest struct {
	ProductID   uint   `json:"product_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    string `json:"quantity"`
	ExpiryDate  string `json:"expiry_date"`
}

type CountLotRequest struct {
	Counted string `json:"counted"`
	Note    string `json:"note"`
}

type ExpireRequest struct {
	AsOf string `json:"as_of"`
}

type LotResponse struct {
	models.Lot
	ProductName string `json:"product_name"`
	Unit        string `json:"unit"`
}

// GET /api/lots?product_id=1&archived=false&expiring_within=7
func ListLotsHandler(db *gorm.DB, st *stock.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := db.WithContext(c.UserContext()).Preload("Product")

		if pid := c.QueryInt("product_id"); pid > 0 {
			dbq = dbq.Where("product_id = ?", pid)
		}
		switch c.Query("archived", "false") {
		case "false":
			dbq = dbq.Where("archived = ?", false)
		case "true":
			dbq = dbq.Where("archived = ?", true)
		}
		if days := c.QueryInt("expiring_within", -1); days >= 0 {
			today := st.Today()
			dbq = dbq.Where("expiry_date >= ? AND expiry_date <= ?", today, today.AddDate(0, 0, days))
		}

		var lots []models.Lot
		if err := dbq.Order("expiry_date ASC, id ASC").Limit(500).Find(&lots).Error; err != nil {
			return err
		}
		resp := make([]LotResponse, 0, len(lots))
		for _, l := range lots {
			resp = append(resp, LotResponse{Lot: l, ProductName: l.Product.Name, Unit: l.Product.Unit})
		}
		return c.JSON(resp)
	}
}

// POST /api/lots (ADMIN, KITCHEN)
func ReceiveLotHandler(st *stock.Engine, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ReceiveLotRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
		qty, err := stock.ParseQuantity(body.Quantity)
		if err != nil {
			return err
		}
		expiry, err := stock.ParseDate(body.ExpiryDate)
		if err != nil {
			return err
		}

		lot, err := st.ReceiveLot(c.UserContext(), stock.LotInput{
			ProductID:   body.ProductID,
			BatchNumber: body.BatchNumber,
			Quantity:    qty,
			ExpiryDate:  expiry,
		})
		if err != nil {
			return err
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "lot",
			EntityID:    lot.ID,
			Action:      models.AuditActionCreate,
			Description: fmt.Sprintf("lot %s received: %s", lot.BatchNumber, lot.Quantity),
			After:       lot,
		})
		return c.Status(fiber.StatusCreated).JSON(lot)
	}
}

// POST /api/lots/:id/count (ADMIN, KITCHEN)
func CountLotHandler(st *stock.Engine, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		var body CountLotRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
		counted, err := stock.ParseQuantity(body.Counted)
		if err != nil {
			return err
		}

		mv, err := st.CountLot(c.UserContext(), id, counted, body.Note)
		if err != nil {
			return err
		}
		if mv == nil {
			return c.JSON(fiber.Map{"adjusted": false})
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "lot",
			EntityID:    id,
			Action:      models.AuditActionCount,
			Description: fmt.Sprintf("lot counted at %s (delta %s)", counted, mv.Quantity),
			After:       mv,
		})
		return c.JSON(fiber.Map{"adjusted": true, "movement": mv})
	}
}

// POST /api/lots/:id/close (ADMIN, KITCHEN)
func CloseLotHandler(st *stock.Engine, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		lot, err := st.CloseLot(c.UserContext(), id)
		if err != nil {
			return err
		}

		rec.Record(c, audit.LogOptions{
			EntityType:  "lot",
			EntityID:    lot.ID,
			Action:      models.AuditActionClose,
			Description: "lot " + lot.BatchNumber + " closed",
			After:       lot,
		})
		return c.JSON(lot)
	}
}

// POST /api/lots/expire (ADMIN)
// Optional body {"as_of":"2026-10-17"} for a past day; defaults to today.
func ExpireLotsHandler(st *stock.Engine, rec *audit.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ExpireRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid body")
			}
		}

		asOf := st.Today()
		if strings.TrimSpace(body.AsOf) != "" {
			d, err := stock.ParseDate(body.AsOf)
			if err != nil {
				return err
			}
			if d.After(asOf) {
				return apperr.Validation("as_of cannot be after today (%s)", asOf.Format(time.DateOnly))
			}
			asOf = d
		}

		res, err := st.ExpireLots(c.UserContext(), asOf)
		if err != nil {
			return err
		}

		for _, id := range res.LotIDs {
			rec.Record(c, audit.LogOptions{
				EntityType:  "lot",
				EntityID:    id,
				Action:      models.AuditActionExpire,
				Description: "lot expired as of " + asOf.Format(time.DateOnly),
			})
		}
		return c.JSON(res)
	}
}
