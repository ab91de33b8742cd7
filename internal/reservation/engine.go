// Package reservation holds lot quantity for confirmed meal plan items and
// turns those holds into OUT movements when the plan is produced.
package reservation

import (
	"context"
	"fmt"

	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine methods take the caller's transaction; the plan service decides
// where it begins and ends.
type Engine struct {
	stock *stock.Engine
	log   *logrus.Logger
}

func NewEngine(st *stock.Engine, log *logrus.Logger) *Engine {
	return &Engine{stock: st, log: log}
}

// ReserveForItem allocates needed units of a product to a meal plan item,
// first-expired-first, from unarchived lots that have not expired. Either
// the whole amount is held or nothing is written.
func (e *Engine) ReserveForItem(tx *gorm.DB, itemID, productID uint, needed decimal.Decimal) ([]models.Reservation, error) {
	needed = stock.Round(needed)
	if !needed.IsPositive() {
		return nil, apperr.Validation("reserved quantity must be greater than 0")
	}

	var lots []models.Lot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND archived = ? AND quantity > 0 AND expiry_date >= ?",
			productID, false, e.stock.Today()).
		Order("expiry_date ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("lock lots for product %d: %w", productID, err)
	}

	ids := lotIDs(lots)
	reserved, err := stock.ReservedByLot(tx, ids)
	if err != nil {
		return nil, err
	}

	type grant struct {
		lotID uint
		qty   decimal.Decimal
	}
	var plan []grant
	remaining := needed
	total := decimal.Zero
	for _, l := range lots {
		free := stock.LotAvailable(l.Quantity, reserved[l.ID])
		total = total.Add(free)
		if !remaining.IsPositive() || !free.IsPositive() {
			continue
		}
		take := decimal.Min(free, remaining)
		plan = append(plan, grant{lotID: l.ID, qty: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, apperr.InsufficientAvailableStock(
			"product %d: %s needed, %s available", productID, needed.String(), stock.Round(total).String())
	}

	out := make([]models.Reservation, 0, len(plan))
	for _, g := range plan {
		r, err := addHold(tx, g.lotID, itemID, g.qty)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}

	if err := CheckLots(tx, ids); err != nil {
		return nil, err
	}
	return out, nil
}

// addHold merges into the existing (lot, item) row when there is one.
func addHold(tx *gorm.DB, lotID, itemID uint, qty decimal.Decimal) (*models.Reservation, error) {
	var r models.Reservation
	err := tx.Where("lot_id = ? AND meal_plan_item_id = ?", lotID, itemID).Limit(1).Find(&r).Error
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	if r.ID != 0 {
		r.ReservedQty = stock.Round(r.ReservedQty.Add(qty))
		if err := tx.Model(&r).Update("reserved_qty", r.ReservedQty).Error; err != nil {
			return nil, fmt.Errorf("update reservation %d: %w", r.ID, err)
		}
		return &r, nil
	}
	r = models.Reservation{LotID: lotID, MealPlanItemID: itemID, ReservedQty: qty}
	if err := tx.Create(&r).Error; err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return &r, nil
}

// ReleaseForItem drops every hold of the item and reports how many rows went.
func (e *Engine) ReleaseForItem(tx *gorm.DB, itemID uint) (int64, error) {
	res := tx.Where("meal_plan_item_id = ?", itemID).Delete(&models.Reservation{})
	if res.Error != nil {
		return 0, fmt.Errorf("release item %d: %w", itemID, res.Error)
	}
	return res.RowsAffected, nil
}

// FulfillForItem books one OUT movement per reserved lot for the full held
// quantity, removes the holds and stamps produced_portions on the item.
func (e *Engine) FulfillForItem(tx *gorm.DB, itemID uint, producedPortions int) ([]models.StockMovement, error) {
	if producedPortions < 0 {
		return nil, apperr.Validation("produced portions cannot be negative")
	}

	var holds []models.Reservation
	if err := tx.Where("meal_plan_item_id = ?", itemID).Find(&holds).Error; err != nil {
		return nil, fmt.Errorf("load reservations of item %d: %w", itemID, err)
	}
	byLot := make(map[uint]decimal.Decimal, len(holds))
	ids := make([]uint, 0, len(holds))
	for _, h := range holds {
		if _, seen := byLot[h.LotID]; !seen {
			ids = append(ids, h.LotID)
		}
		byLot[h.LotID] = byLot[h.LotID].Add(h.ReservedQty)
	}

	// Same lock order as ReserveForItem.
	var lots []models.Lot
	if len(ids) > 0 {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("expiry_date ASC, id ASC").
			Find(&lots).Error; err != nil {
			return nil, fmt.Errorf("lock reserved lots: %w", err)
		}
	}

	// Holds go first so the movement check sees only other items' holds.
	if _, err := e.ReleaseForItem(tx, itemID); err != nil {
		return nil, err
	}

	movements := make([]models.StockMovement, 0, len(lots))
	for _, l := range lots {
		mv, err := e.stock.ApplyMovementTx(tx, stock.MovementInput{
			LotID:    l.ID,
			Type:     models.MovementOut,
			Quantity: byLot[l.ID],
			Reason:   models.ReasonProduction,
		})
		if err != nil {
			return nil, err
		}
		movements = append(movements, *mv)
	}

	res := tx.Model(&models.MealPlanItem{}).Where("id = ?", itemID).Update("produced_portions", producedPortions)
	if res.Error != nil {
		return nil, fmt.Errorf("record produced portions on item %d: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("meal plan item %d not found", itemID)
	}
	return movements, nil
}

// CheckLots fails with a Conflict when any of the lots ends up holding more
// than it contains.
func CheckLots(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var lots []models.Lot
	if err := tx.Where("id IN ?", ids).Find(&lots).Error; err != nil {
		return fmt.Errorf("reload lots: %w", err)
	}
	reserved, err := stock.ReservedByLot(tx, ids)
	if err != nil {
		return err
	}
	for _, l := range lots {
		if reserved[l.ID].GreaterThan(l.Quantity) {
			return apperr.Conflict("lot %d is over-reserved (%s > %s)", l.ID, reserved[l.ID].String(), l.Quantity.String())
		}
	}
	return nil
}

type LotAvailability struct {
	LotID       uint            `json:"lot_id"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  string          `json:"expiry_date"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved"`
	Available   decimal.Decimal `json:"available"`
}

// Availability lists the usable lots of a product in allocation order.
func (e *Engine) Availability(ctx context.Context, productID uint) ([]LotAvailability, error) {
	db := e.stock.DB().WithContext(ctx)
	lots, err := stock.UsableLots(db, e.stock.Today(), productID)
	if err != nil {
		return nil, err
	}
	reserved, err := stock.ReservedByLot(db, lotIDs(lots))
	if err != nil {
		return nil, err
	}
	out := make([]LotAvailability, 0, len(lots))
	for _, l := range lots {
		r := reserved[l.ID]
		out = append(out, LotAvailability{
			LotID:       l.ID,
			BatchNumber: l.BatchNumber,
			ExpiryDate:  l.ExpiryDate.Format("2006-01-02"),
			Quantity:    l.Quantity,
			Reserved:    r,
			Available:   stock.LotAvailable(l.Quantity, r),
		})
	}
	return out, nil
}

func lotIDs(lots []models.Lot) []uint {
	ids := make([]uint, len(lots))
	for i, l := range lots {
		ids[i] = l.ID
	}
	return ids
}
