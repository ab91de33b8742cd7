package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExpiryResult struct {
	LotsProcessed        int             `json:"lotsProcessed"`
	TotalLoss            decimal.Decimal `json:"totalLoss"`
	Skipped              int             `json:"skipped"`
	ReleasedReservations int64           `json:"releasedReservations"`
	LotIDs               []uint          `json:"-"`

	// Meal plan items that lost holds, keyed by expired lot.
	ReleasedItems map[uint][]uint `json:"-"`
}

// ExpireLots writes off every unarchived lot with stock whose expiry date is
// before asOf: one LOSS/EXPIRED movement for the full remainder, quantity set
// to zero, lot archived, holds on the lot released. Lots already handled by a
// concurrent sweep are counted as skipped, so a second run on the same day is
// a no-op.
func (e *Engine) ExpireLots(ctx context.Context, asOf time.Time) (*ExpiryResult, error) {
	day := DayStart(asOf)
	var res *ExpiryResult

	err := database.WithTx(ctx, e.db, func(tx *gorm.DB) error {
		res = &ExpiryResult{TotalLoss: decimal.Zero, ReleasedItems: map[uint][]uint{}}

		var lots []models.Lot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("archived = ? AND quantity > 0 AND expiry_date < ?", false, day).
			Order("expiry_date ASC, id ASC").
			Find(&lots).Error; err != nil {
			return fmt.Errorf("select expired lots: %w", err)
		}

		for _, lot := range lots {
			if lot.Archived || !lot.Quantity.IsPositive() {
				res.Skipped++
				continue
			}

			// Guarded update: a sweep that got here first leaves nothing to match.
			upd := tx.Model(&models.Lot{}).
				Where("id = ? AND archived = ? AND quantity > 0", lot.ID, false).
				Updates(map[string]any{"quantity": decimal.Zero, "archived": true})
			if upd.Error != nil {
				return fmt.Errorf("expire lot %d: %w", lot.ID, upd.Error)
			}
			if upd.RowsAffected == 0 {
				res.Skipped++
				continue
			}

			var itemIDs []uint
			if err := tx.Model(&models.Reservation{}).
				Where("lot_id = ?", lot.ID).
				Order("meal_plan_item_id ASC").
				Pluck("meal_plan_item_id", &itemIDs).Error; err != nil {
				return fmt.Errorf("load reservations on lot %d: %w", lot.ID, err)
			}
			if len(itemIDs) > 0 {
				res.ReleasedItems[lot.ID] = itemIDs
			}

			rel := tx.Where("lot_id = ?", lot.ID).Delete(&models.Reservation{})
			if rel.Error != nil {
				return fmt.Errorf("release reservations on lot %d: %w", lot.ID, rel.Error)
			}
			res.ReleasedReservations += rel.RowsAffected

			loss := Round(lot.Quantity)
			reason := models.ReasonExpired
			if err := tx.Create(&models.StockMovement{
				LotID:    lot.ID,
				Type:     models.MovementLoss,
				Reason:   &reason,
				Quantity: loss,
				MovedAt:  e.Now(),
			}).Error; err != nil {
				return fmt.Errorf("insert expiry movement for lot %d: %w", lot.ID, err)
			}

			res.LotsProcessed++
			res.TotalLoss = res.TotalLoss.Add(loss)
			res.LotIDs = append(res.LotIDs, lot.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.TotalLoss = Round(res.TotalLoss)
	e.log.WithFields(logrus.Fields{
		"as_of":     day.Format("2006-01-02"),
		"processed": res.LotsProcessed,
		"skipped":   res.Skipped,
		"loss":      res.TotalLoss.String(),
		"released":  res.ReleasedReservations,
	}).Info("expiry sweep finished")

	// Those items will be executed without drawing from the expired lot.
	for lotID, items := range res.ReleasedItems {
		e.log.WithFields(logrus.Fields{
			"lot_id":             lotID,
			"meal_plan_item_ids": items,
		}).Warn("expired lot released meal plan reservations")
	}

	if res.LotsProcessed > 0 {
		e.Changed(ctx)
	}
	return res, nil
}
