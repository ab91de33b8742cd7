package stock

import (
	"context"
	"fmt"
	"sort"

	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/shopspring/decimal"
)

type ProductStock struct {
	ProductID      uint            `json:"product_id"`
	Name           string          `json:"name"`
	Unit           string          `json:"unit"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	Quantity       decimal.Decimal `json:"quantity"`
	Reserved       decimal.Decimal `json:"reserved"`
	Available      decimal.Decimal `json:"available"`
	Lots           int             `json:"lots"`
	BelowThreshold bool            `json:"below_threshold"`
}

// Summary reports stock per product over unarchived, unexpired lots.
// Available is clamped at zero per lot before summing.
func (e *Engine) Summary(ctx context.Context, activeOnly bool) ([]ProductStock, error) {
	db := e.db.WithContext(ctx)

	var products []models.Product
	q := db.Order("name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	lots, err := UsableLots(db, e.Today())
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(lots))
	for _, l := range lots {
		ids = append(ids, l.ID)
	}
	reserved, err := ReservedByLot(db, ids)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[uint]*ProductStock, len(products))
	out := make([]ProductStock, len(products))
	for i, p := range products {
		out[i] = ProductStock{
			ProductID:      p.ID,
			Name:           p.Name,
			Unit:           p.Unit,
			AlertThreshold: p.AlertThreshold,
			Quantity:       decimal.Zero,
			Reserved:       decimal.Zero,
			Available:      decimal.Zero,
		}
		byProduct[p.ID] = &out[i]
	}

	for _, l := range lots {
		ps, ok := byProduct[l.ProductID]
		if !ok {
			continue
		}
		r := reserved[l.ID]
		ps.Quantity = ps.Quantity.Add(l.Quantity)
		ps.Reserved = ps.Reserved.Add(r)
		ps.Available = ps.Available.Add(LotAvailable(l.Quantity, r))
		ps.Lots++
	}

	for i := range out {
		out[i].Quantity = Round(out[i].Quantity)
		out[i].Reserved = Round(out[i].Reserved)
		out[i].Available = Round(out[i].Available)
		out[i].BelowThreshold = out[i].AlertThreshold.IsPositive() &&
			out[i].Available.LessThanOrEqual(out[i].AlertThreshold)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LotAvailable is quantity minus reserved, clamped at zero.
func LotAvailable(quantity, reserved decimal.Decimal) decimal.Decimal {
	avail := quantity.Sub(reserved)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}
