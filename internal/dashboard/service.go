package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDays = 30
	MaxDays     = 365

	expiringWindowDays = 21
	expiringLimit      = 20
	expiredRowsLimit   = 100
	topProductsLimit   = 8
	lowStockLimit      = 20
)

// Cache is the read-through store for overviews. *cache.Redis satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
}

type KPIs struct {
	StockValue     decimal.Decimal                 `json:"stock_value"`
	LotsExpiring7  int64                           `json:"lots_expiring_7"`
	LotsExpiring14 int64                           `json:"lots_expiring_14"`
	LotsExpiredNow int64                           `json:"lots_expired_now"`
	Plans          map[models.MealPlanStatus]int64 `json:"plans"`
	Totals         Totals                          `json:"totals_30d"`
	LossRate       decimal.Decimal                 `json:"loss_rate_30d"`
	ExpiredShare   decimal.Decimal                 `json:"expired_share_of_loss_30d"`
}

type TopProduct struct {
	ID   uint            `json:"id"`
	Name string          `json:"name"`
	Unit string          `json:"unit"`
	Qty  decimal.Decimal `json:"qty"`
}

type ExpiringLot struct {
	ID          uint            `json:"id"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  string          `json:"expiry_date"`
	Quantity    decimal.Decimal `json:"quantity"`
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
}

type ExpiredRow struct {
	ID          uint            `json:"id"`
	MovedDate   string          `json:"moved_date"`
	Qty         decimal.Decimal `json:"qty"`
	LotID       uint            `json:"lot_id"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  string          `json:"expiry_date"`
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
}

type LowStock struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	Unit           string          `json:"unit"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	Available      decimal.Decimal `json:"available"`
}

type Overview struct {
	KPIs         KPIs          `json:"kpis"`
	Series       []SeriesPoint `json:"series"`
	TopProducts  []TopProduct  `json:"topProducts"`
	ExpiringLots []ExpiringLot `json:"expiringLots"`
	ExpiredRows  []ExpiredRow  `json:"expiredRows"`
	LowStock     []LowStock    `json:"lowStock"`
	Days         int           `json:"days"`
}

type Service struct {
	stock *stock.Engine
	cache Cache
	ttl   time.Duration
	log   *logrus.Logger
}

// NewService wires the overview. A nil cache disables caching.
func NewService(st *stock.Engine, cache Cache, ttl time.Duration, log *logrus.Logger) *Service {
	return &Service{stock: st, cache: cache, ttl: ttl, log: log}
}

// Overview computes the dashboard document over the trailing window of days.
// Cache failures are logged and the overview is computed from the database.
func (s *Service) Overview(ctx context.Context, days int) (*Overview, error) {
	if days < 1 || days > MaxDays {
		return nil, apperr.Validation("days must be between 1 and %d", MaxDays)
	}
	today := s.stock.Today()

	var key string
	if s.cache != nil {
		gen, err := s.cache.Generation(ctx)
		if err != nil {
			s.log.WithError(err).Warn("dashboard cache unavailable")
		} else {
			key = fmt.Sprintf("montvert:overview:%d:%s:%d", gen, today.Format("2006-01-02"), days)
			var cached Overview
			hit, err := s.cache.Get(ctx, key, &cached)
			if err != nil {
				s.log.WithError(err).Warn("dashboard cache read failed")
			} else if hit {
				return &cached, nil
			}
		}
	}

	ov, err := s.compute(ctx, today, days)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := s.cache.Set(ctx, key, ov, s.ttl); err != nil {
			s.log.WithError(err).Warn("dashboard cache write failed")
		}
	}
	return ov, nil
}

func (s *Service) compute(ctx context.Context, today time.Time, days int) (*Overview, error) {
	db := s.stock.DB().WithContext(ctx)
	ov := &Overview{Days: days}
	var err error

	// Stock value over usable lots.
	var valued []models.Lot
	if err := db.Preload("Product").
		Where("archived = ? AND expiry_date >= ?", false, today).
		Find(&valued).Error; err != nil {
		return nil, fmt.Errorf("load lots for stock value: %w", err)
	}
	value := decimal.Zero
	for _, l := range valued {
		value = value.Add(l.Quantity.Mul(l.Product.Cost))
	}
	ov.KPIs.StockValue = stock.Round(value)

	liveLots := func(where string, args ...any) (int64, error) {
		var n int64
		err := db.Model(&models.Lot{}).
			Where("archived = ? AND quantity > 0", false).
			Where(where, args...).
			Count(&n).Error
		return n, err
	}
	if ov.KPIs.LotsExpiring7, err = liveLots("expiry_date >= ? AND expiry_date <= ?", today, today.AddDate(0, 0, 7)); err != nil {
		return nil, fmt.Errorf("count lots expiring in 7 days: %w", err)
	}
	if ov.KPIs.LotsExpiring14, err = liveLots("expiry_date >= ? AND expiry_date <= ?", today, today.AddDate(0, 0, 14)); err != nil {
		return nil, fmt.Errorf("count lots expiring in 14 days: %w", err)
	}
	if ov.KPIs.LotsExpiredNow, err = liveLots("expiry_date < ?", today); err != nil {
		return nil, fmt.Errorf("count expired lots: %w", err)
	}

	plans, err := s.planCounts(ctx)
	if err != nil {
		return nil, err
	}
	ov.KPIs.Plans = plans

	var mvs []models.StockMovement
	if err := db.Preload("Lot.Product").
		Where("moved_at >= ?", today.AddDate(0, 0, -days)).
		Order("moved_at ASC, id ASC").
		Find(&mvs).Error; err != nil {
		return nil, fmt.Errorf("load movements: %w", err)
	}

	rows := make([]Movement, len(mvs))
	for i, m := range mvs {
		rows[i] = Movement{MovedAt: m.MovedAt, Type: m.Type, Reason: m.Reason, Quantity: m.Quantity}
	}
	ov.Series, ov.KPIs.Totals = Aggregate(rows)
	ov.KPIs.LossRate = LossRate(ov.KPIs.Totals)
	ov.KPIs.ExpiredShare = ExpiredShare(ov.KPIs.Totals)

	ov.TopProducts = topProducts(mvs)
	ov.ExpiredRows = expiredRows(mvs)

	var expiring []models.Lot
	if err := db.Preload("Product").
		Where("archived = ? AND quantity > 0 AND expiry_date >= ? AND expiry_date <= ?",
			false, today, today.AddDate(0, 0, expiringWindowDays)).
		Order("expiry_date ASC, id ASC").
		Limit(expiringLimit).
		Find(&expiring).Error; err != nil {
		return nil, fmt.Errorf("load expiring lots: %w", err)
	}
	ov.ExpiringLots = make([]ExpiringLot, len(expiring))
	for i, l := range expiring {
		ov.ExpiringLots[i] = ExpiringLot{
			ID:          l.ID,
			BatchNumber: l.BatchNumber,
			ExpiryDate:  l.ExpiryDate.Format("2006-01-02"),
			Quantity:    l.Quantity,
			ProductName: l.Product.Name,
			Unit:        l.Product.Unit,
		}
	}

	summary, err := s.stock.Summary(ctx, true)
	if err != nil {
		return nil, err
	}
	ov.LowStock = lowStock(summary)
	return ov, nil
}

func (s *Service) planCounts(ctx context.Context) (map[models.MealPlanStatus]int64, error) {
	out := map[models.MealPlanStatus]int64{
		models.PlanDraft:     0,
		models.PlanConfirmed: 0,
		models.PlanExecuted:  0,
	}
	var rows []struct {
		Status models.MealPlanStatus
		C      int64
	}
	if err := s.stock.DB().WithContext(ctx).Model(&models.MealPlan{}).
		Select("status, COUNT(*) AS c").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count plans: %w", err)
	}
	for _, r := range rows {
		out[r.Status] = r.C
	}
	return out, nil
}

func topProducts(mvs []models.StockMovement) []TopProduct {
	byID := make(map[uint]*TopProduct)
	for _, m := range mvs {
		if m.Type != models.MovementOut {
			continue
		}
		p := m.Lot.Product
		tp, ok := byID[p.ID]
		if !ok {
			tp = &TopProduct{ID: p.ID, Name: p.Name, Unit: p.Unit, Qty: decimal.Zero}
			byID[p.ID] = tp
		}
		tp.Qty = tp.Qty.Add(m.Quantity)
	}
	out := make([]TopProduct, 0, len(byID))
	for _, tp := range byID {
		tp.Qty = stock.Round(tp.Qty)
		out = append(out, *tp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Qty.Equal(out[j].Qty) {
			return out[i].Qty.GreaterThan(out[j].Qty)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topProductsLimit {
		out = out[:topProductsLimit]
	}
	return out
}

// expiredRows lists expiry write-offs newest first.
func expiredRows(mvs []models.StockMovement) []ExpiredRow {
	out := make([]ExpiredRow, 0)
	for i := len(mvs) - 1; i >= 0 && len(out) < expiredRowsLimit; i-- {
		m := mvs[i]
		if Classify(m.Type, m.Reason) != BucketExpired {
			continue
		}
		out = append(out, ExpiredRow{
			ID:          m.ID,
			MovedDate:   m.MovedAt.UTC().Format("2006-01-02"),
			Qty:         stock.Round(m.Quantity),
			LotID:       m.LotID,
			BatchNumber: m.Lot.BatchNumber,
			ExpiryDate:  m.Lot.ExpiryDate.Format("2006-01-02"),
			ProductName: m.Lot.Product.Name,
			Unit:        m.Lot.Product.Unit,
		})
	}
	return out
}

// lowStock keeps alerting products at or under threshold, most urgent
// (lowest available/threshold) first.
func lowStock(summary []stock.ProductStock) []LowStock {
	out := make([]LowStock, 0)
	for _, ps := range summary {
		if !ps.AlertThreshold.IsPositive() || ps.Available.GreaterThan(ps.AlertThreshold) {
			continue
		}
		out = append(out, LowStock{
			ID:             ps.ProductID,
			Name:           ps.Name,
			Unit:           ps.Unit,
			AlertThreshold: ps.AlertThreshold,
			Available:      ps.Available,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri := out[i].Available.Div(out[i].AlertThreshold)
		rj := out[j].Available.Div(out[j].AlertThreshold)
		if !ri.Equal(rj) {
			return ri.LessThan(rj)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > lowStockLimit {
		out = out[:lowStockLimit]
	}
	return out
}
