package dbtest

import (
	"testing"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Day returns the UTC midnight of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func Product(t testing.TB, db *gorm.DB, name, cost, threshold string) models.Product {
	t.Helper()
	p := models.Product{
		Name:           name,
		Unit:           "kg",
		Cost:           Dec(cost),
		AlertThreshold: Dec(threshold),
		Active:         true,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

// Lot inserts a lot row directly, without a ledger movement.
func Lot(t testing.TB, db *gorm.DB, productID uint, qty string, expiry time.Time) models.Lot {
	t.Helper()
	l := models.Lot{
		ProductID:   productID,
		BatchNumber: "B-" + expiry.Format("0102"),
		Quantity:    Dec(qty),
		ExpiryDate:  expiry,
	}
	if err := db.Create(&l).Error; err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	return l
}

func Movement(t testing.TB, db *gorm.DB, lotID uint, typ models.MovementType, reason, qty string, at time.Time) models.StockMovement {
	t.Helper()
	mv := models.StockMovement{LotID: lotID, Type: typ, Quantity: Dec(qty), MovedAt: at}
	if reason != "" {
		mv.Reason = &reason
	}
	if err := db.Create(&mv).Error; err != nil {
		t.Fatalf("seed movement: %v", err)
	}
	return mv
}

// Recipe seeds a recipe with one line per product id -> qty per portion.
func Recipe(t testing.TB, db *gorm.DB, name string, wasteRate string, lines map[uint]string) models.Recipe {
	t.Helper()
	r := models.Recipe{Name: name, BasePortions: 1, WasteRate: Dec(wasteRate)}
	for productID, qty := range lines {
		r.Items = append(r.Items, models.RecipeItem{ProductID: productID, QtyPerPortion: Dec(qty)})
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("seed recipe: %v", err)
	}
	return r
}

// PlanItem seeds a plan in the given status with a single item.
func PlanItem(t testing.TB, db *gorm.DB, recipeID uint, portions int, status models.MealPlanStatus) (models.MealPlan, models.MealPlanItem) {
	t.Helper()
	plan := models.MealPlan{
		PeriodStart: Day(2026, 10, 1),
		PeriodEnd:   Day(2026, 10, 31),
		Status:      status,
		Items:       []models.MealPlanItem{{RecipeID: recipeID, Portions: portions}},
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan, plan.Items[0]
}

func Reservation(t testing.TB, db *gorm.DB, lotID, itemID uint, qty string) models.Reservation {
	t.Helper()
	r := models.Reservation{LotID: lotID, MealPlanItemID: itemID, ReservedQty: Dec(qty)}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	return r
}
