package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is a soft hold of lot quantity for a confirmed meal plan item.
// Rows are deleted when the hold is released or turned into an OUT movement,
// so every stored row is an active hold.
type Reservation struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	LotID          uint            `gorm:"not null;uniqueIndex:idx_reservation_lot_item" json:"lot_id"`
	Lot            Lot             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	MealPlanItemID uint            `gorm:"not null;index;uniqueIndex:idx_reservation_lot_item" json:"meal_plan_item_id"`
	MealPlanItem   MealPlanItem    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	ReservedQty    decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"reserved_qty"`
	CreatedAt      time.Time       `json:"created_at"`
}
