package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Recipe struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"size:150;not null;index" json:"name"`
	BasePortions int             `gorm:"not null" json:"base_portions"`
	WasteRate    decimal.Decimal `gorm:"type:numeric(6,3);not null" json:"waste_rate"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	Items []RecipeItem `gorm:"foreignKey:RecipeID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// RecipeItem is one ingredient line, expressed per produced portion.
type RecipeItem struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	RecipeID      uint            `gorm:"index;not null" json:"recipe_id"`
	ProductID     uint            `gorm:"index;not null" json:"product_id"`
	Product       Product         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	QtyPerPortion decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"qty_per_portion"`
}
