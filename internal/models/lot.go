package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a dated batch of one product. Quantity is the physical amount on
// hand; it only changes together with a StockMovement row.
type Lot struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ProductID   uint            `gorm:"index;not null" json:"product_id"`
	Product     Product         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	BatchNumber string          `gorm:"size:64;not null" json:"batch_number"`
	Quantity    decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"`
	ExpiryDate  time.Time       `gorm:"type:date;index;not null" json:"expiry_date"`
	Archived    bool            `gorm:"index;not null;default:false" json:"archived"`
	CreatedAt   time.Time       `json:"created_at"`
}
