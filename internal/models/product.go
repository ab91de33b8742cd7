package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"size:100;not null;unique" json:"name"`
	Unit           string          `gorm:"size:20;not null" json:"unit"` // kg, l, pcs...
	Cost           decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"cost"`
	AlertThreshold decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"alert_threshold"`
	Active         bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
