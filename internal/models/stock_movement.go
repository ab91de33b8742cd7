package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementLoss       MovementType = "LOSS"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementLoss:
		return true
	}
	return false
}

// Well-known movement reasons. Reason is free text otherwise.
const (
	ReasonExpired    = "EXPIRED"
	ReasonClosed     = "CLOSED"
	ReasonProduction = "PRODUCTION"
)

// StockMovement is an append-only ledger row. Quantity is positive for IN,
// OUT and LOSS; ADJUSTMENT stores the signed delta.
type StockMovement struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	LotID    uint            `gorm:"index;not null" json:"lot_id"`
	Lot      Lot             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Type     MovementType    `gorm:"size:16;index;not null" json:"type"`
	Reason   *string         `gorm:"size:120" json:"reason"`
	Quantity decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity"`
	MovedAt  time.Time       `gorm:"index;not null" json:"moved_at"`
}
