package models

import "time"

type MealPlanStatus string

const (
	PlanDraft     MealPlanStatus = "DRAFT"
	PlanConfirmed MealPlanStatus = "CONFIRMED"
	PlanExecuted  MealPlanStatus = "EXECUTED"
)

// CanMoveTo enforces the forward-only DRAFT -> CONFIRMED -> EXECUTED order.
func (s MealPlanStatus) CanMoveTo(next MealPlanStatus) bool {
	switch s {
	case PlanDraft:
		return next == PlanConfirmed
	case PlanConfirmed:
		return next == PlanExecuted
	}
	return false
}

type MealPlan struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	PeriodStart time.Time      `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd   time.Time      `gorm:"type:date;not null" json:"period_end"`
	Status      MealPlanStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Items []MealPlanItem `gorm:"foreignKey:MealPlanID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

type MealPlanItem struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	MealPlanID       uint       `gorm:"index;not null" json:"meal_plan_id"`
	RecipeID         uint       `gorm:"index;not null" json:"recipe_id"`
	Recipe           Recipe     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	PlannedFor       *time.Time `gorm:"type:date" json:"planned_for"`
	Portions         int        `gorm:"not null" json:"portions"`
	ProducedPortions *int       `json:"produced_portions"`
}
