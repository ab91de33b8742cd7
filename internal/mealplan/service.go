// Package mealplan drives plans through DRAFT, CONFIRMED and EXECUTED. Every
// transition runs in one transaction together with the reservation work it
// triggers.
package mealplan

import (
	"context"
	"fmt"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/reservation"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ItemInput struct {
	RecipeID   uint       `json:"recipe_id"`
	PlannedFor *time.Time `json:"planned_for"`
	Portions   int        `json:"portions"`
}

type CreateInput struct {
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Items       []ItemInput `json:"items"`
}

type ListResult struct {
	Data     []models.MealPlan `json:"data"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

type Service struct {
	stock *stock.Engine
	res   *reservation.Engine
	log   *logrus.Logger
}

func NewService(st *stock.Engine, res *reservation.Engine, log *logrus.Logger) *Service {
	return &Service{stock: st, res: res, log: log}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.MealPlan, error) {
	if in.PeriodStart.IsZero() || in.PeriodEnd.IsZero() {
		return nil, apperr.Validation("period_start and period_end are required")
	}
	start, end := stock.DayStart(in.PeriodStart), stock.DayStart(in.PeriodEnd)
	if end.Before(start) {
		return nil, apperr.Validation("period_end is before period_start")
	}

	plan := models.MealPlan{PeriodStart: start, PeriodEnd: end, Status: models.PlanDraft}
	for i, it := range in.Items {
		if it.RecipeID == 0 {
			return nil, apperr.Validation("items[%d].recipe_id is required", i)
		}
		if it.Portions <= 0 {
			return nil, apperr.Validation("items[%d].portions must be greater than 0", i)
		}
		item := models.MealPlanItem{RecipeID: it.RecipeID, Portions: it.Portions}
		if it.PlannedFor != nil {
			d := stock.DayStart(*it.PlannedFor)
			if d.Before(start) || d.After(end) {
				return nil, apperr.Validation("items[%d].planned_for is outside the plan period", i)
			}
			item.PlannedFor = &d
		}
		plan.Items = append(plan.Items, item)
	}

	err := database.WithTx(ctx, s.stock.DB(), func(tx *gorm.DB) error {
		if len(in.Items) > 0 {
			ids := make([]uint, 0, len(in.Items))
			seen := map[uint]bool{}
			for _, it := range in.Items {
				if !seen[it.RecipeID] {
					seen[it.RecipeID] = true
					ids = append(ids, it.RecipeID)
				}
			}
			var known int64
			if err := tx.Model(&models.Recipe{}).Where("id IN ?", ids).Count(&known).Error; err != nil {
				return fmt.Errorf("check recipes: %w", err)
			}
			if int(known) != len(ids) {
				return apperr.NotFound("unknown recipe in plan items")
			}
		}
		if err := tx.Create(&plan).Error; err != nil {
			return fmt.Errorf("insert meal plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.MealPlan, error) {
	var plan models.MealPlan
	err := s.stock.DB().WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&plan, id).Error
	if err != nil {
		return nil, database.NotFound(err, "meal plan %d not found", id)
	}
	return &plan, nil
}

func (s *Service) List(ctx context.Context, status models.MealPlanStatus, page, pageSize int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	q := s.stock.DB().WithContext(ctx).Model(&models.MealPlan{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	res := &ListResult{Data: []models.MealPlan{}, Page: page, PageSize: pageSize}
	if err := q.Session(&gorm.Session{}).Count(&res.Total).Error; err != nil {
		return nil, fmt.Errorf("count meal plans: %w", err)
	}
	if err := q.Session(&gorm.Session{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("period_start DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&res.Data).Error; err != nil {
		return nil, fmt.Errorf("list meal plans: %w", err)
	}
	return res, nil
}

// Confirm reserves every ingredient of every item. One shortage rolls back
// the whole plan.
func (s *Service) Confirm(ctx context.Context, id uint) (*models.MealPlan, error) {
	err := database.WithTx(ctx, s.stock.DB(), func(tx *gorm.DB) error {
		plan, err := lockPlan(tx, id, models.PlanConfirmed)
		if err != nil {
			return err
		}
		if len(plan.Items) == 0 {
			return apperr.Validation("meal plan %d has no items", id)
		}

		for _, item := range plan.Items {
			var recipe models.Recipe
			if err := tx.Preload("Items").First(&recipe, item.RecipeID).Error; err != nil {
				return database.NotFound(err, "recipe %d not found", item.RecipeID)
			}
			for _, line := range recipe.Items {
				needed := Needed(line.QtyPerPortion, item.Portions, recipe.WasteRate)
				if _, err := s.res.ReserveForItem(tx, item.ID, line.ProductID, needed); err != nil {
					return err
				}
			}
		}
		return setStatus(tx, plan.ID, models.PlanConfirmed)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("plan_id", id).Info("meal plan confirmed")
	s.stock.Changed(ctx)
	return s.Get(ctx, id)
}

// Execute consumes each item's reservations as OUT movements. produced maps
// item id to the portions actually made; missing items default to planned.
func (s *Service) Execute(ctx context.Context, id uint, produced map[uint]int) (*models.MealPlan, error) {
	err := database.WithTx(ctx, s.stock.DB(), func(tx *gorm.DB) error {
		plan, err := lockPlan(tx, id, models.PlanExecuted)
		if err != nil {
			return err
		}
		known := make(map[uint]bool, len(plan.Items))
		for _, item := range plan.Items {
			known[item.ID] = true
		}
		for itemID := range produced {
			if !known[itemID] {
				return apperr.Validation("item %d does not belong to meal plan %d", itemID, id)
			}
		}

		for _, item := range plan.Items {
			portions := item.Portions
			if p, ok := produced[item.ID]; ok {
				portions = p
			}
			if _, err := s.res.FulfillForItem(tx, item.ID, portions); err != nil {
				return err
			}
		}
		return setStatus(tx, plan.ID, models.PlanExecuted)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("plan_id", id).Info("meal plan executed")
	s.stock.Changed(ctx)
	return s.Get(ctx, id)
}

// Cancel releases the holds of a draft or confirmed plan and deletes it.
func (s *Service) Cancel(ctx context.Context, id uint) error {
	var released int64
	err := database.WithTx(ctx, s.stock.DB(), func(tx *gorm.DB) error {
		var plan models.MealPlan
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("Items").First(&plan, id).Error; err != nil {
			return database.NotFound(err, "meal plan %d not found", id)
		}
		if plan.Status == models.PlanExecuted {
			return apperr.Conflict("meal plan %d is already executed", id)
		}
		for _, item := range plan.Items {
			n, err := s.res.ReleaseForItem(tx, item.ID)
			if err != nil {
				return err
			}
			released += n
		}
		if err := tx.Select("Items").Delete(&plan).Error; err != nil {
			return fmt.Errorf("delete meal plan %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"plan_id": id, "released": released}).Info("meal plan cancelled")
	if released > 0 {
		s.stock.Changed(ctx)
	}
	return nil
}

// Needed is the product quantity one plan item draws for a recipe line.
func Needed(qtyPerPortion decimal.Decimal, portions int, wasteRate decimal.Decimal) decimal.Decimal {
	return stock.Round(qtyPerPortion.
		Mul(decimal.NewFromInt(int64(portions))).
		Mul(decimal.NewFromInt(1).Add(wasteRate)))
}

// lockPlan loads the plan with its items and checks it may move to next.
func lockPlan(tx *gorm.DB, id uint, next models.MealPlanStatus) (*models.MealPlan, error) {
	var plan models.MealPlan
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&plan, id).Error
	if err != nil {
		return nil, database.NotFound(err, "meal plan %d not found", id)
	}
	if !plan.Status.CanMoveTo(next) {
		return nil, apperr.Conflict("meal plan %d is %s, cannot move to %s", id, plan.Status, next)
	}
	return &plan, nil
}

func setStatus(tx *gorm.DB, id uint, status models.MealPlanStatus) error {
	if err := tx.Model(&models.MealPlan{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return fmt.Errorf("set meal plan %d status: %w", id, err)
	}
	return nil
}
