// Package recipe manages recipes and their ingredient lines.
package recipe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ItemInput struct {
	ProductID     uint            `json:"product_id"`
	QtyPerPortion decimal.Decimal `json:"qty_per_portion"`
}

type CreateInput struct {
	Name         string          `json:"name"`
	BasePortions int             `json:"base_portions"`
	WasteRate    decimal.Decimal `json:"waste_rate"`
	Items        []ItemInput     `json:"items"`
}

// UpdateInput is a partial update. A non-nil Items replaces every line.
type UpdateInput struct {
	Name         *string          `json:"name"`
	BasePortions *int             `json:"base_portions"`
	WasteRate    *decimal.Decimal `json:"waste_rate"`
	Items        *[]ItemInput     `json:"items"`
}

type ListRow struct {
	ID           uint            `json:"id"`
	Name         string          `json:"name"`
	BasePortions int             `json:"base_portions"`
	WasteRate    decimal.Decimal `json:"waste_rate"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ItemsCount   int64           `json:"items_count"`
}

type ListResult struct {
	Data     []ListRow `json:"data"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

type ItemRow struct {
	ID            uint            `json:"id"`
	ProductID     uint            `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Unit          string          `json:"unit"`
	QtyPerPortion decimal.Decimal `json:"qty_per_portion"`
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) List(ctx context.Context, q string, page, pageSize int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := s.db.WithContext(ctx).Model(&models.Recipe{})
	if q = strings.TrimSpace(q); q != "" {
		base = base.Where("LOWER(recipes.name) LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	res := &ListResult{Data: []ListRow{}, Page: page, PageSize: pageSize}
	if err := base.Session(&gorm.Session{}).Count(&res.Total).Error; err != nil {
		return nil, fmt.Errorf("count recipes: %w", err)
	}
	if err := base.Session(&gorm.Session{}).
		Select("recipes.*, (SELECT COUNT(*) FROM recipe_items ri WHERE ri.recipe_id = recipes.id) AS items_count").
		Order("recipes.name ASC, recipes.id ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Scan(&res.Data).Error; err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	return res, nil
}

func (s *Service) Items(ctx context.Context, recipeID uint) ([]ItemRow, error) {
	rows := []ItemRow{}
	err := s.db.WithContext(ctx).Model(&models.RecipeItem{}).
		Select("recipe_items.id, recipe_items.product_id, products.name AS product_name, products.unit, recipe_items.qty_per_portion").
		Joins("JOIN products ON products.id = recipe_items.product_id").
		Where("recipe_items.recipe_id = ?", recipeID).
		Order("recipe_items.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recipe items: %w", err)
	}
	return rows, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Recipe, error) {
	var r models.Recipe
	if err := s.db.WithContext(ctx).Preload("Items").First(&r, id).Error; err != nil {
		return nil, database.NotFound(err, "recipe %d not found", id)
	}
	return &r, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Recipe, error) {
	r := models.Recipe{
		Name:         strings.TrimSpace(in.Name),
		BasePortions: in.BasePortions,
		WasteRate:    in.WasteRate,
	}
	if err := validateHeader(r); err != nil {
		return nil, err
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}

	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Create(&r).Error; err != nil {
			return fmt.Errorf("insert recipe: %w", err)
		}
		items, err := insertItems(tx, r.ID, in.Items)
		if err != nil {
			return err
		}
		r.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*models.Recipe, error) {
	if in.Items != nil {
		if err := validateItems(*in.Items); err != nil {
			return nil, err
		}
	}

	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var r models.Recipe
		if err := tx.First(&r, id).Error; err != nil {
			return database.NotFound(err, "recipe %d not found", id)
		}

		if in.Name != nil {
			r.Name = strings.TrimSpace(*in.Name)
		}
		if in.BasePortions != nil {
			r.BasePortions = *in.BasePortions
		}
		if in.WasteRate != nil {
			r.WasteRate = *in.WasteRate
		}
		if err := validateHeader(r); err != nil {
			return err
		}
		if err := tx.Model(&r).Updates(map[string]any{
			"name":          r.Name,
			"base_portions": r.BasePortions,
			"waste_rate":    r.WasteRate,
		}).Error; err != nil {
			return fmt.Errorf("update recipe %d: %w", id, err)
		}

		if in.Items != nil {
			if err := tx.Where("recipe_id = ?", id).Delete(&models.RecipeItem{}).Error; err != nil {
				return fmt.Errorf("clear recipe items: %w", err)
			}
			if _, err := insertItems(tx, id, *in.Items); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete fails with a Conflict while a meal plan still uses the recipe.
func (s *Service) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Recipe{}, id)
	if res.Error != nil {
		if database.IsForeignKeyViolation(res.Error) {
			return apperr.Conflict("Cannot delete: recipe in use.")
		}
		return fmt.Errorf("delete recipe %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("recipe %d not found", id)
	}
	return nil
}

func validateHeader(r models.Recipe) error {
	if r.Name == "" {
		return apperr.Validation("name is required")
	}
	if r.BasePortions <= 0 {
		return apperr.Validation("base_portions must be greater than 0")
	}
	if r.WasteRate.IsNegative() || r.WasteRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return apperr.Validation("waste_rate must be in [0, 1)")
	}
	return nil
}

func validateItems(items []ItemInput) error {
	for i, it := range items {
		if it.ProductID == 0 {
			return apperr.Validation("items[%d].product_id is required", i)
		}
		if !stock.Round(it.QtyPerPortion).IsPositive() {
			return apperr.Validation("items[%d].qty_per_portion must be greater than 0", i)
		}
	}
	return nil
}

func insertItems(tx *gorm.DB, recipeID uint, in []ItemInput) ([]models.RecipeItem, error) {
	if len(in) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(in))
	for _, it := range in {
		ids = append(ids, it.ProductID)
	}
	var known int64
	if err := tx.Model(&models.Product{}).Where("id IN ?", ids).Distinct("id").Count(&known).Error; err != nil {
		return nil, fmt.Errorf("check products: %w", err)
	}
	if int(known) != countDistinct(ids) {
		return nil, apperr.NotFound("unknown product in recipe items")
	}

	items := make([]models.RecipeItem, len(in))
	for i, it := range in {
		items[i] = models.RecipeItem{
			RecipeID:      recipeID,
			ProductID:     it.ProductID,
			QtyPerPortion: stock.Round(it.QtyPerPortion),
		}
	}
	if err := tx.Create(&items).Error; err != nil {
		return nil, fmt.Errorf("insert recipe items: %w", err)
	}
	return items, nil
}

func countDistinct(ids []uint) int {
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
