package stock

import (
	"fmt"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/models"
	"gorm.io/gorm"
)

// UsableLots returns unarchived lots whose expiry date is today or later,
// ordered first-expired-first.
func UsableLots(db *gorm.DB, today time.Time, productIDs ...uint) ([]models.Lot, error) {
	q := db.Where("archived = ? AND expiry_date >= ?", false, DayStart(today))
	if len(productIDs) > 0 {
		q = q.Where("product_id IN ?", productIDs)
	}
	var lots []models.Lot
	if err := q.Order("expiry_date ASC, id ASC").Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("list usable lots: %w", err)
	}
	return lots, nil
}
