package stock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/database"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Policy struct {
	// AutoArchiveOnEmpty archives a lot when a movement leaves it at zero.
	AutoArchiveOnEmpty bool
}

// Engine applies quantity changes to lots. Every change updates the lot row
// and appends its StockMovement in the same transaction.
type Engine struct {
	db       *gorm.DB
	policy   Policy
	log      *logrus.Logger
	now      func() time.Time
	onChange []func(context.Context)
}

func NewEngine(db *gorm.DB, policy Policy, log *logrus.Logger) *Engine {
	return &Engine{db: db, policy: policy, log: log, now: time.Now}
}

// SetClock replaces the wall clock. Tests pin "today" with it.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) Now() time.Time { return e.now().UTC() }

// Today is the current UTC calendar day.
func (e *Engine) Today() time.Time { return DayStart(e.now()) }

func (e *Engine) DB() *gorm.DB { return e.db }

// OnChange registers a hook run after any committed stock write.
func (e *Engine) OnChange(fn func(context.Context)) {
	e.onChange = append(e.onChange, fn)
}

// Changed runs the OnChange hooks. Callers that commit stock writes through
// their own transaction (meal plans) call it after commit.
func (e *Engine) Changed(ctx context.Context) {
	for _, fn := range e.onChange {
		fn(ctx)
	}
}

type MovementInput struct {
	LotID    uint
	Type     models.MovementType
	Quantity decimal.Decimal // signed delta for ADJUSTMENT, positive otherwise
	Reason   string
}

func (in MovementInput) validate() error {
	if in.LotID == 0 {
		return apperr.Validation("lot_id is required")
	}
	if !in.Type.Valid() {
		return apperr.Validation("unknown movement type %q", in.Type)
	}
	q := Round(in.Quantity)
	if in.Type == models.MovementAdjustment {
		if q.IsZero() {
			return apperr.Validation("adjustment quantity must not be zero")
		}
		return nil
	}
	if !q.IsPositive() {
		return apperr.Validation("quantity must be greater than 0")
	}
	return nil
}

// ApplyMovement runs ApplyMovementTx in its own transaction.
func (e *Engine) ApplyMovement(ctx context.Context, in MovementInput) (*models.StockMovement, error) {
	var mv *models.StockMovement
	err := database.WithTx(ctx, e.db, func(tx *gorm.DB) error {
		var err error
		mv, err = e.ApplyMovementTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Changed(ctx)
	return mv, nil
}

// ApplyMovementTx locks the lot, applies the movement and appends the ledger
// row inside tx. Decreases may only consume quantity not held by
// reservations.
func (e *Engine) ApplyMovementTx(tx *gorm.DB, in MovementInput) (*models.StockMovement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	lot, err := LockLot(tx, in.LotID)
	if err != nil {
		return nil, err
	}
	if lot.Archived {
		return nil, apperr.Validation("lot %d is archived", lot.ID)
	}

	qty := Round(in.Quantity)
	delta := qty
	if in.Type == models.MovementOut || in.Type == models.MovementLoss {
		delta = qty.Neg()
	}
	next := Round(lot.Quantity.Add(delta))

	if delta.IsNegative() {
		reserved, err := ReservedTotal(tx, lot.ID)
		if err != nil {
			return nil, err
		}
		if next.LessThan(reserved) {
			return nil, apperr.InsufficientStock(
				"lot %d has %s available (%s reserved), cannot remove %s",
				lot.ID, lot.Quantity.Sub(reserved).String(), reserved.String(), delta.Abs().String())
		}
	}

	updates := map[string]any{"quantity": next}
	if next.IsZero() && e.policy.AutoArchiveOnEmpty {
		updates["archived"] = true
	}
	if err := tx.Model(&models.Lot{}).Where("id = ?", lot.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update lot %d: %w", lot.ID, err)
	}

	mv := models.StockMovement{
		LotID:    lot.ID,
		Type:     in.Type,
		Reason:   reasonPtr(in.Reason),
		Quantity: qty,
		MovedAt:  e.Now(),
	}
	if err := tx.Create(&mv).Error; err != nil {
		return nil, fmt.Errorf("insert movement: %w", err)
	}
	return &mv, nil
}

type LotInput struct {
	ProductID   uint
	BatchNumber string
	Quantity    decimal.Decimal
	ExpiryDate  time.Time
}

// ReceiveLot creates a lot and books its initial quantity as one IN movement.
func (e *Engine) ReceiveLot(ctx context.Context, in LotInput) (*models.Lot, error) {
	var lot *models.Lot
	err := database.WithTx(ctx, e.db, func(tx *gorm.DB) error {
		var err error
		lot, err = e.ReceiveLotTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Changed(ctx)
	return lot, nil
}

func (e *Engine) ReceiveLotTx(tx *gorm.DB, in LotInput) (*models.Lot, error) {
	if in.ProductID == 0 {
		return nil, apperr.Validation("product_id is required")
	}
	if !Round(in.Quantity).IsPositive() {
		return nil, apperr.Validation("quantity must be greater than 0")
	}
	if in.ExpiryDate.IsZero() {
		return nil, apperr.Validation("expiry_date is required")
	}

	var product models.Product
	if err := tx.First(&product, in.ProductID).Error; err != nil {
		return nil, database.NotFound(err, "product %d not found", in.ProductID)
	}
	if !product.Active {
		return nil, apperr.Validation("product %q is inactive", product.Name)
	}

	batch := strings.TrimSpace(in.BatchNumber)
	if batch == "" {
		batch = "LOT-" + strings.ToUpper(uuid.NewString()[:8])
	}

	lot := models.Lot{
		ProductID:   product.ID,
		BatchNumber: batch,
		Quantity:    decimal.Zero,
		ExpiryDate:  DayStart(in.ExpiryDate),
	}
	if err := tx.Create(&lot).Error; err != nil {
		return nil, fmt.Errorf("insert lot: %w", err)
	}

	if _, err := e.ApplyMovementTx(tx, MovementInput{
		LotID:    lot.ID,
		Type:     models.MovementIn,
		Quantity: in.Quantity,
	}); err != nil {
		return nil, err
	}
	lot.Quantity = Round(in.Quantity)
	return &lot, nil
}

// CountLot records a physical count as an ADJUSTMENT of the difference. It
// returns nil when the count matches the book quantity.
func (e *Engine) CountLot(ctx context.Context, lotID uint, counted decimal.Decimal, note string) (*models.StockMovement, error) {
	counted = Round(counted)
	if counted.IsNegative() {
		return nil, apperr.Validation("counted quantity cannot be negative")
	}

	var mv *models.StockMovement
	err := database.WithTx(ctx, e.db, func(tx *gorm.DB) error {
		lot, err := LockLot(tx, lotID)
		if err != nil {
			return err
		}
		delta := counted.Sub(lot.Quantity)
		if delta.IsZero() {
			return nil
		}
		mv, err = e.ApplyMovementTx(tx, MovementInput{
			LotID:    lot.ID,
			Type:     models.MovementAdjustment,
			Quantity: delta,
			Reason:   note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if mv != nil {
		e.Changed(ctx)
	}
	return mv, nil
}

// CloseLot archives a lot by hand. Remaining quantity is written off as a
// LOSS with reason CLOSED. Lots holding reservations cannot be closed.
func (e *Engine) CloseLot(ctx context.Context, lotID uint) (*models.Lot, error) {
	var lot *models.Lot
	err := database.WithTx(ctx, e.db, func(tx *gorm.DB) error {
		var err error
		lot, err = LockLot(tx, lotID)
		if err != nil {
			return err
		}
		if lot.Archived {
			return apperr.Conflict("lot %d is already archived", lot.ID)
		}
		reserved, err := ReservedTotal(tx, lot.ID)
		if err != nil {
			return err
		}
		if reserved.IsPositive() {
			return apperr.Conflict("lot %d has %s reserved", lot.ID, reserved.String())
		}
		if lot.Quantity.IsPositive() {
			if _, err := e.ApplyMovementTx(tx, MovementInput{
				LotID:    lot.ID,
				Type:     models.MovementLoss,
				Quantity: lot.Quantity,
				Reason:   models.ReasonClosed,
			}); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Lot{}).Where("id = ?", lot.ID).
			Updates(map[string]any{"archived": true, "quantity": decimal.Zero}).Error; err != nil {
			return fmt.Errorf("archive lot %d: %w", lot.ID, err)
		}
		lot.Archived = true
		lot.Quantity = decimal.Zero
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Changed(ctx)
	return lot, nil
}

// LockLot reads a lot with a row lock held until tx ends.
func LockLot(tx *gorm.DB, id uint) (*models.Lot, error) {
	var lot models.Lot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lot, id).Error
	if err != nil {
		return nil, database.NotFound(err, "lot %d not found", id)
	}
	return &lot, nil
}

// ReservedByLot sums active reservations per lot.
func ReservedByLot(tx *gorm.DB, lotIDs []uint) (map[uint]decimal.Decimal, error) {
	out := make(map[uint]decimal.Decimal, len(lotIDs))
	if len(lotIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		LotID    uint
		Reserved decimal.Decimal
	}
	err := tx.Model(&models.Reservation{}).
		Select("lot_id, SUM(reserved_qty) AS reserved").
		Where("lot_id IN ?", lotIDs).
		Group("lot_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum reservations: %w", err)
	}
	for _, r := range rows {
		out[r.LotID] = Round(r.Reserved)
	}
	return out, nil
}

func ReservedTotal(tx *gorm.DB, lotID uint) (decimal.Decimal, error) {
	m, err := ReservedByLot(tx, []uint{lotID})
	if err != nil {
		return decimal.Zero, err
	}
	return m[lotID], nil
}

func reasonPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
