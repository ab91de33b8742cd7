package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/oussamajomaa/mont-vert/internal/database/dbtest"
	"github.com/oussamajomaa/mont-vert/internal/logging"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var today = dbtest.Day(2026, 10, 17)

type fixture struct {
	db    *gorm.DB
	stock *stock.Engine
	res   *Engine
	item  models.MealPlanItem
	prod  models.Product
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	st := stock.NewEngine(db, stock.Policy{AutoArchiveOnEmpty: true}, logging.Discard())
	st.SetClock(func() time.Time { return today.Add(9 * time.Hour) })

	p := dbtest.Product(t, db, "Tomatoes", "2.5", "0")
	r := dbtest.Recipe(t, db, "Soup", "0", map[uint]string{p.ID: "0.2"})
	_, item := dbtest.PlanItem(t, db, r.ID, 20, models.PlanConfirmed)

	return fixture{db: db, stock: st, res: NewEngine(st, logging.Discard()), item: item, prod: p}
}

func holdsOf(t *testing.T, db *gorm.DB, itemID uint) []models.Reservation {
	t.Helper()
	var rs []models.Reservation
	require.NoError(t, db.Where("meal_plan_item_id = ?", itemID).Order("lot_id").Find(&rs).Error)
	return rs
}

func TestReserveSingleLotLeavesRemainderAvailable(t *testing.T) {
	f := setup(t)
	lot := dbtest.Lot(t, f.db, f.prod.ID, "10", today.AddDate(0, 0, 3))

	rs, err := f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("4"))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, lot.ID, rs[0].LotID)
	assert.True(t, rs[0].ReservedQty.Equal(dbtest.Dec("4")))

	avail, err := f.res.Availability(context.Background(), f.prod.ID)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.True(t, avail[0].Available.Equal(dbtest.Dec("6")), avail[0].Available.String())
}

func TestReserveFirstExpiredFirst(t *testing.T) {
	f := setup(t)
	later := dbtest.Lot(t, f.db, f.prod.ID, "10", today.AddDate(0, 0, 8))
	sooner := dbtest.Lot(t, f.db, f.prod.ID, "5", today.AddDate(0, 0, 2))
	dbtest.Lot(t, f.db, f.prod.ID, "100", today.AddDate(0, 0, -1)) // expired, never used

	_, err := f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("4"))
	require.NoError(t, err)
	holds := holdsOf(t, f.db, f.item.ID)
	require.Len(t, holds, 1)
	assert.Equal(t, sooner.ID, holds[0].LotID)

	// Next request drains the sooner lot before touching the later one.
	_, err = f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("3"))
	require.NoError(t, err)

	byLot := map[uint]string{}
	for _, h := range holdsOf(t, f.db, f.item.ID) {
		byLot[h.LotID] = h.ReservedQty.String()
	}
	assert.Equal(t, map[uint]string{sooner.ID: "5", later.ID: "2"}, byLot)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	f := setup(t)
	dbtest.Lot(t, f.db, f.prod.ID, "3", today.AddDate(0, 0, 2))
	dbtest.Lot(t, f.db, f.prod.ID, "3", today.AddDate(0, 0, 5))

	_, err := f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("6.5"))
	assert.True(t, apperr.Is(err, apperr.KindInsufficientAvailableStock), "%v", err)
	assert.Empty(t, holdsOf(t, f.db, f.item.ID))

	_, err = f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("0"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestReserveSkipsArchivedAndHeldQuantity(t *testing.T) {
	f := setup(t)
	archived := dbtest.Lot(t, f.db, f.prod.ID, "50", today.AddDate(0, 0, 1))
	require.NoError(t, f.db.Model(&archived).Update("archived", true).Error)
	lot := dbtest.Lot(t, f.db, f.prod.ID, "5", today.AddDate(0, 0, 4))

	r := dbtest.Recipe(t, f.db, "Salad", "0", map[uint]string{f.prod.ID: "0.1"})
	_, other := dbtest.PlanItem(t, f.db, r.ID, 10, models.PlanConfirmed)
	dbtest.Reservation(t, f.db, lot.ID, other.ID, "4")

	_, err := f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("2"))
	assert.True(t, apperr.Is(err, apperr.KindInsufficientAvailableStock), "%v", err)

	_, err = f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("1"))
	require.NoError(t, err)
	require.NoError(t, CheckLots(f.db, []uint{lot.ID}))
}

func TestReleaseForItem(t *testing.T) {
	f := setup(t)
	dbtest.Lot(t, f.db, f.prod.ID, "2", today.AddDate(0, 0, 2))
	dbtest.Lot(t, f.db, f.prod.ID, "2", today.AddDate(0, 0, 3))

	_, err := f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("3"))
	require.NoError(t, err)

	n, err := f.res.ReleaseForItem(f.db, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, holdsOf(t, f.db, f.item.ID))
}

func TestFulfillTurnsHoldsIntoOutMovements(t *testing.T) {
	f := setup(t)
	a := dbtest.Lot(t, f.db, f.prod.ID, "3", today.AddDate(0, 0, 2))
	b := dbtest.Lot(t, f.db, f.prod.ID, "5", today.AddDate(0, 0, 6))

	_, err := f.res.ReserveForItem(f.db, f.item.ID, f.prod.ID, dbtest.Dec("4"))
	require.NoError(t, err)

	mvs, err := f.res.FulfillForItem(f.db, f.item.ID, 18)
	require.NoError(t, err)
	require.Len(t, mvs, 2)
	assert.Equal(t, a.ID, mvs[0].LotID)
	assert.True(t, mvs[0].Quantity.Equal(dbtest.Dec("3")))
	assert.Equal(t, b.ID, mvs[1].LotID)
	assert.True(t, mvs[1].Quantity.Equal(dbtest.Dec("1")))
	for _, mv := range mvs {
		assert.Equal(t, models.MovementOut, mv.Type)
		require.NotNil(t, mv.Reason)
		assert.Equal(t, models.ReasonProduction, *mv.Reason)
	}

	assert.Empty(t, holdsOf(t, f.db, f.item.ID))

	var la, lb models.Lot
	require.NoError(t, f.db.First(&la, a.ID).Error)
	require.NoError(t, f.db.First(&lb, b.ID).Error)
	assert.True(t, la.Quantity.IsZero())
	assert.True(t, la.Archived)
	assert.True(t, lb.Quantity.Equal(dbtest.Dec("4")))

	var item models.MealPlanItem
	require.NoError(t, f.db.First(&item, f.item.ID).Error)
	require.NotNil(t, item.ProducedPortions)
	assert.Equal(t, 18, *item.ProducedPortions)
}

func TestFulfillWithoutHoldsStillRecordsPortions(t *testing.T) {
	f := setup(t)

	mvs, err := f.res.FulfillForItem(f.db, f.item.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, mvs)

	_, err = f.res.FulfillForItem(f.db, 9999, 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.res.FulfillForItem(f.db, f.item.ID, -1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCheckLotsFlagsOverReservation(t *testing.T) {
	f := setup(t)
	lot := dbtest.Lot(t, f.db, f.prod.ID, "1", today.AddDate(0, 0, 2))
	dbtest.Reservation(t, f.db, lot.ID, f.item.ID, "2")

	err := CheckLots(f.db, []uint{lot.ID})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "%v", err)
}
