package stock

import (
	"context"
	"testing"

	"github.com/oussamajomaa/mont-vert/internal/database/dbtest"
	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireLotsWritesOffExpiredRemainder(t *testing.T) {
	e, db := newEngine(t, true)
	p := dbtest.Product(t, db, "Yogurt", "0.4", "0")
	expired := dbtest.Lot(t, db, p.ID, "5", today.AddDate(0, 0, -1))
	lastDay := dbtest.Lot(t, db, p.ID, "3", today)
	empty := dbtest.Lot(t, db, p.ID, "0", today.AddDate(0, 0, -3))

	res, err := e.ExpireLots(context.Background(), e.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, res.LotsProcessed)
	assert.Equal(t, 0, res.Skipped)
	assert.True(t, res.TotalLoss.Equal(dbtest.Dec("5")))
	assert.Equal(t, []uint{expired.ID}, res.LotIDs)

	stored := reloadLot(t, db, expired.ID)
	assert.True(t, stored.Quantity.IsZero())
	assert.True(t, stored.Archived)

	mvs := movementsOf(t, db, expired.ID)
	require.Len(t, mvs, 1)
	assert.Equal(t, models.MovementLoss, mvs[0].Type)
	require.NotNil(t, mvs[0].Reason)
	assert.Equal(t, models.ReasonExpired, *mvs[0].Reason)
	assert.True(t, mvs[0].Quantity.Equal(dbtest.Dec("5")))

	// Expiring today is still usable, and an empty lot has nothing to lose.
	assert.False(t, reloadLot(t, db, lastDay.ID).Archived)
	assert.Empty(t, movementsOf(t, db, empty.ID))
}

func TestExpireLotsIsIdempotent(t *testing.T) {
	e, db := newEngine(t, true)
	p := dbtest.Product(t, db, "Ham", "6", "0")
	l := dbtest.Lot(t, db, p.ID, "2.5", today.AddDate(0, 0, -2))

	calls := 0
	e.OnChange(func(context.Context) { calls++ })

	first, err := e.ExpireLots(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, first.LotsProcessed)

	second, err := e.ExpireLots(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 0, second.LotsProcessed)
	assert.True(t, second.TotalLoss.IsZero())

	assert.Len(t, movementsOf(t, db, l.ID), 1)
	assert.Equal(t, 1, calls)
}

func TestExpireLotsReleasesReservations(t *testing.T) {
	e, db := newEngine(t, true)
	p := dbtest.Product(t, db, "Fish", "15", "0")
	old := dbtest.Lot(t, db, p.ID, "4", today.AddDate(0, 0, -1))
	fresh := dbtest.Lot(t, db, p.ID, "4", today.AddDate(0, 0, 4))
	r := dbtest.Recipe(t, db, "Fish pie", "0", map[uint]string{p.ID: "0.2"})
	_, item := dbtest.PlanItem(t, db, r.ID, 20, models.PlanConfirmed)
	dbtest.Reservation(t, db, old.ID, item.ID, "2")
	dbtest.Reservation(t, db, fresh.ID, item.ID, "2")

	log, hook := test.NewNullLogger()
	e.log = log

	res, err := e.ExpireLots(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ReleasedReservations)
	assert.Equal(t, map[uint][]uint{old.ID: {item.ID}}, res.ReleasedItems)

	var warned *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = entry
		}
	}
	require.NotNil(t, warned, "released holds must be logged")
	assert.Equal(t, old.ID, warned.Data["lot_id"])
	assert.Equal(t, []uint{item.ID}, warned.Data["meal_plan_item_ids"])

	var left []models.Reservation
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, fresh.ID, left[0].LotID)
}

func TestSummaryClampsPerLot(t *testing.T) {
	e, db := newEngine(t, true)
	flour := dbtest.Product(t, db, "Flour", "1", "8")
	salt := dbtest.Product(t, db, "Salt", "1", "0")

	a := dbtest.Lot(t, db, flour.ID, "3", today.AddDate(0, 0, 2))
	b := dbtest.Lot(t, db, flour.ID, "6", today.AddDate(0, 0, 9))
	dbtest.Lot(t, db, flour.ID, "50", today.AddDate(0, 0, -1))

	r := dbtest.Recipe(t, db, "Bread", "0", map[uint]string{flour.ID: "1"})
	_, item := dbtest.PlanItem(t, db, r.ID, 5, models.PlanConfirmed)
	// Over-reserved lot a must not eat into lot b.
	dbtest.Reservation(t, db, a.ID, item.ID, "4")
	dbtest.Reservation(t, db, b.ID, item.ID, "1")

	rows, err := e.Summary(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Flour", rows[0].Name)
	assert.True(t, rows[0].Quantity.Equal(dbtest.Dec("9")), rows[0].Quantity.String())
	assert.True(t, rows[0].Reserved.Equal(dbtest.Dec("5")))
	assert.True(t, rows[0].Available.Equal(dbtest.Dec("5")), rows[0].Available.String())
	assert.Equal(t, 2, rows[0].Lots)
	assert.True(t, rows[0].BelowThreshold)

	assert.Equal(t, salt.ID, rows[1].ProductID)
	assert.True(t, rows[1].Available.IsZero())
	assert.False(t, rows[1].BelowThreshold)
}
