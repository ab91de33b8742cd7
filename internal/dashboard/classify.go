package dashboard

import (
	"sort"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/models"
	"github.com/oussamajomaa/mont-vert/internal/stock"
	"github.com/shopspring/decimal"
)

// Bucket is a movement type as reported: LOSS is split by reason.
type Bucket string

const (
	BucketIn         Bucket = "IN"
	BucketOut        Bucket = "OUT"
	BucketAdjustment Bucket = "ADJUSTMENT"
	BucketLoss       Bucket = "LOSS"
	BucketExpired    Bucket = "EXPIRED"
)

var bucketOrder = map[Bucket]int{
	BucketIn: 0, BucketOut: 1, BucketAdjustment: 2, BucketLoss: 3, BucketExpired: 4,
}

// Classify is the single place where movements are bucketed. Both the daily
// series and the window totals go through it.
func Classify(t models.MovementType, reason *string) Bucket {
	if t == models.MovementLoss {
		if reason != nil && *reason == models.ReasonExpired {
			return BucketExpired
		}
		return BucketLoss
	}
	return Bucket(t)
}

type Totals struct {
	In         decimal.Decimal `json:"IN"`
	Out        decimal.Decimal `json:"OUT"`
	Adjustment decimal.Decimal `json:"ADJUSTMENT"`
	Loss       decimal.Decimal `json:"LOSS"`
	Expired    decimal.Decimal `json:"EXPIRED"`
}

func (t *Totals) add(b Bucket, q decimal.Decimal) {
	switch b {
	case BucketIn:
		t.In = t.In.Add(q)
	case BucketOut:
		t.Out = t.Out.Add(q)
	case BucketAdjustment:
		t.Adjustment = t.Adjustment.Add(q)
	case BucketLoss:
		t.Loss = t.Loss.Add(q)
	case BucketExpired:
		t.Expired = t.Expired.Add(q)
	}
}

func (t Totals) Get(b Bucket) decimal.Decimal {
	switch b {
	case BucketIn:
		return t.In
	case BucketOut:
		return t.Out
	case BucketAdjustment:
		return t.Adjustment
	case BucketLoss:
		return t.Loss
	case BucketExpired:
		return t.Expired
	}
	return decimal.Zero
}

type SeriesPoint struct {
	D   string          `json:"d"`
	T   Bucket          `json:"t"`
	Qty decimal.Decimal `json:"qty"`
}

// Movement is the slice of a ledger row the aggregation needs.
type Movement struct {
	MovedAt  time.Time
	Type     models.MovementType
	Reason   *string
	Quantity decimal.Decimal
}

// Aggregate folds movements into the per-day series and the window totals.
// The series is ordered by day, then IN, OUT, ADJUSTMENT, LOSS, EXPIRED.
func Aggregate(movements []Movement) ([]SeriesPoint, Totals) {
	type key struct {
		day string
		b   Bucket
	}
	sums := make(map[key]decimal.Decimal)
	var totals Totals
	for _, m := range movements {
		b := Classify(m.Type, m.Reason)
		k := key{day: m.MovedAt.UTC().Format("2006-01-02"), b: b}
		sums[k] = sums[k].Add(m.Quantity)
		totals.add(b, m.Quantity)
	}

	series := make([]SeriesPoint, 0, len(sums))
	for k, q := range sums {
		series = append(series, SeriesPoint{D: k.day, T: k.b, Qty: stock.Round(q)})
	}
	sort.Slice(series, func(i, j int) bool {
		if series[i].D != series[j].D {
			return series[i].D < series[j].D
		}
		return bucketOrder[series[i].T] < bucketOrder[series[j].T]
	})

	totals = Totals{
		In:         stock.Round(totals.In),
		Out:        stock.Round(totals.Out),
		Adjustment: stock.Round(totals.Adjustment),
		Loss:       stock.Round(totals.Loss),
		Expired:    stock.Round(totals.Expired),
	}
	return series, totals
}

// LossRate is (LOSS+EXPIRED)/(OUT+LOSS+EXPIRED), 0 when nothing left stock.
func LossRate(t Totals) decimal.Decimal {
	lost := t.Loss.Add(t.Expired)
	return ratio(lost, t.Out.Add(lost))
}

// ExpiredShare is EXPIRED/(LOSS+EXPIRED), 0 without losses.
func ExpiredShare(t Totals) decimal.Decimal {
	return ratio(t.Expired, t.Loss.Add(t.Expired))
}

func ratio(num, den decimal.Decimal) decimal.Decimal {
	if !den.IsPositive() {
		return decimal.Zero
	}
	return num.DivRound(den, stock.Scale)
}
