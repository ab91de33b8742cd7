package stock

import (
	"strings"
	"time"

	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept for every stored quantity.
const Scale = 3

// Round rounds half away from zero to Scale places. Applied before every
// write so repeated partial movements cannot drift.
func Round(q decimal.Decimal) decimal.Decimal {
	return q.Round(Scale)
}

// ParseQuantity parses a client supplied quantity ("12.5", "0,250").
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validation("invalid quantity %q", s)
	}
	return Round(q), nil
}

// DayStart truncates t to its UTC calendar day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("date must be YYYY-MM-DD, got %q", s)
	}
	return d, nil
}
