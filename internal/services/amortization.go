package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prepaidly/prepaidly/internal/models"
)

// Period is one generated journal entry before it is persisted
type Period struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Generate splits total across the periods between start and end using method
func Generate(method models.AmortizationMethod, start, end time.Time, total decimal.Decimal) ([]Period, error) {
	switch method {
	case models.AmortizationMonthly, "":
		return GenerateMonthly(start, end, total)
	case models.AmortizationProRata:
		return GenerateProRata(start, end, total)
	default:
		return nil, invalid("unknown amortization method %q", method)
	}
}

// GenerateMonthly emits one entry per calendar month touched by the range,
// dated the first of the month. Every entry gets total/months rounded half up
// to cents except the last, which receives the remainder.
func GenerateMonthly(start, end time.Time, total decimal.Decimal) ([]Period, error) {
	start, end = dateOf(start), dateOf(end)
	if err := validateRange(start, end, total); err != nil {
		return nil, err
	}

	first := firstOfMonth(start)
	months := monthsBetween(first, firstOfMonth(end)) + 1
	perMonth := total.DivRound(decimal.NewFromInt(int64(months)), 2)

	periods := make([]Period, months)
	allocated := decimal.Zero
	for i := 0; i < months; i++ {
		amount := perMonth
		if i == months-1 {
			amount = total.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		periods[i] = Period{Date: first.AddDate(0, i, 0), Amount: amount}
	}
	return periods, nil
}

// GenerateProRata apportions total by day count across calendar-month
// slices of the inclusive range. Each entry is dated the last day of its
// slice and the last entry receives the remainder.
func GenerateProRata(start, end time.Time, total decimal.Decimal) ([]Period, error) {
	start, end = dateOf(start), dateOf(end)
	if err := validateRange(start, end, total); err != nil {
		return nil, err
	}

	totalDays := decimal.NewFromInt(daysInclusive(start, end))

	var periods []Period
	allocated := decimal.Zero
	for sliceStart := start; !sliceStart.After(end); {
		sliceEnd := lastOfMonth(sliceStart)
		if sliceEnd.After(end) {
			sliceEnd = end
		}

		var amount decimal.Decimal
		if sliceEnd.Equal(end) {
			amount = total.Sub(allocated)
		} else {
			days := decimal.NewFromInt(daysInclusive(sliceStart, sliceEnd))
			amount = total.Mul(days).DivRound(totalDays, 2)
		}
		allocated = allocated.Add(amount)
		periods = append(periods, Period{Date: sliceEnd, Amount: amount})

		sliceStart = sliceEnd.AddDate(0, 0, 1)
	}
	return periods, nil
}

func validateRange(start, end time.Time, total decimal.Decimal) error {
	if start.IsZero() || end.IsZero() {
		return invalid("start date and end date are required")
	}
	if start.After(end) {
		return invalid("start date must be on or before end date")
	}
	if end.Before(addMonths(start, 1).AddDate(0, 0, -1)) {
		return invalid("schedule must span at least one calendar month")
	}
	if !total.IsPositive() {
		return invalid("total amount must be greater than zero")
	}
	if !total.Equal(total.Round(2)) {
		return invalid("total amount must have at most two decimal places")
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func lastOfMonth(t time.Time) time.Time {
	return firstOfMonth(t).AddDate(0, 1, -1)
}

// addMonths adds n months, clamping to the last day of the target month
func addMonths(t time.Time, n int) time.Time {
	target := firstOfMonth(t).AddDate(0, n, 0)
	if last := lastOfMonth(target); t.Day() > last.Day() {
		return last
	}
	return time.Date(target.Year(), target.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

func daysInclusive(from, to time.Time) int64 {
	return int64(to.Sub(from).Hours()/24) + 1
}
