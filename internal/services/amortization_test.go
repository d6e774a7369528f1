package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepaidly/prepaidly/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amounts(periods []Period) []string {
	out := make([]string, len(periods))
	for i, p := range periods {
		out[i] = p.Amount.StringFixed(2)
	}
	return out
}

func sum(periods []Period) decimal.Decimal {
	total := decimal.Zero
	for _, p := range periods {
		total = total.Add(p.Amount)
	}
	return total
}

func TestGenerateMonthlyEvenSplit(t *testing.T) {
	periods, err := GenerateMonthly(date(2025, 1, 1), date(2025, 3, 31), decimal.RequireFromString("3000.00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1000.00", "1000.00", "1000.00"}, amounts(periods))
	assert.Equal(t, date(2025, 1, 1), periods[0].Date)
	assert.Equal(t, date(2025, 2, 1), periods[1].Date)
	assert.Equal(t, date(2025, 3, 1), periods[2].Date)
}

func TestGenerateMonthlyLastEntryAbsorbsRemainder(t *testing.T) {
	periods, err := GenerateMonthly(date(2025, 1, 1), date(2025, 3, 31), decimal.RequireFromString("1000.00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"333.33", "333.33", "333.34"}, amounts(periods))
}

func TestGenerateMonthlyHalfUp(t *testing.T) {
	// 100.05 / 2 = 50.025
	periods, err := GenerateMonthly(date(2025, 1, 1), date(2025, 2, 28), decimal.RequireFromString("100.05"))
	require.NoError(t, err)

	assert.Equal(t, []string{"50.03", "50.02"}, amounts(periods))
}

func TestGenerateMonthlyPartialMonths(t *testing.T) {
	// Mid-month start still counts each touched calendar month.
	periods, err := GenerateMonthly(date(2025, 1, 15), date(2025, 4, 14), decimal.RequireFromString("1200.00"))
	require.NoError(t, err)

	require.Len(t, periods, 4)
	assert.Equal(t, date(2025, 1, 1), periods[0].Date)
	assert.Equal(t, date(2025, 4, 1), periods[3].Date)
}

func TestGenerateSumsToTotal(t *testing.T) {
	totals := []string{"0.07", "1.00", "999.99", "1000.00", "1234.56", "100000.01"}
	ranges := [][2]time.Time{
		{date(2025, 1, 1), date(2025, 1, 31)},
		{date(2025, 1, 31), date(2025, 2, 27)},
		{date(2024, 2, 29), date(2024, 3, 28)},
		{date(2025, 3, 10), date(2026, 3, 9)},
		{date(2024, 7, 1), date(2027, 6, 30)},
	}

	for _, method := range []models.AmortizationMethod{models.AmortizationMonthly, models.AmortizationProRata} {
		for _, r := range ranges {
			for _, raw := range totals {
				total := decimal.RequireFromString(raw)
				name := fmt.Sprintf("%s/%s..%s/%s", method, r[0].Format("2006-01-02"), r[1].Format("2006-01-02"), raw)
				t.Run(name, func(t *testing.T) {
					periods, err := Generate(method, r[0], r[1], total)
					require.NoError(t, err)
					require.NotEmpty(t, periods)

					assert.True(t, total.Equal(sum(periods)), "sum %s != total %s", sum(periods), total)

					last := periods[len(periods)-1].Amount
					assert.True(t, total.Sub(sum(periods[:len(periods)-1])).Equal(last))

					for _, p := range periods {
						assert.True(t, p.Amount.Equal(p.Amount.Round(2)))
					}
				})
			}
		}
	}
}

func TestGenerateProRata(t *testing.T) {
	periods, err := GenerateProRata(date(2025, 1, 15), date(2025, 2, 14), decimal.RequireFromString("310.00"))
	require.NoError(t, err)

	require.Len(t, periods, 2)
	assert.Equal(t, []string{"170.00", "140.00"}, amounts(periods))
	assert.Equal(t, date(2025, 1, 31), periods[0].Date)
	assert.Equal(t, date(2025, 2, 14), periods[1].Date)
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		total string
	}{
		{"start after end", date(2025, 3, 1), date(2025, 1, 1), "100.00"},
		{"shorter than a month", date(2025, 1, 1), date(2025, 1, 30), "100.00"},
		{"shorter than a month from month end", date(2025, 1, 31), date(2025, 2, 26), "100.00"},
		{"zero total", date(2025, 1, 1), date(2025, 3, 31), "0"},
		{"negative total", date(2025, 1, 1), date(2025, 3, 31), "-5.00"},
		{"sub-cent total", date(2025, 1, 1), date(2025, 3, 31), "10.001"},
		{"missing start", time.Time{}, date(2025, 3, 31), "10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, method := range []models.AmortizationMethod{models.AmortizationMonthly, models.AmortizationProRata} {
				_, err := Generate(method, tt.start, tt.end, decimal.RequireFromString(tt.total))
				require.Error(t, err)
				assert.True(t, IsValidation(err))
			}
		})
	}
}

func TestGenerateUnknownMethod(t *testing.T) {
	_, err := Generate("WEEKLY", date(2025, 1, 1), date(2025, 3, 31), decimal.RequireFromString("10.00"))
	assert.True(t, IsValidation(err))
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	assert.Equal(t, date(2025, 2, 28), addMonths(date(2025, 1, 31), 1))
	assert.Equal(t, date(2024, 2, 29), addMonths(date(2024, 1, 31), 1))
	assert.Equal(t, date(2025, 2, 15), addMonths(date(2025, 1, 15), 1))
}
