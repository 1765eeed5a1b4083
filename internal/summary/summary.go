// Package summary aggregates incomes and tracked time for reporting. Amounts
// are normalized to the reporting currency; an income whose rate is unknown
// is left out of the total and reported as unresolved, never counted as 0.
package summary

import (
	"context"
	"sort"
	"time"

	"autotrac/sync-client/internal/fx"
	"autotrac/sync-client/internal/models"

	"github.com/shopspring/decimal"
)

// Converter normalizes an amount into the reporting currency (fx.RateCache)
type Converter interface {
	Convert(ctx context.Context, amount float64, currency string) fx.Conversion
}

// CachedConverter adapts a RateCache so that aggregation never blocks on the
// network
type CachedConverter struct {
	Cache *fx.RateCache
}

func (c CachedConverter) Convert(_ context.Context, amount float64, currency string) fx.Conversion {
	return c.Cache.ConvertCached(amount, currency)
}

// Bucket is the income of one day or one week
type Bucket struct {
	Start time.Time
	Total float64
	// Resolved counts the incomes included in Total
	Resolved int
	// Unresolved lists currencies whose conversion is unknown, sorted
	Unresolved []string
}

// Display renders Total, or the placeholder when nothing in the bucket could
// be converted
func (b Bucket) Display() string {
	if b.Resolved == 0 && len(b.Unresolved) > 0 {
		return fx.Placeholder
	}
	return FormatMoney(b.Total)
}

// FormatMoney renders an amount with two fraction digits
func FormatMoney(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// DailyIncome groups incomes by UTC calendar day, oldest first
func DailyIncome(ctx context.Context, incomes []models.Income, conv Converter) []Bucket {
	return groupIncome(ctx, incomes, conv, dayStart)
}

// WeeklyIncome groups incomes by ISO week (weeks start on Monday), oldest first
func WeeklyIncome(ctx context.Context, incomes []models.Income, conv Converter) []Bucket {
	return groupIncome(ctx, incomes, conv, weekStart)
}

type accumulator struct {
	total      decimal.Decimal
	resolved   int
	unresolved map[string]bool
}

func groupIncome(ctx context.Context, incomes []models.Income, conv Converter, key func(time.Time) time.Time) []Bucket {
	acc := make(map[time.Time]*accumulator)
	for _, inc := range incomes {
		k := key(inc.Date)
		a, ok := acc[k]
		if !ok {
			a = &accumulator{unresolved: map[string]bool{}}
			acc[k] = a
		}

		c := conv.Convert(ctx, inc.Amount, inc.CurrencyCode())
		if !c.Known {
			a.unresolved[models.NormalizeCurrency(inc.CurrencyCode())] = true
			continue
		}
		a.total = a.total.Add(decimal.NewFromFloat(c.Amount))
		a.resolved++
	}

	buckets := make([]Bucket, 0, len(acc))
	for start, a := range acc {
		b := Bucket{Start: start, Total: a.total.InexactFloat64(), Resolved: a.resolved}
		for code := range a.unresolved {
			b.Unresolved = append(b.Unresolved, code)
		}
		sort.Strings(b.Unresolved)
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// DayMinutes is the time tracked on one UTC day
type DayMinutes struct {
	Day     time.Time
	Minutes float64
}

// DailyMinutes sums tracked minutes per day of the entry start, oldest
// first. Running entries count up to now.
func DailyMinutes(entries []models.TimeEntry, now time.Time) []DayMinutes {
	byDay := make(map[time.Time]time.Duration)
	for _, e := range entries {
		byDay[dayStart(e.StartTime)] += e.Duration(now)
	}

	out := make([]DayMinutes, 0, len(byDay))
	for day, d := range byDay {
		out = append(out, DayMinutes{Day: day, Minutes: d.Minutes()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// Project is the per-project rollup
type Project struct {
	ProjectID    int64
	TotalMinutes float64
	TotalIncome  float64
	Unresolved   []string
	// EffectiveHourlyRate is nil when no time has been tracked
	EffectiveHourlyRate *float64
}

// ProjectSummary totals time and income for one project. Entries and
// incomes of other projects are ignored.
func ProjectSummary(ctx context.Context, projectID int64, entries []models.TimeEntry, incomes []models.Income, conv Converter, now time.Time) Project {
	out := Project{ProjectID: projectID}

	var tracked time.Duration
	for _, e := range entries {
		if e.ProjectID == projectID {
			tracked += e.Duration(now)
		}
	}
	out.TotalMinutes = tracked.Minutes()

	var own []models.Income
	for _, inc := range incomes {
		if inc.ProjectID == projectID {
			own = append(own, inc)
		}
	}

	total := decimal.Zero
	unresolved := map[string]bool{}
	for _, inc := range own {
		c := conv.Convert(ctx, inc.Amount, inc.CurrencyCode())
		if !c.Known {
			unresolved[models.NormalizeCurrency(inc.CurrencyCode())] = true
			continue
		}
		total = total.Add(decimal.NewFromFloat(c.Amount))
	}
	out.TotalIncome = total.InexactFloat64()
	for code := range unresolved {
		out.Unresolved = append(out.Unresolved, code)
	}
	sort.Strings(out.Unresolved)

	if tracked > 0 {
		hours := decimal.NewFromFloat(tracked.Hours())
		rate := total.Div(hours).Round(2).InexactFloat64()
		out.EffectiveHourlyRate = &rate
	}
	return out
}
