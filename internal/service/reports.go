package service

import (
	"context"
	"errors"

	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/summary"

	"go.uber.org/zap"
)

var errNoRates = errors.New("exchange rates are not configured")

// IncomeReport is a bucketed income listing in the reporting currency
type IncomeReport struct {
	Currency string
	Buckets  []summary.Bucket
	Stale    bool
}

// DailyIncome buckets a project's incomes (0 = all) by day
func (s *SyncService) DailyIncome(ctx context.Context, projectID int64) (IncomeReport, error) {
	return s.incomeReport(ctx, projectID, summary.DailyIncome)
}

// WeeklyIncome buckets a project's incomes (0 = all) by ISO week
func (s *SyncService) WeeklyIncome(ctx context.Context, projectID int64) (IncomeReport, error) {
	return s.incomeReport(ctx, projectID, summary.WeeklyIncome)
}

type grouper func(context.Context, []models.Income, summary.Converter) []summary.Bucket

func (s *SyncService) incomeReport(ctx context.Context, projectID int64, group grouper) (IncomeReport, error) {
	if s.rates == nil {
		return IncomeReport{}, errNoRates
	}
	list, err := s.Incomes(ctx, projectID)
	if err != nil {
		return IncomeReport{}, err
	}

	conv := s.warmRates(ctx, list.Incomes)
	return IncomeReport{
		Currency: s.rates.ReportingCurrency(),
		Buckets:  group(ctx, list.Incomes, conv),
		Stale:    list.Stale,
	}, nil
}

// ProjectReport is the per-project rollup
type ProjectReport struct {
	Currency string
	Summary  summary.Project
	Stale    bool
}

func (s *SyncService) ProjectSummary(ctx context.Context, projectID int64) (ProjectReport, error) {
	if s.rates == nil {
		return ProjectReport{}, errNoRates
	}
	entries, err := s.TimeEntries(ctx, projectID)
	if err != nil {
		return ProjectReport{}, err
	}
	incomes, err := s.Incomes(ctx, projectID)
	if err != nil {
		return ProjectReport{}, err
	}

	conv := s.warmRates(ctx, incomes.Incomes)
	return ProjectReport{
		Currency: s.rates.ReportingCurrency(),
		Summary:  summary.ProjectSummary(ctx, projectID, entries.Entries, incomes.Incomes, conv, s.opts.Now()),
		Stale:    entries.Stale || incomes.Stale,
	}, nil
}

// warmRates fetches every needed rate up front so aggregation reads only
// the cache
func (s *SyncService) warmRates(ctx context.Context, incomes []models.Income) summary.Converter {
	codes := make([]string, 0, len(incomes))
	for _, inc := range incomes {
		codes = append(codes, inc.CurrencyCode())
	}
	if unresolved := s.rates.Prefetch(ctx, codes...); len(unresolved) > 0 {
		s.logger.Warn("Some incomes cannot be converted", zap.Strings("currencies", unresolved))
	}
	return summary.CachedConverter{Cache: s.rates}
}
