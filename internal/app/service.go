/**
 * @description
 * Read surface of the engine for report consumers: per-day snapshots,
 * day-over-day trends, and multi-day history summaries.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
	"github.com/sellerpulse/stats-service/internal/store"
)

// ErrNoData is returned when the requested period has no snapshot to report
// on. Consumers render it as "no data available", never as a raw failure.
var ErrNoData = errors.New("no data available")

// Service exposes the engine's read operations.
type Service struct {
	repo Repository
}

// NewService creates the read service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetSnapshot returns the stored snapshot for one (account, date) pair.
func (s *Service) GetSnapshot(ctx context.Context, accountID string, date time.Time) (*domain.DailyStats, error) {
	stats, err := s.repo.GetSnapshot(ctx, accountID, date)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotNotFound) {
			return nil, ErrNoData
		}
		return nil, err
	}
	return stats, nil
}

// GetTrend compares the snapshot for date against the preceding day.
// A missing preceding day yields a trend against zeroes; a missing date
// yields ErrNoData.
func (s *Service) GetTrend(ctx context.Context, accountID string, date time.Time) (*domain.TrendReport, error) {
	current, err := s.GetSnapshot(ctx, accountID, date)
	if err != nil {
		return nil, err
	}

	previous, err := s.repo.GetSnapshot(ctx, accountID, date.AddDate(0, 0, -1))
	if err != nil {
		if !errors.Is(err, store.ErrSnapshotNotFound) {
			return nil, err
		}
		previous = nil
	}

	trend := DailyTrend(current, previous)
	return &trend, nil
}

// GetHistory summarizes the trailing window of the given length, averaging
// over the days that actually have data.
func (s *Service) GetHistory(ctx context.Context, accountID string, days int, asOf time.Time) (*HistorySummary, error) {
	if days <= 0 {
		return nil, fmt.Errorf("history window must be positive, got %d", days)
	}

	to := asOf.AddDate(0, 0, -1)
	from := asOf.AddDate(0, 0, -days)
	rows, err := s.repo.GetSnapshotRange(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	summary := SummarizeHistory(accountID, days, rows)
	return &summary, nil
}
