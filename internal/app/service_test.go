package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
)

func TestGetSnapshot_MissingRowMapsToErrNoData(t *testing.T) {
	service := NewService(newStubRepo())

	_, err := service.GetSnapshot(context.Background(), "acc-1", utcDay(2025, 6, 10))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestGetTrend_MissingPreviousDayFallsBackToZeroBaseline(t *testing.T) {
	repo := newStubRepo()
	repo.addSnapshot(domain.DailyStats{
		AccountID: "acc-1", Date: utcDay(2025, 6, 10), TotalCalls: 5,
	})
	service := NewService(repo)

	trend, err := service.GetTrend(context.Background(), "acc-1", utcDay(2025, 6, 10))
	if err != nil {
		t.Fatalf("trend failed: %v", err)
	}

	if trend.Calls.Current != 5 || trend.Calls.Previous != 0 {
		t.Fatalf("unexpected calls delta %+v", trend.Calls)
	}
}

func TestGetTrend_MissingCurrentDayIsErrNoData(t *testing.T) {
	service := NewService(newStubRepo())

	_, err := service.GetTrend(context.Background(), "acc-1", utcDay(2025, 6, 10))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestGetHistory_WindowExcludesAsOfDay(t *testing.T) {
	asOf := utcDay(2025, 6, 11)
	repo := newStubRepo()
	// Today's partial figures must not leak into the trailing window.
	repo.addSnapshot(domain.DailyStats{AccountID: "acc-1", Date: asOf, TotalCalls: 99})
	for i := 1; i <= 3; i++ {
		repo.addSnapshot(domain.DailyStats{
			AccountID: "acc-1", Date: asOf.AddDate(0, 0, -i), TotalCalls: 10,
		})
	}
	service := NewService(repo)

	summary, err := service.GetHistory(context.Background(), "acc-1", 7, asOf)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}

	if summary.DaysWithData != 3 {
		t.Fatalf("expected 3 populated days, got %d", summary.DaysWithData)
	}
	if summary.AvgCalls != 10 {
		t.Fatalf("expected avg calls 10, got %v", summary.AvgCalls)
	}
}

func TestGetHistory_RejectsNonPositiveWindow(t *testing.T) {
	service := NewService(newStubRepo())

	if _, err := service.GetHistory(context.Background(), "acc-1", 0, time.Now()); err == nil {
		t.Fatal("expected error for zero-day window")
	}
}
