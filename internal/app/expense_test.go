package app

import (
	"testing"
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
)

func TestObserve_FirstObservationOnlySetsBaseline(t *testing.T) {
	acc := &domain.Account{ID: "acc-1"}
	observedAt := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

	NewExpenseAccumulator(testLogger()).Observe(acc, 1000, observedAt)

	if acc.DailyExpense != 0 || acc.WeeklyExpense != 0 {
		t.Fatalf("baseline observation must not record expense, got daily=%v weekly=%v",
			acc.DailyExpense, acc.WeeklyExpense)
	}
	if acc.LastBalance != 1000 {
		t.Fatalf("expected baseline 1000, got %v", acc.LastBalance)
	}
	if acc.LastBalanceCheckAt == nil || !acc.LastBalanceCheckAt.Equal(observedAt) {
		t.Fatalf("expected check time %v, got %v", observedAt, acc.LastBalanceCheckAt)
	}
}

func TestObserve_DecreaseAccumulatesBothCounters(t *testing.T) {
	observedAt := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	acc := &domain.Account{
		ID:                 "acc-1",
		LastBalance:        1000,
		LastBalanceCheckAt: &observedAt,
		WeeklyExpense:      40,
	}

	next := observedAt.Add(time.Minute)
	NewExpenseAccumulator(testLogger()).Observe(acc, 850, next)

	if acc.DailyExpense != 150 {
		t.Fatalf("expected daily expense 150, got %v", acc.DailyExpense)
	}
	if acc.WeeklyExpense != 190 {
		t.Fatalf("expected weekly expense 190, got %v", acc.WeeklyExpense)
	}
	if acc.LastBalance != 850 {
		t.Fatalf("expected last balance 850, got %v", acc.LastBalance)
	}
}

func TestObserve_DepositRecordsNoExpense(t *testing.T) {
	observedAt := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	acc := &domain.Account{
		ID:                 "acc-1",
		LastBalance:        500,
		LastBalanceCheckAt: &observedAt,
		DailyExpense:       75,
	}

	NewExpenseAccumulator(testLogger()).Observe(acc, 2500, observedAt.Add(time.Minute))

	if acc.DailyExpense != 75 {
		t.Fatalf("deposit must not change daily expense, got %v", acc.DailyExpense)
	}
	if acc.LastBalance != 2500 {
		t.Fatalf("baseline must follow the deposit, got %v", acc.LastBalance)
	}
}

func TestObserve_CountersAreMonotonicWithinTheDay(t *testing.T) {
	observedAt := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	acc := &domain.Account{
		ID:                 "acc-1",
		LastBalance:        1000,
		LastBalanceCheckAt: &observedAt,
	}

	accumulator := NewExpenseAccumulator(testLogger())
	balances := []float64{900, 900, 1200, 1100}
	for i, balance := range balances {
		accumulator.Observe(acc, balance, observedAt.Add(time.Duration(i+1)*time.Minute))
	}

	// 1000->900 spends 100, the deposit to 1200 records nothing, and
	// 1200->1100 spends another 100.
	if acc.DailyExpense != 200 {
		t.Fatalf("expected daily expense 200, got %v", acc.DailyExpense)
	}
}
