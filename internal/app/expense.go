/**
 * @description
 * Balance-delta expense inference. The marketplace exposes no reliable
 * expense endpoint, so spend is derived from decreases in the combined
 * balance between two polls. A deposit that lands in the same polling
 * interval as spending hides the spend behind the net change; the polling
 * interval is configurable so operators can shrink that blind window.
 */
package app

import (
	"log/slog"
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
)

// ExpenseAccumulator maintains the running daily and weekly expense
// counters on an account from observed balance totals.
type ExpenseAccumulator struct {
	logger *slog.Logger
}

// NewExpenseAccumulator creates an expense accumulator.
func NewExpenseAccumulator(logger *slog.Logger) *ExpenseAccumulator {
	return &ExpenseAccumulator{logger: logger}
}

// Observe records one balance observation against the account.
//
// The first observation only establishes the baseline. Afterwards a
// decrease is treated entirely as expense and added to both counters; an
// increase is treated as a deposit and no expense is recorded. The baseline
// is refreshed on every observation regardless of branch. The caller is
// responsible for persisting the mutated account.
func (e *ExpenseAccumulator) Observe(account *domain.Account, currentBalance float64, observedAt time.Time) {
	if account.LastBalanceCheckAt == nil {
		e.logger.Info("balance baseline established",
			"account_id", account.ID, "balance", currentBalance)
	} else if currentBalance < account.LastBalance {
		spent := account.LastBalance - currentBalance
		account.DailyExpense += spent
		account.WeeklyExpense += spent
		e.logger.Info("expense inferred from balance decrease",
			"account_id", account.ID, "amount", spent,
			"daily_expense", account.DailyExpense, "weekly_expense", account.WeeklyExpense)
	}

	account.LastBalance = currentBalance
	account.LastBalanceCheckAt = &observedAt
}
