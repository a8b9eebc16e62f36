/**
 * @description
 * Trend computation: signed percentage deltas between two daily snapshots,
 * or between two summed ranges for weekly rollups.
 *
 * Zero handling is fixed to a single convention across all call sites:
 * previous == 0 && current == 0 yields 0, previous == 0 && current > 0
 * yields +100 (a ratio cannot be formed, so the change is reported as a
 * full positive swing).
 */
package app

import (
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
)

// PercentChange returns the signed, unclamped percentage change from
// previous to current.
func PercentChange(current, previous float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - previous) / previous * 100
}

func delta(current, previous float64) domain.MetricDelta {
	return domain.MetricDelta{
		Current:       current,
		Previous:      previous,
		ChangePercent: PercentChange(current, previous),
	}
}

// DailyTrend compares one day's snapshot against the preceding day's.
func DailyTrend(current, previous *domain.DailyStats) domain.TrendReport {
	report := domain.TrendReport{
		AccountID:    current.AccountID,
		PeriodStart:  current.Date,
		PeriodEnd:    current.Date,
		DaysWithData: 1,
	}

	var prev domain.DailyStats
	if previous != nil {
		prev = *previous
	}

	report.Calls = delta(float64(current.TotalCalls), float64(prev.TotalCalls))
	report.MissedCalls = delta(float64(current.MissedCalls), float64(prev.MissedCalls))
	report.Chats = delta(float64(current.TotalChats), float64(prev.TotalChats))
	report.Views = delta(float64(current.Views), float64(prev.Views))
	report.Contacts = delta(float64(current.Contacts), float64(prev.Contacts))
	report.Favorites = delta(float64(current.Favorites), float64(prev.Favorites))
	report.Expense = delta(current.DailyExpense, prev.DailyExpense)
	report.Conversion = delta(current.ContactConversion(), prev.ContactConversion())
	report.ContactCost = delta(
		contactCost(current.DailyExpense, current.Contacts),
		contactCost(prev.DailyExpense, prev.Contacts))
	report.ServiceLevel = serviceLevel(current.AnsweredCalls, current.TotalCalls)

	return report
}

// rangeTotals sums the comparable fields across a window. Dates with no
// snapshot are simply absent from the slice, so they contribute to neither
// the sums nor the day count.
type rangeTotals struct {
	days      int
	calls     int
	missed    int
	answered  int
	chats     int
	views     int
	contacts  int
	favorites int
	expense   float64
}

func sumRange(rows []domain.DailyStats) rangeTotals {
	t := rangeTotals{days: len(rows)}
	for _, row := range rows {
		t.calls += row.TotalCalls
		t.missed += row.MissedCalls
		t.answered += row.AnsweredCalls
		t.chats += row.TotalChats
		t.views += row.Views
		t.contacts += row.Contacts
		t.favorites += row.Favorites
		t.expense += row.DailyExpense
	}
	return t
}

// RangeTrend compares the summed metrics of one window against the summed
// metrics of the preceding window of the same length.
func RangeTrend(accountID string, current, previous []domain.DailyStats, periodStart, periodEnd time.Time) domain.TrendReport {
	cur := sumRange(current)
	prev := sumRange(previous)

	report := domain.TrendReport{
		AccountID:    accountID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		DaysWithData: cur.days,
	}

	report.Calls = delta(float64(cur.calls), float64(prev.calls))
	report.MissedCalls = delta(float64(cur.missed), float64(prev.missed))
	report.Chats = delta(float64(cur.chats), float64(prev.chats))
	report.Views = delta(float64(cur.views), float64(prev.views))
	report.Contacts = delta(float64(cur.contacts), float64(prev.contacts))
	report.Favorites = delta(float64(cur.favorites), float64(prev.favorites))
	report.Expense = delta(cur.expense, prev.expense)
	report.Conversion = delta(conversion(cur.contacts, cur.views), conversion(prev.contacts, prev.views))
	report.ContactCost = delta(contactCost(cur.expense, cur.contacts), contactCost(prev.expense, prev.contacts))
	report.ServiceLevel = serviceLevel(cur.answered, cur.calls)

	return report
}

// HistorySummary is the per-day average view over a multi-day window.
// Averages divide by the number of days that actually have data.
type HistorySummary struct {
	AccountID    string  `json:"account_id"`
	Days         int     `json:"days"`
	DaysWithData int     `json:"days_with_data"`
	AvgCalls     float64 `json:"avg_calls"`
	AvgChats     float64 `json:"avg_chats"`
	AvgViews     float64 `json:"avg_views"`
	AvgContacts  float64 `json:"avg_contacts"`
	AvgFavorites float64 `json:"avg_favorites"`
	AvgExpense   float64 `json:"avg_expense"`
	TotalExpense float64 `json:"total_expense"`
	Conversion   float64 `json:"conversion"`
}

// SummarizeHistory computes daily averages over a window of rows, dividing
// by the populated day count, not the window length.
func SummarizeHistory(accountID string, days int, rows []domain.DailyStats) HistorySummary {
	t := sumRange(rows)
	summary := HistorySummary{
		AccountID:    accountID,
		Days:         days,
		DaysWithData: t.days,
		TotalExpense: t.expense,
		Conversion:   conversion(t.contacts, t.views),
	}
	if t.days == 0 {
		return summary
	}

	n := float64(t.days)
	summary.AvgCalls = float64(t.calls) / n
	summary.AvgChats = float64(t.chats) / n
	summary.AvgViews = float64(t.views) / n
	summary.AvgContacts = float64(t.contacts) / n
	summary.AvgFavorites = float64(t.favorites) / n
	summary.AvgExpense = t.expense / n
	return summary
}

func conversion(contacts, views int) float64 {
	if views == 0 {
		return 0
	}
	return float64(contacts) / float64(views) * 100
}

func contactCost(expense float64, contacts int) float64 {
	if contacts == 0 {
		return 0
	}
	return expense / float64(contacts)
}

func serviceLevel(answered, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(answered) / float64(total) * 100
}
