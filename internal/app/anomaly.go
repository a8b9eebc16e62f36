/**
 * @description
 * Day-over-day anomaly detection. Pure function of two consecutive
 * snapshots plus fixed thresholds: a metric is anomalous when its relative
 * change crosses the threshold AND the day-before value meets the absolute
 * floor, so noise on tiny baselines never alerts.
 */
package app

import (
	"fmt"
	"sort"

	"github.com/sellerpulse/stats-service/internal/domain"
)

// Relative thresholds (percent) for anomaly detection.
const (
	thresholdCalls    = 50
	thresholdViews    = 40
	thresholdContacts = 40
	thresholdExpense  = 100 // Increase only; expense drops never alert.
)

// Minimum day-before values for a metric to be considered at all.
const (
	minCalls    = 5
	minViews    = 50
	minContacts = 10
	minExpense  = 100
)

// DetectAnomalies compares yesterday's snapshot against the day before and
// returns the anomalies sorted by absolute change percent, most severe
// first. When either snapshot is absent the result is empty, not an error.
func DetectAnomalies(yesterday, dayBefore *domain.DailyStats) []domain.Anomaly {
	if yesterday == nil || dayBefore == nil {
		return nil
	}

	var anomalies []domain.Anomaly

	anomalies = appendCountAnomaly(anomalies, "calls",
		domain.AnomalyCallsDrop, domain.AnomalyCallsChange,
		yesterday.TotalCalls, dayBefore.TotalCalls, thresholdCalls, minCalls)

	anomalies = appendCountAnomaly(anomalies, "views",
		domain.AnomalyViewsDrop, domain.AnomalyViewsChange,
		yesterday.Views, dayBefore.Views, thresholdViews, minViews)

	anomalies = appendCountAnomaly(anomalies, "contacts",
		domain.AnomalyContactsDrop, domain.AnomalyContactsChange,
		yesterday.Contacts, dayBefore.Contacts, thresholdContacts, minContacts)

	if dayBefore.DailyExpense >= minExpense && yesterday.DailyExpense > dayBefore.DailyExpense {
		change := PercentChange(yesterday.DailyExpense, dayBefore.DailyExpense)
		if change >= thresholdExpense {
			anomalies = append(anomalies, domain.Anomaly{
				Type:          domain.AnomalyExpenseIncrease,
				Previous:      dayBefore.DailyExpense,
				Current:       yesterday.DailyExpense,
				ChangePercent: change,
				Message: fmt.Sprintf("Sharp expense increase of %.1f%% (%.2f -> %.2f)",
					change, dayBefore.DailyExpense, yesterday.DailyExpense),
			})
		}
	}

	anomalies = appendConversionAnomaly(anomalies, yesterday, dayBefore)

	sort.SliceStable(anomalies, func(i, j int) bool {
		return abs(anomalies[i].ChangePercent) > abs(anomalies[j].ChangePercent)
	})

	return anomalies
}

// appendCountAnomaly applies the shared rule for count metrics: below the
// floor nothing is emitted; a drop to exactly zero is a forced complete-drop
// anomaly at -100%; otherwise the relative threshold decides.
func appendCountAnomaly(anomalies []domain.Anomaly, label, dropType, changeType string, current, previous, threshold, floor int) []domain.Anomaly {
	if previous < floor {
		return anomalies
	}

	if current == 0 && previous > 0 {
		return append(anomalies, domain.Anomaly{
			Type:          dropType,
			Previous:      float64(previous),
			Current:       0,
			ChangePercent: -100,
			Message:       fmt.Sprintf("Complete drop in %s (was %d)", label, previous),
		})
	}

	if current > 0 && previous > 0 {
		change := PercentChange(float64(current), float64(previous))
		if abs(change) >= float64(threshold) {
			direction := "increase"
			if change < 0 {
				direction = "decrease"
			}
			return append(anomalies, domain.Anomaly{
				Type:          changeType,
				Previous:      float64(previous),
				Current:       float64(current),
				ChangePercent: change,
				Message: fmt.Sprintf("Sharp %s in %s of %.1f%% (%d -> %d)",
					direction, label, abs(change), previous, current),
			})
		}
	}

	return anomalies
}

// appendConversionAnomaly checks the contacts/views ratio. It requires both
// days to clear the views floor and to have at least one contact, so the
// ratio is meaningful on both sides.
func appendConversionAnomaly(anomalies []domain.Anomaly, yesterday, dayBefore *domain.DailyStats) []domain.Anomaly {
	if dayBefore.Views < minViews || yesterday.Views < minViews {
		return anomalies
	}
	if dayBefore.Contacts == 0 || yesterday.Contacts == 0 {
		return anomalies
	}

	prev := dayBefore.ContactConversion()
	curr := yesterday.ContactConversion()
	if prev == 0 {
		return anomalies
	}

	change := PercentChange(curr, prev)
	if abs(change) < thresholdContacts {
		return anomalies
	}

	direction := "increase"
	if change < 0 {
		direction = "decrease"
	}
	return append(anomalies, domain.Anomaly{
		Type:          domain.AnomalyConversionChange,
		Previous:      prev,
		Current:       curr,
		ChangePercent: change,
		Message: fmt.Sprintf("Sharp %s in contact conversion of %.1f%% (%.2f%% -> %.2f%%)",
			direction, abs(change), prev, curr),
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
