/**
 * @description
 * Anomaly and trend report models. Anomalies are ephemeral: they exist only
 * for the lifetime of the notification they trigger and are never persisted.
 */
package domain

import "time"

// Anomaly types emitted by the detector.
const (
	AnomalyCallsDrop        = "calls_drop"
	AnomalyCallsChange      = "calls_change"
	AnomalyViewsDrop        = "views_drop"
	AnomalyViewsChange      = "views_change"
	AnomalyContactsDrop     = "contacts_drop"
	AnomalyContactsChange   = "contacts_change"
	AnomalyExpenseIncrease  = "expense_increase"
	AnomalyConversionChange = "conversion_change"
)

// Anomaly is one day-over-day metric change that crossed both the relative
// threshold and the absolute floor for its metric.
type Anomaly struct {
	Type          string  `json:"type"`
	Previous      float64 `json:"previous"`
	Current       float64 `json:"current"`
	ChangePercent float64 `json:"change_percent"`
	Message       string  `json:"message"`
}

// MetricDelta is a current/previous pair with the signed percent change
// between them.
type MetricDelta struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	ChangePercent float64 `json:"change_percent"`
}

// TrendReport compares one day (or a summed week) against the preceding
// period, metric by metric.
type TrendReport struct {
	AccountID    string      `json:"account_id"`
	PeriodStart  time.Time   `json:"period_start"`
	PeriodEnd    time.Time   `json:"period_end"`
	DaysWithData int         `json:"days_with_data"`
	Calls        MetricDelta `json:"calls"`
	MissedCalls  MetricDelta `json:"missed_calls"`
	Chats        MetricDelta `json:"chats"`
	Views        MetricDelta `json:"views"`
	Contacts     MetricDelta `json:"contacts"`
	Favorites    MetricDelta `json:"favorites"`
	Expense      MetricDelta `json:"expense"`
	Conversion   MetricDelta `json:"conversion"`
	// ContactCost is expense divided by contacts; zero when there were no
	// contacts in the period.
	ContactCost MetricDelta `json:"contact_cost"`
	// ServiceLevel is answered/total calls as a percentage, computed from
	// data; zero when no calls were recorded.
	ServiceLevel float64 `json:"service_level"`
}

// AnomalyAlertEvent is the payload published to the notification exchange
// when a detection run finds anomalies for an account.
type AnomalyAlertEvent struct {
	EventID   string    `json:"event_id"`
	AccountID string    `json:"account_id"`
	Account   string    `json:"account_name"`
	Date      string    `json:"date"`
	Anomalies []Anomaly `json:"anomalies"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportEvent is the payload published for daily and weekly report renderers.
type ReportEvent struct {
	EventID   string      `json:"event_id"`
	AccountID string      `json:"account_id"`
	Account   string      `json:"account_name"`
	Period    string      `json:"period"`
	Snapshot  *DailyStats `json:"snapshot,omitempty"`
	Trend     TrendReport `json:"trend"`
	CreatedAt time.Time   `json:"created_at"`
}
