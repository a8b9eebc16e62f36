/**
 * @description
 * Domain models for the stats service: polled marketplace accounts and the
 * canonical per-day statistics snapshot derived from them.
 */
package domain

import "time"

// Account represents one polled marketplace seller profile. The credential
// pair is passed through to the marketplace token endpoint verbatim.
type Account struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	ClientID           string     `json:"client_id"`
	ClientSecret       string     `json:"client_secret"`
	Timezone           string     `json:"timezone"`
	LastBalance        float64    `json:"last_balance"`
	LastBalanceCheckAt *time.Time `json:"last_balance_check_at"`
	DailyExpense       float64    `json:"daily_expense"`
	WeeklyExpense      float64    `json:"weekly_expense"`
}

// HasCredentials reports whether the account can be polled at all. Accounts
// without a credential pair are skipped by every tick.
func (a Account) HasCredentials() bool {
	return a.ClientID != "" && a.ClientID != "none" && a.ClientSecret != ""
}

// ExpenseDetail is a best-effort per-category expense breakdown for one day.
type ExpenseDetail struct {
	Amount         float64  `json:"amount"`
	OperationCount int      `json:"operation_count"`
	ItemIDs        []int64  `json:"item_ids,omitempty"`
}

// DailyStats is the canonical snapshot for one (account, date) pair.
// Uniqueness of the pair is enforced by the store; rows for past dates are
// immutable once populated.
type DailyStats struct {
	AccountID      string    `json:"account_id"`
	Date           time.Time `json:"date"`
	TotalCalls     int       `json:"total_calls"`
	AnsweredCalls  int       `json:"answered_calls"`
	MissedCalls    int       `json:"missed_calls"`
	TotalChats     int       `json:"total_chats"`
	NewChats       int       `json:"new_chats"`
	PhonesReceived int       `json:"phones_received"`
	Rating         float64   `json:"rating"`
	TotalReviews   int       `json:"total_reviews"`
	DailyReviews   int       `json:"daily_reviews"`
	TotalItems     int       `json:"total_items"`
	XLPromoCount   int       `json:"xl_promotion_count"`
	Views          int       `json:"views"`
	Contacts       int       `json:"contacts"`
	Favorites      int       `json:"favorites"`
	// IsExtrapolated marks views/contacts/favorites as scaled up from a
	// sampled subset of listings rather than measured across all of them.
	IsExtrapolated bool    `json:"is_extrapolated"`
	BalanceReal    float64 `json:"balance_real"`
	BalanceBonus   float64 `json:"balance_bonus"`
	Advance        float64 `json:"advance"`
	DailyExpense   float64 `json:"daily_expense"`

	ExpenseDetails map[string]ExpenseDetail `json:"expense_details,omitempty"`
}

// ContactConversion returns the contacts/views ratio as a percentage, or 0
// when there were no views.
func (s DailyStats) ContactConversion() float64 {
	if s.Views == 0 {
		return 0
	}
	return float64(s.Contacts) / float64(s.Views) * 100
}
