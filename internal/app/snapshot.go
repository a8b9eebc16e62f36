/**
 * @description
 * Daily snapshot builder: polls every metric group for one (account, date)
 * pair and normalizes the result into a DailyStats record. Each group fetch
 * is wrapped so that its failure degrades that group to zero values instead
 * of aborting the snapshot; only a failed credential exchange is fatal.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
	"github.com/sellerpulse/stats-service/pkg/marketclient"
)

// MetricSession is an authenticated view of one account's metric endpoints.
// Implemented by marketclient.Session.
type MetricSession interface {
	FetchCalls(ctx context.Context, from, to time.Time) (marketclient.CallStats, error)
	FetchChats(ctx context.Context, from time.Time) (int, error)
	FetchPhoneReveals(ctx context.Context, from time.Time) (int, error)
	FetchRating(ctx context.Context) (float64, error)
	FetchReviews(ctx context.Context, from, to time.Time) (marketclient.ReviewStats, error)
	FetchActiveItems(ctx context.Context) (marketclient.ItemList, error)
	FetchItemStats(ctx context.Context, itemIDs []int64, from, to time.Time) (marketclient.ItemStats, error)
	FetchBalance(ctx context.Context) (marketclient.Balance, error)
	FetchExpenseOperations(ctx context.Context, from, to time.Time) ([]marketclient.ExpenseOperation, error)
}

// MetricSource exchanges an account's credentials for a metric session.
type MetricSource interface {
	Authenticate(ctx context.Context, clientID, clientSecret string) (MetricSession, error)
}

// NewMarketSource adapts the marketplace client to the MetricSource
// interface consumed by the engine.
func NewMarketSource(client *marketclient.Client) MetricSource {
	return marketSource{client: client}
}

type marketSource struct {
	client *marketclient.Client
}

func (m marketSource) Authenticate(ctx context.Context, clientID, clientSecret string) (MetricSession, error) {
	session, err := m.client.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ItemListCache caches the active listing inventory per account with an
// explicit TTL, so repeated builds inside one tick don't re-page the items
// endpoint. A cache miss or error is never fatal.
type ItemListCache interface {
	Get(ctx context.Context, accountID string) (*marketclient.ItemList, error)
	Set(ctx context.Context, accountID string, list marketclient.ItemList) error
	Invalidate(ctx context.Context, accountID string) error
}

// SnapshotBuilder builds DailyStats records from the metric source and
// persists them through the repository.
type SnapshotBuilder struct {
	source    MetricSource
	repo      Repository
	itemCache ItemListCache
	logger    *slog.Logger
	now       func() time.Time
}

// NewSnapshotBuilder creates a snapshot builder. itemCache may be nil.
func NewSnapshotBuilder(source MetricSource, repo Repository, itemCache ItemListCache, logger *slog.Logger) *SnapshotBuilder {
	return &SnapshotBuilder{
		source:    source,
		repo:      repo,
		itemCache: itemCache,
		logger:    logger,
		now:       time.Now,
	}
}

// Build fetches all metric groups for the account's local calendar day and
// persists the resulting snapshot.
//
// Idempotence: for a past date with an existing row the stored record is
// returned untouched; only rows for "today" are refreshed, since today's
// figures are still accumulating.
func (b *SnapshotBuilder) Build(ctx context.Context, account *domain.Account, date time.Time) (*domain.DailyStats, error) {
	loc := accountLocation(account)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	today := b.today(loc)

	if day.Before(today) {
		exists, err := b.repo.SnapshotExists(ctx, account.ID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing snapshot: %w", err)
		}
		if exists {
			b.logger.Info("snapshot already exists, keeping historical row",
				"account_id", account.ID, "date", day.Format("2006-01-02"))
			return b.repo.GetSnapshot(ctx, account.ID, day)
		}
	}

	session, err := b.source.Authenticate(ctx, account.ClientID, account.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("credential exchange failed for account %s: %w", account.ID, err)
	}

	// The window runs to the last second before the next local midnight;
	// AddDate keeps it on the calendar day even when a DST shift makes the
	// day 23 or 25 hours long.
	windowStart := day
	windowEnd := day.AddDate(0, 0, 1).Add(-time.Second)

	stats := &domain.DailyStats{AccountID: account.ID, Date: day}

	if calls, err := session.FetchCalls(ctx, windowStart, windowEnd); err != nil {
		b.logGroupFailure(account, "calls", err)
	} else {
		stats.TotalCalls = calls.Total
		stats.MissedCalls = calls.Missed
		if stats.MissedCalls > stats.TotalCalls {
			stats.MissedCalls = stats.TotalCalls
		}
		stats.AnsweredCalls = stats.TotalCalls - stats.MissedCalls
	}

	if chats, err := session.FetchChats(ctx, windowStart); err != nil {
		b.logGroupFailure(account, "chats", err)
	} else {
		stats.TotalChats = chats
		stats.NewChats = chats
	}

	if phones, err := session.FetchPhoneReveals(ctx, windowStart); err != nil {
		b.logGroupFailure(account, "phones", err)
	} else {
		stats.PhonesReceived = phones
	}

	if rating, err := session.FetchRating(ctx); err != nil {
		b.logGroupFailure(account, "rating", err)
	} else {
		stats.Rating = rating
	}

	if reviews, err := session.FetchReviews(ctx, windowStart, windowEnd); err != nil {
		b.logGroupFailure(account, "reviews", err)
	} else {
		stats.TotalReviews = reviews.Total
		stats.DailyReviews = reviews.InWindow
	}

	b.collectItemStats(ctx, session, account, windowStart, windowEnd, stats)

	if balance, err := session.FetchBalance(ctx); err != nil {
		b.logGroupFailure(account, "balance", err)
	} else {
		stats.BalanceReal = balance.Real
		stats.BalanceBonus = balance.Bonus
		stats.Advance = balance.Advance
	}

	stats.DailyExpense, stats.ExpenseDetails = b.collectExpenses(ctx, session, account, day, today, windowStart, windowEnd)

	if err := b.repo.UpsertSnapshot(ctx, stats); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	return stats, nil
}

// collectItemStats lists active items (through the cache when possible) and
// aggregates view/contact/favorite counts. Accounts with more than one
// stats batch of items are measured on a bounded subsample and scaled up by
// totalItems/sampledItems, with the extrapolation flagged on the record.
func (b *SnapshotBuilder) collectItemStats(ctx context.Context, session MetricSession, account *domain.Account, from, to time.Time, stats *domain.DailyStats) {
	list, err := b.activeItems(ctx, session, account)
	if err != nil {
		b.logGroupFailure(account, "items", err)
		return
	}

	stats.TotalItems = len(list.IDs)
	stats.XLPromoCount = list.XLPromotionCount
	if stats.XLPromoCount > stats.TotalItems {
		stats.XLPromoCount = stats.TotalItems
	}
	if len(list.IDs) == 0 {
		return
	}

	sample := list.IDs
	if len(sample) > marketclient.ItemStatsBatchLimit {
		sample = sample[:marketclient.ItemStatsBatchLimit]
	}

	itemStats, err := session.FetchItemStats(ctx, sample, from, to)
	if err != nil {
		b.logGroupFailure(account, "item_stats", err)
		return
	}

	if len(sample) < len(list.IDs) {
		ratio := float64(len(list.IDs)) / float64(len(sample))
		stats.Views = int(float64(itemStats.Views) * ratio)
		stats.Contacts = int(float64(itemStats.Contacts) * ratio)
		stats.Favorites = int(float64(itemStats.Favorites) * ratio)
		stats.IsExtrapolated = true
	} else {
		stats.Views = itemStats.Views
		stats.Contacts = itemStats.Contacts
		stats.Favorites = itemStats.Favorites
	}
}

func (b *SnapshotBuilder) activeItems(ctx context.Context, session MetricSession, account *domain.Account) (marketclient.ItemList, error) {
	if b.itemCache != nil {
		if cached, err := b.itemCache.Get(ctx, account.ID); err != nil {
			b.logger.Warn("item cache read failed", "account_id", account.ID, "error", err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	list, err := session.FetchActiveItems(ctx)
	if err != nil {
		return marketclient.ItemList{}, err
	}

	if b.itemCache != nil {
		if err := b.itemCache.Set(ctx, account.ID, list); err != nil {
			b.logger.Warn("item cache write failed", "account_id", account.ID, "error", err)
		}
	}
	return list, nil
}

// collectExpenses resolves the day's expense figure. The running
// balance-delta counter is authoritative for the current accumulation
// window (the day being closed out); older backfilled dates fall back to
// the billing history, which is best effort and may be empty.
func (b *SnapshotBuilder) collectExpenses(ctx context.Context, session MetricSession, account *domain.Account, day, today, from, to time.Time) (float64, map[string]domain.ExpenseDetail) {
	details := b.expenseDetails(ctx, session, account, from, to)

	if !day.Before(today.AddDate(0, 0, -1)) {
		return account.DailyExpense, details
	}

	var total float64
	for _, d := range details {
		total += d.Amount
	}
	return total, details
}

func (b *SnapshotBuilder) expenseDetails(ctx context.Context, session MetricSession, account *domain.Account, from, to time.Time) map[string]domain.ExpenseDetail {
	ops, err := session.FetchExpenseOperations(ctx, from, to)
	if err != nil {
		b.logGroupFailure(account, "expense_details", err)
		return nil
	}
	if len(ops) == 0 {
		return nil
	}

	details := make(map[string]domain.ExpenseDetail)
	for _, op := range ops {
		d := details[op.Category]
		d.Amount += op.Amount
		d.OperationCount++
		if op.ItemID != 0 {
			d.ItemIDs = append(d.ItemIDs, op.ItemID)
		}
		details[op.Category] = d
	}
	return details
}

func (b *SnapshotBuilder) logGroupFailure(account *domain.Account, group string, err error) {
	b.logger.Warn("metric group degraded to defaults",
		"account_id", account.ID, "group", group, "error", err)
}

func (b *SnapshotBuilder) today(loc *time.Location) time.Time {
	now := b.now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func accountLocation(account *domain.Account) *time.Location {
	if account.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(account.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
