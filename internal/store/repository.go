/**
 * @description
 * This file implements the data access layer for the stats service.
 * It contains all the SQL queries and logic for interacting with the
 * accounts and account_daily_stats tables.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sellerpulse/stats-service/internal/domain"
)

// ErrSnapshotNotFound is returned when no snapshot exists for the requested
// (account, date) pair.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Repository handles database operations for the stats service.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetPollableAccounts fetches all accounts that have a usable credential
// pair. Accounts without credentials are excluded from every tick.
func (r *Repository) GetPollableAccounts(ctx context.Context) ([]domain.Account, error) {
	query := `
        SELECT id, name, client_id, client_secret, timezone,
               last_balance, last_balance_check_at, daily_expense, weekly_expense
        FROM accounts
        WHERE client_id IS NOT NULL
          AND client_id <> ''
          AND client_id <> 'none'
          AND client_secret IS NOT NULL
          AND client_secret <> ''
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var acc domain.Account
		err := rows.Scan(
			&acc.ID, &acc.Name, &acc.ClientID, &acc.ClientSecret, &acc.Timezone,
			&acc.LastBalance, &acc.LastBalanceCheckAt, &acc.DailyExpense, &acc.WeeklyExpense)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// GetAccount fetches a single account by ID.
func (r *Repository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `
        SELECT id, name, client_id, client_secret, timezone,
               last_balance, last_balance_check_at, daily_expense, weekly_expense
        FROM accounts
        WHERE id = $1
    `
	var acc domain.Account
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&acc.ID, &acc.Name, &acc.ClientID, &acc.ClientSecret, &acc.Timezone,
		&acc.LastBalance, &acc.LastBalanceCheckAt, &acc.DailyExpense, &acc.WeeklyExpense)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpdateBalanceState persists the balance baseline and expense counters
// after an expense accumulator tick.
func (r *Repository) UpdateBalanceState(ctx context.Context, acc *domain.Account) error {
	query := `
        UPDATE accounts
        SET last_balance = $1,
            last_balance_check_at = $2,
            daily_expense = $3,
            weekly_expense = $4,
            updated_at = NOW()
        WHERE id = $5
    `
	_, err := r.db.Exec(ctx, query,
		acc.LastBalance, acc.LastBalanceCheckAt, acc.DailyExpense, acc.WeeklyExpense, acc.ID)
	return err
}

// ResetDailyExpenses zeroes the daily expense counter for every account.
// Resetting an already-zero counter is a no-op at the row level.
func (r *Repository) ResetDailyExpenses(ctx context.Context) (int64, error) {
	query := `
        UPDATE accounts
        SET daily_expense = 0,
            updated_at = NOW()
        WHERE daily_expense <> 0
    `
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetWeeklyExpenses zeroes the weekly expense counter for every account.
func (r *Repository) ResetWeeklyExpenses(ctx context.Context) (int64, error) {
	query := `
        UPDATE accounts
        SET weekly_expense = 0,
            updated_at = NOW()
        WHERE weekly_expense <> 0
    `
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SnapshotExists reports whether a daily stats row exists for the pair.
func (r *Repository) SnapshotExists(ctx context.Context, accountID string, date time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM account_daily_stats WHERE account_id = $1 AND date = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, accountID, date).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpsertSnapshot creates the daily stats row, or overwrites it when one
// already exists. Whether overwriting is allowed for a given date is the
// engine's policy, not the store's; the store performs an unconditional
// upsert when asked.
func (r *Repository) UpsertSnapshot(ctx context.Context, stats *domain.DailyStats) error {
	details, err := marshalExpenseDetails(stats.ExpenseDetails)
	if err != nil {
		return fmt.Errorf("failed to serialize expense details: %w", err)
	}

	query := `
        INSERT INTO account_daily_stats (
            account_id, date, total_calls, answered_calls, missed_calls,
            total_chats, new_chats, phones_received, rating,
            total_reviews, daily_reviews, total_items, xl_promotion_count,
            views, contacts, favorites, is_extrapolated,
            balance_real, balance_bonus, advance, daily_expense, expense_details
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
            $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
        )
        ON CONFLICT (account_id, date) DO UPDATE SET
            total_calls = EXCLUDED.total_calls,
            answered_calls = EXCLUDED.answered_calls,
            missed_calls = EXCLUDED.missed_calls,
            total_chats = EXCLUDED.total_chats,
            new_chats = EXCLUDED.new_chats,
            phones_received = EXCLUDED.phones_received,
            rating = EXCLUDED.rating,
            total_reviews = EXCLUDED.total_reviews,
            daily_reviews = EXCLUDED.daily_reviews,
            total_items = EXCLUDED.total_items,
            xl_promotion_count = EXCLUDED.xl_promotion_count,
            views = EXCLUDED.views,
            contacts = EXCLUDED.contacts,
            favorites = EXCLUDED.favorites,
            is_extrapolated = EXCLUDED.is_extrapolated,
            balance_real = EXCLUDED.balance_real,
            balance_bonus = EXCLUDED.balance_bonus,
            advance = EXCLUDED.advance,
            daily_expense = EXCLUDED.daily_expense,
            expense_details = EXCLUDED.expense_details
    `
	_, err = r.db.Exec(ctx, query,
		stats.AccountID, stats.Date, stats.TotalCalls, stats.AnsweredCalls, stats.MissedCalls,
		stats.TotalChats, stats.NewChats, stats.PhonesReceived, stats.Rating,
		stats.TotalReviews, stats.DailyReviews, stats.TotalItems, stats.XLPromoCount,
		stats.Views, stats.Contacts, stats.Favorites, stats.IsExtrapolated,
		stats.BalanceReal, stats.BalanceBonus, stats.Advance, stats.DailyExpense, details)
	return err
}

// GetSnapshot fetches the daily stats row for one (account, date) pair.
func (r *Repository) GetSnapshot(ctx context.Context, accountID string, date time.Time) (*domain.DailyStats, error) {
	query := selectSnapshotColumns + ` WHERE account_id = $1 AND date = $2`
	row := r.db.QueryRow(ctx, query, accountID, date)
	stats, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return stats, nil
}

// GetSnapshotRange fetches snapshots for [fromDate, toDate] ordered by date
// ascending. Missing dates simply have no row.
func (r *Repository) GetSnapshotRange(ctx context.Context, accountID string, fromDate, toDate time.Time) ([]domain.DailyStats, error) {
	query := selectSnapshotColumns + `
        WHERE account_id = $1 AND date >= $2 AND date <= $3
        ORDER BY date ASC
    `
	rows, err := r.db.Query(ctx, query, accountID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DailyStats
	for rows.Next() {
		stats, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *stats)
	}

	return result, rows.Err()
}

// DeleteSnapshotsOlderThan purges snapshots older than the threshold date
// and returns the number of rows removed.
func (r *Repository) DeleteSnapshotsOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	query := `DELETE FROM account_daily_stats WHERE date < $1`
	tag, err := r.db.Exec(ctx, query, threshold)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const selectSnapshotColumns = `
        SELECT account_id, date, total_calls, answered_calls, missed_calls,
               total_chats, new_chats, phones_received, rating,
               total_reviews, daily_reviews, total_items, xl_promotion_count,
               views, contacts, favorites, is_extrapolated,
               balance_real, balance_bonus, advance, daily_expense, expense_details
        FROM account_daily_stats`

func scanSnapshot(row pgx.Row) (*domain.DailyStats, error) {
	var stats domain.DailyStats
	var details *string
	err := row.Scan(
		&stats.AccountID, &stats.Date, &stats.TotalCalls, &stats.AnsweredCalls, &stats.MissedCalls,
		&stats.TotalChats, &stats.NewChats, &stats.PhonesReceived, &stats.Rating,
		&stats.TotalReviews, &stats.DailyReviews, &stats.TotalItems, &stats.XLPromoCount,
		&stats.Views, &stats.Contacts, &stats.Favorites, &stats.IsExtrapolated,
		&stats.BalanceReal, &stats.BalanceBonus, &stats.Advance, &stats.DailyExpense, &details)
	if err != nil {
		return nil, err
	}
	if details != nil && *details != "" {
		if err := json.Unmarshal([]byte(*details), &stats.ExpenseDetails); err != nil {
			return nil, fmt.Errorf("failed to parse expense details: %w", err)
		}
	}
	return &stats, nil
}

func marshalExpenseDetails(details map[string]domain.ExpenseDetail) (*string, error) {
	if len(details) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	return &s, nil
}
