/**
 * @description
 * Scheduled job implementations for the stats service: the minutely expense
 * poll, the daily snapshot/anomaly/report pipeline, and the weekly rollup.
 * Work is isolated per account; one account's failure never aborts the
 * others in the same tick.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/stats-service/internal/config"
	"github.com/sellerpulse/stats-service/internal/domain"
	"github.com/sellerpulse/stats-service/internal/store"
)

// Repository defines the database operations needed by the jobs and the
// engine components they drive.
type Repository interface {
	GetPollableAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateBalanceState(ctx context.Context, acc *domain.Account) error
	ResetDailyExpenses(ctx context.Context) (int64, error)
	ResetWeeklyExpenses(ctx context.Context) (int64, error)
	SnapshotExists(ctx context.Context, accountID string, date time.Time) (bool, error)
	UpsertSnapshot(ctx context.Context, stats *domain.DailyStats) error
	GetSnapshot(ctx context.Context, accountID string, date time.Time) (*domain.DailyStats, error)
	GetSnapshotRange(ctx context.Context, accountID string, fromDate, toDate time.Time) ([]domain.DailyStats, error)
	DeleteSnapshotsOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// AlertPublisher delivers events to the notification channel. Delivery is
// fire and forget; a failure is logged, not retried within the cycle.
type AlertPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Routing keys for published events.
const (
	routingAnomalyDetected = "stats.anomaly.detected"
	routingDailyReport     = "stats.report.daily"
	routingWeeklyReport    = "stats.report.weekly"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo        Repository
	source      MetricSource
	publisher   AlertPublisher
	builder     *SnapshotBuilder
	backfill    *Backfill
	accumulator *ExpenseAccumulator
	logger      *slog.Logger
	config      config.Config
	now         func() time.Time

	mu           sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo Repository, source MetricSource, publisher AlertPublisher, builder *SnapshotBuilder, backfill *Backfill, accumulator *ExpenseAccumulator, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:         repo,
		source:       source,
		publisher:    publisher,
		builder:      builder,
		backfill:     backfill,
		accumulator:  accumulator,
		logger:       logger,
		config:       cfg,
		now:          time.Now,
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing all work for one account.
// Accounts may be processed in parallel, but never the same account twice
// at once: the balance baseline read-modify-write and the snapshot upsert
// are not safe under concurrent execution for a single account.
func (j *Jobs) accountLock(accountID string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	lock, ok := j.accountLocks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		j.accountLocks[accountID] = lock
	}
	return lock
}

// withAccountsLocked runs fn while holding every listed account's lock. The
// counter resets run under it, so a reset can never interleave with an
// in-flight balance read-modify-write and be overwritten by stale counters.
// Every other holder takes a single account lock, so ordering cannot deadlock.
func (j *Jobs) withAccountsLocked(accounts []domain.Account, fn func()) {
	locks := make([]*sync.Mutex, 0, len(accounts))
	for i := range accounts {
		locks = append(locks, j.accountLock(accounts[i].ID))
	}
	for _, lock := range locks {
		lock.Lock()
	}
	defer func() {
		for _, lock := range locks {
			lock.Unlock()
		}
	}()
	fn()
}

// PollExpenses is the minutely tick: it observes every account's combined
// balance and accumulates inferred expenses. Accounts run in parallel.
func (j *Jobs) PollExpenses() {
	ctx := context.Background()

	accounts, err := j.repo.GetPollableAccounts(ctx)
	if err != nil {
		j.logger.Error("failed to load accounts for expense poll", "error", err)
		return
	}

	var wg sync.WaitGroup
	for i := range accounts {
		accountID := accounts[i].ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.pollAccountExpense(ctx, accountID)
		}()
	}
	wg.Wait()
}

func (j *Jobs) pollAccountExpense(ctx context.Context, accountID string) {
	lock := j.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	// The tick-start listing is only an iteration plan. The balance baseline
	// and counters are re-read under the lock: a tick queued behind a long
	// daily run would otherwise compute from a copy taken before the earlier
	// writer finished.
	account, err := j.repo.GetAccount(ctx, accountID)
	if err != nil {
		j.logger.Error("failed to reload account for expense poll",
			"account_id", accountID, "error", err)
		return
	}

	session, err := j.source.Authenticate(ctx, account.ClientID, account.ClientSecret)
	if err != nil {
		j.logger.Error("expense poll authentication failed",
			"account_id", account.ID, "error", err)
		return
	}

	balance, err := session.FetchBalance(ctx)
	if err != nil {
		j.logger.Warn("expense poll balance fetch failed",
			"account_id", account.ID, "error", err)
		return
	}

	j.accumulator.Observe(account, balance.Total(), j.now())

	if err := j.repo.UpdateBalanceState(ctx, account); err != nil {
		j.logger.Error("failed to persist balance state",
			"account_id", account.ID, "error", err)
	}
}

// RunDailyPipeline is the daily tick: backfill, snapshot, anomaly
// detection, report publishing, counter reset, and retention purge.
func (j *Jobs) RunDailyPipeline() {
	j.logger.Info("starting daily stats pipeline")
	ctx := context.Background()

	accounts, err := j.repo.GetPollableAccounts(ctx)
	if err != nil {
		j.logger.Error("failed to load accounts for daily pipeline", "error", err)
		return
	}

	for i := range accounts {
		if err := j.processAccountDaily(ctx, accounts[i].ID); err != nil {
			j.logger.Error("daily processing failed for account",
				"account_id", accounts[i].ID, "error", err)
		}
	}

	j.withAccountsLocked(accounts, func() {
		if count, err := j.repo.ResetDailyExpenses(ctx); err != nil {
			j.logger.Error("failed to reset daily expense counters", "error", err)
		} else if count > 0 {
			j.logger.Info("daily expense counters reset", "accounts", count)
		}
	})

	threshold := j.today(time.UTC).AddDate(0, 0, -j.config.RetentionDays)
	if purged, err := j.repo.DeleteSnapshotsOlderThan(ctx, threshold); err != nil {
		j.logger.Error("retention purge failed", "error", err)
	} else if purged > 0 {
		j.logger.Info("purged old snapshots", "rows", purged, "older_than", threshold.Format("2006-01-02"))
	}

	j.logger.Info("daily stats pipeline finished")
}

func (j *Jobs) processAccountDaily(ctx context.Context, accountID string) error {
	lock := j.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: the snapshot attributes the account's running
	// daily expense counter to the day being closed, and the counter keeps
	// moving between the tick-start listing and this point.
	account, err := j.repo.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to reload account: %w", err)
	}

	loc := accountLocation(account)
	today := j.today(loc)
	yesterday := today.AddDate(0, 0, -1)
	dayBefore := today.AddDate(0, 0, -2)

	// Backfill guarantees yesterday and today exist before reporting. A
	// failure here must not stop the cycle; it proceeds with whatever data
	// is already stored.
	from := today.AddDate(0, 0, -j.config.BackfillDays)
	if err := j.backfill.Ensure(ctx, account, from, today); err != nil {
		j.logger.Error("backfill incomplete, proceeding with stored data",
			"account_id", account.ID, "error", err)
	}

	yesterdayStats, err := j.snapshotOrNil(ctx, account.ID, yesterday)
	if err != nil {
		return fmt.Errorf("failed to load yesterday's snapshot: %w", err)
	}
	dayBeforeStats, err := j.snapshotOrNil(ctx, account.ID, dayBefore)
	if err != nil {
		return fmt.Errorf("failed to load day-before snapshot: %w", err)
	}

	if yesterdayStats == nil {
		j.logger.Warn("no snapshot for yesterday, skipping trend and anomaly checks",
			"account_id", account.ID, "date", yesterday.Format("2006-01-02"))
		return nil
	}

	if anomalies := DetectAnomalies(yesterdayStats, dayBeforeStats); len(anomalies) > 0 {
		event := domain.AnomalyAlertEvent{
			EventID:   uuid.NewString(),
			AccountID: account.ID,
			Account:   account.Name,
			Date:      yesterday.Format("2006-01-02"),
			Anomalies: anomalies,
			CreatedAt: j.now(),
		}
		if err := j.publisher.Publish(ctx, routingAnomalyDetected, event); err != nil {
			j.logger.Error("failed to publish anomaly alert",
				"account_id", account.ID, "error", err)
		} else {
			j.logger.Info("anomaly alert published",
				"account_id", account.ID, "anomalies", len(anomalies))
		}
	}

	trend := DailyTrend(yesterdayStats, dayBeforeStats)
	report := domain.ReportEvent{
		EventID:   uuid.NewString(),
		AccountID: account.ID,
		Account:   account.Name,
		Period:    yesterday.Format("2006-01-02"),
		Snapshot:  yesterdayStats,
		Trend:     trend,
		CreatedAt: j.now(),
	}
	if err := j.publisher.Publish(ctx, routingDailyReport, report); err != nil {
		j.logger.Error("failed to publish daily report",
			"account_id", account.ID, "error", err)
	}

	return nil
}

// RunWeeklyJobs is the weekly tick: weekly rollup reports and the weekly
// expense counter reset. It only acts on Mondays, so a misconfigured
// schedule cannot reset counters mid-week.
func (j *Jobs) RunWeeklyJobs() {
	if j.now().Weekday() != time.Monday {
		j.logger.Warn("weekly job invoked outside Monday, skipping")
		return
	}

	j.logger.Info("starting weekly stats jobs")
	ctx := context.Background()

	accounts, err := j.repo.GetPollableAccounts(ctx)
	if err != nil {
		j.logger.Error("failed to load accounts for weekly jobs", "error", err)
		return
	}

	for i := range accounts {
		account := accounts[i]
		if err := j.publishWeeklyReport(ctx, &account); err != nil {
			j.logger.Error("weekly report failed for account",
				"account_id", account.ID, "error", err)
		}
	}

	j.withAccountsLocked(accounts, func() {
		if count, err := j.repo.ResetWeeklyExpenses(ctx); err != nil {
			j.logger.Error("failed to reset weekly expense counters", "error", err)
		} else if count > 0 {
			j.logger.Info("weekly expense counters reset", "accounts", count)
		}
	})

	j.logger.Info("weekly stats jobs finished")
}

func (j *Jobs) publishWeeklyReport(ctx context.Context, account *domain.Account) error {
	lock := j.accountLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	loc := accountLocation(account)
	today := j.today(loc)
	weekStart := today.AddDate(0, 0, -7)
	weekEnd := today.AddDate(0, 0, -1)
	prevStart := today.AddDate(0, 0, -14)
	prevEnd := today.AddDate(0, 0, -8)

	current, err := j.repo.GetSnapshotRange(ctx, account.ID, weekStart, weekEnd)
	if err != nil {
		return fmt.Errorf("failed to load current week: %w", err)
	}
	previous, err := j.repo.GetSnapshotRange(ctx, account.ID, prevStart, prevEnd)
	if err != nil {
		return fmt.Errorf("failed to load previous week: %w", err)
	}

	trend := RangeTrend(account.ID, current, previous, weekStart, weekEnd)
	event := domain.ReportEvent{
		EventID:   uuid.NewString(),
		AccountID: account.ID,
		Account:   account.Name,
		Period:    fmt.Sprintf("%s - %s", weekStart.Format("2006-01-02"), weekEnd.Format("2006-01-02")),
		Trend:     trend,
		CreatedAt: j.now(),
	}
	if err := j.publisher.Publish(ctx, routingWeeklyReport, event); err != nil {
		j.logger.Error("failed to publish weekly report",
			"account_id", account.ID, "error", err)
	}
	return nil
}

func (j *Jobs) snapshotOrNil(ctx context.Context, accountID string, date time.Time) (*domain.DailyStats, error) {
	stats, err := j.repo.GetSnapshot(ctx, accountID, date)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return stats, nil
}

func (j *Jobs) today(loc *time.Location) time.Time {
	now := j.now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}
