package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/sellerpulse/stats-service/internal/config"
	"github.com/sellerpulse/stats-service/internal/domain"
	"github.com/sellerpulse/stats-service/internal/store"
	"github.com/sellerpulse/stats-service/pkg/marketclient"
)

func dayKey(accountID string, date time.Time) string {
	return accountID + "|" + date.Format("2006-01-02")
}

type stubRepo struct {
	accounts       []domain.Account
	pollList       []domain.Account // stale tick-start listing, when set
	snapshots      map[string]*domain.DailyStats
	upserts        []domain.DailyStats
	balanceUpdates []domain.Account
	dailyResets    int
	weeklyResets   int
	purgeThreshold time.Time
}

func newStubRepo() *stubRepo {
	return &stubRepo{snapshots: make(map[string]*domain.DailyStats)}
}

func (s *stubRepo) addSnapshot(stats domain.DailyStats) {
	copied := stats
	s.snapshots[dayKey(stats.AccountID, stats.Date)] = &copied
}

func (s *stubRepo) GetPollableAccounts(ctx context.Context) ([]domain.Account, error) {
	if s.pollList != nil {
		return s.pollList, nil
	}
	return s.accounts, nil
}

func (s *stubRepo) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	for i := range s.accounts {
		if s.accounts[i].ID == accountID {
			copied := s.accounts[i]
			return &copied, nil
		}
	}
	return nil, store.ErrSnapshotNotFound
}

func (s *stubRepo) UpdateBalanceState(ctx context.Context, acc *domain.Account) error {
	s.balanceUpdates = append(s.balanceUpdates, *acc)
	for i := range s.accounts {
		if s.accounts[i].ID == acc.ID {
			s.accounts[i] = *acc
		}
	}
	return nil
}

func (s *stubRepo) ResetDailyExpenses(ctx context.Context) (int64, error) {
	s.dailyResets++
	return int64(len(s.accounts)), nil
}

func (s *stubRepo) ResetWeeklyExpenses(ctx context.Context) (int64, error) {
	s.weeklyResets++
	return int64(len(s.accounts)), nil
}

func (s *stubRepo) SnapshotExists(ctx context.Context, accountID string, date time.Time) (bool, error) {
	_, ok := s.snapshots[dayKey(accountID, date)]
	return ok, nil
}

func (s *stubRepo) UpsertSnapshot(ctx context.Context, stats *domain.DailyStats) error {
	s.upserts = append(s.upserts, *stats)
	s.addSnapshot(*stats)
	return nil
}

func (s *stubRepo) GetSnapshot(ctx context.Context, accountID string, date time.Time) (*domain.DailyStats, error) {
	if stats, ok := s.snapshots[dayKey(accountID, date)]; ok {
		copied := *stats
		return &copied, nil
	}
	return nil, store.ErrSnapshotNotFound
}

func (s *stubRepo) GetSnapshotRange(ctx context.Context, accountID string, fromDate, toDate time.Time) ([]domain.DailyStats, error) {
	var rows []domain.DailyStats
	for _, stats := range s.snapshots {
		if stats.AccountID != accountID {
			continue
		}
		if stats.Date.Before(fromDate) || stats.Date.After(toDate) {
			continue
		}
		rows = append(rows, *stats)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

func (s *stubRepo) DeleteSnapshotsOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	s.purgeThreshold = threshold
	return 0, nil
}

type stubSession struct {
	calls        marketclient.CallStats
	callsErr     error
	callsFrom    time.Time
	callsTo      time.Time
	chats        int
	chatsErr     error
	phones       int
	phonesErr    error
	rating       float64
	ratingErr    error
	reviews      marketclient.ReviewStats
	reviewsErr   error
	items        marketclient.ItemList
	itemsErr     error
	itemStats    marketclient.ItemStats
	itemStatsErr error
	balance      marketclient.Balance
	balanceErr   error
	expenseOps   []marketclient.ExpenseOperation
	expenseErr   error

	itemStatsRequests [][]int64
}

func (s *stubSession) FetchCalls(ctx context.Context, from, to time.Time) (marketclient.CallStats, error) {
	s.callsFrom, s.callsTo = from, to
	return s.calls, s.callsErr
}

func (s *stubSession) FetchChats(ctx context.Context, from time.Time) (int, error) {
	return s.chats, s.chatsErr
}

func (s *stubSession) FetchPhoneReveals(ctx context.Context, from time.Time) (int, error) {
	return s.phones, s.phonesErr
}

func (s *stubSession) FetchRating(ctx context.Context) (float64, error) {
	return s.rating, s.ratingErr
}

func (s *stubSession) FetchReviews(ctx context.Context, from, to time.Time) (marketclient.ReviewStats, error) {
	return s.reviews, s.reviewsErr
}

func (s *stubSession) FetchActiveItems(ctx context.Context) (marketclient.ItemList, error) {
	return s.items, s.itemsErr
}

func (s *stubSession) FetchItemStats(ctx context.Context, itemIDs []int64, from, to time.Time) (marketclient.ItemStats, error) {
	s.itemStatsRequests = append(s.itemStatsRequests, itemIDs)
	return s.itemStats, s.itemStatsErr
}

func (s *stubSession) FetchBalance(ctx context.Context) (marketclient.Balance, error) {
	return s.balance, s.balanceErr
}

func (s *stubSession) FetchExpenseOperations(ctx context.Context, from, to time.Time) ([]marketclient.ExpenseOperation, error) {
	return s.expenseOps, s.expenseErr
}

type stubSource struct {
	session *stubSession
	authErr error
}

func (s *stubSource) Authenticate(ctx context.Context, clientID, clientSecret string) (MetricSession, error) {
	if s.authErr != nil {
		return nil, s.authErr
	}
	return s.session, nil
}

type publishedEvent struct {
	routingKey string
	event      any
}

type stubPublisher struct {
	events []publishedEvent
}

func (s *stubPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	s.events = append(s.events, publishedEvent{routingKey: routingKey, event: event})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJobs(repo *stubRepo, source MetricSource, publisher *stubPublisher, now time.Time) *Jobs {
	logger := testLogger()
	cfg := config.Config{BackfillDays: 2, RetentionDays: 30}
	builder := NewSnapshotBuilder(source, repo, nil, logger)
	builder.now = func() time.Time { return now }
	backfill := NewBackfill(builder, repo, 0, logger)
	backfill.sleep = func(time.Duration) {}
	accumulator := NewExpenseAccumulator(logger)
	jobs := NewJobs(repo, source, publisher, builder, backfill, accumulator, logger, cfg)
	jobs.now = func() time.Time { return now }
	return jobs
}

func utcDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestRunDailyPipeline_PublishesAnomalyAndReport(t *testing.T) {
	now := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	today := utcDay(2025, 6, 11)
	repo := newStubRepo()
	repo.accounts = []domain.Account{{ID: "acc-1", Name: "Main", ClientID: "id", ClientSecret: "secret"}}

	// Pre-populate every backfill date so the pipeline runs on stored data.
	for d := today.AddDate(0, 0, -2); !d.After(today); d = d.AddDate(0, 0, 1) {
		repo.addSnapshot(domain.DailyStats{AccountID: "acc-1", Date: d})
	}
	repo.addSnapshot(domain.DailyStats{AccountID: "acc-1", Date: today.AddDate(0, 0, -1), TotalCalls: 3})
	repo.addSnapshot(domain.DailyStats{AccountID: "acc-1", Date: today.AddDate(0, 0, -2), TotalCalls: 10})

	publisher := &stubPublisher{}
	jobs := newTestJobs(repo, &stubSource{session: &stubSession{}}, publisher, now)

	jobs.RunDailyPipeline()

	if len(publisher.events) != 2 {
		t.Fatalf("expected anomaly alert and daily report, got %d events", len(publisher.events))
	}
	if publisher.events[0].routingKey != "stats.anomaly.detected" {
		t.Fatalf("expected anomaly event first, got %q", publisher.events[0].routingKey)
	}
	alert, ok := publisher.events[0].event.(domain.AnomalyAlertEvent)
	if !ok {
		t.Fatalf("expected AnomalyAlertEvent, got %T", publisher.events[0].event)
	}
	if len(alert.Anomalies) != 1 || alert.Anomalies[0].Type != domain.AnomalyCallsChange {
		t.Fatalf("expected one calls_change anomaly, got %+v", alert.Anomalies)
	}
	if publisher.events[1].routingKey != "stats.report.daily" {
		t.Fatalf("expected daily report event, got %q", publisher.events[1].routingKey)
	}
	if repo.dailyResets != 1 {
		t.Fatalf("expected exactly one daily expense reset, got %d", repo.dailyResets)
	}
	wantThreshold := today.AddDate(0, 0, -30)
	if !repo.purgeThreshold.Equal(wantThreshold) {
		t.Fatalf("expected purge threshold %v, got %v", wantThreshold, repo.purgeThreshold)
	}
}

func TestRunDailyPipeline_MissingYesterdaySkipsDetection(t *testing.T) {
	now := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.accounts = []domain.Account{{ID: "acc-1", ClientID: "id", ClientSecret: "secret"}}

	publisher := &stubPublisher{}
	// Authentication fails, so backfill cannot create the missing rows.
	source := &stubSource{authErr: context.DeadlineExceeded}
	jobs := newTestJobs(repo, source, publisher, now)

	jobs.RunDailyPipeline()

	if len(publisher.events) != 0 {
		t.Fatalf("expected no events without yesterday's snapshot, got %d", len(publisher.events))
	}
	if repo.dailyResets != 1 {
		t.Fatal("expected daily reset to run even when detection is skipped")
	}
}

func TestRunWeeklyJobs_SkipsOutsideMonday(t *testing.T) {
	now := time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC) // Wednesday
	repo := newStubRepo()
	repo.accounts = []domain.Account{{ID: "acc-1", ClientID: "id", ClientSecret: "secret"}}

	publisher := &stubPublisher{}
	jobs := newTestJobs(repo, &stubSource{session: &stubSession{}}, publisher, now)

	jobs.RunWeeklyJobs()

	if repo.weeklyResets != 0 {
		t.Fatal("expected weekly reset to be skipped outside Monday")
	}
	if len(publisher.events) != 0 {
		t.Fatal("expected no weekly reports outside Monday")
	}
}

func TestRunWeeklyJobs_PublishesRollupAndResets(t *testing.T) {
	now := time.Date(2025, 6, 9, 9, 30, 0, 0, time.UTC) // Monday
	today := utcDay(2025, 6, 9)
	repo := newStubRepo()
	repo.accounts = []domain.Account{{ID: "acc-1", Name: "Main", ClientID: "id", ClientSecret: "secret"}}

	for i := 1; i <= 7; i++ {
		repo.addSnapshot(domain.DailyStats{
			AccountID: "acc-1", Date: today.AddDate(0, 0, -i), Views: 100, Contacts: 10,
		})
	}

	publisher := &stubPublisher{}
	jobs := newTestJobs(repo, &stubSource{session: &stubSession{}}, publisher, now)

	jobs.RunWeeklyJobs()

	if len(publisher.events) != 1 {
		t.Fatalf("expected one weekly report, got %d", len(publisher.events))
	}
	if publisher.events[0].routingKey != "stats.report.weekly" {
		t.Fatalf("expected weekly report routing key, got %q", publisher.events[0].routingKey)
	}
	report, ok := publisher.events[0].event.(domain.ReportEvent)
	if !ok {
		t.Fatalf("expected ReportEvent, got %T", publisher.events[0].event)
	}
	if report.Trend.DaysWithData != 7 {
		t.Fatalf("expected 7 days with data, got %d", report.Trend.DaysWithData)
	}
	if repo.weeklyResets != 1 {
		t.Fatalf("expected one weekly reset, got %d", repo.weeklyResets)
	}
}

func TestPollExpenses_OverlappingTicksUseFreshStateUnderLock(t *testing.T) {
	now := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	baseline := now.Add(-time.Minute)
	repo := newStubRepo()
	repo.accounts = []domain.Account{{
		ID: "acc-1", ClientID: "id", ClientSecret: "secret",
		LastBalance: 1000, LastBalanceCheckAt: &baseline,
	}}
	// Both ticks listed the account while the balance was still 1000; the
	// per-account work must reload the row instead of trusting that copy.
	repo.pollList = []domain.Account{repo.accounts[0]}

	session := &stubSession{balance: marketclient.Balance{Real: 900}}
	jobs := newTestJobs(repo, &stubSource{session: session}, &stubPublisher{}, now)

	jobs.PollExpenses() // spends 100
	session.balance = marketclient.Balance{Real: 1200}
	jobs.PollExpenses() // a deposit lands

	if len(repo.balanceUpdates) != 2 {
		t.Fatalf("expected two balance updates, got %d", len(repo.balanceUpdates))
	}
	if repo.balanceUpdates[0].DailyExpense != 100 {
		t.Fatalf("expected first tick to record 100, got %v", repo.balanceUpdates[0].DailyExpense)
	}
	// The deposit tick must keep the accumulated 100, not rewind it to the
	// figure implied by its stale listing.
	if repo.balanceUpdates[1].DailyExpense != 100 {
		t.Fatalf("stale listing wiped the accumulated expense: got %v", repo.balanceUpdates[1].DailyExpense)
	}
	if repo.balanceUpdates[1].LastBalance != 1200 {
		t.Fatalf("expected baseline to follow the deposit, got %v", repo.balanceUpdates[1].LastBalance)
	}
}

func TestPollExpenses_AccumulatesAndPersists(t *testing.T) {
	now := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	baseline := now.Add(-time.Minute)
	repo := newStubRepo()
	repo.accounts = []domain.Account{{
		ID: "acc-1", ClientID: "id", ClientSecret: "secret",
		LastBalance: 1000, LastBalanceCheckAt: &baseline,
	}}

	session := &stubSession{balance: marketclient.Balance{Real: 800, Bonus: 50}}
	jobs := newTestJobs(repo, &stubSource{session: session}, &stubPublisher{}, now)

	jobs.PollExpenses()

	if len(repo.balanceUpdates) != 1 {
		t.Fatalf("expected one balance update, got %d", len(repo.balanceUpdates))
	}
	updated := repo.balanceUpdates[0]
	if updated.DailyExpense != 150 {
		t.Fatalf("expected daily expense 150, got %v", updated.DailyExpense)
	}
	if updated.LastBalance != 850 {
		t.Fatalf("expected last balance 850, got %v", updated.LastBalance)
	}
}
