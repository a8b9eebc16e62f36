/**
 * @description
 * Backfill: guarantees a contiguous snapshot history per account by
 * detecting missing dates in a range and driving the snapshot builder to
 * fill them, oldest first, with a fixed inter-call delay to respect
 * upstream rate limits.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sellerpulse/stats-service/internal/domain"
)

// Backfill fills gaps in an account's snapshot history.
type Backfill struct {
	builder *SnapshotBuilder
	repo    Repository
	delay   time.Duration
	logger  *slog.Logger
	sleep   func(time.Duration)
}

// NewBackfill creates a backfill runner. delay is the pause between
// consecutive builds; it is an approximate rate limit, not a token bucket.
func NewBackfill(builder *SnapshotBuilder, repo Repository, delay time.Duration, logger *slog.Logger) *Backfill {
	return &Backfill{
		builder: builder,
		repo:    repo,
		delay:   delay,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Ensure builds a snapshot for every date in [from, to] that has no row
// yet, oldest to newest. Dates that already have a row are skipped without
// touching the upstream. A credential-exchange failure aborts the whole run
// for this account; it is retried at the next scheduled tick.
func (b *Backfill) Ensure(ctx context.Context, account *domain.Account, from, to time.Time) error {
	loc := accountLocation(account)
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)

	built := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		exists, err := b.repo.SnapshotExists(ctx, account.ID, day)
		if err != nil {
			return fmt.Errorf("failed to check snapshot for %s: %w", day.Format("2006-01-02"), err)
		}
		if exists {
			continue
		}

		if built > 0 {
			b.sleep(b.delay)
		}

		if _, err := b.builder.Build(ctx, account, day); err != nil {
			return fmt.Errorf("backfill build failed for %s: %w", day.Format("2006-01-02"), err)
		}
		built++

		b.logger.Info("backfilled snapshot",
			"account_id", account.ID, "date", day.Format("2006-01-02"))
	}

	if built > 0 {
		b.logger.Info("backfill complete", "account_id", account.ID, "built", built)
	}
	return nil
}
