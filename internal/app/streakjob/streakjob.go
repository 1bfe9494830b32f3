// Package streakjob recomputes the per-user streak counter in batch.
//
// The per-write path never touches the streak. Instead a job walks back day
// by day through the user's stored PrayerDay documents, a page at a time, and
// writes the resulting run length into the ledger's currentStreak field.
package streakjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/observability"
	"github.com/salah-ledger/salah/internal/resilience"
	"github.com/salah-ledger/salah/internal/streak"
)

// Config controls the walk.
type Config struct {
	MinCompleted int // slots a day needs to count (default: 3)
	LookbackDays int // hard limit on days examined (default: 365)
	PageDays     int // days fetched per parallel batch (default: 30)
	Parallelism  int // concurrent fetches within a batch (default: 8)
}

// DefaultConfig returns the standard walk settings.
func DefaultConfig() Config {
	return Config{
		MinCompleted: streak.DefaultMinCompleted,
		LookbackDays: 365,
		PageDays:     30,
		Parallelism:  8,
	}
}

// Job recomputes streaks against a document store.
type Job struct {
	store    domain.DocumentStore
	cfg      Config
	retrier  *resilience.Retrier
	resolver *daybound.Resolver
	logger   *slog.Logger
}

// New creates a job. A nil retrier or resolver gets the defaults.
func New(store domain.DocumentStore, cfg Config, retrier *resilience.Retrier, resolver *daybound.Resolver, logger *slog.Logger) *Job {
	def := DefaultConfig()
	if cfg.MinCompleted <= 0 {
		cfg.MinCompleted = def.MinCompleted
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.PageDays <= 0 {
		cfg.PageDays = def.PageDays
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retrier == nil {
		retrier = resilience.NewRetrier(resilience.DefaultPolicy(), logger)
	}
	if resolver == nil {
		resolver = daybound.NewResolver("UTC")
	}
	return &Job{
		store:    store,
		cfg:      cfg,
		retrier:  retrier,
		resolver: resolver,
		logger:   logger.With("component", "streakjob"),
	}
}

// Recompute derives userID's streak as of now in loc and stores it on the
// ledger. Today only contributes once it already qualifies, so an
// unfinished day never breaks the run.
func (j *Job) Recompute(ctx context.Context, userID string, loc *time.Location) (int, error) {
	n, err := j.recompute(ctx, userID, loc)
	if err != nil {
		observability.StreakRecomputes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("recompute streak for %s: %w", userID, err)
	}
	observability.StreakRecomputes.WithLabelValues("ok").Inc()
	return n, nil
}

func (j *Job) recompute(ctx context.Context, userID string, loc *time.Location) (int, error) {
	if userID == "" {
		return 0, domain.ErrNotSignedIn
	}
	today := j.resolver.Today(loc)

	collection := domain.DaysCollection(userID)
	first, err := j.fetchDay(ctx, collection, today)
	if err != nil {
		return 0, err
	}

	start, err := daybound.AddDays(today, -1)
	if err != nil {
		return 0, err
	}
	var days []domain.PrayerDay
	if first != nil && !first.MenstrualExempt && streak.Counts(*first, j.cfg.MinCompleted) {
		days = append(days, *first)
	}

	length := len(days)
	for walked := 0; walked < j.cfg.LookbackDays; walked += j.cfg.PageDays {
		size := min(j.cfg.PageDays, j.cfg.LookbackDays-walked)
		page, complete, err := j.fetchPage(ctx, collection, start, size)
		if err != nil {
			return 0, err
		}
		days = append(days, page...)

		var terminated bool
		length, terminated = streak.Scan(days, j.cfg.MinCompleted)
		if terminated || !complete {
			break
		}
		if start, err = daybound.AddDays(start, -size); err != nil {
			return 0, err
		}
	}

	err = j.retrier.Run(ctx, "streak.store", func(ctx context.Context) error {
		return j.store.SetMerge(ctx, domain.UsersCollection, userID, domain.Fields{
			domain.FieldCurrentStreak: length,
			domain.FieldLastUpdatedAt: domain.ServerTimestamp,
		})
	})
	if err != nil {
		return 0, err
	}
	j.logger.Debug("streak recomputed", "user", userID, "day", today, "streak", length)
	return length, nil
}

// fetchPage loads size consecutive days ending at newest, newest first.
// The page stops at the first missing day; complete reports whether none
// was missing.
func (j *Job) fetchPage(ctx context.Context, collection, newest string, size int) ([]domain.PrayerDay, bool, error) {
	results := make([]*domain.PrayerDay, size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Parallelism)
	for i := 0; i < size; i++ {
		id, err := daybound.AddDays(newest, -i)
		if err != nil {
			return nil, false, err
		}
		g.Go(func() error {
			d, err := j.fetchDay(gctx, collection, id)
			results[i] = d
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	page := make([]domain.PrayerDay, 0, size)
	for _, d := range results {
		if d == nil {
			return page, false, nil
		}
		page = append(page, *d)
	}
	return page, true, nil
}

// fetchDay returns nil for a day with no document.
func (j *Job) fetchDay(ctx context.Context, collection, dayID string) (*domain.PrayerDay, error) {
	f, err := resilience.Do(ctx, j.retrier, "streak.fetch_day", func(ctx context.Context) (domain.Fields, error) {
		return j.store.Get(ctx, collection, dayID)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := domain.PrayerDayFromFields(dayID, f)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ─── Batch ──────────────────────────────────────────────────────────────────

// RunAll recomputes every user in the users collection. Each user is
// evaluated in the timezone stored on their ledger. Failures do not stop the
// batch; they are joined into the returned error.
func (j *Job) RunAll(ctx context.Context, lister domain.DocumentLister) (int, error) {
	ids, err := lister.ListIDs(ctx, domain.UsersCollection)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	var errs []error
	done := 0
	for _, uid := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		loc, err := j.userLocation(ctx, uid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := j.Recompute(ctx, uid, loc); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	j.logger.Info("streak batch finished", "users", len(ids), "ok", done, "failed", len(ids)-done)
	return done, errors.Join(errs...)
}

func (j *Job) userLocation(ctx context.Context, userID string) (*time.Location, error) {
	f, err := j.store.Get(ctx, domain.UsersCollection, userID)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", userID, err)
	}
	l, err := domain.LedgerFromFields(userID, f)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", userID, err)
	}
	return j.resolver.Location(l.Timezone), nil
}
