package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/salah-ledger/salah/internal/app/prayersync"
	"github.com/salah-ledger/salah/internal/app/session"
	"github.com/salah-ledger/salah/internal/app/streakjob"
	"github.com/salah-ledger/salah/internal/cache"
	"github.com/salah-ledger/salah/internal/daemon"
	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/observability"
	"github.com/salah-ledger/salah/internal/infra/remote"
	"github.com/salah-ledger/salah/internal/infra/sqlite"
	"github.com/salah-ledger/salah/internal/resilience"
)

// ─── Runtime Wiring ─────────────────────────────────────────────────────────
// Every collaborator is built here and passed down; nothing is global.

type runtime struct {
	cfg      daemon.Config
	logger   *slog.Logger
	resolver *daybound.Resolver
	retrier  *resilience.Retrier
	store    domain.DocumentStore
	streaks  *streakjob.Job
	session  *session.Manager
	tracer   *observability.Tracer
	engine   *prayersync.Engine

	stderr  io.Writer
	closers []func() error
}

// openRuntime builds the sync engine for the configured user.
func openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Sync.UserID == "" {
		return nil, fmt.Errorf("%w: set [sync].user_id, SALAH_USER or --user", domain.ErrNotSignedIn)
	}

	rt := &runtime{cfg: cfg, stderr: cmd.ErrOrStderr()}
	rt.logger = daemon.NewLogger(cfg.Log, rt.stderr)
	rt.resolver = daybound.NewResolver(cfg.Sync.FallbackTimezone)
	rt.resolver.FirstWeekday = cfg.Sync.Weekday()
	rt.retrier = resilience.NewRetrier(cfg.Retry.Policy(), rt.logger)

	if rt.store, err = rt.openStore(); err != nil {
		return nil, err
	}

	rt.streaks = streakjob.New(rt.store, streakjob.Config{
		MinCompleted: cfg.Streak.MinCompleted,
		LookbackDays: cfg.Streak.LookbackDays,
	}, rt.retrier, rt.resolver, rt.logger)

	rt.tracer = observability.NewTracer(observability.TracerConfig{Enabled: flagTrace})
	rt.session = session.NewManager(cfg.Sync.UserID)
	rt.engine = prayersync.New(rt.store,
		prayersync.WithRules(cfg.Credits),
		prayersync.WithResolver(rt.resolver),
		prayersync.WithCache(cache.New(cfg.Sync.Cache)),
		prayersync.WithRetrier(rt.retrier),
		prayersync.WithStreakJob(rt.streaks),
		prayersync.WithLogger(rt.logger),
		prayersync.WithTracer(rt.tracer),
		prayersync.WithTimezone(cfg.Sync.Timezone),
		prayersync.WithHistoryTimezone(cfg.Sync.HistoryTimezone),
		prayersync.WithHistoryParallelism(cfg.Sync.HistoryParallelism),
	)
	rt.closers = append(rt.closers, func() error {
		rt.engine.Close()
		return nil
	})
	cancel := rt.engine.Watch(rt.session)
	rt.closers = append(rt.closers, func() error { cancel(); return nil })
	rt.engine.SetExemptionMode(cfg.Sync.Exempt)
	return rt, nil
}

// openStore picks the remote server when configured, else local SQLite.
func (rt *runtime) openStore() (domain.DocumentStore, error) {
	if url := rt.cfg.Sync.RemoteURL; url != "" {
		c := remote.New(url,
			remote.WithTimeout(daemon.Duration(rt.cfg.Sync.RemoteTimeout, 10*time.Second)),
			remote.WithToken(rt.cfg.Sync.Token),
		)
		if rt.cfg.Store.MaxAttempts > 0 {
			c.MaxAttempts = rt.cfg.Store.MaxAttempts
		}
		rt.logger.Debug("using remote store", "url", url)
		return c, nil
	}

	db, err := sqlite.Open(rt.cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if rt.cfg.Store.MaxAttempts > 0 {
		db.MaxAttempts = rt.cfg.Store.MaxAttempts
	}
	rt.closers = append(rt.closers, db.Close)
	rt.logger.Debug("using local store", "dir", rt.cfg.Store.Dir)
	return db, nil
}

func (rt *runtime) userID() string { return rt.session.CurrentUserID() }

// Close runs closers in reverse order and prints spans when tracing.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if flagTrace {
		for _, s := range rt.tracer.Spans(0) {
			fmt.Fprintf(rt.stderr, "trace %-28s %8s %v\n", s.Operation, s.Duration.Round(time.Microsecond), s.Attrs)
		}
	}
	return errors.Join(errs...)
}
