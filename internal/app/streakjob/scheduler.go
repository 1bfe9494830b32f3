package streakjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/salah-ledger/salah/internal/domain"
)

// ─── Scheduler ──────────────────────────────────────────────────────────────

// DefaultSchedule runs the batch shortly after midnight.
const DefaultSchedule = "5 0 * * *"

// Scheduler runs RunAll on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     *Job
	lister  domain.DocumentLister
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler registers the batch at spec (standard 5-field cron syntax)
// evaluated in loc. Each run is bounded by timeout.
func NewScheduler(job *Job, lister domain.DocumentLister, spec string, loc *time.Location, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		job:     job,
		lister:  lister,
		timeout: timeout,
		logger:  job.logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.job.RunAll(ctx, s.lister); err != nil {
		s.logger.Error("streak batch failed", "err", err)
	}
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running batch to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next reports the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
