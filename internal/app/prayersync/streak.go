package prayersync

import (
	"context"

	"github.com/salah-ledger/salah/internal/domain"
)

// RecomputeStreak recomputes userID's streak from stored days, then
// refreshes the local ledger and today's derived credits. It shares the
// update token, so it fails with ErrBusy while an update is in flight.
func (e *Engine) RecomputeStreak(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.ErrNotSignedIn
	}
	release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	e.mu.Lock()
	gen := e.gen
	loc := e.loc
	e.mu.Unlock()

	span := e.tracer.StartSpan(ctx, "prayersync.recompute_streak", map[string]string{"user": userID})
	n, err := e.streaks.Recompute(ctx, userID, loc)
	e.tracer.EndSpan(span, err)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return n, domain.ErrSuperseded
	}
	if e.userID != userID {
		// Another user's state is held; nothing local to refresh.
		return n, nil
	}
	e.ledger.CurrentStreak = n
	if e.loaded {
		e.day = e.withCreditsLocked(e.day, e.now())
		e.cacheTodayLocked()
	}
	e.publishLocked()
	return n, nil
}
