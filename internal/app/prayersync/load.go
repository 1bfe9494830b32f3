package prayersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salah-ledger/salah/internal/cache"
	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/resilience"
)

// ─── LoadToday ──────────────────────────────────────────────────────────────

// LoadToday returns today's PrayerDay for userID in the named zone, with
// credits recomputed. The session cache is consulted first. While an update
// is in flight the optimistic day is returned as is.
//
// A load overtaken by a newer load, a user change or a day rollover returns
// ErrSuperseded and applies nothing.
func (e *Engine) LoadToday(ctx context.Context, userID, timezone string) (domain.PrayerDay, error) {
	if userID == "" {
		return domain.PrayerDay{}, domain.ErrNotSignedIn
	}
	now := e.now()

	e.mu.Lock()
	if e.current != nil && e.userID == userID {
		day := e.day
		e.mu.Unlock()
		return day, nil
	}
	if e.userID != userID {
		e.mu.Unlock()
		e.HandleUserChanged(userID)
		e.mu.Lock()
	}
	if timezone == "" {
		timezone = e.zone
	}
	loc := e.resolver.Location(timezone)
	dayID := daybound.DayID(now, loc)

	if hit, ok := cache.Lookup[todayEntry](e.cache, cache.TodayKey(dayID)); ok && hit.userID == userID {
		e.zone, e.loc = timezone, loc
		e.ledger = hit.ledger
		e.day = e.withCreditsLocked(hit.day, now)
		e.loaded = true
		e.publishLocked()
		day := e.day
		e.mu.Unlock()
		return day, nil
	}

	e.loadSeq++
	seq, gen := e.loadSeq, e.gen
	e.mu.Unlock()

	span := e.tracer.StartSpan(ctx, "prayersync.load_today", map[string]string{"user": userID, "day": dayID})
	ledger, day, err := e.fetchToday(ctx, userID, dayID, now, loc)
	e.tracer.EndSpan(span, err)
	if err != nil {
		return domain.PrayerDay{}, fmt.Errorf("load today: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.loadSeq != seq || e.current != nil || daybound.DayID(e.now(), loc) != dayID {
		return domain.PrayerDay{}, domain.ErrSuperseded
	}
	e.zone, e.loc = timezone, loc
	e.ledger = ledger
	e.day = e.withCreditsLocked(day, now)
	e.loaded = true
	e.cacheTodayLocked()
	e.publishLocked()
	return e.day, nil
}

// fetchToday reads the ledger and day documents in parallel. Missing
// documents yield fresh values.
func (e *Engine) fetchToday(ctx context.Context, userID, dayID string, now time.Time, loc *time.Location) (domain.UserLedger, domain.PrayerDay, error) {
	ledger := domain.NewUserLedger(userID, now)
	day := domain.NewPrayerDay(dayID, daybound.StartOfDay(now, loc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := e.get(gctx, domain.UsersCollection, userID)
		if err != nil || f == nil {
			return err
		}
		l, err := domain.LedgerFromFields(userID, f)
		if err != nil {
			return err
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		ledger = l
		return nil
	})
	g.Go(func() error {
		f, err := e.get(gctx, domain.DaysCollection(userID), dayID)
		if err != nil || f == nil {
			return err
		}
		d, err := domain.PrayerDayFromFields(dayID, f)
		if err != nil {
			return err
		}
		if d.Date.IsZero() {
			d.Date = day.Date
		}
		day = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.UserLedger{}, domain.PrayerDay{}, err
	}
	return ledger, day, nil
}

// get reads one document under retry. A missing document is (nil, nil).
func (e *Engine) get(ctx context.Context, collection, id string) (domain.Fields, error) {
	f, err := resilience.Do(ctx, e.retrier, "get "+collection, func(ctx context.Context) (domain.Fields, error) {
		return e.store.Get(ctx, collection, id)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return f, err
}

// withCreditsLocked returns d with its derived credits recomputed against
// the current ledger.
func (e *Engine) withCreditsLocked(d domain.PrayerDay, now time.Time) domain.PrayerDay {
	d.Credits = e.rules.CreditsFor(d, e.creditContextLocked(now))
	return d
}

// ensureLoaded loads today for userID unless it is already held.
func (e *Engine) ensureLoaded(ctx context.Context, userID string) error {
	e.mu.Lock()
	ready := e.loaded && e.userID == userID
	zone := e.zone
	e.mu.Unlock()
	if ready {
		return nil
	}
	_, err := e.LoadToday(ctx, userID, zone)
	return err
}
