package prayersync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/salah-ledger/salah/internal/cache"
	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
)

// ─── History ────────────────────────────────────────────────────────────────

// DayHistory is one calendar day of logged statuses.
type DayHistory struct {
	DayID    string                                `json:"day_id"`
	Statuses [domain.SlotCount]domain.PrayerStatus `json:"statuses"`
}

// Completed is the number of slots logged as performed.
func (d DayHistory) Completed() int {
	n := 0
	for _, s := range d.Statuses {
		if s.Completed() {
			n++
		}
	}
	return n
}

// WeekHistory is seven consecutive days starting at WeekStart.
type WeekHistory struct {
	WeekStart time.Time    `json:"week_start"`
	Days      []DayHistory `json:"days"`
}

// Completed sums completed slots across the week.
func (w WeekHistory) Completed() int {
	n := 0
	for _, d := range w.Days {
		n += d.Completed()
	}
	return n
}

// LoadHistory returns the last weeks weeks of per-slot logs, current week
// first, bucketed in the history zone. A missing log reads as not_logged.
func (e *Engine) LoadHistory(ctx context.Context, userID string, weeks int) ([]WeekHistory, error) {
	if userID == "" {
		return nil, domain.ErrNotSignedIn
	}
	if weeks <= 0 {
		weeks = 1
	}
	key := cache.HistoryKey(userID, weeks)
	if hit, ok := cache.Lookup[[]WeekHistory](e.cache, key); ok {
		return cloneWeeks(hit), nil
	}

	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()

	loc := e.historyLocation()
	starts := e.resolver.LastNWeekStarts(weeks, loc)

	out := make([]WeekHistory, len(starts))
	for i, start := range starts {
		w := WeekHistory{WeekStart: start, Days: make([]DayHistory, 7)}
		for d := range w.Days {
			w.Days[d].DayID = daybound.DayID(start.AddDate(0, 0, d), loc)
			for s := range w.Days[d].Statuses {
				w.Days[d].Statuses[s] = domain.StatusNotLogged
			}
		}
		out[i] = w
	}

	span := e.tracer.StartSpan(ctx, "prayersync.load_history", map[string]string{"user": userID})
	err := e.fetchHistory(ctx, userID, out)
	e.tracer.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return nil, domain.ErrSuperseded
	}
	e.cache.Set(key, out)
	return cloneWeeks(out), nil
}

// cloneWeeks copies weeks so callers never share the cached slices.
func cloneWeeks(weeks []WeekHistory) []WeekHistory {
	out := make([]WeekHistory, len(weeks))
	for i, w := range weeks {
		out[i] = WeekHistory{WeekStart: w.WeekStart, Days: slices.Clone(w.Days)}
	}
	return out
}

// fetchHistory fills weeks in place. Each goroutine owns one status cell.
func (e *Engine) fetchHistory(ctx context.Context, userID string, weeks []WeekHistory) error {
	collection := domain.LogsCollection(userID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.historyParallelism)
	for wi := range weeks {
		for di := range weeks[wi].Days {
			day := &weeks[wi].Days[di]
			for _, slot := range domain.AllSlots() {
				g.Go(func() error {
					f, err := e.get(gctx, collection, domain.LogID(day.DayID, slot))
					if err != nil || f == nil {
						return err
					}
					l, err := domain.PrayerLogFromFields(f)
					if err != nil {
						return err
					}
					day.Statuses[slot] = l.Status
					return nil
				})
			}
		}
	}
	return g.Wait()
}

func (e *Engine) historyLocation() *time.Location {
	if e.historyZone != "" {
		return e.resolver.Location(e.historyZone)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loc
}
