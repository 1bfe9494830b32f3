package prayersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/salah-ledger/salah/internal/cache"
	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/observability"
)

// ─── UpdateStatus ───────────────────────────────────────────────────────────

// UpdateStatus sets slot to status on today's day for userID.
//
// The change is visible in Snapshot before the store round trip starts.
// Only one update runs at a time; a second concurrent call fails with
// ErrBusy. On commit failure the day and total are restored exactly and the
// store error is returned.
func (e *Engine) UpdateStatus(ctx context.Context, userID string, slot domain.PrayerSlot, status domain.PrayerStatus) (Result, error) {
	if !slot.Valid() {
		return Result{}, fmt.Errorf("%w: %d", domain.ErrInvalidSlot, int(slot))
	}
	if !status.Valid() {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, string(status))
	}
	if userID == "" {
		return Result{}, domain.ErrNotSignedIn
	}

	release, err := e.acquire()
	if err != nil {
		observability.StatusUpdates.WithLabelValues("busy").Inc()
		return Result{}, err
	}
	defer release()

	if err := e.ensureLoaded(ctx, userID); err != nil {
		observability.StatusUpdates.WithLabelValues("load_failed").Inc()
		return Result{}, err
	}

	m, err := e.apply(userID, slot, status)
	if err != nil {
		return Result{}, err
	}

	ctx = observability.WithTraceID(ctx, m.id)
	span := e.tracer.StartSpan(ctx, "prayersync.commit", map[string]string{
		"user": userID, "day": m.next.DayID, "slot": slot.String(), "status": string(status),
	})
	start := time.Now()
	commitErr := e.commit(ctx, m)
	observability.CommitDuration.Observe(time.Since(start).Seconds())
	e.tracer.EndSpan(span, commitErr)

	if commitErr != nil {
		return e.revert(m, commitErr)
	}
	return e.confirm(m)
}

// apply runs the Intent → Applied step: the working copy and its credit
// delta become the engine state immediately.
func (e *Engine) apply(userID string, slot domain.PrayerSlot, status domain.PrayerStatus) (*mutation, error) {
	now := e.now()

	e.mu.Lock()
	if e.userID != userID || !e.loaded {
		e.mu.Unlock()
		return nil, domain.ErrSuperseded
	}

	m := newMutation(e.newID(), userID, e.gen, slot, status)
	m.prevDay = e.day
	m.prevTotal = e.ledger.TotalCredits

	current := e.day
	if id := daybound.DayID(now, e.loc); id != current.DayID {
		// Rollover while loaded: today starts empty.
		m.rollover = true
		current = domain.NewPrayerDay(id, daybound.StartOfDay(now, e.loc))
		e.cache.InvalidateDay()
	}

	cctx := e.creditContextLocked(now)
	current.Credits = e.rules.CreditsFor(current, cctx)

	next := current.With(slot, status)
	next.MenstrualExempt = e.exempt || next.HasStatus(domain.StatusNotApplicable)
	next.Credits = e.rules.CreditsFor(next, cctx)

	m.next = next
	m.delta = next.Credits - current.Credits

	e.day = next
	e.ledger.TotalCredits = domain.ClampTotal(m.prevTotal, int64(m.delta))
	e.saving = true
	e.lastErr = nil
	e.current = m
	e.cacheTodayLocked()
	e.publishLocked()
	if err := m.advance(PhaseApplied); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	applied := e.stateLocked()
	e.mu.Unlock()

	e.notifyApplied(applied)
	e.logger.Debug("status applied",
		"user", userID, "day", next.DayID, "slot", slot.String(), "status", string(status),
		"delta", m.delta, "mutation", m.id, "rollover", m.rollover)
	return m, nil
}

// commit persists the day document and the new running total in one
// transaction. A ledger already stamped with this mutation id means an
// earlier attempt landed, so the delta is not applied twice.
func (e *Engine) commit(ctx context.Context, m *mutation) error {
	e.mu.Lock()
	zone := e.zone
	createdAt := e.ledger.CreatedAt
	e.mu.Unlock()

	return e.retrier.Run(ctx, "prayersync.commit", func(ctx context.Context) error {
		return e.store.RunTransaction(ctx, func(ctx context.Context, tx domain.Txn) error {
			remote := domain.NewUserLedger(m.userID, time.Time{})
			exists := true
			f, err := tx.Get(ctx, domain.UsersCollection, m.userID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				exists = false
			case err != nil:
				return err
			default:
				if remote, err = domain.LedgerFromFields(m.userID, f); err != nil {
					return err
				}
			}

			if exists && remote.LastMutationID == m.id {
				m.committedTotal = remote.TotalCredits
				return nil
			}

			total := domain.ClampTotal(remote.TotalCredits, int64(m.delta))
			if err := tx.Set(domain.DaysCollection(m.userID), m.next.DayID, domain.PrayerDayFields(m.next)); err != nil {
				return err
			}
			fields := domain.Fields{
				domain.FieldTotalCredits:   total,
				domain.FieldLastMutationID: m.id,
				domain.FieldLastUpdatedAt:  domain.ServerTimestamp,
			}
			if remote.CreatedAt.IsZero() && !createdAt.IsZero() {
				fields[domain.FieldCreatedAt] = createdAt.UTC().Format(time.RFC3339Nano)
			}
			if !exists {
				fields[domain.FieldCurrentStreak] = 0
				fields[domain.FieldGender] = string(domain.GenderUnspecified)
			}
			if remote.Timezone == "" && zone != "" {
				fields[domain.FieldTimezone] = zone
			}
			if err := tx.SetMerge(domain.UsersCollection, m.userID, fields); err != nil {
				return err
			}
			m.committedTotal = total
			return nil
		})
	})
}

// confirm runs Committed → Confirmed: the local total is reconciled with
// the committed one and the history log write is issued.
func (e *Engine) confirm(m *mutation) (Result, error) {
	e.mu.Lock()
	if err := m.advance(PhaseCommitted); err != nil {
		e.mu.Unlock()
		return Result{}, err
	}
	if e.gen != m.gen || e.current != m {
		m.advance(PhaseAbandoned)
		e.mu.Unlock()
		observability.StatusUpdates.WithLabelValues("superseded").Inc()
		return Result{}, domain.ErrSuperseded
	}
	if err := m.advance(PhaseConfirmed); err != nil {
		e.mu.Unlock()
		return Result{}, err
	}

	e.ledger.TotalCredits = m.committedTotal
	e.ledger.LastMutationID = m.id
	e.saving = false
	e.current = nil
	e.cacheTodayLocked()
	e.publishLocked()

	res := Result{
		MutationID:   m.id,
		Day:          e.day,
		Delta:        m.delta,
		TotalCredits: m.committedTotal,
		Rollover:     m.rollover,
	}
	log := domain.PrayerLog{
		DayID:  m.next.DayID,
		Date:   m.next.Date,
		Slot:   m.slot,
		Status: m.status,
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go e.writeLog(m.userID, log)

	observability.StatusUpdates.WithLabelValues("confirmed").Inc()
	e.notifyConfirmed(res)
	return res, nil
}

// revert runs Applied → Reverted: the exact pre-call day and total come
// back, in memory and in the cache.
func (e *Engine) revert(m *mutation, cause error) (Result, error) {
	e.mu.Lock()
	if e.gen != m.gen || e.current != m {
		m.advance(PhaseAbandoned)
		e.mu.Unlock()
		observability.StatusUpdates.WithLabelValues("superseded").Inc()
		return Result{}, domain.ErrSuperseded
	}
	if err := m.advance(PhaseReverted); err != nil {
		e.mu.Unlock()
		return Result{}, err
	}

	if m.next.DayID != m.prevDay.DayID {
		e.cache.Invalidate(cache.TodayKey(m.next.DayID))
	}
	e.day = m.prevDay
	e.ledger.TotalCredits = m.prevTotal
	e.saving = false
	e.lastErr = cause
	e.current = nil
	e.cacheTodayLocked()
	e.publishLocked()
	e.mu.Unlock()

	observability.StatusUpdates.WithLabelValues("reverted").Inc()
	e.logger.Warn("status update reverted",
		"user", m.userID, "day", m.next.DayID, "slot", m.slot.String(), "mutation", m.id, "err", cause)
	e.notifyReverted(m.slot, cause)
	return Result{}, fmt.Errorf("update %s: %w", m.slot, cause)
}

// writeLog records the per-slot history entry. Failures are logged and
// counted; they never undo the committed credit change.
func (e *Engine) writeLog(userID string, l domain.PrayerLog) {
	defer e.bg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.logTimeout)
	defer cancel()

	span := e.tracer.StartSpan(ctx, "prayersync.log_write", map[string]string{"user": userID, "log": l.ID()})
	err := e.retrier.Run(ctx, "prayersync.log_write", func(ctx context.Context) error {
		return e.store.SetMerge(ctx, domain.LogsCollection(userID), l.ID(), domain.PrayerLogFields(l))
	})
	e.tracer.EndSpan(span, err)

	if err != nil {
		observability.LogWrites.WithLabelValues("error").Inc()
		e.logger.Warn("prayer log write failed", "user", userID, "log", l.ID(), "err", err)
	} else {
		observability.LogWrites.WithLabelValues("ok").Inc()
		e.cache.InvalidatePrefix(cache.HistoryPrefix(userID))
	}
	e.notifyLogWritten(l, err)
}
