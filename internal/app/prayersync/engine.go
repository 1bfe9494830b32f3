// Package prayersync is the prayer state sync engine.
//
// The engine owns the authoritative in-memory PrayerDay for "today" and the
// user's running credit total. Status updates are applied locally first,
// then persisted through one store transaction that writes the day document
// and the new total together. A failed commit restores the exact pre-call
// state; a superseded one leaves everything alone.
package prayersync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salah-ledger/salah/internal/app/streakjob"
	"github.com/salah-ledger/salah/internal/cache"
	"github.com/salah-ledger/salah/internal/credit"
	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/observability"
	"github.com/salah-ledger/salah/internal/resilience"
)

// State is the published view of the engine.
type State struct {
	UserID    string            `json:"user_id"`
	Loaded    bool              `json:"loaded"`
	Day       domain.PrayerDay  `json:"day"`
	Ledger    domain.UserLedger `json:"ledger"`
	Exempt    bool              `json:"exempt"`
	Saving    bool              `json:"saving"`
	LastError error             `json:"-"`
}

// Result describes a confirmed status update.
type Result struct {
	MutationID   string           `json:"mutation_id"`
	Day          domain.PrayerDay `json:"day"`
	Delta        int              `json:"delta"`
	TotalCredits int64            `json:"total_credits"`
	Rollover     bool             `json:"rollover"`
}

// Hooks are optional side-effect callbacks, invoked outside the engine lock.
type Hooks struct {
	OnApplied    func(State)
	OnConfirmed  func(Result)
	OnReverted   func(slot domain.PrayerSlot, err error)
	OnLogWritten func(log domain.PrayerLog, err error)
}

// todayEntry is what the cache holds under the today key.
type todayEntry struct {
	userID string
	day    domain.PrayerDay
	ledger domain.UserLedger
}

// Engine is the sync engine. Create with New.
type Engine struct {
	store    domain.DocumentStore
	rules    credit.Rules
	resolver *daybound.Resolver
	cache    *cache.Cache
	retrier  *resilience.Retrier
	streaks  *streakjob.Job
	tracer   *observability.Tracer
	logger   *slog.Logger
	newID    func() string
	hooks    Hooks

	defaultZone        string
	historyZone        string
	historyParallelism int
	logTimeout         time.Duration

	// inflight is the single mutation token.
	inflight chan struct{}
	bg       sync.WaitGroup

	mu      sync.Mutex
	gen     uint64 // bumped on user change; stale work compares against it
	loadSeq uint64
	userID  string
	zone    string
	loc     *time.Location
	loaded  bool
	day     domain.PrayerDay
	ledger  domain.UserLedger
	exempt  bool
	saving  bool
	lastErr error
	current *mutation
	subs    map[int]chan State
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules replaces the default credit rules.
func WithRules(r credit.Rules) Option { return func(e *Engine) { e.rules = r } }

// WithResolver sets the zone resolver and clock.
func WithResolver(r *daybound.Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithCache sets the session cache.
func WithCache(c *cache.Cache) Option { return func(e *Engine) { e.cache = c } }

// WithRetrier sets the retry policy for store calls.
func WithRetrier(r *resilience.Retrier) Option { return func(e *Engine) { e.retrier = r } }

// WithStreakJob sets the streak recomputation job.
func WithStreakJob(j *streakjob.Job) Option { return func(e *Engine) { e.streaks = j } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTracer records spans for load, commit and log writes.
func WithTracer(t *observability.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithIDGenerator replaces the mutation id source.
func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// WithHooks installs side-effect callbacks.
func WithHooks(h Hooks) Option { return func(e *Engine) { e.hooks = h } }

// WithTimezone sets the day zone used before LoadToday names one.
func WithTimezone(name string) Option { return func(e *Engine) { e.defaultZone = name } }

// WithHistoryTimezone sets the zone weekly history is bucketed in.
func WithHistoryTimezone(name string) Option { return func(e *Engine) { e.historyZone = name } }

// WithHistoryParallelism bounds concurrent log fetches.
func WithHistoryParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyParallelism = n
		}
	}
}

// New creates an engine over store.
func New(store domain.DocumentStore, opts ...Option) *Engine {
	e := &Engine{
		store:              store,
		rules:              credit.DefaultRules(),
		historyParallelism: 10,
		logTimeout:         15 * time.Second,
		inflight:           make(chan struct{}, 1),
		subs:               make(map[int]chan State),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "prayersync")
	if e.resolver == nil {
		e.resolver = daybound.NewResolver("UTC")
	}
	if e.cache == nil {
		e.cache = cache.New(true)
	}
	if e.retrier == nil {
		e.retrier = resilience.NewRetrier(resilience.DefaultPolicy(), e.logger)
	}
	if e.streaks == nil {
		e.streaks = streakjob.New(store, streakjob.DefaultConfig(), e.retrier, e.resolver, e.logger)
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	e.zone = e.defaultZone
	e.loc = e.resolver.Location(e.zone)
	return e
}

// ─── In-flight Token ────────────────────────────────────────────────────────

// acquire takes the mutation token without waiting.
func (e *Engine) acquire() (release func(), err error) {
	select {
	case e.inflight <- struct{}{}:
		return func() { <-e.inflight }, nil
	default:
		return nil, domain.ErrBusy
	}
}

// ─── Session ────────────────────────────────────────────────────────────────

// HandleUserChanged discards all per-user state. Work started for the
// previous user finishes as ErrSuperseded without touching anything.
func (e *Engine) HandleUserChanged(userID string) {
	e.mu.Lock()
	e.gen++
	e.cache.InvalidateAll()
	e.userID = userID
	e.loaded = false
	e.day = domain.PrayerDay{}
	e.ledger = domain.NewUserLedger(userID, time.Time{})
	e.saving = false
	e.lastErr = nil
	e.current = nil
	e.publishLocked()
	e.mu.Unlock()

	e.logger.Info("user changed", "user", userID)
}

// Watch follows a session's user-changed signal. The returned func stops it.
func (e *Engine) Watch(s domain.Session) (cancel func()) {
	return s.Subscribe(e.HandleUserChanged)
}

// SetExemptionMode toggles the profile-level menstrual exemption. It takes
// effect on the next update.
func (e *Engine) SetExemptionMode(on bool) {
	e.mu.Lock()
	e.exempt = on
	e.publishLocked()
	e.mu.Unlock()
}

// ─── Published State ────────────────────────────────────────────────────────

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers see only the newest value.
func (e *Engine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.stateLocked()
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) stateLocked() State {
	return State{
		UserID:    e.userID,
		Loaded:    e.loaded,
		Day:       e.day,
		Ledger:    e.ledger,
		Exempt:    e.exempt,
		Saving:    e.saving,
		LastError: e.lastErr,
	}
}

func (e *Engine) publishLocked() {
	s := e.stateLocked()
	for _, ch := range e.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Close waits for background log writes.
func (e *Engine) Close() {
	e.bg.Wait()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) now() time.Time { return e.resolver.NowTime() }

// creditContext must be called with mu held.
func (e *Engine) creditContextLocked(now time.Time) domain.CreditContext {
	age := 0
	if !e.ledger.CreatedAt.IsZero() {
		age = daybound.DaysBetween(e.ledger.CreatedAt, now, e.loc)
	}
	return domain.CreditContext{
		AccountAgeDays: age,
		CurrentStreak:  e.ledger.CurrentStreak,
		Gender:         e.ledger.Gender,
	}
}

// cacheTodayLocked stores the current day and ledger under the today key.
func (e *Engine) cacheTodayLocked() {
	e.cache.Set(cache.TodayKey(e.day.DayID), todayEntry{userID: e.userID, day: e.day, ledger: e.ledger})
}

func (e *Engine) notifyApplied(s State) {
	if e.hooks.OnApplied != nil {
		e.hooks.OnApplied(s)
	}
}

func (e *Engine) notifyConfirmed(r Result) {
	if e.hooks.OnConfirmed != nil {
		e.hooks.OnConfirmed(r)
	}
}

func (e *Engine) notifyReverted(slot domain.PrayerSlot, err error) {
	if e.hooks.OnReverted != nil {
		e.hooks.OnReverted(slot, err)
	}
}

func (e *Engine) notifyLogWritten(l domain.PrayerLog, err error) {
	if e.hooks.OnLogWritten != nil {
		e.hooks.OnLogWritten(l, err)
	}
}
