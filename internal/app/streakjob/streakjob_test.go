package streakjob

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salah-ledger/salah/internal/daybound"
	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
	"github.com/salah-ledger/salah/internal/infra/memstore"
	"github.com/salah-ledger/salah/internal/resilience"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newJob(t *testing.T, cfg Config) (*Job, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	res := daybound.NewResolver("UTC")
	res.Now = func() time.Time { return now }
	r := resilience.NewRetrier(resilience.DefaultPolicy(), nil)
	r.Sleep = func(context.Context, time.Duration) error { return nil }
	return New(store, cfg, r, res, nil), store
}

// putDays writes one day per entry, newest first starting at from.
// Each entry is the number of on_time slots, or -1 for an exempt day.
func putDays(t *testing.T, store *memstore.Store, uid, from string, completed ...int) {
	t.Helper()
	for i, n := range completed {
		id, err := daybound.AddDays(from, -i)
		require.NoError(t, err)
		d := domain.NewPrayerDay(id, time.Time{})
		if n < 0 {
			d.MenstrualExempt = true
		}
		for s := 0; s < n; s++ {
			d = d.With(domain.PrayerSlot(s), domain.StatusOnTime)
		}
		require.NoError(t, store.SetMerge(context.Background(), domain.DaysCollection(uid), id, domain.PrayerDayFields(d)))
	}
}

func storedStreak(t *testing.T, store *memstore.Store, uid string) int {
	t.Helper()
	f, err := store.Get(context.Background(), domain.UsersCollection, uid)
	require.NoError(t, err)
	l, err := domain.LedgerFromFields(uid, f)
	require.NoError(t, err)
	return l.CurrentStreak
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		completed []int
		want      int
	}{
		{"no documents", "2025-03-09", nil, 0},
		{"yesterday back", "2025-03-09", []int{5, 3, 4, 1, 5}, 3},
		{"today counts", "2025-03-10", []int{3, 5, 5, 0}, 3},
		{"today unfinished is ignored", "2025-03-10", []int{1, 5, 5}, 2},
		{"exempt days bridge", "2025-03-09", []int{5, -1, -1, 4, 2}, 2},
		{"gap stops the walk", "2025-03-08", []int{5, 5, 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, store := newJob(t, Config{})
			putDays(t, store, "u1", tt.from, tt.completed...)

			got, err := job.Recompute(context.Background(), "u1", time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, storedStreak(t, store, "u1"))
		})
	}
}

func TestRecompute_SpansPages(t *testing.T) {
	job, store := newJob(t, Config{PageDays: 4, Parallelism: 2})
	completed := make([]int, 11)
	for i := range completed {
		completed[i] = 5
	}
	completed[10] = 0
	putDays(t, store, "u1", "2025-03-09", completed...)

	got, err := job.Recompute(context.Background(), "u1", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestRecompute_LookbackLimit(t *testing.T) {
	job, store := newJob(t, Config{PageDays: 3, LookbackDays: 5})
	putDays(t, store, "u1", "2025-03-09", 5, 5, 5, 5, 5, 5, 5, 5)

	got, err := job.Recompute(context.Background(), "u1", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestRecompute_UsesZone(t *testing.T) {
	job, store := newJob(t, Config{})
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 12:00 UTC is still 2025-03-10 in Tokyo.
	putDays(t, store, "u1", "2025-03-09", 5, 5)
	got, err := job.Recompute(context.Background(), "u1", tokyo)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	kiritimati, err := time.LoadLocation("Pacific/Kiritimati") // UTC+14: already 2025-03-11
	require.NoError(t, err)
	got, err = job.Recompute(context.Background(), "u1", kiritimati)
	require.NoError(t, err)
	assert.Equal(t, 0, got, "yesterday 2025-03-10 has no document")
}

func TestRecompute_StoreFailure(t *testing.T) {
	job, store := newJob(t, Config{})
	store.SetFault(func(ctx context.Context, op string, req docstore.CommitRequest) error {
		return domain.ErrPermissionDenied
	})

	_, err := job.Recompute(context.Background(), "u1", time.UTC)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = job.Recompute(context.Background(), "", time.UTC)
	assert.ErrorIs(t, err, domain.ErrNotSignedIn)
}

func TestRecompute_RetriesStreakWrite(t *testing.T) {
	job, store := newJob(t, Config{})
	putDays(t, store, "u1", "2025-03-09", 5, 5, 5)

	var commits int
	store.SetFault(func(ctx context.Context, op string, req docstore.CommitRequest) error {
		if op != memstore.OpCommit {
			return nil
		}
		commits++
		if commits <= 2 {
			return domain.ErrConnectivity
		}
		return nil
	})

	got, err := job.Recompute(context.Background(), "u1", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, commits)

	store.SetFault(nil)
	assert.Equal(t, 3, storedStreak(t, store, "u1"))
}

func TestRunAll(t *testing.T) {
	job, store := newJob(t, Config{})
	ctx := context.Background()

	require.NoError(t, store.SetMerge(ctx, domain.UsersCollection, "u1", domain.Fields{"totalCredits": 10}))
	require.NoError(t, store.SetMerge(ctx, domain.UsersCollection, "u2", domain.Fields{"timezone": "Asia/Tokyo"}))
	require.NoError(t, store.SetMerge(ctx, domain.UsersCollection, "bad", domain.Fields{"totalCredits": "lots"}))
	putDays(t, store, "u1", "2025-03-09", 5, 5, 5)
	putDays(t, store, "u2", "2025-03-09", 4)

	done, err := job.RunAll(ctx, store)
	assert.Equal(t, 2, done)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidDocument))

	assert.Equal(t, 3, storedStreak(t, store, "u1"))
	assert.Equal(t, 1, storedStreak(t, store, "u2"))
}

func TestScheduler(t *testing.T) {
	job, store := newJob(t, Config{})

	_, err := NewScheduler(job, store, "not a schedule", time.UTC, time.Minute)
	require.Error(t, err)

	s, err := NewScheduler(job, store, "", time.UTC, time.Minute)
	require.NoError(t, err)
	s.Start()
	next := s.Next()
	s.Stop(context.Background())

	assert.False(t, next.IsZero())
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 5, next.Minute())
}
