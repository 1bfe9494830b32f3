package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salah-ledger/salah/internal/domain"
)

// newTestRetrier records sleeps instead of waiting.
func newTestRetrier(p Policy, jitter float64) (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	r.Rand = func() float64 { return jitter }
	return r, &slept
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{nil, ClassNone},
		{fmt.Errorf("get: %w", domain.ErrConnectivity), ClassConnectivity},
		{domain.ErrTimeout, ClassTimeout},
		{domain.ErrNotSignedIn, ClassAuthorization},
		{domain.ErrPermissionDenied, ClassAuthorization},
		{domain.ErrInvalidDocument, ClassInvalid},
		{domain.ErrConflict, ClassInvalid},
		{context.Canceled, ClassCanceled},
		{fmt.Errorf("%w: %w", domain.ErrTimeout, context.DeadlineExceeded), ClassCanceled},
		{errors.New("boom"), ClassFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
	}
	assert.True(t, IsRetryable(domain.ErrConnectivity))
	assert.False(t, IsRetryable(domain.ErrPermissionDenied))
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	r, slept := newTestRetrier(DefaultPolicy(), 0)
	calls := 0
	err := r.Run(context.Background(), "get", func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrConnectivity
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)
}

func TestRun_ExhaustsAndReturnsLastError(t *testing.T) {
	r, slept := newTestRetrier(DefaultPolicy(), 0)
	calls := 0
	err := r.Run(context.Background(), "get", func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, domain.ErrTimeout)
	})
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Contains(t, err.Error(), "attempt 4")
	assert.Equal(t, 4, calls, "1 attempt + 3 retries")
	assert.Len(t, *slept, 3, "no sleep after the final attempt")
}

func TestRun_FatalNotRetried(t *testing.T) {
	r, slept := newTestRetrier(DefaultPolicy(), 0)
	calls := 0
	err := r.Run(context.Background(), "commit", func(context.Context) error {
		calls++
		return domain.ErrPermissionDenied
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestRun_JitterAndCap(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second, Jitter: 0.30}
	r, slept := newTestRetrier(p, 0.5)
	_ = r.Run(context.Background(), "get", func(context.Context) error { return domain.ErrConnectivity })

	want := []time.Duration{
		1150 * time.Millisecond, // 1s + 15%
		2300 * time.Millisecond, // 2s + 15%
		3 * time.Second,         // capped
		3 * time.Second,
		3 * time.Second,
	}
	assert.Equal(t, want, *slept)
}

func TestRun_JitterBounds(t *testing.T) {
	p := DefaultPolicy()
	r := NewRetrier(p, nil)
	for i := 0; i < 200; i++ {
		d := r.jittered(time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1300*time.Millisecond)
	}
}

func TestRun_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(DefaultPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	calls := 0
	err := r.Run(ctx, "get", func(context.Context) error {
		calls++
		cancel()
		return domain.ErrConnectivity
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	r, _ := newTestRetrier(DefaultPolicy(), 0)
	calls := 0
	v, err := Do(context.Background(), r, "get", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, domain.ErrTimeout
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPolicy_Delays(t *testing.T) {
	got := DefaultPolicy().Delays()
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, got)
}
