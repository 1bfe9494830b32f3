// Package resilience wraps remote store calls with classified retries and
// jittered exponential backoff.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/observability"
)

// ─── Classification ─────────────────────────────────────────────────────────

// Class is the error taxonomy used to decide whether to retry.
type Class int

const (
	ClassNone Class = iota
	ClassConnectivity
	ClassTimeout
	ClassAuthorization
	ClassInvalid
	ClassCanceled
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassConnectivity:
		return "connectivity"
	case ClassTimeout:
		return "timeout"
	case ClassAuthorization:
		return "authorization"
	case ClassInvalid:
		return "invalid"
	case ClassCanceled:
		return "canceled"
	default:
		return "fatal"
	}
}

// Retryable reports whether errors of this class are retried.
func (c Class) Retryable() bool {
	return c == ClassConnectivity || c == ClassTimeout
}

// Classify maps an error onto the taxonomy. Caller context cancellation is
// never retryable, even when the transport reported it as a timeout.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, domain.ErrConnectivity):
		return ClassConnectivity
	case errors.Is(err, domain.ErrTimeout):
		return ClassTimeout
	case errors.Is(err, domain.ErrNotSignedIn), errors.Is(err, domain.ErrPermissionDenied):
		return ClassAuthorization
	case errors.Is(err, domain.ErrInvalidDocument), errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransaction):
		return ClassInvalid
	default:
		return ClassFatal
	}
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool { return Classify(err).Retryable() }

// ─── Policy ─────────────────────────────────────────────────────────────────

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff ceiling, not a deadline
	Jitter       float64       // extra random fraction of each delay, in [0, 1)
}

// DefaultPolicy returns the stock retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Jitter:       0.30,
	}
}

// Delays returns the un-jittered base delay before each retry.
func (p Policy) Delays() []time.Duration {
	out := make([]time.Duration, 0, p.MaxRetries)
	d := p.InitialDelay
	for i := 0; i < p.MaxRetries; i++ {
		out = append(out, min(d, p.MaxDelay))
		d *= 2
	}
	return out
}

// ─── Retrier ────────────────────────────────────────────────────────────────

// Retrier runs operations under a Policy.
type Retrier struct {
	Policy Policy
	Logger *slog.Logger

	// Sleep waits for d or until ctx is done. Replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, 1).
	Rand func() float64
}

// NewRetrier returns a retrier with real sleeps and randomness.
func NewRetrier(p Policy, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		Policy: p,
		Logger: logger.With("component", "resilience"),
		Sleep:  sleepCtx,
		Rand:   rand.Float64,
	}
}

// Run executes op, retrying retryable failures. The last error is returned
// unchanged so callers can classify it.
func (r *Retrier) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	delay := r.Policy.InitialDelay
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		class := Classify(err)
		if !class.Retryable() || attempt >= r.Policy.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := r.jittered(delay)
		observability.Retries.WithLabelValues(class.String()).Inc()
		r.logger().Warn("retrying store operation",
			"op", name, "attempt", attempt+1, "class", class.String(), "wait", wait, "err", err)

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
		delay *= 2
	}
}

// Do is the value-returning form of Run.
func Do[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Run(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// jittered adds [0, Jitter) of d and caps the result at MaxDelay.
func (r *Retrier) jittered(d time.Duration) time.Duration {
	f := 0.0
	if r.Rand != nil && r.Policy.Jitter > 0 {
		f = r.Rand() * r.Policy.Jitter
	}
	out := d + time.Duration(float64(d)*f)
	if r.Policy.MaxDelay > 0 && out > r.Policy.MaxDelay {
		out = r.Policy.MaxDelay
	}
	return out
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep == nil {
		return sleepCtx(ctx, d)
	}
	return r.Sleep(ctx, d)
}

func (r *Retrier) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
