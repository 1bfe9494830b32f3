// Package observability holds the process-wide Prometheus metrics and a
// small in-memory span recorder for sync operations.
//
// This provides:
//   - Spans for each phase of a prayer status mutation (apply, commit, log write)
//   - Context propagation of a trace id across engine and store calls
//   - Prometheus metrics for the sync engine, stores, cache and API
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Spans
// ═══════════════════════════════════════════════════════════════════════════

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span is one timed unit of work.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent spans in a bounded buffer.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span. A nil tracer returns a detached span, so callers
// never need to check.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	span := &Span{Operation: operation, StartTime: time.Now(), Attrs: attrs}
	if t == nil || !t.enabled {
		return span
	}
	span.TraceID = TraceID(ctx)
	span.SpanID = generateID()
	return span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const traceIDKey contextKey = "salah-trace-id"

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the context's trace id, or a fresh one.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	return generateID()
}

var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Sync Engine ────────────────────────────────────────────────────────────

// StatusUpdates counts UpdateStatus outcomes (confirmed, reverted, busy, superseded).
var StatusUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "sync",
	Name:      "status_updates_total",
	Help:      "Total prayer status updates by result.",
}, []string{"result"})

// CommitDuration observes the remote transaction time including retries.
var CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "salah",
	Subsystem: "sync",
	Name:      "commit_duration_seconds",
	Help:      "Time spent committing a status update, including retries.",
	Buckets:   prometheus.DefBuckets,
})

// LogWrites counts best-effort history log writes.
var LogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "sync",
	Name:      "log_writes_total",
	Help:      "Total prayer log writes by result.",
}, []string{"result"})

// ─── Resilience ─────────────────────────────────────────────────────────────

// Retries counts retry attempts by error class.
var Retries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "resilience",
	Name:      "retries_total",
	Help:      "Total retried store operations by error class.",
}, []string{"class"})

// ─── Cache ──────────────────────────────────────────────────────────────────

// CacheLookups counts session cache lookups.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Total session cache lookups by result (hit, miss).",
}, []string{"result"})

// ─── Streak ─────────────────────────────────────────────────────────────────

// StreakRecomputes counts streak recomputations.
var StreakRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "streak",
	Name:      "recomputes_total",
	Help:      "Total streak recomputations by result.",
}, []string{"result"})

// ─── Store ──────────────────────────────────────────────────────────────────

// StoreConflicts counts optimistic transaction conflicts.
var StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "store",
	Name:      "conflicts_total",
	Help:      "Total optimistic transaction attempts rejected by a version check.",
})

// ─── API ────────────────────────────────────────────────────────────────────

// APIRequests counts store server requests.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "api",
	Name:      "requests_total",
	Help:      "Total store server requests by route and status code.",
}, []string{"route", "code"})

// APILatency observes store server request latency.
var APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "salah",
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "Store server request latency.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
}, []string{"route"})

// ─── Traces ─────────────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "salah",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
