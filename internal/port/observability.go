package port

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder observes the outcome of authority operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per authority operation. subject is the manifest,
// fleet, pier or cargo the operation targets and may be empty.
type Tracer interface {
	Start(ctx context.Context, operation, subject string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Logbook records mutations applied to a port. Record must not fail the
// operation; implementations report their own write errors.
type Logbook interface {
	Record(ctx context.Context, entry LogEntry)
}

// LogStatus is the outcome recorded for a logbook entry.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
)

// LogEntry is one logbook line.
type LogEntry struct {
	Port       string    `json:"port"`
	Operation  string    `json:"operation"`
	Subject    string    `json:"subject,omitempty"`
	Status     LogStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopLogbook struct{}

func (noopLogbook) Record(context.Context, LogEntry) {}

var expvarSeq atomic.Uint64

// OperationStats aggregates the outcomes of one operation.
type OperationStats struct {
	Success    int64   `json:"success"`
	Error      int64   `json:"error"`
	DurationMS float64 `json:"duration_ms_total"`
}

// ExpvarMetricsRecorder publishes one expvar.Map per operation holding
// success and error counts and the summed duration in milliseconds.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  *expvar.Map
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated name when name is empty. expvar names are process-global, so
// publishing the same name twice panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("enfra_port_operations_%d", expvarSeq.Add(1))
	}
	ops := new(expvar.Map).Init()
	expvar.Publish(name, ops)
	return &ExpvarMetricsRecorder{name: name, ops: ops}
}

// Name is the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// String renders the counters as the JSON object expvar serves.
func (r *ExpvarMetricsRecorder) String() string { return r.ops.String() }

func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	stats := r.operation(operation)
	stats.Add(statusLabel(success), 1)
	stats.AddFloat("duration_ms", float64(duration)/float64(time.Millisecond))
}

func (r *ExpvarMetricsRecorder) operation(name string) *expvar.Map {
	if m, ok := r.ops.Get(name).(*expvar.Map); ok {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.ops.Get(name).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	r.ops.Set(name, m)
	return m
}

// Snapshot copies the current counters keyed by operation.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	out := make(map[string]OperationStats)
	r.ops.Do(func(kv expvar.KeyValue) {
		m, ok := kv.Value.(*expvar.Map)
		if !ok {
			return
		}
		var s OperationStats
		if v, ok := m.Get("success").(*expvar.Int); ok {
			s.Success = v.Value()
		}
		if v, ok := m.Get("error").(*expvar.Int); ok {
			s.Error = v.Value()
		}
		if v, ok := m.Get("duration_ms").(*expvar.Float); ok {
			s.DurationMS = v.Value()
		}
		out[kv.Key] = s
	})
	return out
}

// PrometheusMetricsRecorder exports operation counters and latencies through
// a prometheus registry.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the recorder's collectors with reg.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enfra",
			Subsystem: "port_authority",
			Name:      "operations_total",
			Help:      "Port authority operations by outcome.",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enfra",
			Subsystem: "port_authority",
			Name:      "operation_duration_seconds",
			Help:      "Port authority operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{rec.operations, rec.latency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register port authority metrics: %w", err)
		}
	}
	return rec, nil
}

// Observe records an operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, statusLabel(success)).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// SpanRecord is one finished span as written by JSONTracer.
type SpanRecord struct {
	TraceID    string    `json:"trace_id"`
	Operation  string    `json:"operation"`
	Subject    string    `json:"subject,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

// JSONTracer writes each finished span as a JSON line and keeps a copy.
// All spans of one tracer share a trace id, so one CLI invocation can be
// picked out of an appended trace file.
type JSONTracer struct {
	traceID string
	mu      sync.Mutex
	spans   []SpanRecord
	enc     *json.Encoder
}

// NewJSONTracer returns a tracer writing to w; w may be nil to only retain
// spans in memory.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{traceID: uuid.NewString()}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// TraceID identifies the spans of this tracer.
func (t *JSONTracer) TraceID() string { return t.traceID }

// Spans returns a copy of the finished spans in completion order.
func (t *JSONTracer) Spans() []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanRecord(nil), t.spans...)
}

func (t *JSONTracer) Start(ctx context.Context, operation, subject string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, rec: SpanRecord{
		TraceID:   t.traceID,
		Operation: operation,
		Subject:   subject,
		StartedAt: time.Now().UTC(),
	}}
}

type jsonSpan struct {
	tracer *JSONTracer
	rec    SpanRecord
}

func (s *jsonSpan) End(err error) {
	rec := s.rec
	rec.Status = statusLabel(err == nil)
	if err != nil {
		rec.Error = err.Error()
	}
	rec.DurationMS = float64(time.Since(rec.StartedAt)) / float64(time.Millisecond)

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, rec)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(rec)
	}
}
