package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sink delivers a named telemetry payload.
type Sink interface {
	Send(ctx context.Context, name string, payload any) error
}

// OptOutChecker reports whether an organization declined analytics.
type OptOutChecker interface {
	TelemetryOptOut(ctx context.Context, orgID string) (bool, error)
}

// Emitter sends events to the schema1 and schema2 sinks. Emit never fails;
// a send failure is reported as a segmentError event on the schema1 sink.
type Emitter struct {
	schema1  Sink
	schema2  Sink
	optOut   OptOutChecker
	hostname string
	logger   *slog.Logger
	now      func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

func WithSchema1Sink(s Sink) EmitterOption {
	return func(e *Emitter) { e.schema1 = s }
}

func WithSchema2Sink(s Sink) EmitterOption {
	return func(e *Emitter) { e.schema2 = s }
}

func WithOptOutChecker(c OptOutChecker) EmitterOption {
	return func(e *Emitter) { e.optOut = c }
}

func WithEmitterLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter creates an emitter. Unset sinks discard events.
func NewEmitter(opts ...EmitterOption) *Emitter {
	host, _ := os.Hostname()
	e := &Emitter{
		schema1:  NopSink{},
		schema2:  NopSink{},
		hostname: host,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit renders ev and sends it to both sinks.
func (e *Emitter) Emit(ctx context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}
	now := e.now()
	e.send(ctx, e.schema1, ev.Name, ev.Schema1(e.hostname, now))

	if ev.User != nil && ev.User.OrgID != "" && e.optOut != nil {
		optedOut, err := e.optOut.TelemetryOptOut(ctx, ev.User.OrgID)
		if err != nil {
			e.logger.Warn("failed to read telemetry preference",
				slog.String("org_id", ev.User.OrgID),
				slog.String("error", err.Error()),
			)
			return
		}
		if optedOut {
			return
		}
	}
	e.send(ctx, e.schema2, ev.Name, ev.Schema2(now))
}

func (e *Emitter) send(ctx context.Context, sink Sink, name string, payload any) {
	err := sink.Send(ctx, name, payload)
	if err == nil {
		return
	}
	e.logger.Error("failed to send telemetry event",
		slog.String("event", name),
		slog.String("error", err.Error()),
	)
	segErr := map[string]any{
		"error_type": "send_failed",
		"details":    err.Error(),
		"event_name": name,
		"timestamp":  e.now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.schema1.Send(ctx, EventSegmentError, segErr); err != nil {
		e.logger.Error("failed to send segmentError event", slog.String("error", err.Error()))
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Send(context.Context, string, any) error { return nil }

// LogSink writes events as structured log records.
type LogSink struct {
	Logger  *slog.Logger
	Channel string
}

func (s LogSink) Send(ctx context.Context, name string, payload any) error {
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "telemetry event",
		slog.String("channel", s.Channel),
		slog.String("event", name),
		slog.Any("payload", payload),
	)
	return nil
}

// SpanSink records events on the active trace span.
type SpanSink struct{}

func (SpanSink) Send(ctx context.Context, name string, payload any) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	span.AddEvent(name, trace.WithAttributes(attribute.String("telemetry.payload", string(b))))
	return nil
}

// MultiSink fans an event out to several sinks and returns the first error.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, name string, payload any) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, name, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Record is one event captured by a MemorySink.
type Record struct {
	Name    string
	Payload any
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	// Err, when set, is returned from Send after recording.
	Err error
}

func (s *MemorySink) Send(_ context.Context, name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{Name: name, Payload: payload})
	return s.Err
}

// Records returns a copy of the captured events.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
