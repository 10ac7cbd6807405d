package chorus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span is one timed operation within a pipeline run. Spans nest by parent ID:
// the pipeline run owns the root span and each stage records a child.
type Span struct {
	SpanID     string
	TraceID    string
	ParentID   string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Attributes map[string]string
	Events     []SpanEvent
}

// SpanEvent is a timestamped annotation within a span.
type SpanEvent struct {
	Name      string
	Timestamp time.Time
}

// Duration returns the span's elapsed time, or zero if it has not ended.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Tracer collects spans for a single pipeline run. All spans share the trace
// ID assigned at construction. Safe for concurrent use, so parallel
// perspectives may record spans from their own goroutines.
type Tracer struct {
	traceID string

	mu    sync.Mutex
	spans []*Span
}

// NewTracer creates a tracer with a fresh trace ID.
func NewTracer() *Tracer {
	return &Tracer{
		traceID: uuid.NewString(),
	}
}

// TraceID returns the identifier shared by every span in this run.
func (t *Tracer) TraceID() string {
	return t.traceID
}

// StartSpan opens a span. parentID may be empty for the root span.
func (t *Tracer) StartSpan(name, parentID string) *Span {
	span := &Span{
		SpanID:     uuid.NewString(),
		TraceID:    t.traceID,
		ParentID:   parentID,
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]string),
	}

	t.mu.Lock()
	t.spans = append(t.spans, span)
	t.mu.Unlock()
	return span
}

// EndSpan closes a span, recording its end time and any final attributes.
func (t *Tracer) EndSpan(span *Span, attributes map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	span.EndTime = time.Now()
	for k, v := range attributes {
		span.Attributes[k] = v
	}
}

// AddEvent appends a timestamped annotation to a span.
func (t *Tracer) AddEvent(span *Span, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	span.Events = append(span.Events, SpanEvent{
		Name:      name,
		Timestamp: time.Now(),
	})
}

// Spans returns a snapshot of all recorded spans in start order.
func (t *Tracer) Spans() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Span, len(t.spans))
	copy(out, t.spans)
	return out
}
