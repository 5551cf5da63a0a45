// Package trace tags contexts with span ids and the monitor session and alert
// episode they run under, so one filter on session_id or alert_id pulls every
// log line of an episode out of the stream.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Header and gRPC metadata keys.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type scopeKey struct{}

// Context is one span and the scope it belongs to. Session and Alert stay
// uuid.Nil outside a monitor session or an alert episode and are never sent
// across process boundaries.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Session      uuid.UUID
	Alert        uuid.UUID
}

// New starts a trace with no scope.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

// NewChild opens a span under parent. The trace and scope carry over.
func NewChild(parent Context) Context {
	child := parent
	child.SpanID = newSpanID()
	child.ParentSpanID = parent.SpanID
	return child
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(scopeKey{}).(Context)
	return tc, ok
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, tc)
}

// EnsureContext returns the trace already on ctx, starting one if needed.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithSession scopes ctx to a monitor session.
func WithSession(ctx context.Context, id uuid.UUID) context.Context {
	ctx, tc := EnsureContext(ctx)
	tc.Session = id
	return WithContext(ctx, tc)
}

// WithAlert scopes ctx to an alert episode.
func WithAlert(ctx context.Context, id uuid.UUID) context.Context {
	ctx, tc := EnsureContext(ctx)
	tc.Alert = id
	return WithContext(ctx, tc)
}

func newTraceID() string { return randomHex(16) }

func newSpanID() string { return randomHex(8) }

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap returns the ids a downstream process needs to continue the trace.
func (c Context) ToMap() map[string]string {
	m := map[string]string{TraceIDKey: c.TraceID, SpanIDKey: c.SpanID}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	return m
}

// FromMap continues a remote trace: the caller's span becomes the parent of a
// fresh local span. A missing trace id starts a new trace.
func FromMap(m map[string]string) Context {
	tc := Context{TraceID: m[TraceIDKey], SpanID: newSpanID(), ParentSpanID: m[SpanIDKey]}
	if tc.TraceID == "" {
		tc.TraceID = newTraceID()
	}
	return tc
}

// LogAttrs lists the ids as log attributes, skipping empty ones.
func (c Context) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	attrs = append(attrs, slog.String("trace_id", c.TraceID), slog.String("span_id", c.SpanID))
	if c.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", c.ParentSpanID))
	}
	if c.Session != uuid.Nil {
		attrs = append(attrs, slog.String("session_id", c.Session.String()))
	}
	if c.Alert != uuid.Nil {
		attrs = append(attrs, slog.String("alert_id", c.Alert.String()))
	}
	return attrs
}

// Span times one unit of work: a monitor session, an alert dispatch, a resume
// episode or the command poller's lifetime.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan opens a span under the one on ctx, or a new trace when there is
// none, and returns ctx carrying it.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}
	s := &Span{Name: name, Ctx: tc, StartTime: time.Now(), Attrs: map[string]any{}}
	return WithContext(ctx, tc), s
}

// End stamps the finish time and emits the span at debug level.
func (s *Span) End() {
	s.EndTime = time.Now()
	slog.Debug("span finished", "span", s)
}

func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// Duration is zero until End.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *Span) LogValue() slog.Value {
	attrs := append([]slog.Attr{
		slog.String("name", s.Name),
		slog.Duration("duration", s.Duration()),
	}, s.Ctx.LogAttrs()...)
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger with ctx's ids attached.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.New(slog.Default().Handler().WithAttrs(tc.LogAttrs()))
}
