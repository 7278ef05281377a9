package observability

import "context"

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type field struct {
	key string
	val interface{}
}

func (f field) Key() string        { return f.key }
func (f field) Value() interface{} { return f.val }

func String(key, value string) Field          { return field{key, value} }
func Int(key string, value int) Field         { return field{key, value} }
func Int64(key string, value int64) Field     { return field{key, value} }
func Uint64(key string, value uint64) Field   { return field{key, value} }
func Float(key string, value float64) Field   { return field{key, value} }
func Bool(key string, value bool) Field       { return field{key, value} }
func Error(key string, err error) Field       { return field{key, err} }
func Any(key string, value interface{}) Field { return field{key, value} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// Tracer provides tracing hooks around engine operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

// TracerOrNop returns t, or NopTracer when t is nil.
func TracerOrNop(t Tracer) Tracer {
	if t == nil {
		return nopTracer{}
	}
	return t
}

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Span and metric names emitted by the engine.
const (
	SpanOCRRun         = "annot.ocr.run"
	SpanRenderPage     = "annot.render.page"
	SpanStoreMutate    = "annot.store.mutate"
	SpanPersistLoad    = "annot.persist.load"
	MetricOCRWords     = "annot.ocr.words"
	MetricSkippedRects = "annot.selection.skipped_rects"
	MetricCorruptRecs  = "annot.persist.corrupt_records"
)
