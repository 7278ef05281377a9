package observability

import "sync"

// Level is the severity of a recorded entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one recorded log call.
type Entry struct {
	Level   Level
	Message string
	Fields  map[string]interface{}
}

// Recorder is a Logger that keeps every entry in memory. It is safe for
// concurrent use; loggers derived with With share the same entry list.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    []Field
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.add(LevelDebug, msg, fields) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.add(LevelInfo, msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.add(LevelWarn, msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.add(LevelError, msg, fields) }

func (r *Recorder) With(fields ...Field) Logger {
	base := append(append([]Field(nil), r.base...), fields...)
	return &Recorder{mu: r.mu, entries: r.entries, base: base}
}

func (r *Recorder) add(level Level, msg string, fields []Field) {
	e := Entry{Level: level, Message: msg, Fields: make(map[string]interface{}, len(r.base)+len(fields))}
	for _, f := range r.base {
		e.Fields[f.Key()] = f.Value()
	}
	for _, f := range fields {
		e.Fields[f.Key()] = f.Value()
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, e)
	r.mu.Unlock()
}

// Entries returns a copy of all entries recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Count returns the number of entries with the given level and message.
func (r *Recorder) Count(level Level, msg string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level && e.Message == msg {
			n++
		}
	}
	return n
}
