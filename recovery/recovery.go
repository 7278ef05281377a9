// Package recovery decides what a loader does with a record it cannot use:
// abort the whole load or skip the record and continue.
package recovery

import "context"

type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

// Location identifies the failing record.
type Location struct {
	Index     int    // position in the input, zero-based
	Key       string // backend key or record id, if known
	Component string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionWarn:
		return "warn"
	}
	return "unknown"
}
