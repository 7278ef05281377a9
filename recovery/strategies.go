package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/pdfmark/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy skips every failing record, logs it at Warn and keeps the
// error for later inspection.
type LenientStrategy struct {
	logger observability.Logger

	mu     sync.Mutex
	errors []error
}

// NewLenientStrategy returns a LenientStrategy. A nil logger discards output.
func NewLenientStrategy(logger observability.Logger) *LenientStrategy {
	return &LenientStrategy{logger: observability.OrNop(logger)}
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Errorf("[%s] record %d: %w", location.Component, location.Index, err))
	s.mu.Unlock()
	s.logger.Warn("skipping corrupt record",
		observability.String("component", location.Component),
		observability.Int("index", location.Index),
		observability.String("key", location.Key),
		observability.Error("reason", err))
	return ActionSkip
}

// Errors returns the errors seen so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
