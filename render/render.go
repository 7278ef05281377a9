// Package render schedules page rasterization against the document decoder.
//
// Requests are keyed by page. A new request for a page cancels the one in
// flight, and every result is checked against the page registry on arrival:
// a bitmap rendered for a superseded generation is discarded, never painted.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/registry"
	"github.com/wudi/pdfmark/textlayer"
)

// ErrDecodeFailure is matched by every error reporting a page that could not
// be rasterized. The page is marked unavailable; other pages are unaffected.
var ErrDecodeFailure = errors.New("page decode failure")

// DecodeError wraps a decoder failure for one page.
type DecodeError struct {
	Page int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode page %d: %v", e.Page, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecodeFailure }

// Bitmap is the decoder output for one page.
type Bitmap struct {
	Image image.Image
	// Runs are the native text runs in Intrinsic space. Scanned pages have
	// none and need OCR for a text layer.
	Runs []textlayer.Run
}

// Decoder is the document decoder: page number, scale and rotation in, a
// bitmap out.
type Decoder interface {
	Decode(ctx context.Context, page int, scale float64, rotation coords.Rotation) (Bitmap, error)
}

// Pages is the part of the page registry the Scheduler uses.
type Pages interface {
	Lookup(page int) (registry.Entry, bool)
	CheckExact(e registry.Epoch) error
	MarkUnavailable(page int, cause error)
}

// Config controls rasterization.
type Config struct {
	// DevicePixelRatio multiplies the view scale for the bitmap.
	DevicePixelRatio float64
	// Timeout bounds one decode call.
	Timeout time.Duration
	// Workers bounds concurrent decode calls.
	Workers int
}

// DefaultConfig returns a 30 second timeout and four workers.
func DefaultConfig() Config {
	return Config{DevicePixelRatio: 1, Timeout: 30 * time.Second, Workers: 4}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DevicePixelRatio <= 0 {
		c.DevicePixelRatio = def.DevicePixelRatio
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	return c
}

// Frame is a rasterized page that is current for its epoch.
type Frame struct {
	Epoch  registry.Epoch
	Bitmap Bitmap
	// Layer is the native text layer, nil when the page has no text runs.
	Layer *textlayer.Layer
}

// Result is delivered once per request.
type Result struct {
	Frame Frame
	Err   error
}

type job struct {
	epoch  registry.Epoch
	cancel context.CancelFunc
}

// Scheduler runs decode requests.
type Scheduler struct {
	pages  Pages
	dec    Decoder
	cfg    Config
	logger observability.Logger
	tracer observability.Tracer
	sem    chan struct{}

	mu       sync.Mutex
	inflight map[int]*job
	wg       sync.WaitGroup
}

// NewScheduler returns a Scheduler. Nil logger and tracer discard output.
func NewScheduler(pages Pages, dec Decoder, cfg Config, logger observability.Logger, tracer observability.Tracer) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		pages:    pages,
		dec:      dec,
		cfg:      cfg,
		logger:   observability.OrNop(logger).With(observability.String("component", "render")),
		tracer:   observability.TracerOrNop(tracer),
		sem:      make(chan struct{}, cfg.Workers),
		inflight: make(map[int]*job),
	}
}

// Request rasterizes the page at its current epoch. Any request still in
// flight for the page is canceled. opts are passed to the text layer built
// from native runs.
func (s *Scheduler) Request(ctx context.Context, page int, opts ...textlayer.Option) (<-chan Result, error) {
	entry, ok := s.pages.Lookup(page)
	if !ok {
		return nil, fmt.Errorf("render page %d: %w", page, registry.ErrPageNotRegistered)
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	j := &job{epoch: entry.Epoch, cancel: cancel}

	s.mu.Lock()
	if prev := s.inflight[page]; prev != nil {
		prev.cancel()
		s.logger.Debug("superseded render request",
			observability.Int("page", page),
			observability.String("epoch", prev.epoch.String()))
	}
	s.inflight[page] = j
	s.mu.Unlock()

	out := make(chan Result, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(page, j)
		out <- s.run(runCtx, entry, opts)
	}()
	return out, nil
}

// Render is the synchronous form of Request.
func (s *Scheduler) Render(ctx context.Context, page int, opts ...textlayer.Option) (Frame, error) {
	ch, err := s.Request(ctx, page, opts...)
	if err != nil {
		return Frame{}, err
	}
	res := <-ch
	return res.Frame, res.Err
}

// Cancel aborts the page's request in flight, if any.
func (s *Scheduler) Cancel(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.inflight[page]; j != nil {
		j.cancel()
	}
}

// Close cancels every request and waits for them to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for _, j := range s.inflight {
		j.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// RasterizePage decodes the page directly, bypassing request tracking. It
// serves OCR, which rasterizes at its own boosted scale.
func (s *Scheduler) RasterizePage(ctx context.Context, page int, scale float64, rotation coords.Rotation) (image.Image, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.sem }()
	bm, err := s.dec.Decode(ctx, page, scale, rotation)
	if err != nil {
		return nil, &DecodeError{Page: page, Err: err}
	}
	return bm.Image, nil
}

func (s *Scheduler) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) release(page int, j *job) {
	j.cancel()
	s.mu.Lock()
	if s.inflight[page] == j {
		delete(s.inflight, page)
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, entry registry.Entry, opts []textlayer.Option) Result {
	epoch := entry.Epoch
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanRenderPage)
	defer span.Finish()
	span.SetTag("page", epoch.Page)

	if err := s.acquire(ctx); err != nil {
		return Result{Err: err}
	}
	bm, err := s.dec.Decode(ctx, epoch.Page, epoch.Scale*s.cfg.DevicePixelRatio, epoch.Rotation)
	<-s.sem
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Err: fmt.Errorf("render page %d: %w", epoch.Page, ctxErr)}
		}
		derr := &DecodeError{Page: epoch.Page, Err: err}
		s.pages.MarkUnavailable(epoch.Page, derr)
		span.SetError(derr)
		return Result{Err: derr}
	}
	if err := s.pages.CheckExact(epoch); err != nil {
		s.logger.Debug("discarding stale render",
			observability.Int("page", epoch.Page),
			observability.String("epoch", epoch.String()))
		return Result{Err: err}
	}
	if entry.Unavailable != nil {
		s.pages.MarkUnavailable(epoch.Page, nil)
	}

	frame := Frame{Epoch: epoch, Bitmap: bm}
	if len(bm.Runs) > 0 {
		layer, err := textlayer.Build(entry.Page, entry.Transform, bm.Runs, opts...)
		if err != nil {
			return Result{Err: err}
		}
		frame.Layer = layer
	}
	return Result{Frame: frame}
}
