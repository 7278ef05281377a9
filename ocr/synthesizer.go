package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/registry"
)

// Word is one recognized word placed on its page in Storage space.
type Word struct {
	Text       string
	Box        coords.NormalizedRect
	Confidence float64
	// Epoch is the render generation the word was recognized for.
	Epoch registry.Epoch
}

// PageRasterizer renders one page to a bitmap at the given scale and
// rotation. It is the document decoder as seen by OCR.
type PageRasterizer interface {
	RasterizePage(ctx context.Context, page int, scale float64, rotation coords.Rotation) (image.Image, error)
}

// Views is the part of the page registry a Synthesizer reads.
type Views interface {
	Lookup(page int) (registry.Entry, bool)
	Check(e registry.Epoch) error
}

// SynthesizerConfig controls OCR rasterization.
type SynthesizerConfig struct {
	// Boost multiplies the display resolution of the OCR raster. Values
	// below 1 select the default.
	Boost float64
	// DevicePixelRatio is the ratio of device pixels to Viewport pixels.
	DevicePixelRatio float64
	// MaxPixels caps the OCR raster size; larger rasters are downsampled.
	// Zero selects the default, negative disables the cap.
	MaxPixels int
	// Timeout bounds a whole run: rasterization plus recognition.
	Timeout time.Duration
	// InputOptions are applied to every engine input.
	InputOptions []InputOption
}

// DefaultSynthesizerConfig returns the defaults: 2x boost, 40 MP cap and a
// two minute timeout.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		Boost:            2,
		DevicePixelRatio: 1,
		MaxPixels:        40_000_000,
		Timeout:          2 * time.Minute,
	}
}

func (c SynthesizerConfig) withDefaults() SynthesizerConfig {
	def := DefaultSynthesizerConfig()
	if c.Boost < 1 {
		c.Boost = def.Boost
	}
	if c.DevicePixelRatio <= 0 {
		c.DevicePixelRatio = def.DevicePixelRatio
	}
	if c.MaxPixels == 0 {
		c.MaxPixels = def.MaxPixels
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// ErrEmptyArea is returned when an OCR area does not overlap its page.
var ErrEmptyArea = errors.New("ocr area outside page")

// Status is the OCR state of one page.
type Status struct {
	State JobState
	Epoch registry.Epoch
	// Area is the Storage-space part of the page that was recognized; the
	// zero Rect stands for the whole page.
	Area  coords.NormalizedRect
	Words []Word
	// Err is set for failed and canceled runs. A result discarded because the
	// view changed wraps registry.ErrStaleEpoch; decode and engine failures
	// are *Error values.
	Err error
}

type pageRun struct {
	status  Status
	cancel  context.CancelFunc
	waiters []chan Status
}

// Synthesizer runs OCR on demand, one run per page at a time.
type Synthesizer struct {
	views  Views
	raster PageRasterizer
	engine Engine
	cfg    SynthesizerConfig
	logger observability.Logger
	tracer observability.Tracer

	mu    sync.Mutex
	pages map[int]*pageRun
}

// NewSynthesizer returns a Synthesizer. A nil engine selects DefaultEngine;
// nil logger and tracer discard their output.
func NewSynthesizer(views Views, raster PageRasterizer, engine Engine, cfg SynthesizerConfig, logger observability.Logger, tracer observability.Tracer) *Synthesizer {
	if engine == nil {
		engine = DefaultEngine()
	}
	return &Synthesizer{
		views:  views,
		raster: raster,
		engine: engine,
		cfg:    cfg.withDefaults(),
		logger: observability.OrNop(logger).With(observability.String("component", "ocr")),
		tracer: observability.TracerOrNop(tracer),
		pages:  make(map[int]*pageRun),
	}
}

// Trigger starts an OCR run for the whole page at its current epoch. The
// returned channel receives the final Status once. If a run for the page is
// already in flight no new run starts; the channel then receives that run's
// outcome.
func (s *Synthesizer) Trigger(ctx context.Context, page int) (<-chan Status, error) {
	return s.TriggerArea(ctx, page, coords.Rect{})
}

// TriggerArea is Trigger limited to a Storage-space area of the page. The
// area is clamped to the page; the zero Rect selects the whole page.
func (s *Synthesizer) TriggerArea(ctx context.Context, page int, area coords.NormalizedRect) (<-chan Status, error) {
	entry, ok := s.views.Lookup(page)
	if !ok {
		return nil, fmt.Errorf("ocr page %d: %w", page, registry.ErrPageNotRegistered)
	}
	if area != (coords.Rect{}) {
		area = area.Clamp(entry.Page.Width, entry.Page.Height)
		if area.Empty() {
			return nil, fmt.Errorf("ocr page %d: %w", page, ErrEmptyArea)
		}
	}
	ch := make(chan Status, 1)

	s.mu.Lock()
	if cur := s.pages[page]; cur != nil && cur.status.State == JobStateRunning {
		cur.waiters = append(cur.waiters, ch)
		s.mu.Unlock()
		s.logger.Debug("ocr already running", observability.Int("page", page))
		return ch, nil
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	run := &pageRun{
		status:  Status{State: JobStateRunning, Epoch: entry.Epoch, Area: area},
		cancel:  cancel,
		waiters: []chan Status{ch},
	}
	s.pages[page] = run
	s.mu.Unlock()

	go s.run(runCtx, entry, area, run)
	return ch, nil
}

// Run triggers OCR for the page and waits for the outcome.
func (s *Synthesizer) Run(ctx context.Context, page int) (Status, error) {
	return s.RunArea(ctx, page, coords.Rect{})
}

// RunArea triggers OCR for an area of the page and waits for the outcome.
func (s *Synthesizer) RunArea(ctx context.Context, page int, area coords.NormalizedRect) (Status, error) {
	ch, err := s.TriggerArea(ctx, page, area)
	if err != nil {
		return Status{}, err
	}
	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Status returns the OCR state of the page. Pages never triggered are idle.
func (s *Synthesizer) Status(page int) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.pages[page]
	if run == nil {
		return Status{State: JobStateIdle}
	}
	st := run.status
	st.Words = append([]Word(nil), st.Words...)
	return st
}

// Cancel aborts the page's in-flight run, if any. The run resolves as
// canceled.
func (s *Synthesizer) Cancel(page int) {
	s.mu.Lock()
	run := s.pages[page]
	s.mu.Unlock()
	if run != nil && run.cancel != nil {
		run.cancel()
	}
}

// Close cancels every in-flight run.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.pages {
		if run.cancel != nil {
			run.cancel()
		}
	}
}

func (s *Synthesizer) run(ctx context.Context, entry registry.Entry, area coords.Rect, run *pageRun) {
	defer run.cancel()
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanOCRRun)
	span.SetTag("page", entry.Epoch.Page)

	words, err := s.recognize(ctx, entry, area)
	final := Status{Epoch: entry.Epoch, Area: area}
	switch {
	case err == nil:
		final.State = JobStateSucceeded
		final.Words = words
		span.SetTag(observability.MetricOCRWords, len(words))
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		final.State = JobStateCanceled
		final.Err = err
	default:
		final.State = JobStateFailed
		final.Err = err
		span.SetError(err)
	}
	span.Finish()
	if errors.Is(err, registry.ErrStaleEpoch) {
		s.logger.Debug("discarding stale ocr result",
			observability.Int("page", entry.Epoch.Page),
			observability.String("epoch", entry.Epoch.String()),
			observability.Error("reason", err))
	}

	s.mu.Lock()
	run.status = final
	waiters := run.waiters
	run.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w <- final
	}
}

func (s *Synthesizer) recognize(ctx context.Context, entry registry.Entry, area coords.Rect) ([]Word, error) {
	epoch := entry.Epoch
	page := epoch.Page
	scale := epoch.Scale * s.cfg.DevicePixelRatio * s.cfg.Boost
	img, err := s.raster.RasterizePage(ctx, page, scale, epoch.Rotation)
	if err != nil {
		return nil, &Error{Page: page, Stage: StageRasterize, Retryable: true, Err: err}
	}
	if img == nil || img.Bounds().Empty() {
		return nil, &Error{Page: page, Stage: StageRasterize, Retryable: true, Err: errors.New("empty raster")}
	}
	// Skip recognition when the view changed during rasterization.
	if err := s.views.Check(epoch); err != nil {
		return nil, err
	}

	img = fitPixels(img, s.cfg.MaxPixels)
	rw, rh := float64(img.Bounds().Dx()), float64(img.Bounds().Dy())
	dw, dh := coords.ViewportSize(entry.Page, entry.Transform)
	opts := append([]InputOption{WithDPI(int(math.Round(72 * epoch.Scale * rw / dw)))}, s.cfg.InputOptions...)
	if !area.Empty() {
		vr := coords.ToViewport(area, entry.Page, entry.Transform)
		opts = append(opts, WithRegion(pixelRegion(coords.RescaleRect(vr, dw, dh, rw, rh), rw, rh)))
	}
	in, err := InputFromImage(img, page, fmt.Sprintf("e%d", epoch.Seq), opts...)
	if err != nil {
		return nil, &Error{Page: page, Stage: StageRasterize, Retryable: true, Err: err}
	}
	res, err := s.engine.Recognize(ctx, in)
	if err != nil {
		return nil, &Error{Page: page, Stage: StageRecognize, Retryable: true, Err: err}
	}
	if err := s.views.Check(epoch); err != nil {
		return nil, err
	}

	var offset Region
	if in.Region != nil {
		offset = *in.Region
	}
	return PlaceWords(res.Words, offset.X, offset.Y, rw, rh, entry), nil
}

// pixelRegion widens r to whole pixels inside a rasterW x rasterH raster.
func pixelRegion(r coords.Rect, rasterW, rasterH float64) Region {
	x0 := math.Max(0, math.Floor(r.X))
	y0 := math.Max(0, math.Floor(r.Y))
	x1 := math.Min(rasterW, math.Ceil(r.Right()))
	y1 := math.Min(rasterH, math.Ceil(r.Bottom()))
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// PlaceWords maps word boxes from OCR raster pixels onto the page. Boxes are
// shifted by (dx, dy), rescaled from the rasterW x rasterH raster to the page
// as displayed at the entry's transform, then converted to Storage space.
// Blank words and boxes with no area inside the page are dropped.
func PlaceWords(words []TextWord, dx, dy, rasterW, rasterH float64, entry registry.Entry) []Word {
	dw, dh := coords.ViewportSize(entry.Page, entry.Transform)
	out := make([]Word, 0, len(words))
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		box := coords.NewRect(w.Bounds.X+dx, w.Bounds.Y+dy, w.Bounds.Width, w.Bounds.Height)
		vr := coords.RescaleRect(box, rasterW, rasterH, dw, dh)
		sr := coords.ToStorage(vr, entry.Page, entry.Transform)
		if sr.Empty() {
			continue
		}
		out = append(out, Word{Text: text, Box: sr, Confidence: w.Confidence, Epoch: entry.Epoch})
	}
	return out
}
