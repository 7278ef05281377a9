// Package engine assembles the annotation components into one Document per
// opened book.
//
// A Document owns the page registry, the rasterization scheduler, the OCR
// synthesizer, the text layers of visible pages, the highlight store and,
// when a backend is configured, the repository every store change is written
// to. Hosts drive it with SetView when a page is shown, zoomed or rotated,
// RenderPage and RunOCR to obtain text layers, and the highlight operations to
// create and draw annotations.
//
// Text layers share one client frame. By default pages are stacked top to
// bottom in page order, Config.PageGap apart, each as tall as it is displayed;
// hosts that place pages themselves pass the layer origin to SetViewAt.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/ocr"
	"github.com/wudi/pdfmark/persist"
	"github.com/wudi/pdfmark/registry"
	"github.com/wudi/pdfmark/render"
	"github.com/wudi/pdfmark/selection"
	"github.com/wudi/pdfmark/textlayer"
)

// ErrUnknownPage is returned for page numbers the document does not have.
var ErrUnknownPage = errors.New("unknown page")

// Document is safe for concurrent use.
type Document struct {
	bookID  string
	cfg     Config
	logger  observability.Logger
	pages   map[int]coords.Page
	order   []int
	reg     *registry.Registry
	sched   *render.Scheduler
	synth   *ocr.Synthesizer
	capture *selection.Capturer
	store   *highlight.Store
	builder highlight.Builder
	repo    *persist.Repository
	decoder persist.Decoder
	unsub   func()

	mu      sync.Mutex
	text    *textlayer.Document
	native  map[int][]textlayer.Run
	words   map[int][]ocr.Word
	origins map[int]coords.Point
	pinned  map[int]coords.Point
}

// Open creates the document for a book with the given pages. With a backend
// configured, the book's stored highlights are loaded first; corrupt records
// are handled by deps.Recovery.
func Open(ctx context.Context, bookID string, pages []coords.Page, cfg Config, deps Deps) (*Document, error) {
	if deps.Decoder == nil {
		return nil, errors.New("engine: nil decoder")
	}
	cfg = cfg.withDefaults()
	logger := observability.OrNop(deps.Logger)

	d := &Document{
		bookID:  bookID,
		cfg:     cfg,
		logger:  logger.With(observability.String("book", bookID)),
		pages:   make(map[int]coords.Page, len(pages)),
		reg:     registry.New(),
		capture: selection.NewCapturer(cfg.Selection, logger),
		store:   highlight.NewStore(logger, deps.Tracer),
		builder: deps.builder(cfg),
		decoder: persist.Decoder{Strategy: deps.Recovery, Logger: logger},
		text:    textlayer.NewDocument(),
		native:  make(map[int][]textlayer.Run),
		words:   make(map[int][]ocr.Word),
		origins: make(map[int]coords.Point),
		pinned:  make(map[int]coords.Point),
	}
	for _, p := range pages {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := d.pages[p.Number]; dup {
			return nil, fmt.Errorf("engine: page %d listed twice", p.Number)
		}
		d.pages[p.Number] = p
		d.order = append(d.order, p.Number)
	}
	sort.Ints(d.order)
	d.layoutLocked()
	d.sched = render.NewScheduler(d.reg, deps.Decoder, cfg.Render, logger, deps.Tracer)
	d.synth = ocr.NewSynthesizer(d.reg, d.sched, deps.OCR, cfg.OCR, logger, deps.Tracer)

	if deps.Backend != nil {
		d.repo = persist.NewRepository(deps.Backend, deps.Recovery, logger, deps.Tracer)
		hs, err := d.repo.Load(ctx, bookID)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("load highlights of %s: %w", bookID, err)
		}
		if err := d.store.Replace(hs); err != nil {
			d.Close()
			return nil, err
		}
		d.unsub = d.store.Subscribe(d.persist)
	}
	return d, nil
}

// persist writes one store change through. A failed write is logged; the
// in-memory state stays authoritative.
func (d *Document) persist(c highlight.Change) {
	if err := d.repo.Apply(context.Background(), d.bookID, c); err != nil {
		d.logger.Error("persist highlight change",
			observability.String("change", c.Kind.String()),
			observability.String("id", c.Highlight.ID),
			observability.Error("error", err))
	}
}

// Close cancels rendering and OCR and stops persisting changes.
func (d *Document) Close() {
	if d.unsub != nil {
		d.unsub()
	}
	d.synth.Close()
	d.sched.Close()
}

// BookID returns the book the document was opened for.
func (d *Document) BookID() string { return d.bookID }

// Page returns the intrinsic geometry of a page.
func (d *Document) Page(n int) (coords.Page, bool) {
	p, ok := d.pages[n]
	return p, ok
}

// SetView registers the page as shown with transform t and returns the new
// epoch. Work in flight for an older view of the page is canceled, and a text
// layer already known for the page is rebuilt at t. The page's layer takes its
// place in the stacked layout.
func (d *Document) SetView(page int, t coords.Transform) (registry.Epoch, error) {
	return d.setView(page, t, nil)
}

// SetViewAt is SetView with the client-space origin of the page's layer
// chosen by the host. The page then takes no room in the stacked layout.
func (d *Document) SetViewAt(page int, t coords.Transform, origin coords.Point) (registry.Epoch, error) {
	return d.setView(page, t, &origin)
}

func (d *Document) setView(page int, t coords.Transform, origin *coords.Point) (registry.Epoch, error) {
	p, ok := d.pages[page]
	if !ok {
		return registry.Epoch{}, fmt.Errorf("%w: %d", ErrUnknownPage, page)
	}
	prev, hadPrev := d.reg.Current(page)
	epoch, err := d.reg.Register(p, t)
	if err != nil {
		return registry.Epoch{}, err
	}
	if !hadPrev || prev.Seq != epoch.Seq {
		d.sched.Cancel(page)
	}
	if hadPrev && !prev.SameView(epoch) {
		d.synth.Cancel(page)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if origin != nil {
		d.pinned[page] = *origin
	} else {
		delete(d.pinned, page)
	}
	d.rebuildLocked(page)
	d.relayoutLocked()
	return epoch, nil
}

// HidePage unregisters the page. Its text layer is dropped; recognized words
// are kept for when the page is shown again.
func (d *Document) HidePage(page int) {
	d.reg.Unregister(page)
	d.sched.Cancel(page)
	d.synth.Cancel(page)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text.Detach(page)
	d.relayoutLocked()
}

// layoutLocked recomputes the client origin of every page and returns the
// pages whose origin changed. Pages not shown take their intrinsic height.
func (d *Document) layoutLocked() []int {
	var moved []int
	y := 0.0
	for _, n := range d.order {
		origin, pinned := d.pinned[n]
		if !pinned {
			origin = coords.Point{Y: y}
			h := d.pages[n].Height
			if e, ok := d.reg.Lookup(n); ok {
				_, h = coords.ViewportSize(e.Page, e.Transform)
			}
			y += h + d.cfg.PageGap
		}
		if cur, ok := d.origins[n]; !ok || cur != origin {
			d.origins[n] = origin
			moved = append(moved, n)
		}
	}
	return moved
}

// relayoutLocked updates the layout and rebuilds the layers that moved.
func (d *Document) relayoutLocked() {
	for _, n := range d.layoutLocked() {
		if _, ok := d.text.Layer(n); ok {
			d.rebuildLocked(n)
		}
	}
}

// LayerOrigin returns the client-space origin of the page's text layer.
func (d *Document) LayerOrigin(page int) (coords.Point, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.origins[page]
	return p, ok
}

// rebuildLocked rebuilds the page's text layer at the current transform from
// the native runs of the last render or, failing that, the last OCR words.
func (d *Document) rebuildLocked(page int) {
	entry, ok := d.reg.Lookup(page)
	if !ok {
		d.text.Detach(page)
		return
	}
	var (
		l      *textlayer.Layer
		err    error
		origin = textlayer.WithOrigin(d.origins[page])
	)
	switch {
	case len(d.native[page]) > 0:
		l, err = textlayer.Build(entry.Page, entry.Transform, d.native[page], origin)
	case len(d.words[page]) > 0:
		l, err = textlayer.FromWords(entry.Page, entry.Transform, d.words[page], origin)
	default:
		d.text.Detach(page)
		return
	}
	if err != nil {
		d.logger.Warn("rebuild text layer", observability.Int("page", page), observability.Error("error", err))
		d.text.Detach(page)
		return
	}
	d.text.Attach(l)
}

// RenderPage rasterizes the page at its current view. A page with native text
// gets its text layer from the render. A decode failure marks only this page
// unavailable.
func (d *Document) RenderPage(ctx context.Context, page int) (render.Frame, error) {
	d.mu.Lock()
	origin := d.origins[page]
	d.mu.Unlock()
	frame, err := d.sched.Render(ctx, page, textlayer.WithOrigin(origin))
	if err != nil {
		return render.Frame{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reg.CheckExact(frame.Epoch) != nil {
		return render.Frame{}, fmt.Errorf("render page %d: %w", page, registry.ErrStaleEpoch)
	}
	d.native[page] = append([]textlayer.Run(nil), frame.Bitmap.Runs...)
	if frame.Layer != nil && frame.Layer.Origin() == d.origins[page] {
		d.text.Attach(frame.Layer)
		return frame, nil
	}
	// The layout moved while the page was rendering.
	d.rebuildLocked(page)
	if l, ok := d.text.Layer(page); ok {
		frame.Layer = l
	}
	return frame, nil
}

// RunOCR recognizes the page at its current view and waits for the outcome.
// On success the page gets a text layer from the words, unless it already has
// native text. A result made stale by a view change is dropped silently.
func (d *Document) RunOCR(ctx context.Context, page int) (ocr.Status, error) {
	return d.RunOCRArea(ctx, page, coords.Rect{})
}

// RunOCRArea is RunOCR limited to a Storage-space area of the page. Words
// recognized earlier outside the area are kept.
func (d *Document) RunOCRArea(ctx context.Context, page int, area coords.NormalizedRect) (ocr.Status, error) {
	st, err := d.synth.RunArea(ctx, page, area)
	if err != nil {
		return st, err
	}
	if st.State != ocr.JobStateSucceeded {
		if errors.Is(st.Err, registry.ErrStaleEpoch) {
			return st, nil
		}
		return st, st.Err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reg.Check(st.Epoch); err != nil {
		return st, nil
	}
	d.words[page] = mergeWords(d.words[page], st)
	if len(d.native[page]) == 0 {
		d.rebuildLocked(page)
	}
	return st, nil
}

// mergeWords replaces the words inside the status area with the recognized
// ones. A whole-page status replaces every word.
func mergeWords(prev []ocr.Word, st ocr.Status) []ocr.Word {
	if st.Area.Empty() {
		return append([]ocr.Word(nil), st.Words...)
	}
	out := make([]ocr.Word, 0, len(prev)+len(st.Words))
	for _, w := range prev {
		if !w.Box.Intersects(st.Area) {
			out = append(out, w)
		}
	}
	return append(out, st.Words...)
}

// OCRStatus returns the OCR state of the page.
func (d *Document) OCRStatus(page int) ocr.Status { return d.synth.Status(page) }

// CancelOCR aborts the page's OCR run, if any.
func (d *Document) CancelOCR(page int) { d.synth.Cancel(page) }

// TextLayer returns the page's current text layer.
func (d *Document) TextLayer(page int) (*textlayer.Layer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.Layer(page)
}

// Span selects from one text node to another, possibly across pages.
func (d *Document) Span(from, to textlayer.Position) (*selection.StaticRange, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.Span(from, to)
}

// Capture captures a selection range over the current text layers. Ranges
// outside every layer and empty ranges yield no captures and no error.
func (d *Document) Capture(r selection.Range) ([]selection.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps, err := d.capture.CaptureSpanning(r, d.text.Layers())
	if errors.Is(err, selection.ErrOutsideLayer) || errors.Is(err, selection.ErrEmptySelection) {
		return nil, nil
	}
	return caps, err
}

// AddFromCaptures creates one highlight per capture at the view the capture
// was taken under, even if the page has been zoomed or rotated since. A
// capture without a transform is mapped at the page's current view. Captures
// that fail are reported together; the others are still added.
func (d *Document) AddFromCaptures(caps []selection.Capture, color string, note *string) ([]highlight.Highlight, error) {
	if color == "" {
		color = d.cfg.DefaultColor
	}
	var (
		out  []highlight.Highlight
		errs []error
	)
	for _, c := range caps {
		p, ok := d.pages[c.PageNumber]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %d", ErrUnknownPage, c.PageNumber))
			continue
		}
		t := c.Transform
		if t.Validate() != nil {
			entry, ok := d.reg.Lookup(c.PageNumber)
			if !ok {
				errs = append(errs, fmt.Errorf("page %d: %w", c.PageNumber, registry.ErrPageNotRegistered))
				continue
			}
			t = entry.Transform
		}
		h, err := d.builder.FromCapture(c, p, t, color, note)
		if err == nil {
			err = d.store.Add(h)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, h)
	}
	return out, errors.Join(errs...)
}

// AddFromRange captures r and creates its highlights.
func (d *Document) AddFromRange(r selection.Range, color string, note *string) ([]highlight.Highlight, error) {
	caps, err := d.Capture(r)
	if err != nil || len(caps) == 0 {
		return nil, err
	}
	return d.AddFromCaptures(caps, color, note)
}

// HighlightSpan highlights the text from one node to another.
func (d *Document) HighlightSpan(from, to textlayer.Position, color string, note *string) ([]highlight.Highlight, error) {
	r, err := d.Span(from, to)
	if err != nil {
		return nil, err
	}
	return d.AddFromRange(r, color, note)
}

// Update changes the color or note of a highlight.
func (d *Document) Update(id string, p highlight.Patch) (highlight.Highlight, error) {
	return d.store.Update(id, p)
}

// Remove deletes a highlight.
func (d *Document) Remove(id string) error {
	_, err := d.store.Remove(id)
	return err
}

// Get returns one highlight.
func (d *Document) Get(id string) (highlight.Highlight, bool) { return d.store.Get(id) }

// Highlights returns every highlight in insertion order.
func (d *Document) Highlights() []highlight.Highlight { return d.store.All() }

// Drawables returns the page's highlight rects in Viewport space at the
// page's current view.
func (d *Document) Drawables(page int) ([]highlight.DrawableRect, error) {
	entry, ok := d.reg.Lookup(page)
	if !ok {
		return nil, fmt.Errorf("drawables for page %d: %w", page, registry.ErrPageNotRegistered)
	}
	return highlight.Render(d.store.ByPage(page), entry.Page, entry.Transform), nil
}

// HitTest returns the highlights under a Viewport point, topmost first.
func (d *Document) HitTest(page int, pt coords.Point) ([]highlight.Highlight, error) {
	entry, ok := d.reg.Lookup(page)
	if !ok {
		return nil, fmt.Errorf("hit test on page %d: %w", page, registry.ErrPageNotRegistered)
	}
	return d.store.At(page, coords.PointToStorage(pt, entry.Page, entry.Transform)), nil
}

// CheckRoundTrip maps the highlight's rects to the page's current view and
// back, and reports any rect that moves by more than the configured
// tolerance.
func (d *Document) CheckRoundTrip(id string) error {
	h, ok := d.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", highlight.ErrNotFound, id)
	}
	entry, ok := d.reg.Lookup(h.PageNumber)
	if !ok {
		return fmt.Errorf("round trip of %s: %w", id, registry.ErrPageNotRegistered)
	}
	for i, r := range h.Rects {
		back := coords.ToStorage(coords.ToViewport(r, entry.Page, entry.Transform), entry.Page, entry.Transform)
		if !d.cfg.Tolerance.RectEqual(r, back) {
			return fmt.Errorf("highlight %s rect %d drifts at %s: %+v -> %+v", id, i, entry.Epoch, r, back)
		}
	}
	return nil
}

// Export returns the book's highlights as a bundle.
func (d *Document) Export(pdfName string) persist.Bundle {
	return persist.Export(d.bookID, pdfName, d.store.All())
}

// Import adds the highlights of an exported bundle that are not already
// present. Corrupt records are skipped per the recovery strategy.
func (d *Document) Import(ctx context.Context, data []byte) (persist.ImportReport, error) {
	res, err := persist.Import(ctx, data, d.store.All(), d.decoder)
	if err != nil {
		return persist.ImportReport{}, err
	}
	err = d.admit(res.Highlights, &res.Report, d.store.Add)
	return res.Report, err
}

// admit adds imported highlights one by one. Every highlight that is not
// added moves from Imported to Skipped.
func (d *Document) admit(hs []highlight.Highlight, rep *persist.ImportReport, add func(highlight.Highlight) error) error {
	var errs []error
	for _, h := range hs {
		if _, ok := d.pages[h.PageNumber]; !ok && len(d.pages) > 0 {
			rep.Imported--
			rep.Skipped++
			d.logger.Warn("skipping imported highlight on unknown page",
				observability.String("id", h.ID), observability.Int("page", h.PageNumber))
			continue
		}
		if err := add(h); err != nil {
			rep.Imported--
			rep.Skipped++
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
