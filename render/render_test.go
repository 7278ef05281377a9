package render

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/registry"
	"github.com/wudi/pdfmark/textlayer"
)

type fakeDecoder struct {
	mu      sync.Mutex
	pages   map[int]coords.Page
	runs    []textlayer.Run
	fail    map[int]error
	gate    chan struct{}
	started chan int
}

func newFakeDecoder(pages ...coords.Page) *fakeDecoder {
	d := &fakeDecoder{pages: make(map[int]coords.Page), fail: make(map[int]error), started: make(chan int, 8)}
	for _, p := range pages {
		d.pages[p.Number] = p
	}
	return d
}

func (d *fakeDecoder) Decode(ctx context.Context, page int, scale float64, rot coords.Rotation) (Bitmap, error) {
	d.started <- page
	d.mu.Lock()
	gate, err, p := d.gate, d.fail[page], d.pages[page]
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Bitmap{}, ctx.Err()
		}
	}
	if err != nil {
		return Bitmap{}, err
	}
	w, h := coords.ViewportSize(p, coords.Transform{Scale: scale, Rotation: rot})
	return Bitmap{
		Image: image.NewGray(image.Rect(0, 0, int(math.Round(w)), int(math.Round(h)))),
		Runs:  d.runs,
	}, nil
}

var (
	pageOne = coords.Page{Number: 1, Width: 200, Height: 100}
	pageTwo = coords.Page{Number: 2, Width: 200, Height: 100}
)

func setup(t *testing.T, cfg Config, pages ...coords.Page) (*registry.Registry, *fakeDecoder, *Scheduler) {
	t.Helper()
	reg := registry.New()
	for _, p := range pages {
		if _, err := reg.Register(p, coords.Transform{Scale: 1}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	dec := newFakeDecoder(pages...)
	s := NewScheduler(reg, dec, cfg, nil, nil)
	t.Cleanup(s.Close)
	return reg, dec, s
}

func TestRenderBuildsTextLayer(t *testing.T) {
	reg, dec, s := setup(t, DefaultConfig(), pageOne)
	dec.runs = []textlayer.Run{{Text: "native", OriginX: 10, OriginY: 10, GlyphHeight: 12, Width: 40}}
	if _, err := reg.Register(pageOne, coords.Transform{Scale: 2, Rotation: coords.Rotate90}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	frame, err := s.Render(context.Background(), 1)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if b := frame.Bitmap.Image.Bounds(); b.Dx() != 200 || b.Dy() != 400 {
		t.Fatalf("bitmap is %dx%d, want 200x400", b.Dx(), b.Dy())
	}
	if frame.Layer == nil || frame.Layer.Len() != 1 {
		t.Fatalf("expected a text layer with one node")
	}
	if got := frame.Layer.Node(0).FontSize; got != 24 {
		t.Fatalf("FontSize = %v, want 24", got)
	}
	if frame.Epoch.Scale != 2 || frame.Epoch.Rotation != coords.Rotate90 {
		t.Fatalf("unexpected epoch %s", frame.Epoch)
	}
}

func TestRenderScannedPageHasNoLayer(t *testing.T) {
	_, _, s := setup(t, DefaultConfig(), pageOne)
	frame, err := s.Render(context.Background(), 1)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if frame.Layer != nil {
		t.Fatalf("scanned page should have no native layer")
	}
}

func TestRenderDiscardsStaleResult(t *testing.T) {
	reg, dec, s := setup(t, DefaultConfig(), pageOne)
	dec.gate = make(chan struct{})
	rec := observability.NewRecorder()
	s.logger = rec

	ch, err := s.Request(context.Background(), 1)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	<-dec.started
	if _, err := reg.Register(pageOne, coords.Transform{Scale: 1.5}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	close(dec.gate)

	res := <-ch
	if !errors.Is(res.Err, registry.ErrStaleEpoch) {
		t.Fatalf("Err = %v, want ErrStaleEpoch", res.Err)
	}
	if res.Frame.Bitmap.Image != nil {
		t.Fatalf("stale result must not carry a bitmap")
	}
	if rec.Count(observability.LevelDebug, "discarding stale render") != 1 {
		t.Fatalf("expected a stale log entry, got %+v", rec.Entries())
	}
}

func TestRequestSupersedesInFlight(t *testing.T) {
	_, dec, s := setup(t, DefaultConfig(), pageOne)
	dec.gate = make(chan struct{})

	first, err := s.Request(context.Background(), 1)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	<-dec.started
	second, err := s.Request(context.Background(), 1)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if res := <-first; !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("first Err = %v, want context.Canceled", res.Err)
	}
	<-dec.started
	close(dec.gate)
	if res := <-second; res.Err != nil {
		t.Fatalf("second Err = %v", res.Err)
	}
}

func TestDecodeFailureMarksOnlyThatPage(t *testing.T) {
	reg, dec, s := setup(t, DefaultConfig(), pageOne, pageTwo)
	dec.fail[1] = errors.New("broken content stream")

	_, err := s.Render(context.Background(), 1)
	var de *DecodeError
	if !errors.As(err, &de) || de.Page != 1 || !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("Render() error = %v, want DecodeError for page 1", err)
	}
	if e, _ := reg.Lookup(1); !errors.Is(e.Unavailable, ErrDecodeFailure) {
		t.Fatalf("page 1 not marked unavailable: %v", e.Unavailable)
	}
	if _, err := s.Render(context.Background(), 2); err != nil {
		t.Fatalf("page 2 should render, got %v", err)
	}
	if e, _ := reg.Lookup(2); e.Unavailable != nil {
		t.Fatalf("page 2 marked unavailable")
	}

	delete(dec.fail, 1)
	if _, err := s.Render(context.Background(), 1); err != nil {
		t.Fatalf("retry Render() error = %v", err)
	}
	if e, _ := reg.Lookup(1); e.Unavailable != nil {
		t.Fatalf("successful retry should clear the unavailable mark")
	}
}

func TestRenderTimeout(t *testing.T) {
	reg, dec, s := setup(t, Config{Timeout: 20 * time.Millisecond}, pageOne)
	dec.gate = make(chan struct{})
	defer close(dec.gate)

	_, err := s.Render(context.Background(), 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Render() error = %v, want deadline exceeded", err)
	}
	if e, _ := reg.Lookup(1); e.Unavailable != nil {
		t.Fatalf("a timeout must not mark the page unavailable")
	}
}

func TestRenderUnregisteredPage(t *testing.T) {
	_, _, s := setup(t, DefaultConfig())
	if _, err := s.Request(context.Background(), 4); !errors.Is(err, registry.ErrPageNotRegistered) {
		t.Fatalf("Request() error = %v", err)
	}
}

func TestRasterizePage(t *testing.T) {
	_, dec, s := setup(t, DefaultConfig(), pageOne)
	img, err := s.RasterizePage(context.Background(), 1, 3, coords.Rotate0)
	if err != nil {
		t.Fatalf("RasterizePage() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 600 || b.Dy() != 300 {
		t.Fatalf("raster is %dx%d, want 600x300", b.Dx(), b.Dy())
	}
	dec.fail[1] = errors.New("boom")
	if _, err := s.RasterizePage(context.Background(), 1, 3, coords.Rotate0); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("RasterizePage() error = %v, want ErrDecodeFailure", err)
	}
}
