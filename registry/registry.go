// Package registry tracks the pages currently rendered by a viewer. Each
// rendered page registers its intrinsic geometry and current transform; the
// engine reads geometry from here instead of inspecting a rendering tree.
//
// Every registration change produces a new Epoch. Asynchronous work captures
// the Epoch when it starts and calls Check when it completes, discarding its
// result if the view has moved on.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wudi/pdfmark/coords"
)

var (
	// ErrStaleEpoch reports a result computed for a view that is no longer
	// current. It is never shown to the user.
	ErrStaleEpoch = errors.New("stale epoch")
	// ErrPageNotRegistered is returned for pages that are not rendered.
	ErrPageNotRegistered = errors.New("page not registered")
)

// Epoch identifies the render generation of one page.
type Epoch struct {
	Page     int
	Scale    float64
	Rotation coords.Rotation
	Seq      uint64 // increases with every registration change in a Registry
}

// SameView reports whether e and o describe the same page, scale and
// rotation, regardless of generation.
func (e Epoch) SameView(o Epoch) bool {
	return e.Page == o.Page && e.Scale == o.Scale && e.Rotation == o.Rotation
}

// Transform returns the view transform recorded in the epoch.
func (e Epoch) Transform() coords.Transform {
	return coords.Transform{Scale: e.Scale, Rotation: e.Rotation}
}

func (e Epoch) String() string {
	return fmt.Sprintf("page=%d scale=%g rotation=%d seq=%d", e.Page, e.Scale, e.Rotation, e.Seq)
}

// Entry is the registered state of one page.
type Entry struct {
	Page      coords.Page
	Transform coords.Transform
	Epoch     Epoch
	// Unavailable holds the decode failure that made this page unusable, if any.
	Unavailable error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	seq   uint64
	pages map[int]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{pages: make(map[int]Entry)}
}

// Register records the page and its current transform. Registering the same
// geometry and transform again keeps the current epoch.
func (r *Registry) Register(p coords.Page, t coords.Transform) (Epoch, error) {
	if err := p.Validate(); err != nil {
		return Epoch{}, err
	}
	if err := t.Validate(); err != nil {
		return Epoch{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pages[p.Number]; ok && cur.Page == p && cur.Transform == t {
		return cur.Epoch, nil
	}
	r.seq++
	e := Epoch{Page: p.Number, Scale: t.Scale, Rotation: t.Rotation, Seq: r.seq}
	r.pages[p.Number] = Entry{Page: p, Transform: t, Epoch: e}
	return e, nil
}

// Unregister forgets a page, which makes all of its outstanding epochs stale.
func (r *Registry) Unregister(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pages[page]; ok {
		r.seq++
		delete(r.pages, page)
	}
}

// Lookup returns the entry of a registered page.
func (r *Registry) Lookup(page int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pages[page]
	return e, ok
}

// Current returns the current epoch of a page.
func (r *Registry) Current(page int) (Epoch, bool) {
	e, ok := r.Lookup(page)
	return e.Epoch, ok
}

// Check returns nil if e still describes the current view of its page and an
// error wrapping ErrStaleEpoch otherwise.
func (r *Registry) Check(e Epoch) error {
	cur, ok := r.Current(e.Page)
	if !ok {
		return fmt.Errorf("%w: page %d no longer rendered", ErrStaleEpoch, e.Page)
	}
	if !cur.SameView(e) {
		return fmt.Errorf("%w: started at %s, now %s", ErrStaleEpoch, e, cur)
	}
	return nil
}

// CheckExact is like Check but also requires the generation to match, so any
// re-registration in between makes e stale.
func (r *Registry) CheckExact(e Epoch) error {
	cur, ok := r.Current(e.Page)
	if !ok || cur.Seq != e.Seq {
		return fmt.Errorf("%w: %s superseded", ErrStaleEpoch, e)
	}
	return nil
}

// MarkUnavailable records that a page could not be decoded. Other pages are
// not affected.
func (r *Registry) MarkUnavailable(page int, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pages[page]; ok {
		e.Unavailable = cause
		r.pages[page] = e
	}
}

// Pages returns the registered page numbers in ascending order.
func (r *Registry) Pages() []int {
	r.mu.RLock()
	out := make([]int, 0, len(r.pages))
	for n := range r.pages {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Ints(out)
	return out
}
