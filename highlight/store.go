package highlight

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/observability"
)

// ChangeKind identifies a committed mutation.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change describes one committed mutation. For Removed, Highlight is the
// value that was removed.
type Change struct {
	Kind      ChangeKind
	Highlight Highlight
}

// Patch is a partial update. Only Color and the note may change; setting any
// geometry field makes Update fail with ErrGeometryImmutable.
type Patch struct {
	Color     *string
	NoteText  *string
	ClearNote bool

	PageNumber *int
	Rects      []coords.NormalizedRect
	SourceText *string
}

func (p Patch) touchesGeometry() bool {
	return p.PageNumber != nil || p.Rects != nil || p.SourceText != nil
}

// snapshot is an immutable view of the store. Writers replace it whole.
type snapshot struct {
	list   []Highlight // insertion order
	byID   map[string]int
	byPage map[int][]int
}

func newSnapshot(list []Highlight) *snapshot {
	s := &snapshot{list: list, byID: make(map[string]int, len(list)), byPage: make(map[int][]int)}
	for i, h := range list {
		s.byID[h.ID] = i
		s.byPage[h.PageNumber] = append(s.byPage[h.PageNumber], i)
	}
	return s
}

// Store owns the highlights of one document. Mutations are serialized;
// reads never block and observe either the state before or after a mutation.
type Store struct {
	mu       sync.Mutex // serializes writers
	notifyMu sync.Mutex // orders subscriber delivery
	snap     atomic.Pointer[snapshot]

	subsMu  sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	logger observability.Logger
	tracer observability.Tracer
}

// NewStore returns an empty store. Nil logger and tracer discard output.
func NewStore(logger observability.Logger, tracer observability.Tracer) *Store {
	s := &Store{
		subs:   make(map[int]func(Change)),
		logger: observability.OrNop(logger).With(observability.String("component", "highlight")),
		tracer: observability.TracerOrNop(tracer),
	}
	s.snap.Store(newSnapshot(nil))
	return s
}

// Add validates and stores a highlight.
func (s *Store) Add(h Highlight) error {
	if err := h.Validate(); err != nil {
		return err
	}
	h = h.Clone()
	return s.mutate("add", func(cur *snapshot) ([]Highlight, Change, error) {
		if _, ok := cur.byID[h.ID]; ok {
			return nil, Change{}, fmt.Errorf("%w: %s", ErrDuplicateID, h.ID)
		}
		list := make([]Highlight, len(cur.list), len(cur.list)+1)
		copy(list, cur.list)
		return append(list, h), Change{Kind: Added, Highlight: h}, nil
	})
}

// Update applies a color or note change and returns the updated highlight.
func (s *Store) Update(id string, p Patch) (Highlight, error) {
	if p.touchesGeometry() {
		return Highlight{}, fmt.Errorf("%w: %s", ErrGeometryImmutable, id)
	}
	if p.Color != nil && !ValidColor(*p.Color) {
		return Highlight{}, fmt.Errorf("%w: %s: color %q", ErrInvalidHighlight, id, *p.Color)
	}
	var updated Highlight
	err := s.mutate("update", func(cur *snapshot) ([]Highlight, Change, error) {
		i, ok := cur.byID[id]
		if !ok {
			return nil, Change{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		h := cur.list[i].Clone()
		if p.Color != nil {
			h.Color = *p.Color
		}
		switch {
		case p.ClearNote:
			h.NoteText = nil
		case p.NoteText != nil:
			note := *p.NoteText
			h.NoteText = &note
		}
		list := append([]Highlight(nil), cur.list...)
		list[i] = h
		updated = h
		return list, Change{Kind: Updated, Highlight: h}, nil
	})
	if err != nil {
		return Highlight{}, err
	}
	return updated.Clone(), nil
}

// Remove deletes a highlight and returns it.
func (s *Store) Remove(id string) (Highlight, error) {
	var removed Highlight
	err := s.mutate("remove", func(cur *snapshot) ([]Highlight, Change, error) {
		i, ok := cur.byID[id]
		if !ok {
			return nil, Change{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		removed = cur.list[i]
		list := make([]Highlight, 0, len(cur.list)-1)
		list = append(list, cur.list[:i]...)
		list = append(list, cur.list[i+1:]...)
		return list, Change{Kind: Removed, Highlight: removed}, nil
	})
	if err != nil {
		return Highlight{}, err
	}
	return removed.Clone(), nil
}

// Replace swaps the whole content of the store, for instance after loading
// from persistence. No change events are emitted.
func (s *Store) Replace(hs []Highlight) error {
	list := make([]Highlight, 0, len(hs))
	seen := make(map[string]bool, len(hs))
	for _, h := range hs {
		if err := h.Validate(); err != nil {
			return err
		}
		if seen[h.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, h.ID)
		}
		seen[h.ID] = true
		list = append(list, h.Clone())
	}
	s.mu.Lock()
	s.snap.Store(newSnapshot(list))
	s.mu.Unlock()
	return nil
}

func (s *Store) mutate(op string, fn func(cur *snapshot) ([]Highlight, Change, error)) error {
	_, span := s.tracer.StartSpan(context.Background(), observability.SpanStoreMutate)
	defer span.Finish()
	span.SetTag("op", op)

	s.mu.Lock()
	list, change, err := fn(s.snap.Load())
	if err != nil {
		s.mu.Unlock()
		span.SetError(err)
		return err
	}
	s.snap.Store(newSnapshot(list))
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.logger.Debug("highlight "+change.Kind.String(),
		observability.String("id", change.Highlight.ID),
		observability.Int("page", change.Highlight.PageNumber))
	for _, sub := range s.subscribers() {
		sub(Change{Kind: change.Kind, Highlight: change.Highlight.Clone()})
	}
	return nil
}

// Subscribe registers fn to receive every committed change, in commit order.
// fn runs synchronously after the commit and must not mutate the store. The
// returned function unsubscribes.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) subscribers() []func(Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	out := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Get returns the highlight with the given id.
func (s *Store) Get(id string) (Highlight, bool) {
	cur := s.snap.Load()
	i, ok := cur.byID[id]
	if !ok {
		return Highlight{}, false
	}
	return cur.list[i].Clone(), true
}

// ByPage returns the page's highlights in insertion order.
func (s *Store) ByPage(page int) []Highlight {
	cur := s.snap.Load()
	idx := cur.byPage[page]
	out := make([]Highlight, len(idx))
	for j, i := range idx {
		out[j] = cur.list[i].Clone()
	}
	return out
}

// All returns every highlight in insertion order.
func (s *Store) All() []Highlight {
	cur := s.snap.Load()
	out := make([]Highlight, len(cur.list))
	for i, h := range cur.list {
		out[i] = h.Clone()
	}
	return out
}

// Len returns the number of highlights.
func (s *Store) Len() int { return len(s.snap.Load().list) }

// At returns the page's highlights having a rect that contains pt, a Storage
// space point. The topmost, most recently added, comes first.
func (s *Store) At(page int, pt coords.Point) []Highlight {
	return s.match(page, func(r coords.Rect) bool { return r.Contains(pt) })
}

// Overlapping returns the page's highlights having a rect that overlaps r,
// topmost first.
func (s *Store) Overlapping(page int, r coords.NormalizedRect) []Highlight {
	return s.match(page, func(x coords.Rect) bool { return x.Intersects(r) })
}

func (s *Store) match(page int, pred func(coords.Rect) bool) []Highlight {
	cur := s.snap.Load()
	idx := cur.byPage[page]
	var out []Highlight
	for j := len(idx) - 1; j >= 0; j-- {
		h := cur.list[idx[j]]
		for _, r := range h.Rects {
			if pred(r) {
				out = append(out, h.Clone())
				break
			}
		}
	}
	return out
}
