package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/recovery"
)

func strptr(s string) *string { return &s }

func sample(id string, page int) highlight.Highlight {
	return highlight.Highlight{
		ID:         id,
		PageNumber: page,
		Color:      "yellow",
		Rects:      []coords.Rect{coords.NewRect(66.5, 133.25, 33.5, 13.25), coords.NewRect(66.5, 150, 20, 13.25)},
		SourceText: "text of " + id,
		NoteText:   strptr("note"),
	}
}

func TestWireRoundTrip(t *testing.T) {
	h := sample("h1", 4)
	rec := ToWire("book-1", h)

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, k := range []string{"bookId", "pageNumber", "color", "noteText", "highlightText", "highlightRects"} {
		if _, ok := fields[k]; !ok {
			t.Fatalf("wire record misses %q: %s", k, data)
		}
	}

	got, err := FromWire(rec)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromWireNullNoteAndDefaults(t *testing.T) {
	var rec Record
	data := `{"bookId":"b","pageNumber":2,"color":"","noteText":null,"highlightText":null,
		"highlightRects":[{"x":1,"y":2,"width":0,"height":4},{"x":1,"y":2,"width":3,"height":4}]}`
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	h, err := FromWire(rec)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	if h.ID == "" || h.Color != DefaultColor || h.NoteText != nil || h.SourceText != "" {
		t.Fatalf("unexpected highlight %+v", h)
	}
	if len(h.Rects) != 1 {
		t.Fatalf("degenerate rect kept: %+v", h.Rects)
	}
}

func TestFromWireCorrupt(t *testing.T) {
	page := 1
	zero := 0
	rects := []Rect{{X: 1, Y: 1, Width: 5, Height: 5}}
	tests := []struct {
		name string
		rec  Record
	}{
		{"empty rects", Record{PageNumber: &page, Color: "yellow", HighlightRects: []Rect{}}},
		{"missing page", Record{Color: "yellow", HighlightRects: rects}},
		{"page zero", Record{PageNumber: &zero, Color: "yellow", HighlightRects: rects}},
		{"only degenerate rects", Record{PageNumber: &page, Color: "yellow", HighlightRects: []Rect{{Width: -1, Height: 5}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromWire(tc.rec)
			var re *RecordError
			if !errors.Is(err, ErrCorruptRecord) || !errors.As(err, &re) {
				t.Fatalf("FromWire() error = %v, want RecordError", err)
			}
		})
	}
}

func TestLoadReplacesInvalidColor(t *testing.T) {
	backend := NewMemoryBackend()
	rec := observability.NewRecorder()
	repo := NewRepository(backend, nil, rec, nil)
	putRaw(t, backend, RecordKey("book", "odd"),
		`{"id":"odd","bookId":"book","pageNumber":2,"color":"Not A Color","highlightRects":[{"x":1,"y":1,"width":5,"height":5}]}`)
	putRaw(t, backend, RecordKey("book", "hex"),
		`{"id":"hex","bookId":"book","pageNumber":2,"color":"#3366FF","highlightRects":[{"x":1,"y":9,"width":5,"height":5}]}`)

	hs, err := repo.Load(context.Background(), "book")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := make(map[string]string, len(hs))
	for _, h := range hs {
		got[h.ID] = h.Color
	}
	if diff := cmp.Diff(map[string]string{"odd": DefaultColor, "hex": "#3366FF"}, got); diff != "" {
		t.Fatalf("colors mismatch (-want +got):\n%s", diff)
	}
	if n := rec.Count(observability.LevelWarn, "replacing invalid highlight color"); n != 1 {
		t.Fatalf("color-log entries = %d, want 1", n)
	}
	if n := rec.Count(observability.LevelWarn, "skipping corrupt record"); n != 0 {
		t.Fatalf("record with an invalid color was skipped")
	}
}

func putRaw(t *testing.T, b Backend, key, data string) {
	t.Helper()
	if err := b.Put(context.Background(), key, []byte(data)); err != nil {
		t.Fatalf("Put(%s) error = %v", key, err)
	}
}

func TestLoadSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	rec := observability.NewRecorder()
	repo := NewRepository(backend, nil, rec, nil)

	const n = 5
	for i := 0; i < n-1; i++ {
		if err := repo.Put(ctx, "book", sample(fmt.Sprintf("h%d", i), i+1)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	putRaw(t, backend, RecordKey("book", "broken"),
		`{"id":"broken","bookId":"book","pageNumber":3,"color":"yellow","highlightRects":[]}`)

	hs, err := repo.Load(ctx, "book")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(hs) != n-1 {
		t.Fatalf("Load() returned %d highlights, want %d", len(hs), n-1)
	}
	if got := rec.Count(observability.LevelWarn, "skipping corrupt record"); got != 1 {
		t.Fatalf("skip-log entries = %d, want 1", got)
	}
}

func TestLoadSkipsMalformedJSON(t *testing.T) {
	backend := NewMemoryBackend()
	repo := NewRepository(backend, nil, nil, nil)
	putRaw(t, backend, RecordKey("book", "a"), `{"pageNumber":"three"}`)
	putRaw(t, backend, RecordKey("book", "b"), `not json`)
	if err := repo.Put(context.Background(), "book", sample("c", 1)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	hs, err := repo.Load(context.Background(), "book")
	if err != nil || len(hs) != 1 || hs[0].ID != "c" {
		t.Fatalf("Load() = %+v, %v", hs, err)
	}
}

func TestLoadStrictFails(t *testing.T) {
	backend := NewMemoryBackend()
	repo := NewRepository(backend, recovery.NewStrictStrategy(), nil, nil)
	putRaw(t, backend, RecordKey("book", "x"), `{"bookId":"book","highlightRects":[{"x":1,"y":1,"width":2,"height":2}]}`)

	_, err := repo.Load(context.Background(), "book")
	var re *RecordError
	if !errors.As(err, &re) || re.Key != RecordKey("book", "x") {
		t.Fatalf("Load() error = %v, want RecordError for the record key", err)
	}
}

func TestRepositoryWithDirBackend(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(DirBackend{Root: t.TempDir()}, nil, nil, nil)

	a, b := sample("a", 1), sample("odd/id", 2)
	for _, h := range []highlight.Highlight{a, b} {
		if err := repo.Apply(ctx, "book-1", highlight.Change{Kind: highlight.Added, Highlight: h}); err != nil {
			t.Fatalf("Apply(add) error = %v", err)
		}
	}
	if err := repo.Put(ctx, "book-2", sample("z", 1)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	books, err := repo.Books(ctx)
	if err != nil {
		t.Fatalf("Books() error = %v", err)
	}
	if diff := cmp.Diff([]string{"book-1", "book-2"}, books); diff != "" {
		t.Fatalf("Books() mismatch (-want +got):\n%s", diff)
	}

	hs, err := repo.Load(ctx, "book-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff([]highlight.Highlight{a, b}, hs); diff != "" {
		t.Fatalf("Load() mismatch (-want +got):\n%s", diff)
	}

	if err := repo.Apply(ctx, "book-1", highlight.Change{Kind: highlight.Removed, Highlight: a}); err != nil {
		t.Fatalf("Apply(remove) error = %v", err)
	}
	if err := repo.SaveAll(ctx, "book-2", []highlight.Highlight{sample("y", 3)}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if hs, _ := repo.Load(ctx, "book-1"); len(hs) != 1 || hs[0].ID != "odd/id" {
		t.Fatalf("book-1 after remove = %+v", hs)
	}
	if hs, _ := repo.Load(ctx, "book-2"); len(hs) != 1 || hs[0].ID != "y" {
		t.Fatalf("book-2 after SaveAll = %+v", hs)
	}
	if err := repo.Put(ctx, "bad/book", a); err == nil {
		t.Fatalf("expected error for a book id with a slash")
	}
}

func TestDirBackendRejectsTraversal(t *testing.T) {
	d := DirBackend{Root: t.TempDir()}
	for _, key := range []string{"../escape", "a//b", ""} {
		if err := d.Put(context.Background(), key, []byte("{}")); err == nil {
			t.Fatalf("Put(%q) should fail", key)
		}
	}
	if _, err := d.Get(context.Background(), "missing"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("Get(missing) error = %v", err)
	}
	keys, err := DirBackend{Root: d.Root + "/nope"}.Keys(context.Background(), "")
	if err != nil || len(keys) != 0 {
		t.Fatalf("Keys() on a missing root = %v, %v", keys, err)
	}
}

func TestImportBundle(t *testing.T) {
	existing := []highlight.Highlight{sample("kept", 1)}

	recolored := sample("other-id", 1)
	recolored.Color = "#00FF00"
	recolored.SourceText = existing[0].SourceText
	collision := sample("kept", 2)
	fresh := sample("fresh", 3)

	b := Export("book", "paper.pdf", []highlight.Highlight{recolored, collision, fresh})
	var buf bytes.Buffer
	if err := WriteBundle(&buf, b); err != nil {
		t.Fatalf("WriteBundle() error = %v", err)
	}
	// Splice a corrupt record into the exported array.
	var env map[string]any
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	env["highlights"] = append(env["highlights"].([]any), map[string]any{"bookId": "book", "highlightRects": []any{}})
	data, _ := json.Marshal(env)

	rec := observability.NewRecorder()
	res, err := Import(context.Background(), data, existing, Decoder{Logger: rec})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if diff := cmp.Diff(ImportReport{Imported: 2, Skipped: 1, Duplicates: 1}, res.Report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if res.BookID != "book" || res.PDFName != "paper.pdf" {
		t.Fatalf("bundle tags = %q, %q", res.BookID, res.PDFName)
	}
	if res.Highlights[0].ID == "kept" || res.Highlights[0].PageNumber != 2 {
		t.Fatalf("colliding id not replaced: %+v", res.Highlights[0])
	}
	if res.Highlights[1].ID != "fresh" {
		t.Fatalf("unexpected second highlight %+v", res.Highlights[1])
	}
	if rec.Count(observability.LevelWarn, "skipping corrupt record") != 1 {
		t.Fatalf("expected one skip-log entry")
	}
}

func TestImportBareArray(t *testing.T) {
	data, _ := json.Marshal([]Record{ToWire("book", sample("a", 1)), ToWire("book", sample("a", 1))})
	res, err := Import(context.Background(), data, nil, Decoder{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	// The second copy repeats the id within the batch and is skipped as corrupt.
	if diff := cmp.Diff(ImportReport{Imported: 1, Skipped: 1}, res.Report); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if _, err := Import(context.Background(), []byte(`{"highlights": 3}`), nil, Decoder{}); err == nil {
		t.Fatalf("expected error for a malformed envelope")
	}
}

func TestFingerprint(t *testing.T) {
	a := sample("a", 1)
	b := a.Clone()
	b.ID, b.Color, b.NoteText = "b", "blue", nil
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("color, note and id must not change the fingerprint")
	}
	b.Rects[0].X += 0.01
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("geometry must change the fingerprint")
	}
}
