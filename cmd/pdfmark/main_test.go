package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/persist"
)

func writeBundle(t *testing.T, dir string) string {
	t.Helper()
	note := "see **figure 2**"
	b := persist.Export("book-1", "paper.pdf", []highlight.Highlight{
		{ID: "a", PageNumber: 1, Color: "yellow", SourceText: "first", Rects: []coords.Rect{coords.NewRect(100, 200, 110, 20)}},
		{ID: "b", PageNumber: 3, Color: "#FF0000", SourceText: "second", NoteText: &note, Rects: []coords.Rect{coords.NewRect(10, 10, 50, 10)}},
	})
	b.Highlights = append(b.Highlights, persist.Record{BookID: "book-1", HighlightRects: []persist.Rect{}})
	path := filepath.Join(dir, "bundle.json")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer f.Close()
	if err := persist.WriteBundle(f, b); err != nil {
		t.Fatalf("WriteBundle() error = %v", err)
	}
	return path
}

func pdfmark(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestImportExportQueryRender(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	bundle := writeBundle(t, dir)

	out, err := pdfmark(t, "import", "-store", store, bundle)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	if want := "book-1: imported 2, skipped 1, duplicates 0\n"; out != want {
		t.Fatalf("import output = %q, want %q", out, want)
	}
	if out, _ := pdfmark(t, "import", "-store", store, bundle); !strings.Contains(out, "imported 0, skipped 1, duplicates 2") {
		t.Fatalf("re-import output = %q", out)
	}
	if _, err := pdfmark(t, "import", "-store", store, "-strict", bundle); err == nil {
		t.Fatalf("strict import should fail on the corrupt record")
	}

	if out, _ := pdfmark(t, "books", "-store", store); out != "book-1\n" {
		t.Fatalf("books output = %q", out)
	}

	out, err = pdfmark(t, "query", "-store", store, "-book", "book-1", "h.page > 2")
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	var recs []persist.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil || len(recs) != 1 || recs[0].ID != "b" {
		t.Fatalf("query output = %s (%v)", out, err)
	}

	out, err = pdfmark(t, "render", "-store", store, "-book", "book-1", "-page", "1",
		"-width", "600", "-height", "800", "-scale", "2", "-rotation", "90")
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	var ds []drawable
	if err := json.Unmarshal([]byte(out), &ds); err != nil || len(ds) != 1 {
		t.Fatalf("render output = %s (%v)", out, err)
	}
	if got := (drawable{ID: "a", Color: "yellow", X: 1160, Y: 200, Width: 40, Height: 220}); ds[0] != got {
		t.Fatalf("drawable = %+v, want %+v", ds[0], got)
	}

	html := filepath.Join(dir, "digest.html")
	if _, err := pdfmark(t, "export", "-store", store, "-book", "book-1", "-format", "html", "-o", html); err != nil {
		t.Fatalf("export error = %v", err)
	}
	data, err := os.ReadFile(html)
	if err != nil || !strings.Contains(string(data), "<strong>figure 2</strong>") {
		t.Fatalf("html digest = %s (%v)", data, err)
	}
	out, err = pdfmark(t, "export", "-store", store, "-book", "book-1", "-format", "md", "-query", "h.color == 'yellow'")
	if err != nil || !strings.Contains(out, "> first") || strings.Contains(out, "second") {
		t.Fatalf("md digest = %q (%v)", out, err)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"frobnicate"},
		{"export", "-store", t.TempDir()},
		{"export", "-store", t.TempDir(), "-book", "b", "-format", "pdf"},
		{"render", "-store", t.TempDir(), "-book", "b", "-rotation", "45"},
		{"query", "-store", t.TempDir(), "-book", "b", "h.page >"},
		{"ocr", "-region", "1,2,3", "page.png"},
		{"ocr", "-region", "1,2,0,4", "page.png"},
	} {
		_, err := pdfmark(t, args...)
		var ue usageError
		if !errors.As(err, &ue) {
			t.Errorf("run(%q) error = %v, want usage error", args, err)
		}
	}
}

func TestRectFlag(t *testing.T) {
	var f rectFlag
	if err := f.Set(" 10, 20.5,30,40 "); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if f.rect != coords.NewRect(10, 20.5, 30, 40) {
		t.Fatalf("rect = %+v", f.rect)
	}
	if got := f.String(); got != "10,20.5,30,40" {
		t.Fatalf("String() = %q", got)
	}
	for _, bad := range []string{"", "1,2,3", "a,2,3,4", "1,2,-3,4", "1,2,NaN,4"} {
		if err := f.Set(bad); err == nil {
			t.Errorf("Set(%q) accepted", bad)
		}
	}
}

func TestImageDecoderRotates(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 40, 20))
	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			src.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	d := imageDecoder{img: src, page: coords.Page{Number: 1, Width: 20, Height: 10}}
	bm, err := d.Decode(context.Background(), 1, 2, coords.Rotate90)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := bm.Image.Bounds(); got.Dx() != 20 || got.Dy() != 40 {
		t.Fatalf("bounds = %v, want 20x40", got)
	}
	// The white left half of the source ends up on top after a clockwise turn.
	top, _, _, _ := bm.Image.At(10, 5).RGBA()
	bottom, _, _, _ := bm.Image.At(10, 35).RGBA()
	if top < 0xe000 || bottom > 0x2000 {
		t.Fatalf("top=%#x bottom=%#x", top, bottom)
	}
	if _, err := d.Decode(context.Background(), 2, 1, coords.Rotate0); err == nil {
		t.Fatalf("expected error for a missing page")
	}
}
