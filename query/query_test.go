package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/highlight"
)

func sample() []highlight.Highlight {
	note := "check later"
	return []highlight.Highlight{
		{ID: "a", PageNumber: 1, Color: "yellow", SourceText: "alpha", Rects: []coords.Rect{coords.NewRect(0, 0, 10, 10)}},
		{ID: "b", PageNumber: 3, Color: "yellow", SourceText: "beta", NoteText: &note, Rects: []coords.Rect{coords.NewRect(0, 0, 10, 2), coords.NewRect(0, 5, 10, 2)}},
		{ID: "c", PageNumber: 4, Color: "#FF0000", SourceText: "gamma", Rects: []coords.Rect{coords.NewRect(0, 0, 100, 50)}},
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"h.page > 2 && h.color == 'yellow'", []string{"b"}},
		{"h.note", []string{"b"}},
		{"h.note === null", []string{"a", "c"}},
		{"h.text.includes('a') && h.area < 100", []string{"b"}},
		{"h.rects.length > 1", []string{"b"}},
		{"h.rects[0].width >= 100", []string{"c"}},
		{"true", []string{"a", "b", "c"}},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			f, err := Compile(tc.expr)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := f.Select(context.Background(), sample())
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			var ids []string
			for _, h := range got {
				ids = append(ids, h.ID)
			}
			if diff := cmp.Diff(tc.want, ids); diff != "" {
				t.Fatalf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileRejectsStatements(t *testing.T) {
	for _, expr := range []string{"h.page >", "1); while (true) {", ""} {
		if _, err := Compile(expr); err == nil {
			t.Errorf("Compile(%q) should fail", expr)
		}
	}
}

func TestMatchRuntimeError(t *testing.T) {
	f, err := Compile("h.missing.field")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := f.Match(context.Background(), sample()[0]); err == nil {
		t.Fatalf("expected a TypeError")
	}
}

func TestContextCancellation(t *testing.T) {
	f, err := Compile("(() => { while (true) {} })()")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if _, err := f.Match(ctx, sample()[0]); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if _, err := f.Select(ctx, sample()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
