package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/export"
	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/persist"
	"github.com/wudi/pdfmark/query"
)

func runImport(ctx context.Context, e *env, args []string) error {
	fs, verbose := e.flags("import", "<bundle.json>")
	book := fs.String("book", "", "Book to import into; defaults to the bundle's bookId")
	if err := e.parse(fs, verbose, args, 1); err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}

	target := *book
	if target == "" {
		// A bare array carries no tag and leaves target empty.
		var tag struct {
			BookID string `json:"bookId"`
		}
		_ = json.Unmarshal(data, &tag)
		target = tag.BookID
	}
	if err := requireBook(target); err != nil {
		return err
	}
	existing, err := e.repo.Load(ctx, target)
	if err != nil {
		return err
	}
	res, err := persist.Import(ctx, data, existing, persist.Decoder{Strategy: e.strategy(), Logger: e.logger})
	if err != nil {
		return err
	}

	for _, h := range res.Highlights {
		if err := e.repo.Put(ctx, target, h); err != nil {
			return err
		}
	}
	fmt.Fprintf(e.stdout, "%s: imported %d, skipped %d, duplicates %d\n",
		target, res.Report.Imported, res.Report.Skipped, res.Report.Duplicates)
	return nil
}

// load reads a book's highlights, narrowed by a query expression when one is
// given.
func (e *env) load(ctx context.Context, book, expr string) ([]highlight.Highlight, error) {
	if err := requireBook(book); err != nil {
		return nil, err
	}
	hs, err := e.repo.Load(ctx, book)
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return hs, nil
	}
	f, err := query.Compile(expr)
	if err != nil {
		return nil, usageError{err}
	}
	return f.Select(ctx, hs)
}

func runExport(ctx context.Context, e *env, args []string) error {
	fs, verbose := e.flags("export", "")
	book := fs.String("book", "", "Book to export")
	format := fs.String("format", "json", "Output format: json, html or md")
	pdfName := fs.String("pdf", "", "PDF file name recorded in the output")
	title := fs.String("title", "", "Digest title for html and md")
	expr := fs.String("query", "", "Only export highlights matching this expression")
	out := fs.String("o", "", "Output file; stdout when empty")
	if err := e.parse(fs, verbose, args, 0); err != nil {
		return err
	}
	hs, err := e.load(ctx, *book, *expr)
	if err != nil {
		return err
	}

	digest := export.Digest{Title: *title, BookID: *book, PDFName: *pdfName, Highlights: hs}
	write := func(w io.Writer) error {
		switch *format {
		case "json":
			return persist.WriteBundle(w, persist.Export(*book, *pdfName, hs))
		case "html":
			return export.WriteHTML(w, digest)
		case "md", "markdown":
			return export.WriteMarkdown(w, digest)
		}
		return usageError{fmt.Errorf("unknown format %q", *format)}
	}
	if *out == "" {
		return write(e.stdout)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", *book, err)
	}
	return f.Close()
}

func runQuery(ctx context.Context, e *env, args []string) error {
	fs, verbose := e.flags("query", "<expression>")
	book := fs.String("book", "", "Book to query")
	if err := e.parse(fs, verbose, args, 1); err != nil {
		return err
	}
	hs, err := e.load(ctx, *book, fs.Arg(0))
	if err != nil {
		return err
	}
	return writeJSON(e.stdout, persist.Export(*book, "", hs).Highlights)
}

type drawable struct {
	ID     string  `json:"id"`
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func runRender(ctx context.Context, e *env, args []string) error {
	fs, verbose := e.flags("render", "")
	book := fs.String("book", "", "Book to render")
	pageNum := fs.Int("page", 1, "Page number")
	width := fs.Float64("width", 612, "Intrinsic page width")
	height := fs.Float64("height", 792, "Intrinsic page height")
	scale := fs.Float64("scale", 1, "View scale")
	rotation := fs.Int("rotation", 0, "View rotation in degrees, a multiple of 90")
	expr := fs.String("query", "", "Only render highlights matching this expression")
	if err := e.parse(fs, verbose, args, 0); err != nil {
		return err
	}
	rot, err := coords.NormalizeRotation(*rotation)
	if err != nil {
		return usageError{err}
	}
	page := coords.Page{Number: *pageNum, Width: *width, Height: *height}
	view := coords.Transform{Scale: *scale, Rotation: rot}
	if err := errors.Join(page.Validate(), view.Validate()); err != nil {
		return usageError{err}
	}

	hs, err := e.load(ctx, *book, *expr)
	if err != nil {
		return err
	}
	out := []drawable{}
	for _, d := range highlight.Render(hs, page, view) {
		r := d.ViewportRect
		out = append(out, drawable{ID: d.HighlightID, Color: d.Color, X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
	}
	return writeJSON(e.stdout, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
