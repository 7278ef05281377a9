package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/engine"
	"github.com/wudi/pdfmark/ocr"
	"github.com/wudi/pdfmark/ocr/tesseract"
	"github.com/wudi/pdfmark/render"
)

// imageDecoder serves a single scanned page from an image file. The image
// covers the whole page; it is resampled to the requested scale and rotation.
type imageDecoder struct {
	img  image.Image
	page coords.Page
}

func (d imageDecoder) Decode(ctx context.Context, page int, scale float64, rot coords.Rotation) (render.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return render.Bitmap{}, err
	}
	if page != d.page.Number {
		return render.Bitmap{}, fmt.Errorf("no page %d", page)
	}
	t := coords.Transform{Scale: scale, Rotation: rot}
	w, h := coords.ViewportSize(d.page, t)
	dst := image.NewRGBA(image.Rect(0, 0, int(math.Round(w)), int(math.Round(h))))

	b := d.img.Bounds()
	toPage := coords.Translate(-float64(b.Min.X), -float64(b.Min.Y)).
		Multiply(coords.Scale(d.page.Width/float64(b.Dx()), d.page.Height/float64(b.Dy())))
	m := toPage.Multiply(coords.ViewportMatrix(d.page, t))
	draw.CatmullRom.Transform(dst, f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}, d.img, b, draw.Src, nil)
	return render.Bitmap{Image: dst}, nil
}

// rectFlag parses a Storage-space rectangle given as "x,y,width,height".
type rectFlag struct{ rect coords.Rect }

func (f *rectFlag) String() string {
	if f == nil || f.rect == (coords.Rect{}) {
		return ""
	}
	r := f.rect
	return fmt.Sprintf("%g,%g,%g,%g", r.X, r.Y, r.Width, r.Height)
}

func (f *rectFlag) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return fmt.Errorf("want x,y,width,height, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("rect component %d: %w", i+1, err)
		}
		v[i] = n
	}
	r := coords.NewRect(v[0], v[1], v[2], v[3])
	if !r.Finite() || r.Empty() {
		return fmt.Errorf("empty rect %q", s)
	}
	f.rect = r
	return nil
}

type placedWord struct {
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

func runOCR(ctx context.Context, e *env, args []string) error {
	fs, verbose := e.flags("ocr", "<page-image>")
	pageNum := fs.Int("page", 1, "Page number the image shows")
	dpi := fs.Float64("dpi", 144, "Resolution of the image; sets the intrinsic page size at 72 units per inch")
	scale := fs.Float64("scale", 1, "View scale the page is recognized at")
	rotation := fs.Int("rotation", 0, "View rotation in degrees")
	boost := fs.Float64("boost", 2, "OCR raster resolution relative to the view")
	lang := fs.String("lang", "eng", "Tesseract language")
	psm := fs.Int("psm", 0, "Tesseract page segmentation mode; 0 keeps the default")
	whitelist := fs.String("whitelist", "", "Characters Tesseract may recognize; empty allows all")
	var region rectFlag
	fs.Var(&region, "region", "Recognize only this part of the page, as x,y,width,height in page units")
	if err := e.parse(fs, verbose, args, 1); err != nil {
		return err
	}
	if *dpi <= 0 {
		return usageError{fmt.Errorf("invalid -dpi %g", *dpi)}
	}
	rot, err := coords.NormalizeRotation(*rotation)
	if err != nil {
		return usageError{err}
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", fs.Arg(0), err)
	}
	page := coords.Page{
		Number: *pageNum,
		Width:  float64(img.Bounds().Dx()) * 72 / *dpi,
		Height: float64(img.Bounds().Dy()) * 72 / *dpi,
	}

	cfg := engine.DefaultConfig()
	cfg.OCR.Boost = *boost
	cfg.OCR.InputOptions = []ocr.InputOption{ocr.WithLanguages(*lang)}
	if *psm > 0 {
		cfg.OCR.InputOptions = append(cfg.OCR.InputOptions, ocr.WithTesseractPSM(*psm))
	}
	if *whitelist != "" {
		cfg.OCR.InputOptions = append(cfg.OCR.InputOptions, ocr.WithTesseractWhitelist(*whitelist))
	}
	doc, err := engine.Open(ctx, fs.Arg(0), []coords.Page{page}, cfg, engine.Deps{
		Decoder: imageDecoder{img: img, page: page},
		OCR:     tesseract.New(),
		Logger:  e.logger,
	})
	if err != nil {
		return err
	}
	defer doc.Close()

	if _, err := doc.SetView(page.Number, coords.Transform{Scale: *scale, Rotation: rot}); err != nil {
		return usageError{err}
	}
	st, err := doc.RunOCRArea(ctx, page.Number, region.rect)
	if errors.Is(err, ocr.ErrEmptyArea) {
		return usageError{err}
	}
	if err != nil {
		return err
	}
	out := make([]placedWord, 0, len(st.Words))
	for _, w := range st.Words {
		out = append(out, placedWord{
			Text: w.Text, X: w.Box.X, Y: w.Box.Y, Width: w.Box.Width, Height: w.Box.Height,
			Confidence: w.Confidence,
		})
	}
	return writeJSON(e.stdout, out)
}
