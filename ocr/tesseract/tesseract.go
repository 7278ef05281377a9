// Package tesseract recognizes page rasters with Tesseract through gosseract.
// Importing it installs the engine as ocr.DefaultEngine.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/draw"

	"github.com/wudi/pdfmark/ocr"
)

func init() {
	ocr.SetDefaultEngine(New())
}

// Engine runs every input on a fresh client, so variables set for one page
// never apply to the next.
type Engine struct {
	newClient func() *gosseract.Client
}

// New returns an Engine using the system Tesseract installation.
func New() *Engine {
	return &Engine{newClient: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize returns the words of the input raster. With a region set, only the
// region is recognized and boxes are relative to its corner.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	data, err := regionImage(in.Image, in.Region)
	if err != nil {
		return ocr.Result{}, err
	}

	c := e.newClient()
	defer c.Close()
	if err := configure(c, in, data); err != nil {
		return ocr.Result{}, err
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract word boxes: %w", err)
	}

	res := ocr.Result{InputID: in.ID, Text: strings.TrimSpace(text), Words: words(boxes)}
	if len(in.Languages) > 0 {
		res.Language = in.Languages[0]
	}
	return res, nil
}

func configure(c *gosseract.Client, in ocr.Input, data []byte) error {
	if err := c.SetImageFromBytes(data); err != nil {
		return fmt.Errorf("tesseract image: %w", err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return fmt.Errorf("tesseract languages: %w", err)
		}
	}
	vars := make(map[string]string, len(in.Variables)+1)
	if in.DPI > 0 {
		vars["user_defined_dpi"] = strconv.Itoa(in.DPI)
	}
	for k, v := range in.Variables {
		vars[k] = v
	}
	for k, v := range vars {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("tesseract variable %s: %w", k, err)
		}
	}
	return nil
}

// words converts word boxes, dropping blank words. Confidence is scaled to
// [0, 1].
func words(boxes []gosseract.BoundingBox) []ocr.TextWord {
	out := make([]ocr.TextWord, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" || b.Box.Empty() {
			continue
		}
		out = append(out, ocr.TextWord{
			Text: text,
			Bounds: ocr.Region{
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Confidence: b.Confidence / 100,
		})
	}
	return out
}

// regionImage returns the PNG of the part of data inside r. A nil region
// returns data unchanged.
func regionImage(data []byte, r *ocr.Region) ([]byte, error) {
	if r == nil || r.IsEmpty() {
		return data, nil
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode raster for region: %w", err)
	}
	rect := image.Rect(
		int(math.Floor(r.X)), int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.Width)), int(math.Ceil(r.Y+r.Height)),
	).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, errors.New("region outside raster")
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	return buf.Bytes(), nil
}
