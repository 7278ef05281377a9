package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"reflect"
	"testing"
)

func TestInputFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	region := Region{X: 1, Y: 0, Width: 2, Height: 2}

	in, err := InputFromImage(img, 3, "e7",
		WithLanguages("eng", "spa"),
		WithRegion(region),
		WithDPI(300),
		WithTesseractPSM(6),
		WithTesseractWhitelist("0123456789"),
	)
	if err != nil {
		t.Fatalf("InputFromImage() error = %v", err)
	}
	if in.ID != "page-3-e7" || in.PageIndex != 2 || in.DPI != 300 {
		t.Fatalf("input = %+v", in)
	}
	decoded, err := png.Decode(bytes.NewReader(in.Image))
	if err != nil {
		t.Fatalf("decode encoded raster: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v", decoded.Bounds())
	}
	if !reflect.DeepEqual(in.Languages, []string{"eng", "spa"}) {
		t.Fatalf("languages = %v", in.Languages)
	}
	if in.Region == nil || *in.Region != region {
		t.Fatalf("region = %#v", in.Region)
	}
	want := map[string]string{"tessedit_pageseg_mode": "6", "tessedit_char_whitelist": "0123456789"}
	if !reflect.DeepEqual(in.Variables, want) {
		t.Fatalf("variables = %v, want %v", in.Variables, want)
	}
}

func TestInputFromNilImage(t *testing.T) {
	if _, err := InputFromImage(nil, 1, ""); err == nil {
		t.Fatalf("expected error for nil raster")
	}
}

func TestWithRegionClearsEmpty(t *testing.T) {
	in := Input{Region: &Region{X: 1, Y: 1, Width: 2, Height: 2}}
	WithRegion(Region{})(&in)
	if in.Region != nil {
		t.Fatalf("region = %#v, want nil", in.Region)
	}
}

type namedEngine string

func (e namedEngine) Name() string { return string(e) }
func (e namedEngine) Recognize(_ context.Context, in Input) (Result, error) {
	return Result{InputID: in.ID}, nil
}

func TestSetDefaultEngine(t *testing.T) {
	prev := DefaultEngine()
	defer SetDefaultEngine(prev)

	SetDefaultEngine(namedEngine("custom"))
	if got := DefaultEngine().Name(); got != "custom" {
		t.Fatalf("default engine = %s", got)
	}
	SetDefaultEngine(nil)
	if got := DefaultEngine().Name(); got != "noop" {
		t.Fatalf("nil should restore the no-op engine, got %s", got)
	}
}
