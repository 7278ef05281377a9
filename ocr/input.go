package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"
)

// InputOption adjusts an Input built by InputFromImage.
type InputOption func(*Input)

// WithLanguages sets the language hints.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithDPI sets the raster resolution reported to the engine.
func WithDPI(dpi int) InputOption {
	return func(in *Input) { in.DPI = dpi }
}

// WithRegion limits recognition to r. An empty region selects the whole
// raster.
func WithRegion(r Region) InputOption {
	return func(in *Input) {
		if r.IsEmpty() {
			in.Region = nil
			return
		}
		in.Region = &r
	}
}

// WithVariable sets one engine variable.
func WithVariable(name, value string) InputOption {
	return func(in *Input) {
		if in.Variables == nil {
			in.Variables = make(map[string]string)
		}
		in.Variables[name] = value
	}
}

// WithTesseractPSM selects the Tesseract page segmentation mode.
func WithTesseractPSM(mode int) InputOption {
	return WithVariable("tessedit_pageseg_mode", strconv.Itoa(mode))
}

// WithTesseractWhitelist limits Tesseract to the given characters.
func WithTesseractWhitelist(chars string) InputOption {
	return WithVariable("tessedit_char_whitelist", chars)
}

// InputFromImage PNG-encodes the raster of a page. page is 1-based; the ID is
// "page-<n>", followed by "-<suffix>" when suffix is set.
func InputFromImage(img image.Image, page int, suffix string, opts ...InputOption) (Input, error) {
	if img == nil {
		return Input{}, fmt.Errorf("nil raster for page %d", page)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Input{}, fmt.Errorf("encode page %d: %w", page, err)
	}
	in := Input{ID: "page-" + strconv.Itoa(page), Image: buf.Bytes(), PageIndex: page - 1}
	if suffix != "" {
		in.ID += "-" + suffix
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}
