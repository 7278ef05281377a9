package ocr

import "context"

// Region is a rectangle in raster pixels, origin at the top-left corner.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Input is one page raster submitted for recognition.
type Input struct {
	// ID is echoed back in the Result.
	ID string
	// Image is the PNG-encoded raster.
	Image []byte
	// PageIndex is the zero-based index of the page the raster shows.
	PageIndex int
	// DPI is the effective resolution of the raster; zero means unknown.
	DPI int
	// Languages are trained-data hints such as "eng" or "deu".
	Languages []string
	// Region limits recognition to part of the raster. Word boxes in the
	// Result are then relative to the region's top-left corner.
	Region *Region
	// Variables are engine settings passed through unchanged, such as
	// Tesseract variables.
	Variables map[string]string
}

// TextWord is one recognized word with its box in raster pixels.
type TextWord struct {
	Text       string
	Bounds     Region
	Confidence float64
}

// Result is the recognition output for one Input.
type Result struct {
	InputID  string
	Text     string
	Words    []TextWord
	Language string
}

// Engine is the OCR black box: one raster in, words with pixel boxes out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// JobState is the lifecycle of an OCR run on one page.
type JobState string

const (
	JobStateIdle      JobState = "idle"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)
