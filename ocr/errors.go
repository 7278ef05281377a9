package ocr

import (
	"errors"
	"fmt"
)

// ErrOCRFailure is matched by every error a Synthesizer reports for a failed
// run, except staleness and cancellation.
var ErrOCRFailure = errors.New("ocr failure")

// Stage names the step of an OCR run that failed.
type Stage string

const (
	StageRasterize Stage = "rasterize"
	StageRecognize Stage = "recognize"
)

// Error describes a failed OCR run on one page.
type Error struct {
	Page  int
	Stage Stage
	// Retryable is set for decode and engine failures, which is every failure
	// the Synthesizer reports: running OCR again is always safe.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ocr page %d: %s: %v", e.Page, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrOCRFailure.
func (e *Error) Is(target error) bool { return target == ErrOCRFailure }
