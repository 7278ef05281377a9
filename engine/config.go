package engine

import (
	"math"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/ocr"
	"github.com/wudi/pdfmark/persist"
	"github.com/wudi/pdfmark/recovery"
	"github.com/wudi/pdfmark/render"
	"github.com/wudi/pdfmark/selection"
)

// Config collects the tunables of every component. Zero fields fall back to
// the component defaults.
type Config struct {
	// Tolerance bounds round-trip drift accepted by CheckRoundTrip.
	Tolerance coords.Tolerance
	Selection selection.Options
	OCR       ocr.SynthesizerConfig
	Render    render.Config
	// MinHighlightSize is the smallest width and height, in Storage units, a
	// highlight rect keeps after clamping. Negative keeps every rect with a
	// positive area.
	MinHighlightSize float64
	// DefaultColor is used when a highlight is created without a color.
	DefaultColor string
	// PageGap is the client-space distance between stacked page layers.
	PageGap float64
}

// DefaultPageGap separates stacked page layers.
const DefaultPageGap = 10

// DefaultConfig returns the defaults of all components.
func DefaultConfig() Config {
	return Config{
		Tolerance:        coords.DefaultTolerance,
		Selection:        selection.DefaultOptions(),
		OCR:              ocr.DefaultSynthesizerConfig(),
		Render:           render.DefaultConfig(),
		MinHighlightSize: highlight.DefaultMinSize,
		DefaultColor:     persist.DefaultColor,
		PageGap:          DefaultPageGap,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultColor == "" {
		c.DefaultColor = persist.DefaultColor
	}
	if c.PageGap <= 0 {
		c.PageGap = DefaultPageGap
	}
	if c.MinHighlightSize == 0 {
		c.MinHighlightSize = highlight.DefaultMinSize
	}
	return c
}

// Deps are the external collaborators of a Document.
type Deps struct {
	// Decoder rasterizes pages. Required.
	Decoder render.Decoder
	// OCR recognizes words; nil selects ocr.DefaultEngine.
	OCR ocr.Engine
	// Backend persists highlights; nil keeps them in memory only.
	Backend persist.Backend
	// Recovery decides what happens to corrupt records on load; nil skips
	// them.
	Recovery recovery.Strategy
	// IDs generates highlight ids; nil selects highlight.NewID.
	IDs func() string

	Logger observability.Logger
	Tracer observability.Tracer
}

func (d Deps) builder(cfg Config) highlight.Builder {
	return highlight.Builder{MinSize: math.Max(0, cfg.MinHighlightSize), NewID: d.IDs}
}
