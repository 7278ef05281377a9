// Package persist maps highlights to and from the persisted record schema and
// stores them through a key-value Backend.
//
// Loading never fails because of one bad record: records with no rects or no
// page number are corrupt, logged, and skipped according to a
// recovery.Strategy, and the load continues with the rest.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/recovery"
)

// DefaultColor is assigned to records persisted without a color.
const DefaultColor = "yellow"

// ErrCorruptRecord is matched by every *RecordError.
var ErrCorruptRecord = errors.New("corrupt record")

// RecordError describes a record that cannot be turned into a highlight.
type RecordError struct {
	Index  int
	Key    string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("corrupt record %d (%s): %s", e.Index, e.Key, e.Reason)
	}
	return fmt.Sprintf("corrupt record %d: %s", e.Index, e.Reason)
}

func (e *RecordError) Is(target error) bool { return target == ErrCorruptRecord }

// Rect is a Storage space rectangle on the wire.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Record is the persisted form of one highlight.
type Record struct {
	ID             string  `json:"id,omitempty"`
	BookID         string  `json:"bookId"`
	PageNumber     *int    `json:"pageNumber"`
	Color          string  `json:"color"`
	NoteText       *string `json:"noteText"`
	HighlightText  *string `json:"highlightText"`
	HighlightRects []Rect  `json:"highlightRects"`
}

// ToWire flattens a highlight into a record of the given book.
func ToWire(bookID string, h highlight.Highlight) Record {
	page := h.PageNumber
	text := h.SourceText
	rec := Record{
		ID:             h.ID,
		BookID:         bookID,
		PageNumber:     &page,
		Color:          h.Color,
		HighlightText:  &text,
		HighlightRects: make([]Rect, len(h.Rects)),
	}
	if h.NoteText != nil {
		note := *h.NoteText
		rec.NoteText = &note
	}
	for i, r := range h.Rects {
		rec.HighlightRects[i] = Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
	}
	return rec
}

// FromWire reconstructs a highlight. Rects without area are dropped; a record
// left with no rect, or without a valid page number, is corrupt. Records
// without an id get a fresh one, and a missing or unknown color becomes
// DefaultColor.
func FromWire(rec Record) (highlight.Highlight, error) {
	if rec.PageNumber == nil {
		return highlight.Highlight{}, &RecordError{Key: rec.ID, Reason: "pageNumber is absent"}
	}
	if *rec.PageNumber < 1 {
		return highlight.Highlight{}, &RecordError{Key: rec.ID, Reason: fmt.Sprintf("pageNumber %d", *rec.PageNumber)}
	}
	if len(rec.HighlightRects) == 0 {
		return highlight.Highlight{}, &RecordError{Key: rec.ID, Reason: "highlightRects is empty"}
	}
	h := highlight.Highlight{
		ID:         rec.ID,
		PageNumber: *rec.PageNumber,
		Color:      rec.Color,
	}
	if h.ID == "" {
		h.ID = highlight.NewID()
	}
	if !highlight.ValidColor(h.Color) {
		h.Color = DefaultColor
	}
	if rec.HighlightText != nil {
		h.SourceText = *rec.HighlightText
	}
	if rec.NoteText != nil {
		note := *rec.NoteText
		h.NoteText = &note
	}
	for _, r := range rec.HighlightRects {
		nr := coords.NewRect(r.X, r.Y, r.Width, r.Height)
		if !nr.Finite() || nr.Empty() || nr.X < 0 || nr.Y < 0 {
			continue
		}
		h.Rects = append(h.Rects, nr)
	}
	if len(h.Rects) == 0 {
		return highlight.Highlight{}, &RecordError{Key: rec.ID, Reason: "no usable rect in highlightRects"}
	}
	if err := h.Validate(); err != nil {
		return highlight.Highlight{}, &RecordError{Key: rec.ID, Reason: err.Error()}
	}
	return h, nil
}

// Decoder turns raw records into highlights, consulting a recovery.Strategy
// for each corrupt one.
type Decoder struct {
	Strategy recovery.Strategy
	Logger   observability.Logger
}

func (d Decoder) strategy() recovery.Strategy {
	if d.Strategy == nil {
		return recovery.NewLenientStrategy(d.Logger)
	}
	return d.Strategy
}

// DecodeResult is the outcome of decoding a batch of records.
type DecodeResult struct {
	Highlights []highlight.Highlight
	Records    []Record // the accepted records, parallel to Highlights
	Skipped    int
}

// Decode parses each raw record and converts it. A record that fails to parse
// or convert, or repeats an id seen earlier in the batch, is passed to the
// strategy: ActionFail aborts with the record's error, anything else skips it.
// keys, when non-nil, names the backend key of each record.
func (d Decoder) Decode(ctx context.Context, raw []json.RawMessage, keys []string) (DecodeResult, error) {
	strategy := d.strategy()
	var res DecodeResult
	seen := make(map[string]bool, len(raw))
	for i, msg := range raw {
		if err := ctx.Err(); err != nil {
			return DecodeResult{}, err
		}
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		rec, h, err := decodeOne(msg)
		if err == nil && seen[h.ID] {
			err = &RecordError{Reason: "duplicate id " + h.ID}
		}
		if err != nil {
			var re *RecordError
			if errors.As(err, &re) {
				re.Index, re.Key = i, firstNonEmpty(key, re.Key)
			}
			loc := recovery.Location{Index: i, Key: firstNonEmpty(key, rec.ID), Component: "persist"}
			if strategy.OnError(ctx, err, loc) == recovery.ActionFail {
				return DecodeResult{}, err
			}
			res.Skipped++
			continue
		}
		if rec.Color != "" && rec.Color != h.Color && d.Logger != nil {
			d.Logger.Warn("replacing invalid highlight color",
				observability.String("id", h.ID),
				observability.String("color", rec.Color),
				observability.String("replacement", h.Color))
		}
		seen[h.ID] = true
		rec.ID = h.ID
		rec.Color = h.Color
		res.Highlights = append(res.Highlights, h)
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func decodeOne(msg json.RawMessage) (Record, highlight.Highlight, error) {
	var rec Record
	if err := json.Unmarshal(msg, &rec); err != nil {
		return rec, highlight.Highlight{}, &RecordError{Reason: "malformed json: " + err.Error()}
	}
	h, err := FromWire(rec)
	return rec, h, err
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
