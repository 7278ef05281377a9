package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfmark/highlight"
)

// Bundle is the export format of a book's highlight set.
type Bundle struct {
	BookID     string   `json:"bookId"`
	PDFName    string   `json:"pdfName,omitempty"`
	Highlights []Record `json:"highlights"`
}

// Export builds the bundle of a book.
func Export(bookID, pdfName string, hs []highlight.Highlight) Bundle {
	b := Bundle{BookID: bookID, PDFName: pdfName, Highlights: make([]Record, len(hs))}
	for i, h := range hs {
		b.Highlights[i] = ToWire(bookID, h)
	}
	return b
}

// WriteBundle encodes the bundle as indented JSON.
func WriteBundle(w io.Writer, b Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// ImportReport counts the outcome of an import.
type ImportReport struct {
	Imported   int
	Skipped    int // corrupt records
	Duplicates int // already present, by fingerprint
}

// ImportResult holds the highlights to add and the report.
type ImportResult struct {
	BookID     string
	PDFName    string
	Highlights []highlight.Highlight
	Report     ImportReport
}

type rawBundle struct {
	BookID     string            `json:"bookId"`
	PDFName    string            `json:"pdfName"`
	Highlights []json.RawMessage `json:"highlights"`
}

// Import parses an exported bundle, or a bare JSON array of records, and
// returns the highlights not already present in existing. Corrupt records go
// through the decoder's strategy. A record whose id is taken by a different
// highlight gets a fresh id.
func Import(ctx context.Context, data []byte, existing []highlight.Highlight, d Decoder) (ImportResult, error) {
	var env rawBundle
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &env.Highlights); err != nil {
			return ImportResult{}, fmt.Errorf("parse import: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &env); err != nil {
		return ImportResult{}, fmt.Errorf("parse import: %w", err)
	}

	dec, err := d.Decode(ctx, env.Highlights, nil)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{BookID: env.BookID, PDFName: env.PDFName}
	res.Report.Skipped = dec.Skipped

	prints := make(map[string]bool, len(existing))
	ids := make(map[string]bool, len(existing))
	for _, h := range existing {
		prints[Fingerprint(h)] = true
		ids[h.ID] = true
	}
	for _, h := range dec.Highlights {
		fp := Fingerprint(h)
		if prints[fp] {
			res.Report.Duplicates++
			continue
		}
		prints[fp] = true
		if ids[h.ID] {
			h.ID = highlight.NewID()
		}
		ids[h.ID] = true
		res.Highlights = append(res.Highlights, h)
	}
	res.Report.Imported = len(res.Highlights)
	return res, nil
}

// Fingerprint identifies a highlight by page, geometry and source text.
// Color, note and id do not take part, so re-importing a recolored copy is
// still a duplicate. Coordinates are rounded to 1/1000 unit.
func Fingerprint(h highlight.Highlight) string {
	hash, _ := blake2b.New256(nil)
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		hash.Write(buf[:])
	}
	put(int64(h.PageNumber))
	for _, r := range h.Rects {
		for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
			put(int64(math.Round(v * 1000)))
		}
	}
	hash.Write([]byte(h.SourceText))
	return hex.EncodeToString(hash.Sum(nil))
}
