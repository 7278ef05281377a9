package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wudi/pdfmark/highlight"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/recovery"
)

const keyPrefix = "highlights/"

// RecordKey returns the backend key of one highlight record.
func RecordKey(bookID, id string) string {
	return keyPrefix + bookID + "/" + url.PathEscape(id)
}

// Repository stores the highlights of books in a Backend, one record per
// key.
type Repository struct {
	backend  Backend
	strategy recovery.Strategy
	logger   observability.Logger
	tracer   observability.Tracer
}

// NewRepository returns a Repository. A nil strategy skips corrupt records;
// nil logger and tracer discard output.
func NewRepository(b Backend, strategy recovery.Strategy, logger observability.Logger, tracer observability.Tracer) *Repository {
	logger = observability.OrNop(logger).With(observability.String("component", "persist"))
	if strategy == nil {
		strategy = recovery.NewLenientStrategy(logger)
	}
	return &Repository{
		backend:  b,
		strategy: strategy,
		logger:   logger,
		tracer:   observability.TracerOrNop(tracer),
	}
}

func checkBookID(bookID string) error {
	if bookID == "" || strings.Contains(bookID, "/") {
		return fmt.Errorf("invalid book id %q", bookID)
	}
	return nil
}

// Put writes one highlight.
func (r *Repository) Put(ctx context.Context, bookID string, h highlight.Highlight) error {
	if err := checkBookID(bookID); err != nil {
		return err
	}
	data, err := json.Marshal(ToWire(bookID, h))
	if err != nil {
		return fmt.Errorf("encode highlight %s: %w", h.ID, err)
	}
	return r.backend.Put(ctx, RecordKey(bookID, h.ID), data)
}

// Delete removes one highlight.
func (r *Repository) Delete(ctx context.Context, bookID, id string) error {
	if err := checkBookID(bookID); err != nil {
		return err
	}
	return r.backend.Delete(ctx, RecordKey(bookID, id))
}

// Apply persists a store change.
func (r *Repository) Apply(ctx context.Context, bookID string, c highlight.Change) error {
	switch c.Kind {
	case highlight.Added, highlight.Updated:
		return r.Put(ctx, bookID, c.Highlight)
	case highlight.Removed:
		return r.Delete(ctx, bookID, c.Highlight.ID)
	}
	return fmt.Errorf("unknown change kind %s", c.Kind)
}

// SaveAll writes every highlight and deletes records of the book that are no
// longer present.
func (r *Repository) SaveAll(ctx context.Context, bookID string, hs []highlight.Highlight) error {
	if err := checkBookID(bookID); err != nil {
		return err
	}
	keys, err := r.backend.Keys(ctx, keyPrefix+bookID+"/")
	if err != nil {
		return fmt.Errorf("list book %s: %w", bookID, err)
	}
	keep := make(map[string]bool, len(hs))
	for _, h := range hs {
		if err := r.Put(ctx, bookID, h); err != nil {
			return err
		}
		keep[RecordKey(bookID, h.ID)] = true
	}
	for _, k := range keys {
		if !keep[k] {
			if err := r.backend.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads every highlight of a book. Corrupt records are handed to the
// repository's strategy; with the default strategy they are logged and
// skipped.
func (r *Repository) Load(ctx context.Context, bookID string) ([]highlight.Highlight, error) {
	if err := checkBookID(bookID); err != nil {
		return nil, err
	}
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanPersistLoad)
	defer span.Finish()
	span.SetTag("book", bookID)

	keys, err := r.backend.Keys(ctx, keyPrefix+bookID+"/")
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("list book %s: %w", bookID, err)
	}
	raw := make([]json.RawMessage, 0, len(keys))
	found := make([]string, 0, len(keys))
	for _, k := range keys {
		data, err := r.backend.Get(ctx, k)
		if errors.Is(err, ErrNotExist) {
			continue
		}
		if err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		raw = append(raw, data)
		found = append(found, k)
	}

	res, err := Decoder{Strategy: r.strategy, Logger: r.logger}.Decode(ctx, raw, found)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTag(observability.MetricCorruptRecs, res.Skipped)
	if res.Skipped > 0 {
		r.logger.Info("loaded highlights with corrupt records skipped",
			observability.String("book", bookID),
			observability.Int("loaded", len(res.Highlights)),
			observability.Int("skipped", res.Skipped))
	}
	return res.Highlights, nil
}

// Books lists the ids of books with stored highlights.
func (r *Repository) Books(ctx context.Context) ([]string, error) {
	keys, err := r.backend.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]bool)
	for _, k := range keys {
		book, _, ok := strings.Cut(strings.TrimPrefix(k, keyPrefix), "/")
		if ok && !seen[book] {
			seen[book] = true
			out = append(out, book)
		}
	}
	return out, nil
}
