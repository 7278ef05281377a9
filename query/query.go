// Package query selects highlights with JavaScript predicate expressions.
//
// An expression sees the highlight under test as the global h:
//
//	h.id     string
//	h.page   number, 1-based
//	h.color  string
//	h.text   string, the source text
//	h.note   string or null
//	h.rects  array of {x, y, width, height} in Storage units
//	h.area   number, total rect area
//
// The result is converted with JavaScript truthiness, so
// `h.page > 2 && h.color == 'yellow'` and `h.note` are both valid filters.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/wudi/pdfmark/highlight"
)

// Filter is a compiled predicate. A Filter is safe for concurrent use; each
// evaluation runs in its own runtime.
type Filter struct {
	src  string
	prog *goja.Program
}

// Compile parses expr.
func Compile(expr string) (*Filter, error) {
	prog, err := goja.Compile("query", "("+expr+"\n)", true)
	if err != nil {
		return nil, fmt.Errorf("compile query %q: %w", expr, err)
	}
	return &Filter{src: expr, prog: prog}, nil
}

func (f *Filter) String() string { return f.src }

// Match evaluates the filter against one highlight.
func (f *Filter) Match(ctx context.Context, h highlight.Highlight) (bool, error) {
	var ok bool
	err := run(ctx, func(vm *goja.Runtime) error {
		var err error
		ok, err = f.eval(vm, h)
		return err
	})
	return ok, err
}

// Select returns the highlights matching the filter, in input order.
// Evaluation stops at the first error or when ctx is done.
func (f *Filter) Select(ctx context.Context, hs []highlight.Highlight) ([]highlight.Highlight, error) {
	var out []highlight.Highlight
	err := run(ctx, func(vm *goja.Runtime) error {
		for _, h := range hs {
			ok, err := f.eval(vm, h)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, h)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Filter) eval(vm *goja.Runtime, h highlight.Highlight) (bool, error) {
	if err := vm.Set("h", toValue(vm, h)); err != nil {
		return false, err
	}
	v, err := vm.RunProgram(f.prog)
	if err != nil {
		return false, fmt.Errorf("query %q on %s: %w", f.src, h.ID, err)
	}
	return v.ToBoolean(), nil
}

// run calls fn with a fresh runtime, interrupting it when ctx is done.
func run(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	vm := goja.New()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	err := fn(vm)
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause := interrupted.Unwrap(); cause != nil {
			return cause
		}
		return context.Canceled
	}
	return err
}

func toValue(vm *goja.Runtime, h highlight.Highlight) goja.Value {
	rects := make([]interface{}, len(h.Rects))
	area := 0.0
	for i, r := range h.Rects {
		rects[i] = map[string]interface{}{"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height}
		area += r.Width * r.Height
	}
	var note interface{}
	if h.NoteText != nil {
		note = *h.NoteText
	}
	obj := vm.NewObject()
	obj.Set("id", h.ID)
	obj.Set("page", h.PageNumber)
	obj.Set("color", h.Color)
	obj.Set("text", h.SourceText)
	obj.Set("note", note)
	obj.Set("rects", rects)
	obj.Set("area", area)
	return obj
}
