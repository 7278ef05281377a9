// Command pdfmark manages persisted highlight sets: it imports and exports
// bundles, renders a page's highlights at a given zoom and rotation, filters
// highlights with query expressions and OCRs scanned page images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/persist"
	"github.com/wudi/pdfmark/recovery"
)

const usage = `Usage: pdfmark <command> [flags] [args]

Commands:
  books    list books with stored highlights
  import   import an exported bundle into a book
  export   write a book's highlights as json, html or md
  query    print the highlights matching a JavaScript expression
  render   print a page's highlight rects at a scale and rotation
  ocr      recognize the words of a page image

Run "pdfmark <command> -h" for the flags of a command.
`

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type command func(ctx context.Context, env *env, args []string) error

var commands = map[string]command{
	"books":  runBooks,
	"import": runImport,
	"export": runExport,
	"query":  runQuery,
	"render": runRender,
	"ocr":    runOCR,
}

// env carries what every command shares.
type env struct {
	stdout io.Writer
	stderr io.Writer
	logger observability.Logger
	repo   *persist.Repository
	store  string
	strict bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfmark: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return usageError{errors.New("missing command")}
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(stderr, usage)
		return usageError{fmt.Errorf("unknown command %q", args[0])}
	}
	return cmd(ctx, &env{stdout: stdout, stderr: stderr}, args[1:])
}

// flags returns the flag set of a command with the shared flags registered.
func (e *env) flags(name, synopsis string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfmark %s [flags] %s\n", name, synopsis)
		fs.PrintDefaults()
	}
	fs.StringVar(&e.store, "store", ".pdfmark", "Directory holding the highlight store")
	fs.BoolVar(&e.strict, "strict", false, "Fail on the first corrupt record instead of skipping it")
	verbose := fs.Bool("v", false, "Log debug output to stderr")
	return fs, verbose
}

// parse parses args and sets up logging and the repository.
func (e *env) parse(fs *flag.FlagSet, verbose *bool, args []string, nargs int) error {
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	if nargs >= 0 && fs.NArg() != nargs {
		fs.Usage()
		return usageError{fmt.Errorf("%s: expected %d argument(s), got %d", fs.Name(), nargs, fs.NArg())}
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	e.logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level})))
	e.repo = persist.NewRepository(persist.DirBackend{Root: e.store}, e.strategy(), e.logger, nil)
	return nil
}

func (e *env) strategy() recovery.Strategy {
	if e.strict {
		return recovery.NewStrictStrategy()
	}
	return recovery.NewLenientStrategy(e.logger)
}

func requireBook(book string) error {
	if book == "" {
		return usageError{errors.New("missing -book")}
	}
	return nil
}

func runBooks(ctx context.Context, e *env, args []string) error {
	fs, verbose := e.flags("books", "")
	if err := e.parse(fs, verbose, args, 0); err != nil {
		return err
	}
	books, err := e.repo.Books(ctx)
	if err != nil {
		return err
	}
	sort.Strings(books)
	for _, b := range books {
		fmt.Fprintln(e.stdout, b)
	}
	return nil
}
