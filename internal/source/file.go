package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
)

// File reads one CSV file per symbol and interval, named
// f-{symbol}-{interval}.{ext} with the symbol lower-cased.
type File struct {
	base
	directory string
	extension string
}

func newFile(b base, directory, extension string) (*File, error) {
	if directory == "" {
		return nil, perrors.NewArgumentError("directory", "file source requires a directory")
	}
	if extension == "" {
		extension = "csv"
	}
	return &File{base: b, directory: directory, extension: strings.TrimPrefix(extension, ".")}, nil
}

// FileName returns the base name of the file holding symbol at interval.
func FileName(symbol string, interval models.Interval, extension string) string {
	return fmt.Sprintf("f-%s-%s.%s", indexSymbol(symbol), interval, strings.TrimPrefix(extension, "."))
}

// Path returns the file holding symbol.
func (s *File) Path(symbol string) string {
	return filepath.Join(s.directory, FileName(symbol, s.interval(), s.extension))
}

// FetchOne reads the symbol's file and keeps the rows inside span.
func (s *File) FetchOne(ctx context.Context, symbol string, span models.Span) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(symbol)
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()

	f, err := frame.ReadCSV(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	out := f.WithIndexName(frame.IndexName).Between(span)
	s.logger.Debug("read file",
		"symbol", symbol,
		"path", path,
		"rows", f.Len(),
		"in_span", out.Len())
	return out, nil
}

// ListSymbols returns the upper-cased symbols with a file for this interval.
func (s *File) ListSymbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	suffix := fmt.Sprintf("-%s.%s", s.interval(), s.extension)
	matches, err := filepath.Glob(filepath.Join(s.directory, "f-*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.directory, err)
	}

	symbols := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "f-"), suffix)
		if name != "" {
			symbols = append(symbols, strings.ToUpper(name))
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}
