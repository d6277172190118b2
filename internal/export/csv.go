package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/source"
)

// CSV writes one f-{symbol}-{interval}.{ext} file per symbol, csv unless
// WithExtension says otherwise. Existing files are replaced atomically.
type CSV struct {
	options
	directory string
}

// NewCSV creates an exporter writing into directory.
func NewCSV(directory string, opts ...Option) (*CSV, error) {
	if directory == "" {
		return nil, perrors.NewArgumentError("directory", "csv exporter requires a directory")
	}
	o := newOptions("csv", opts)
	o.extension = strings.TrimPrefix(o.extension, ".")
	if o.extension == "" {
		o.extension = "csv"
	}
	return &CSV{options: o, directory: directory}, nil
}

// Path returns the file written for symbol.
func (e *CSV) Path(symbol string, interval models.Interval) string {
	return filepath.Join(e.directory, source.FileName(symbol, interval, e.extension))
}

// Export implements Exporter.
func (e *CSV) Export(ctx context.Context, interval models.Interval, set *frame.Set) error {
	if err := os.MkdirAll(e.directory, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", e.directory, err)
	}
	return set.Each(func(symbol string, f *frame.Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := e.Path(symbol, interval)
		if err := writeFileAtomic(path, f); err != nil {
			return err
		}
		e.metrics.RowsExported("csv", f.Len())
		e.logger.Info("exported frame", "symbol", symbol, "path", path, "rows", f.Len(), "columns", len(f.Columns()))
		return nil
	})
}

func writeFileAtomic(path string, f *frame.Frame) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := f.WriteCSV(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
