package transform

import (
	"fmt"
	"math"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/validator"
	"gonum.org/v1/gonum/stat"
)

// Derive computes gen's features over the OHLCV columns of f, truncates the
// result to span, and drops every indicator column whose z-score is not
// finite somewhere in span. It returns the derived frame and the names of the
// dropped columns.
//
// f is expected to reach back before span.Start far enough for the
// generator's indicators to warm up. The five canonical columns are never
// dropped.
func Derive(f *frame.Frame, span models.Span, gen FeatureGenerator) (*frame.Frame, []string, error) {
	return derive(f, span, gen, false)
}

func derive(f *frame.Frame, span models.Span, gen FeatureGenerator, passthrough bool) (*frame.Frame, []string, error) {
	base, err := f.Select(frame.Canonical...)
	if err != nil {
		return nil, nil, &perrors.SchemaError{Check: perrors.CheckColumns, Message: err.Error()}
	}

	derived, err := gen.Generate(base)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate features: %w", err)
	}
	if derived == nil || derived.Len() != base.Len() {
		return nil, nil, &perrors.InvariantError{
			Operation: "derive",
			Message:   fmt.Sprintf("feature generator changed the row count from %d", base.Len()),
		}
	}
	for _, name := range frame.Canonical {
		if !derived.HasColumn(name) {
			return nil, nil, &perrors.InvariantError{
				Operation: "derive",
				Message:   fmt.Sprintf("feature generator removed column %q", name),
			}
		}
	}

	if passthrough {
		for _, name := range f.Columns() {
			if derived.HasColumn(name) {
				continue
			}
			col, _ := f.Column(name)
			if derived, err = derived.WithColumn(name, col); err != nil {
				return nil, nil, err
			}
		}
	}

	derived = validator.NormalizeColumnOrder(derived).Between(span)

	dropped := unstableColumns(derived)
	return derived.Drop(dropped...), dropped, nil
}

// unstableColumns returns the non-canonical columns for which (x-mean)/std is
// NaN or infinite for at least one row. A constant column has a zero standard
// deviation and is always reported.
func unstableColumns(f *frame.Frame) []string {
	var unstable []string
	for _, name := range f.Columns() {
		if frame.IsCanonical(name) {
			continue
		}
		col, _ := f.Column(name)
		if !standardizable(col) {
			unstable = append(unstable, name)
		}
	}
	return unstable
}

func standardizable(x []float64) bool {
	mean, std := stat.MeanStdDev(x, nil)
	for _, v := range x {
		z := (v - mean) / std
		if math.IsNaN(z) || math.IsInf(z, 0) {
			return false
		}
	}
	return true
}
