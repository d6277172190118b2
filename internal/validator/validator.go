// Package validator enforces the canonical frame contract: OHLCV leading
// columns, a strictly increasing timestamp index named "date", and regular
// spacing (or an explicit fill policy that deals with irregular spacing).
package validator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/fill"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/gaps"
)

// FrameValidator checks frames against the canonical contract.
type FrameValidator struct {
	logger *slog.Logger
}

// New creates a validator that reports detected gaps at debug level.
func New(logger *slog.Logger) *FrameValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameValidator{logger: logger}
}

// Validate runs the checks in order and returns the first failure:
//
//  1. the first five columns are open, high, low, close, volume
//  2. every index entry is a real timestamp
//  3. the index is increasing, then free of duplicates
//  4. irregular spacing is handed to policy; a nil policy fails
//  5. the index is named "date"
//
// The returned frame is the input, or the policy's repaired copy.
func (v *FrameValidator) Validate(f *frame.Frame, policy fill.Policy) (*frame.Frame, error) {
	if err := checkColumns(f); err != nil {
		return nil, err
	}

	index := f.Index()
	for i, t := range index {
		if t.IsZero() {
			return nil, &perrors.SchemaError{
				Check:   perrors.CheckIndexType,
				Message: fmt.Sprintf("row %d has no timestamp", i),
			}
		}
	}

	for i := 1; i < len(index); i++ {
		if index[i].Before(index[i-1]) {
			return nil, &perrors.SchemaError{
				Check:   perrors.CheckMonotonic,
				Message: fmt.Sprintf("index decreases at row %d (%s after %s)", i, index[i], index[i-1]),
			}
		}
	}
	for i := 1; i < len(index); i++ {
		if index[i].Equal(index[i-1]) {
			return nil, &perrors.SchemaError{
				Check:   perrors.CheckUnique,
				Message: fmt.Sprintf("duplicate timestamp %s at row %d", index[i], i),
			}
		}
	}

	if !gaps.IsRegular(index) {
		if policy == nil {
			return nil, &perrors.NoFillPolicyError{}
		}

		detected := gaps.Detect(index, policy.Interval().Duration())
		v.logger.Debug("irregular index detected",
			"policy", policy.Name(),
			"rows", len(index),
			"gaps", len(detected),
			"missing", gaps.Missing(index, policy.Interval().Duration()))

		repaired, err := policy.Apply(f)
		if err != nil {
			return nil, err
		}
		f = repaired
	}

	if f.IndexName() != frame.IndexName {
		return nil, &perrors.SchemaError{
			Check:   perrors.CheckIndexName,
			Message: fmt.Sprintf("index is named %q, expected %q", f.IndexName(), frame.IndexName),
		}
	}

	return f, nil
}

func checkColumns(f *frame.Frame) error {
	cols := f.Columns()
	if len(cols) < len(frame.Canonical) {
		return &perrors.SchemaError{
			Check:   perrors.CheckColumns,
			Message: fmt.Sprintf("expected leading columns %v, got %v", frame.Canonical, cols),
		}
	}
	for i, want := range frame.Canonical {
		if cols[i] != want {
			return &perrors.SchemaError{
				Check:   perrors.CheckColumns,
				Message: fmt.Sprintf("column %d is %q, expected %q (leading columns must be %s)", i, cols[i], want, strings.Join(frame.Canonical, ", ")),
			}
		}
	}
	return nil
}

// Validate checks f with a validator logging to slog.Default.
func Validate(f *frame.Frame, policy fill.Policy) (*frame.Frame, error) {
	return New(nil).Validate(f, policy)
}

// NormalizeColumnOrder puts the OHLCV columns first, in canonical order,
// followed by every other column sorted lexicographically. Missing canonical
// columns are left out; the validator reports them.
func NormalizeColumnOrder(f *frame.Frame) *frame.Frame {
	var order []string
	for _, name := range frame.Canonical {
		if f.HasColumn(name) {
			order = append(order, name)
		}
	}
	var extras []string
	for _, name := range f.Columns() {
		if !frame.IsCanonical(name) {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)

	out, err := f.Select(append(order, extras...)...)
	if err != nil {
		// every name came from f, so Select cannot fail
		panic(err)
	}
	return out
}
