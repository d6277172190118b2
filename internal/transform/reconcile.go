package transform

import (
	"fmt"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
)

// Reconcile restricts every frame of set to the columns all frames share, in
// the order they are first seen, and checks that every frame has the same
// number of rows. A row count mismatch is an InvariantError: frames derived
// over the same window at the same interval must line up.
func Reconcile(set *frame.Set) (*frame.Set, error) {
	common := CommonColumns(set)

	out := frame.NewSet()
	var (
		firstSymbol string
		rows        = -1
	)
	err := set.Each(func(symbol string, f *frame.Frame) error {
		restricted, err := f.Select(common...)
		if err != nil {
			return &perrors.InvariantError{Operation: "reconcile", Message: err.Error()}
		}
		if rows < 0 {
			firstSymbol, rows = symbol, restricted.Len()
		} else if restricted.Len() != rows {
			return &perrors.InvariantError{
				Operation: "reconcile",
				Message: fmt.Sprintf("%s has %d rows but %s has %d",
					symbol, restricted.Len(), firstSymbol, rows),
			}
		}
		out.Put(symbol, restricted)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CommonColumns returns the column names present in every frame of set,
// ordered by first appearance and without duplicates.
func CommonColumns(set *frame.Set) []string {
	counts := make(map[string]int)
	var order []string
	_ = set.Each(func(_ string, f *frame.Frame) error {
		seen := make(map[string]bool)
		for _, name := range f.Columns() {
			if seen[name] {
				continue
			}
			seen[name] = true
			if counts[name] == 0 {
				order = append(order, name)
			}
			counts[name]++
		}
		return nil
	})

	common := make([]string, 0, len(order))
	for _, name := range order {
		if counts[name] == set.Len() {
			common = append(common, name)
		}
	}
	return common
}
