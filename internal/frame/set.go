package frame

import "math"

var nan = math.NaN()

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = nan
	}
	return s
}

func isNaN(v float64) bool { return v != v }

// Set is a symbol-keyed collection of frames that remembers insertion order,
// so multi-asset results iterate in request order.
type Set struct {
	order  []string
	frames map[string]*Frame
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{frames: make(map[string]*Frame)}
}

// Put stores f under symbol. Re-putting a symbol keeps its original position.
func (s *Set) Put(symbol string, f *Frame) {
	if _, ok := s.frames[symbol]; !ok {
		s.order = append(s.order, symbol)
	}
	s.frames[symbol] = f
}

// Get returns the frame stored under symbol.
func (s *Set) Get(symbol string) (*Frame, bool) {
	f, ok := s.frames[symbol]
	return f, ok
}

// Symbols returns the symbols in insertion order.
func (s *Set) Symbols() []string { return append([]string(nil), s.order...) }

// Len returns the number of symbols.
func (s *Set) Len() int { return len(s.order) }

// Each calls fn for every symbol in insertion order and stops at the first error.
func (s *Set) Each(fn func(symbol string, f *Frame) error) error {
	for _, symbol := range s.order {
		if err := fn(symbol, s.frames[symbol]); err != nil {
			return err
		}
	}
	return nil
}
