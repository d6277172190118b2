// Package fill implements the strategies applied when a frame's time index is
// irregular: reject it, accept it as is, or rebuild the missing samples.
package fill

import (
	"fmt"
	"math"
	"strings"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/gaps"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"gonum.org/v1/gonum/interp"
)

// Policy repairs or rejects a frame whose index is not evenly spaced.
// Implementations are stateless and safe for concurrent use.
type Policy interface {
	Name() string
	Interval() models.Interval
	Apply(f *frame.Frame) (*frame.Frame, error)
}

// Policy names accepted by ByName.
const (
	NameStrict      = "strict"
	NameClip        = "clip"
	NameInterpolate = "interpolate"
)

// ByName resolves a policy from its configuration name. "error" and "default"
// are accepted for strict, "akima" for interpolate.
func ByName(name string, interval models.Interval) (Policy, error) {
	if !interval.Valid() {
		return nil, perrors.NewArgumentError("interval", "unsupported interval %q", interval)
	}
	switch strings.ToLower(name) {
	case NameStrict, "error", "default", "":
		return NewStrict(interval), nil
	case NameClip:
		return NewClip(interval), nil
	case NameInterpolate, "akima":
		return NewInterpolate(interval), nil
	default:
		return nil, perrors.NewArgumentError("fill_policy", "unknown fill policy %q", name)
	}
}

// Strict refuses every irregular frame.
type Strict struct {
	interval models.Interval
}

// NewStrict creates a policy that always fails.
func NewStrict(interval models.Interval) *Strict { return &Strict{interval: interval} }

func (p *Strict) Name() string              { return NameStrict }
func (p *Strict) Interval() models.Interval { return p.interval }

// Apply returns a NoFillPolicyError describing how many gaps were found.
func (p *Strict) Apply(f *frame.Frame) (*frame.Frame, error) {
	return nil, &perrors.NoFillPolicyError{
		Policy: p.Name(),
		Gaps:   len(gaps.Detect(f.Index(), p.interval.Duration())),
	}
}

// Clip accepts the frame with its holes.
type Clip struct {
	interval models.Interval
}

// NewClip creates the identity policy.
func NewClip(interval models.Interval) *Clip { return &Clip{interval: interval} }

func (p *Clip) Name() string              { return NameClip }
func (p *Clip) Interval() models.Interval { return p.interval }

// Apply returns f unchanged.
func (p *Clip) Apply(f *frame.Frame) (*frame.Frame, error) { return f, nil }

// Interpolate reindexes the frame onto the evenly spaced grid between its
// first and last timestamp and fills every column with an Akima spline.
//
// Columns with exactly two finite values use linear interpolation, and
// columns with fewer stay NaN at the new rows. Points outside a column's
// first and last finite value are not extrapolated. Off-grid source rows
// shape the spline but are not emitted.
type Interpolate struct {
	interval models.Interval
}

// NewInterpolate creates the spline-filling policy.
func NewInterpolate(interval models.Interval) *Interpolate { return &Interpolate{interval: interval} }

func (p *Interpolate) Name() string              { return NameInterpolate }
func (p *Interpolate) Interval() models.Interval { return p.interval }

// Apply rebuilds f on the ideal index.
func (p *Interpolate) Apply(f *frame.Frame) (*frame.Frame, error) {
	if f.Len() == 0 {
		return f, nil
	}

	step := p.interval.Duration()
	ideal := gaps.IdealIndex(f.First(), f.Last(), step)
	origin := f.First()
	xs := seconds(f.Index(), origin)
	targets := seconds(ideal, origin)

	out := f.Reindex(ideal)
	for _, name := range f.Columns() {
		ys, _ := f.Column(name)
		filled, err := fillColumn(xs, ys, targets, columnOf(out, name))
		if err != nil {
			return nil, fmt.Errorf("interpolating column %q: %w", name, err)
		}
		if out, err = out.WithColumn(name, filled); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func columnOf(f *frame.Frame, name string) []float64 {
	col, _ := f.Column(name)
	return col
}

func seconds(index []time.Time, origin time.Time) []float64 {
	xs := make([]float64, len(index))
	for i, t := range index {
		xs[i] = t.Sub(origin).Seconds()
	}
	return xs
}

// fillColumn predicts NaN entries of current (aligned with targets) from the
// finite knots (xs, ys).
func fillColumn(xs, ys, targets, current []float64) ([]float64, error) {
	var kx, ky []float64
	for i := range xs {
		if !math.IsNaN(ys[i]) && !math.IsInf(ys[i], 0) {
			kx = append(kx, xs[i])
			ky = append(ky, ys[i])
		}
	}
	if len(kx) < 2 {
		return current, nil
	}

	var predictor interp.FittablePredictor
	if len(kx) == 2 {
		predictor = &interp.PiecewiseLinear{}
	} else {
		predictor = &interp.AkimaSpline{}
	}
	if err := predictor.Fit(kx, ky); err != nil {
		return nil, err
	}

	lo, hi := kx[0], kx[len(kx)-1]
	out := append([]float64(nil), current...)
	for i, x := range targets {
		if !math.IsNaN(out[i]) || x < lo || x > hi {
			continue
		}
		out[i] = predictor.Predict(x)
	}
	return out, nil
}
