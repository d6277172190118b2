package fill

import (
	"errors"
	"math"
	"testing"
	"time"

	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/gaps"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

// dailyFrame builds a frame on the given day offsets whose columns follow
// smooth functions of the offset.
func dailyFrame(t *testing.T, offsets ...int) *frame.Frame {
	t.Helper()
	index := make([]time.Time, len(offsets))
	values := make([][]float64, len(frame.Canonical))
	for c := range values {
		values[c] = make([]float64, len(offsets))
	}
	for i, o := range offsets {
		index[i] = day0.AddDate(0, 0, o)
		x := float64(o)
		values[0][i] = 100 + x
		values[1][i] = 110 + 2*x
		values[2][i] = 90 + x
		values[3][i] = 100 + x*x/10
		values[4][i] = 1000 + 10*x
	}
	f, err := frame.New(frame.IndexName, index, frame.Canonical, values)
	require.NoError(t, err)
	return f
}

func TestStrict(t *testing.T) {
	p := NewStrict(models.Day)
	_, err := p.Apply(dailyFrame(t, 0, 1, 3, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrNoFillPolicy))

	var nfp *perrors.NoFillPolicyError
	require.True(t, errors.As(err, &nfp))
	assert.Equal(t, 1, nfp.Gaps)
	assert.Equal(t, "strict", nfp.Policy)
}

func TestClip(t *testing.T) {
	f := dailyFrame(t, 0, 1, 3, 4)
	out, err := NewClip(models.Day).Apply(f)
	require.NoError(t, err)
	assert.True(t, f.Equal(out))
	assert.Equal(t, 4, out.Len())
}

func TestInterpolate_FillsDroppedRow(t *testing.T) {
	full := dailyFrame(t, 0, 1, 2, 3, 4)
	holed := dailyFrame(t, 0, 1, 3, 4)

	out, err := NewInterpolate(models.Day).Apply(holed)
	require.NoError(t, err)

	require.Equal(t, 5, out.Len())
	assert.Equal(t, full.Index(), out.Index())
	assert.True(t, gaps.IsRegular(out.Index()))
	assert.Equal(t, frame.Canonical, out.Columns())

	for _, name := range frame.Canonical {
		v := out.Value(name, 2)
		assert.False(t, math.IsNaN(v), name)
		// linear columns are reproduced exactly by the spline
		if name != "close" {
			assert.InDelta(t, full.Value(name, 2), v, 1e-9, name)
		}
		// existing rows are untouched
		assert.Equal(t, holed.Value(name, 0), out.Value(name, 0))
		assert.Equal(t, holed.Value(name, 3), out.Value(name, 4))
	}
	assert.InDelta(t, full.Value("close", 2), out.Value("close", 2), 0.5)
}

func TestInterpolate_TwoPointsFallsBackToLinear(t *testing.T) {
	f := dailyFrame(t, 0, 2)
	out, err := NewInterpolate(models.Day).Apply(f)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.InDelta(t, 101.0, out.Value("open", 1), 1e-9)
}

func TestInterpolate_SparseColumnStaysNaN(t *testing.T) {
	f := dailyFrame(t, 0, 1, 3)
	sparse, err := f.WithColumn("vwap", []float64{math.NaN(), 5, math.NaN()})
	require.NoError(t, err)

	out, err := NewInterpolate(models.Day).Apply(sparse)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())
	assert.True(t, math.IsNaN(out.Value("vwap", 2)))
	assert.Equal(t, 5.0, out.Value("vwap", 1))
	assert.False(t, math.IsNaN(out.Value("open", 2)))
}

func TestInterpolate_OffGridRowsNotEmitted(t *testing.T) {
	f := dailyFrame(t, 0, 1, 2, 4)
	index := f.Index()
	index[1] = index[1].Add(6 * time.Hour)
	cols := f.Columns()
	values := make([][]float64, len(cols))
	for i, name := range cols {
		values[i], _ = f.Column(name)
	}
	offGrid, err := frame.New(frame.IndexName, index, cols, values)
	require.NoError(t, err)

	out, err := NewInterpolate(models.Day).Apply(offGrid)
	require.NoError(t, err)
	assert.Equal(t, gaps.IdealIndex(day0, day0.AddDate(0, 0, 4), 24*time.Hour), out.Index())
	for i := 0; i < out.Len(); i++ {
		assert.False(t, math.IsNaN(out.Value("open", i)))
	}
}

func TestByName(t *testing.T) {
	for name, want := range map[string]string{
		"strict":      NameStrict,
		"error":       NameStrict,
		"default":     NameStrict,
		"clip":        NameClip,
		"akima":       NameInterpolate,
		"Interpolate": NameInterpolate,
	} {
		p, err := ByName(name, models.Hour)
		require.NoError(t, err, name)
		assert.Equal(t, want, p.Name(), name)
		assert.Equal(t, models.Hour, p.Interval())
	}

	_, err := ByName("forward", models.Hour)
	assert.True(t, errors.Is(err, perrors.ErrArgument))

	_, err = ByName("clip", models.Interval("week"))
	assert.True(t, errors.Is(err, perrors.ErrArgument))
}
