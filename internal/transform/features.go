package transform

import (
	"fmt"
	"math"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/markcheno/go-talib"
)

// FeatureGenerator appends indicator columns to an OHLCV frame. It must keep
// the index and the canonical columns intact.
type FeatureGenerator interface {
	Generate(f *frame.Frame) (*frame.Frame, error)
}

// FeatureFunc adapts a plain function to FeatureGenerator.
type FeatureFunc func(f *frame.Frame) (*frame.Frame, error)

// Generate calls fn.
func (fn FeatureFunc) Generate(f *frame.Frame) (*frame.Frame, error) { return fn(f) }

type bars struct {
	open, high, low, close, volume []float64
}

// indicator computes one or more columns. The first warmup rows of every
// output are replaced with NaN.
type indicator struct {
	columns []string
	warmup  int
	compute func(b bars) [][]float64
}

func one(out []float64) [][]float64 { return [][]float64{out} }

var taIndicators = []indicator{
	{[]string{"momentum_rsi"}, 14, func(b bars) [][]float64 { return one(talib.Rsi(b.close, 14)) }},
	{[]string{"momentum_roc"}, 12, func(b bars) [][]float64 { return one(talib.Roc(b.close, 12)) }},
	{[]string{"momentum_wr"}, 13, func(b bars) [][]float64 { return one(talib.WillR(b.high, b.low, b.close, 14)) }},
	{[]string{"trend_sma_fast"}, 11, func(b bars) [][]float64 { return one(talib.Sma(b.close, 12)) }},
	{[]string{"trend_sma_slow"}, 25, func(b bars) [][]float64 { return one(talib.Sma(b.close, 26)) }},
	{[]string{"trend_ema_fast"}, 11, func(b bars) [][]float64 { return one(talib.Ema(b.close, 12)) }},
	{[]string{"trend_ema_slow"}, 25, func(b bars) [][]float64 { return one(talib.Ema(b.close, 26)) }},
	{[]string{"trend_macd", "trend_macd_signal", "trend_macd_diff"}, 33, func(b bars) [][]float64 {
		macd, signal, hist := talib.Macd(b.close, 12, 26, 9)
		return [][]float64{macd, signal, hist}
	}},
	{[]string{"trend_adx"}, 27, func(b bars) [][]float64 { return one(talib.Adx(b.high, b.low, b.close, 14)) }},
	{[]string{"trend_cci"}, 19, func(b bars) [][]float64 { return one(talib.Cci(b.high, b.low, b.close, 20)) }},
	{[]string{"volatility_atr"}, 14, func(b bars) [][]float64 { return one(talib.Atr(b.high, b.low, b.close, 14)) }},
	{[]string{"volatility_bbh", "volatility_bbm", "volatility_bbl"}, 19, func(b bars) [][]float64 {
		upper, middle, lower := talib.BBands(b.close, 20, 2, 2, talib.SMA)
		return [][]float64{upper, middle, lower}
	}},
	{[]string{"volume_obv"}, 0, func(b bars) [][]float64 { return one(talib.Obv(b.close, b.volume)) }},
	{[]string{"volume_mfi"}, 14, func(b bars) [][]float64 { return one(talib.Mfi(b.high, b.low, b.close, b.volume, 14)) }},
	{[]string{"volume_adi"}, 0, func(b bars) [][]float64 { return one(talib.Ad(b.high, b.low, b.close, b.volume)) }},
}

// TAFeatures computes a fixed battery of momentum, trend, volatility, and
// volume indicators with go-talib.
//
// An indicator is skipped when the frame is too short to leave at least as
// many usable rows as its warm-up, so short frames yield fewer columns rather
// than columns that are NaN throughout.
type TAFeatures struct {
	indicators []indicator
}

// NewTAFeatures creates the default generator.
func NewTAFeatures() *TAFeatures {
	return &TAFeatures{indicators: taIndicators}
}

// Columns lists every column the generator can add, in generation order.
func (g *TAFeatures) Columns() []string {
	var names []string
	for _, ind := range g.indicators {
		names = append(names, ind.columns...)
	}
	return names
}

// Generate returns f with the indicator columns appended.
func (g *TAFeatures) Generate(f *frame.Frame) (*frame.Frame, error) {
	var b bars
	for name, dst := range map[string]*[]float64{
		"open": &b.open, "high": &b.high, "low": &b.low, "close": &b.close, "volume": &b.volume,
	} {
		col, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("feature input is missing column %q", name)
		}
		*dst = col
	}

	out := f
	n := f.Len()
	for _, ind := range g.indicators {
		if n < 2*(ind.warmup+1) {
			continue
		}
		results := ind.compute(b)
		for i, name := range ind.columns {
			values := results[i]
			for k := 0; k < ind.warmup && k < len(values); k++ {
				values[k] = math.NaN()
			}
			var err error
			if out, err = out.WithColumn(name, values); err != nil {
				return nil, fmt.Errorf("indicator %s: %w", name, err)
			}
		}
	}
	return out, nil
}
