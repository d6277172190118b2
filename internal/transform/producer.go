// Package transform derives per-asset features from validated frames and
// reconciles the results across assets. Stages compose: a Stage consumes any
// Producer and is itself a Producer, so a pipeline may start from an
// aggregator or from another stage without inspecting which one it got.
package transform

import (
	"context"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
)

// Producer yields one frame per symbol of its window.
//
// Produce returns frames covering the window extended lookback before its
// start, so a consumer computing lagging indicators has room to warm up.
// Implementations never return a partial set.
type Producer interface {
	Window() models.Window
	Produce(ctx context.Context, lookback time.Duration) (*frame.Set, error)
}
