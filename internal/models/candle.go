package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one raw OHLCV bar as delivered by a vendor API, before it is
// folded into a columnar frame. Extras carries vendor-specific numeric fields
// such as volume-weighted price or trade count.
type Candle struct {
	Timestamp time.Time                  `json:"timestamp"`
	Open      decimal.Decimal            `json:"open"`
	High      decimal.Decimal            `json:"high"`
	Low       decimal.Decimal            `json:"low"`
	Close     decimal.Decimal            `json:"close"`
	Volume    decimal.Decimal            `json:"volume"`
	Extras    map[string]decimal.Decimal `json:"extras,omitempty"`
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate rejects bars that cannot be placed on a time axis or that carry
// non-positive prices or negative volume. OHLC ordering is not enforced; vendor
// data routinely violates it and the pipeline passes such bars through.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	prices := []struct {
		name  string
		value decimal.Decimal
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
	}
	for _, p := range prices {
		if !p.value.IsPositive() {
			return &ValidationError{Field: p.name, Message: fmt.Sprintf("%s price must be greater than 0, got %s", p.name, p.value)}
		}
	}

	if c.Volume.IsNegative() {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	return nil
}

// Values returns the bar as float64 values keyed by canonical column name,
// extras included.
func (c *Candle) Values() map[string]float64 {
	values := map[string]float64{
		"open":   c.Open.InexactFloat64(),
		"high":   c.High.InexactFloat64(),
		"low":    c.Low.InexactFloat64(),
		"close":  c.Close.InexactFloat64(),
		"volume": c.Volume.InexactFloat64(),
	}
	for name, v := range c.Extras {
		values[name] = v.InexactFloat64()
	}
	return values
}

// String returns a string representation of the candle
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}
