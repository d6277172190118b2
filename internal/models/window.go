package models

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	perrors "github.com/johnayoung/go-ohlcv-pipeline/internal/errors"
)

// DateLayout is the calendar-date format accepted for window bounds.
const DateLayout = "2006-01-02"

// Span is a closed time range [Start, End].
type Span struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the span, bounds included.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// Extend moves the start of the span back by lookback.
func (s Span) Extend(lookback time.Duration) Span {
	if lookback <= 0 {
		return s
	}
	return Span{Start: s.Start.Add(-lookback), End: s.End}
}

// Window is a validated request: which symbols, at which interval, over which
// dates. Construct it with NewWindow; the zero value is not usable.
type Window struct {
	Symbols  []string
	Interval Interval
	Start    time.Time
	End      time.Time
}

type windowRequest struct {
	Symbols  []string `validate:"required,min=1,unique,dive,required"`
	Interval string   `validate:"required,oneof=minute hour day"`
	Start    string   `validate:"required,datetime=2006-01-02"`
	End      string   `validate:"required,datetime=2006-01-02"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// NewWindow validates the request parameters and returns an ArgumentError on
// the first violation: empty or duplicate symbols, unknown interval,
// unparseable dates, start after end, or a span shorter than two intervals.
func NewWindow(symbols []string, interval, start, end string) (Window, error) {
	req := windowRequest{Symbols: symbols, Interval: strings.ToLower(interval), Start: start, End: end}
	if err := requestValidator().Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return Window{}, argumentFromField(fieldErrs[0])
		}
		return Window{}, perrors.NewArgumentError("window", "%v", err)
	}

	startAt, err := time.Parse(DateLayout, start)
	if err != nil {
		return Window{}, perrors.NewArgumentError("start", "cannot parse %q: %v", start, err)
	}
	endAt, err := time.Parse(DateLayout, end)
	if err != nil {
		return Window{}, perrors.NewArgumentError("end", "cannot parse %q: %v", end, err)
	}
	if startAt.After(endAt) {
		return Window{}, perrors.NewArgumentError("start", "start date %s is after end date %s", start, end)
	}

	iv := Interval(req.Interval)
	if endAt.Sub(startAt) < 2*iv.Duration() {
		return Window{}, perrors.NewArgumentError("end",
			"window %s to %s is shorter than two %s intervals", start, end, iv)
	}

	return Window{
		Symbols:  append([]string(nil), symbols...),
		Interval: iv,
		Start:    startAt,
		End:      endAt,
	}, nil
}

func argumentFromField(fe validator.FieldError) error {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required", "min":
		return perrors.NewArgumentError(field, "must not be empty")
	case "unique":
		return perrors.NewArgumentError(field, "must not contain duplicates")
	case "oneof":
		return perrors.NewArgumentError(field, "%q is not one of %s", fe.Value(), fe.Param())
	case "datetime":
		return perrors.NewArgumentError(field, "%q is not a %s date", fe.Value(), DateLayout)
	default:
		return perrors.NewArgumentError(field, "failed %s validation", fe.Tag())
	}
}

// Span returns the nominal request span.
func (w Window) Span() Span {
	return Span{Start: w.Start, End: w.End}
}

// Lookback is the warm-up buffer indicator computation needs before Start:
// the larger of 100 intervals and one day.
func (w Window) Lookback() time.Duration {
	lookback := 100 * w.Interval.Duration()
	if lookback < 24*time.Hour {
		lookback = 24 * time.Hour
	}
	return lookback
}

// WithSymbols returns a copy of the window restricted to symbols.
func (w Window) WithSymbols(symbols []string) Window {
	w.Symbols = append([]string(nil), symbols...)
	return w
}
