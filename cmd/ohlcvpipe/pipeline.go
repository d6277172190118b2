package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/export"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/frame"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/logger"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/transform"
	"github.com/spf13/cobra"
)

func newFetchCmd(appFn func() *app) *cobra.Command {
	var (
		w   windowFlags
		out exportFlags
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, validate, and export OHLCV frames",
		Long: `Fetch bars for every symbol over the inclusive window, normalize column
order, check spacing and apply the fill policy, then export one frame per
symbol. Any symbol failure fails the whole command.

Example:
  ohlcvpipe fetch --symbols BTCUSD,ETHUSD --interval hour --start 2022-01-01 --end 2022-01-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := logger.WithNewTrace(cmd.Context())

			src, err := a.newSource(w.sourceKind, w.request(a.cfg))
			if err != nil {
				return err
			}
			exp, err := a.newExporter(out.kind, out.directory)
			if err != nil {
				return err
			}
			agg := a.newAggregator(src)
			window := agg.Window()

			a.logger.Info("starting fetch",
				"symbols", window.Symbols,
				"interval", window.Interval,
				"start", window.Start.Format(models.DateLayout),
				"end", window.End.Format(models.DateLayout))

			var set *frame.Set
			err = logger.TimedOperation(ctx, a.logger, "fetch", func() error {
				set, err = agg.GetData(ctx, window.Symbols)
				return err
			})
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}
			return exportAndSummarize(ctx, cmd.OutOrStdout(), exp, window.Interval, set)
		},
	}
	addWindowFlags(cmd, &w)
	addExportFlags(cmd, &out)
	return cmd
}

func newTransformCmd(appFn func() *app) *cobra.Command {
	var (
		w           windowFlags
		out         exportFlags
		lookback    time.Duration
		passthrough bool
	)
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Derive technical-analysis features and export aligned frames",
		Long: `Fetch every symbol over the window extended by the indicator warm-up,
derive momentum, trend, volatility, and volume features, drop unstable
indicator columns, and keep only the columns every symbol shares.

Example:
  ohlcvpipe transform --symbols BTCUSD,ETHUSD --interval day --start 2021-01-01 --end 2021-12-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := logger.WithNewTrace(cmd.Context())

			src, err := a.newSource(w.sourceKind, w.request(a.cfg))
			if err != nil {
				return err
			}
			exp, err := a.newExporter(out.kind, out.directory)
			if err != nil {
				return err
			}
			opts := []transform.Option{transform.WithMetrics(a.recorder), transform.WithLogger(a.logger)}
			if passthrough {
				opts = append(opts, transform.WithPassthrough())
			}
			stage := transform.NewStage(a.newAggregator(src), opts...)
			window := stage.Window()

			a.logger.Info("starting transform",
				"symbols", window.Symbols,
				"interval", window.Interval,
				"lookback", window.Lookback()+lookback)

			var set *frame.Set
			err = logger.TimedOperation(ctx, a.logger, "transform", func() error {
				set, err = stage.Produce(ctx, lookback)
				return err
			})
			if err != nil {
				return fmt.Errorf("transform failed: %w", err)
			}
			return exportAndSummarize(ctx, cmd.OutOrStdout(), exp, window.Interval, set)
		},
	}
	addWindowFlags(cmd, &w)
	addExportFlags(cmd, &out)
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "extra history kept before --start, e.g. 72h")
	cmd.Flags().BoolVar(&passthrough, "passthrough", false, "keep non-OHLCV columns delivered by the source")
	return cmd
}

func exportAndSummarize(ctx context.Context, w io.Writer, exp export.Exporter, interval models.Interval, set *frame.Set) error {
	if err := exp.Export(ctx, interval, set); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return set.Each(func(symbol string, f *frame.Frame) error {
		if f.Len() == 0 {
			_, err := fmt.Fprintf(w, "%s: no rows\n", symbol)
			return err
		}
		_, err := fmt.Fprintf(w, "%s: %d rows %s..%s columns=%s\n",
			symbol, f.Len(),
			f.First().Format(time.RFC3339), f.Last().Format(time.RFC3339),
			strings.Join(f.Columns(), ","))
		return err
	})
}
