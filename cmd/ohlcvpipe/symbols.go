package main

import (
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/models"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/source"
	"github.com/spf13/cobra"
)

func newSymbolsCmd(appFn func() *app) *cobra.Command {
	var (
		interval   string
		sourceKind string
	)
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List the symbols the source holds for an interval",
		Long: `List the symbols available from the configured source at the given
interval. The polygon source does not support listing.

Example:
  ohlcvpipe symbols --interval hour --source elastic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			src, err := a.newSource(sourceKind, listingRequest(interval))
			if err != nil {
				return err
			}
			symbols, err := src.ListSymbols(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range symbols {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&interval, "interval", "i", "day", "bar interval (minute|hour|day)")
	cmd.Flags().StringVar(&sourceKind, "source", "", "override source.kind (file|polygon|coinbase|elastic)")
	return cmd
}

// listingRequest builds a valid request for interval. Listing reads only the
// interval, so the symbol and dates are placeholders.
func listingRequest(interval string) source.Request {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return source.Request{
		Symbols:  []string{"*"},
		Interval: interval,
		Start:    start.Format(models.DateLayout),
		End:      start.AddDate(0, 0, 7).Format(models.DateLayout),
	}
}
