package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// Version is the CLI version.
const Version = "1.0.0"

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

// cli owns the app loaded for the running command.
type cli struct {
	flags globalFlags
	app   *app
}

// execute runs the command line args and releases the app afterwards,
// whether or not the command succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if closeErr := c.app.Close(ctx); err == nil {
			err = closeErr
		}
	}
	return err
}

// rootCmd builds the command tree. The app is loaded in PersistentPreRunE so
// --help and flag errors never touch configuration.
func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ohlcvpipe",
		Short: "OHLCV ingestion, validation, and feature pipeline",
		Long: `ohlcvpipe fetches OHLCV bars for a set of symbols from a file tree, the
Polygon aggregates API, Coinbase market candles, or Elasticsearch, checks
and fills them, derives
technical-analysis features, and exports the aligned frames.

Configuration is read from the --config file (YAML or JSON), .env files,
and environment variables, in increasing priority.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			c.app, err = newApp(cmd.Context(), &c.flags)
			return err
		},
	}

	root.PersistentFlags().StringVarP(&c.flags.configPath, "config", "c", "", "config file (.yaml, .yml, or .json)")
	root.PersistentFlags().StringSliceVar(&c.flags.envFiles, "env-file", []string{".env"}, "env files loaded before the environment is read")
	root.PersistentFlags().StringVar(&c.flags.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	appFn := func() *app { return c.app }
	root.AddCommand(
		newFetchCmd(appFn),
		newTransformCmd(appFn),
		newSymbolsCmd(appFn),
		newModelsCmd(appFn),
	)
	return root
}

// addWindowFlags registers the request window flags on cmd.
func addWindowFlags(cmd *cobra.Command, w *windowFlags) {
	cmd.Flags().StringSliceVarP(&w.symbols, "symbols", "s", nil, "comma separated symbols, e.g. BTCUSD,ETHUSD")
	cmd.Flags().StringVarP(&w.interval, "interval", "i", "day", "bar interval (minute|hour|day)")
	cmd.Flags().StringVar(&w.start, "start", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&w.end, "end", "", "last date, YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&w.fillPolicy, "fill-policy", "", "override pipeline.fill_policy (strict|clip|akima)")
	cmd.Flags().StringVar(&w.sourceKind, "source", "", "override source.kind (file|polygon|coinbase|elastic)")
	_ = cmd.MarkFlagRequired("symbols")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

// exportFlags select where a command writes its frames.
type exportFlags struct {
	kind      string
	directory string
}

func addExportFlags(cmd *cobra.Command, e *exportFlags) {
	cmd.Flags().StringVar(&e.kind, "export", "", "override export.kind (csv|elastic)")
	cmd.Flags().StringVarP(&e.directory, "out", "o", "", "override export.directory for the csv exporter")
}
