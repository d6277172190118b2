package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/johnayoung/go-ohlcv-pipeline/internal/modelstore"
	"github.com/spf13/cobra"
)

func newModelsCmd(appFn func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Store and query tagged model artifacts",
		Long: `Manage the tagged model store configured under model_store.

Examples:
  ohlcvpipe models put --artifact model.bin --tags btc,prod --performance 0.8 --columns open,close
  ohlcvpipe models list --filter tag=btc --filter performance=0.8
  ohlcvpipe models list --filter creation_date=2023-03-01T12:00:00Z --json`,
	}
	cmd.AddCommand(newModelsListCmd(appFn), newModelsPutCmd(appFn))
	return cmd
}

func newModelsListCmd(appFn func() *app) *cobra.Command {
	var (
		filters map[string]string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models matching every filter, oldest first",
		Long: `List the models matching all filters. Supported keys: tag, tags,
performance, description, columns_list, creation_date (RFC 3339). List
values are comma separated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := modelstore.ParseFilter(filters)
			if err != nil {
				return err
			}

			a := appFn()
			store, err := a.openModelStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			found, err := store.Get(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(found)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tPERFORMANCE\tTAGS\tCOLUMNS\tDESCRIPTION")
			for _, m := range found {
				fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\t%s\t%s\n",
					m.ID, m.CreationDate.Format(time.RFC3339), m.Performance,
					strings.Join(m.Tags, ","), strings.Join(m.Columns, ","), m.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringToStringVarP(&filters, "filter", "f", nil, "filter as key=value, repeatable")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full records, including artifacts, as JSON")
	return cmd
}

func newModelsPutCmd(appFn func() *app) *cobra.Command {
	var (
		artifactPath string
		meta         string
		m            modelstore.MetaModel
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Store a model artifact with its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			artifact, err := os.ReadFile(artifactPath)
			if err != nil {
				return fmt.Errorf("failed to read artifact: %w", err)
			}
			m.Artifact = artifact
			if meta != "" {
				if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
					return fmt.Errorf("--meta must be a JSON object: %w", err)
				}
			}

			a := appFn()
			store, err := a.openModelStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Store(cmd.Context(), &m); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&artifactPath, "artifact", "", "file holding the serialized model")
	cmd.Flags().StringVar(&m.ID, "id", "", "model id (generated when empty)")
	cmd.Flags().Float64Var(&m.Performance, "performance", 0, "score between 0 and 1")
	cmd.Flags().StringVar(&m.Description, "description", "", "free-form description")
	cmd.Flags().StringSliceVar(&m.Tags, "tags", nil, "comma separated tags")
	cmd.Flags().StringSliceVar(&m.Columns, "columns", nil, "comma separated feature columns the model expects")
	cmd.Flags().StringVar(&meta, "meta", "", "extra metadata as a JSON object")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}
