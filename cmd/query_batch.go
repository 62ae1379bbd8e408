package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/popradius/internal/batch"
)

var (
	batchInput       string
	batchOutput      string
	batchConcurrency int
)

var queryBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Estimate population for every point in a CSV or XLSX file",
	Long: `Reads points from --input and writes one result row per point to --output.

The input header needs lat and lon columns (or a single coordinates column).
Optional columns: id, radius_km, mode, bands.

Examples:
  popradius query batch --input sites.csv --output sites_pop.csv
  popradius query batch --input sites.xlsx --output sites_pop.xlsx --concurrency 8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cfg, "query")
		if err != nil {
			return err
		}

		items, err := batch.ReadItems(batchInput, cfg.Query.DefaultRadiusKm)
		if err != nil {
			return err
		}
		zap.L().Info("batch: read points", zap.Int("points", len(items)), zap.String("input", batchInput))

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Query.BatchConcurrency
		}

		rows, sum := batch.Run(cmd.Context(), a.orch, items, concurrency)
		if err := batch.WriteResults(batchOutput, rows); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d points: %d ok, %d unavailable, %d invalid -> %s\n", //nolint:errcheck
			len(rows), sum.OK, sum.Unavailable, sum.Invalid, batchOutput)
		if sum.OK == 0 && len(rows) > 0 {
			return eris.New("batch: no point produced a result")
		}
		return nil
	},
}

func init() {
	queryBatchCmd.Flags().StringVar(&batchInput, "input", "", "input .csv or .xlsx file (required)")
	queryBatchCmd.Flags().StringVar(&batchOutput, "output", "", "output .csv or .xlsx file (required)")
	queryBatchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel queries (default from config)")
	_ = queryBatchCmd.MarkFlagRequired("input")
	_ = queryBatchCmd.MarkFlagRequired("output")
	queryCmd.AddCommand(queryBatchCmd)
}
