package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/popradius/internal/assets"
)

var rasterFetchForce bool

var rasterFetchCmd = &cobra.Command{
	Use:   "fetch [band...]",
	Short: "Download raster layers from their configured sources",
	Long: `Downloads each band's raster from assets.sources into its raster.bands path.

Files already present and at least raster.min_file_bytes long are skipped
unless --force is set. Downloads land under a .part name and are renamed only
when complete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		bands, err := selectBands(cfg.Assets.Sources, args)
		if err != nil {
			return err
		}

		paths := cfg.Raster.BandPaths()
		sources := make(map[string]string, len(bands))
		dests := make(map[string]string, len(bands))
		for _, b := range bands {
			sources[b] = cfg.Assets.Sources[b]
			dests[b] = paths[b]
		}

		f := assets.NewFetcher(assets.Options{
			Timeout:     time.Duration(cfg.Assets.TimeoutSecs) * time.Second,
			MaxAttempts: cfg.Assets.MaxAttempts,
			UserAgent:   cfg.Assets.UserAgent,
			MinBytes:    cfg.Raster.MinFileBytes,
		})
		reports, fetchErr := f.FetchAll(cmd.Context(), sources, dests, rasterFetchForce)

		w := cmd.OutOrStdout()
		for _, r := range reports {
			switch {
			case r.Error != "":
				fmt.Fprintf(w, "%-10s FAILED   %s\n", r.Band, r.Error) //nolint:errcheck
			case r.Skipped:
				fmt.Fprintf(w, "%-10s present  %s (%d bytes)\n", r.Band, r.Path, r.Bytes) //nolint:errcheck
			default:
				fmt.Fprintf(w, "%-10s fetched  %s (%d bytes)\n", r.Band, r.Path, r.Bytes) //nolint:errcheck
			}
		}
		return fetchErr
	},
}

func init() {
	rasterFetchCmd.Flags().BoolVar(&rasterFetchForce, "force", false, "download even when the file is already present")
	rasterCmd.AddCommand(rasterFetchCmd)
}
