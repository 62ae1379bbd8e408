package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/popradius/internal/assets"
	"github.com/sells-group/popradius/internal/query"
	"github.com/sells-group/popradius/internal/raster"
)

var rasterInfoOutput string

// layerReport is one band in `raster info` output.
type layerReport struct {
	Band  string       `json:"band" yaml:"band"`
	Path  string       `json:"path" yaml:"path"`
	Ready bool         `json:"ready" yaml:"ready"`
	Info  *raster.Info `json:"info,omitempty" yaml:"info,omitempty"`
	Error string       `json:"error,omitempty" yaml:"error,omitempty"`
}

var rasterInfoCmd = &cobra.Command{
	Use:   "info [band...]",
	Short: "Show readiness, size and georeferencing of raster layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, "query")
		if err != nil {
			return err
		}
		bands, err := selectBands(cfg.Raster.Bands, args)
		if err != nil {
			return err
		}

		reports := make([]layerReport, 0, len(bands))
		for _, band := range bands {
			path, _ := a.catalog.Path(band)
			rep := layerReport{Band: band, Path: path}

			ready, err := assets.Ready(path, cfg.Raster.MinFileBytes)
			switch {
			case err != nil:
				rep.Error = err.Error()
			case !ready:
				rep.Error = "missing or still downloading"
			default:
				info, err := a.catalog.Describe(cmd.Context(), band)
				if err != nil {
					rep.Error = err.Error()
					zap.L().Warn("raster info: describe failed", zap.String("band", band), zap.Error(err))
				} else {
					rep.Ready = true
					rep.Info = &info
				}
			}
			reports = append(reports, rep)
		}

		if rasterInfoOutput == "text" || rasterInfoOutput == "" {
			return writeLayerTable(cmd.OutOrStdout(), reports)
		}
		return query.Render(cmd.OutOrStdout(), rasterInfoOutput, reports)
	},
}

func writeLayerTable(w io.Writer, reports []layerReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BAND\tREADY\tFORMAT\tSIZE\tCELL\tPATH\tNOTE") //nolint:errcheck
	for _, r := range reports {
		format, size, cell := "-", "-", "-"
		if r.Info != nil {
			format = r.Info.Format
			size = fmt.Sprintf("%dx%d", r.Info.Width, r.Info.Height)
			cx, _ := r.Info.CellSize()
			cell = strconv.FormatFloat(cx, 'g', 6, 64)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%s\t%s\n", r.Band, r.Ready, format, size, cell, r.Path, r.Error) //nolint:errcheck
	}
	return tw.Flush()
}

func init() {
	rasterInfoCmd.Flags().StringVarP(&rasterInfoOutput, "output", "o", "text", "output format: text, json or yaml")
	rasterCmd.AddCommand(rasterInfoCmd)
}
