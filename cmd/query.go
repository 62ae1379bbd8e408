package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/query"
)

var (
	queryLat    float64
	queryLon    float64
	queryRadius float64
	queryMode   string
	queryBands  []string
	queryOutput string
)

var queryCmd = &cobra.Command{
	Use:   `query ["lat, lon"]`,
	Short: "Estimate population around one point",
	Long: `Estimates the population within --radius km of a point.

The point comes from --lat/--lon or a single "lat, lon" argument. Without
either, the configured default point is used.

Examples:
  popradius query --lat 24.8607 --lon 67.0011 --radius 2
  popradius query "24.8607, 67.0011" --mode point_density
  popradius query --bands total,primary,secondary -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, "query")
		if err != nil {
			return err
		}

		req, err := queryRequest(cmd, args)
		if err != nil {
			return err
		}

		out := a.orch.Run(cmd.Context(), req)
		if err := query.Render(cmd.OutOrStdout(), queryOutput, out); err != nil {
			return err
		}
		return out.Err()
	},
}

// queryRequest assembles a request from flags, the optional coordinate
// argument and configured defaults.
func queryRequest(cmd *cobra.Command, args []string) (query.Request, error) {
	req := query.Request{
		Lat:      cfg.Query.DefaultLat,
		Lon:      cfg.Query.DefaultLon,
		RadiusKm: cfg.Query.DefaultRadiusKm,
		Mode:     estimate.Mode(queryMode),
		Bands:    queryBands,
	}

	flags := cmd.Flags()
	if len(args) == 1 {
		if flags.Changed("lat") || flags.Changed("lon") {
			return req, eris.New("pass either a coordinate argument or --lat/--lon, not both")
		}
		if !geospatial.LooksLikeCoordinates(args[0]) {
			return req, eris.Errorf("%q is not a \"lat, lon\" pair; place names need a geocoder", args[0])
		}
		p, err := geospatial.ParseCoordinates(args[0])
		if err != nil {
			return req, err
		}
		req.Lat, req.Lon = p.Lat, p.Lon
	}
	if flags.Changed("lat") {
		req.Lat = queryLat
	}
	if flags.Changed("lon") {
		req.Lon = queryLon
	}
	if flags.Changed("radius") {
		req.RadiusKm = queryRadius
	}
	return req, nil
}

func init() {
	queryCmd.Flags().Float64Var(&queryLat, "lat", 0, "latitude in decimal degrees (default from config)")
	queryCmd.Flags().Float64Var(&queryLon, "lon", 0, "longitude in decimal degrees (default from config)")
	queryCmd.Flags().Float64VarP(&queryRadius, "radius", "r", 0, "radius in km (default from config)")
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "estimation mode: point_density or window_sum (default from config)")
	queryCmd.Flags().StringSliceVar(&queryBands, "bands", nil, "bands to read (default from config)")
	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(queryCmd)
}
