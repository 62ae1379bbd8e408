package main

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var rasterCmd = &cobra.Command{
	Use:   "raster",
	Short: "Inspect and download raster layers",
}

// selectBands returns args, or every key of configured when args is empty.
// Unknown names are an error.
func selectBands(configured map[string]string, args []string) ([]string, error) {
	if len(args) == 0 {
		out := make([]string, 0, len(configured))
		for b := range configured {
			out = append(out, b)
		}
		sort.Strings(out)
		return out, nil
	}
	for _, b := range args {
		if _, ok := configured[b]; !ok {
			return nil, eris.Errorf("unknown band %q", b)
		}
	}
	return args, nil
}

func init() {
	rootCmd.AddCommand(rasterCmd)
}
