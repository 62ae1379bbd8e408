package query

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/raster"
)

// NotReadyMessage is shown instead of a number when data is unavailable.
const NotReadyMessage = "Population data is not ready yet. Please try again once the raster download completes."

var printer = message.NewPrinter(language.English)

// bandLabels are the sidebar captions for well-known bands.
var bandLabels = map[string]string{
	raster.BandPrimary:   "Primary Age",
	raster.BandSecondary: "Secondary Age",
}

// FormatCount renders n with thousand separators.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// Format renders an outcome as the sidebar text block.
func Format(o Outcome) string {
	switch o.Status {
	case StatusInvalidInput:
		return "Invalid query: " + o.Reason
	case StatusUnavailable:
		return NotReadyMessage
	}
	if o.Result == nil {
		return NotReadyMessage
	}

	r := o.Result
	var sb strings.Builder
	printer.Fprintf(&sb, "Total Population: %d\n", r.TotalPopulation)
	for _, band := range r.SortedBands() {
		if band == r.SourceBand {
			continue
		}
		label, ok := bandLabels[band]
		if !ok {
			label = strings.ToUpper(band[:1]) + band[1:]
		}
		printer.Fprintf(&sb, "%s: %d\n", label, r.BandPopulations[band])
	}
	printer.Fprintf(&sb, "Radius: %.1f km (%s)\n", r.RadiusKm, modeLabel(r.Mode))
	if len(r.OutOfCoverage) > 0 {
		fmt.Fprintf(&sb, "Outside raster coverage: %s\n", strings.Join(r.OutOfCoverage, ", "))
	}
	return sb.String()
}

func modeLabel(m estimate.Mode) string {
	if m == estimate.ModePointDensity {
		return "point density"
	}
	return "window sum"
}

// Render writes v as text, json or yaml. Text mode needs an Outcome.
func Render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "text":
		o, ok := v.(Outcome)
		if !ok {
			return eris.Errorf("query: text output needs an outcome, got %T", v)
		}
		_, err := io.WriteString(w, Format(o))
		return eris.Wrap(err, "query: write text")
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "query: encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "query: encode yaml")
		}
		return eris.Wrap(enc.Close(), "query: close yaml encoder")
	default:
		return eris.Errorf("query: unknown output format %q", format)
	}
}
