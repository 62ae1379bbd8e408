package batch

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table flattens rows into a header plus string records. Band columns are
// the union of bands across ok rows, sorted.
func Table(rows []Row) ([]string, [][]string) {
	seen := map[string]bool{}
	for _, r := range rows {
		if r.Outcome.Result != nil {
			for b := range r.Outcome.Result.BandPopulations {
				seen[b] = true
			}
		}
	}
	bands := make([]string, 0, len(seen))
	for b := range seen {
		bands = append(bands, b)
	}
	sort.Strings(bands)

	header := []string{"id", "lat", "lon", "radius_km", "mode", "status", "total_population"}
	for _, b := range bands {
		header = append(header, b+"_population")
	}
	header = append(header, "reason")

	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		req, out := r.Item.Request, r.Outcome
		rec := []string{
			r.Item.ID,
			formatFloat(req.Lat),
			formatFloat(req.Lon),
			formatFloat(req.RadiusKm),
			string(req.Mode),
			string(out.Status),
			"",
		}
		if res := out.Result; res != nil {
			rec[4] = string(res.Mode)
			rec[6] = strconv.FormatInt(res.TotalPopulation, 10)
		}
		for _, b := range bands {
			v := ""
			if out.Result != nil {
				if n, ok := out.Result.BandPopulations[b]; ok {
					v = strconv.FormatInt(n, 10)
				}
			}
			rec = append(rec, v)
		}
		rec = append(rec, out.Reason)
		records = append(records, rec)
	}
	return header, records
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteResults writes rows to a .csv or .xlsx file chosen by extension.
func WriteResults(path string, rows []Row) error {
	header, records := Table(rows)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeXLSX(path, header, records)
	case ".csv":
		return writeCSV(path, header, records)
	default:
		return eris.Errorf("batch: unsupported output extension %q", filepath.Ext(path))
	}
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "batch: create csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "batch: write csv header")
	}
	if err := w.WriteAll(records); err != nil {
		return eris.Wrap(err, "batch: write csv")
	}
	return f.Close()
}

func writeXLSX(path string, header []string, records [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("population")
	if err != nil {
		return eris.Wrap(err, "batch: add sheet")
	}

	addRow := func(cells []string, numeric map[int]bool) {
		row := sheet.AddRow()
		for i, v := range cells {
			c := row.AddCell()
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && numeric[i] {
				c.SetInt64(n)
				continue
			}
			c.SetString(v)
		}
	}

	numeric := map[int]bool{}
	for i, h := range header {
		if strings.HasSuffix(h, "_population") {
			numeric[i] = true
		}
	}
	addRow(header, nil)
	for _, rec := range records {
		addRow(rec, numeric)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "batch: save xlsx")
	}
	return nil
}
