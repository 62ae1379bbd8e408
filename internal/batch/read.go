// Package batch runs population queries for a list of points read from CSV
// or XLSX and writes one result row per point.
package batch

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/geospatial"
	"github.com/sells-group/popradius/internal/query"
)

// Item is one input row.
type Item struct {
	ID      string
	Line    int
	Request query.Request
	// ParseErr is set when the row could not be turned into a request. The
	// row still produces an invalid_input result.
	ParseErr error
}

// header aliases, lower-cased.
var (
	idCols     = []string{"id", "name", "site"}
	latCols    = []string{"lat", "latitude"}
	lonCols    = []string{"lon", "lng", "long", "longitude"}
	coordCols  = []string{"coordinates", "coords", "location", "latlon"}
	radiusCols = []string{"radius_km", "radius", "km"}
	modeCols   = []string{"mode"}
	bandsCols  = []string{"bands"}
)

// ReadItems loads points from a .csv or .xlsx file. The first row is a
// header naming lat/lon columns (or a single "lat, lon" coordinates column).
// Rows without a radius use defaultRadiusKm.
func ReadItems(path string, defaultRadiusKm float64) ([]Item, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".csv", "":
		rows, err = readCSV(path)
	default:
		return nil, eris.Errorf("batch: unsupported input extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("batch: input has no header row")
	}
	return parseRows(rows, defaultRadiusKm)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "batch: read csv")
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("batch: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

type columns struct {
	id, lat, lon, coords, radius, mode, bands int
}

func findColumn(header []string, aliases []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, a := range aliases {
			if h == a {
				return i
			}
		}
	}
	return -1
}

func parseRows(rows [][]string, defaultRadiusKm float64) ([]Item, error) {
	header := rows[0]
	cols := columns{
		id:     findColumn(header, idCols),
		lat:    findColumn(header, latCols),
		lon:    findColumn(header, lonCols),
		coords: findColumn(header, coordCols),
		radius: findColumn(header, radiusCols),
		mode:   findColumn(header, modeCols),
		bands:  findColumn(header, bandsCols),
	}
	if (cols.lat < 0 || cols.lon < 0) && cols.coords < 0 {
		return nil, eris.Errorf("batch: header %v needs lat and lon columns or a coordinates column", header)
	}

	items := make([]Item, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		items = append(items, parseRow(row, cols, i+2, defaultRadiusKm))
	}
	return items, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(row []string, cols columns, line int, defaultRadiusKm float64) Item {
	it := Item{ID: cell(row, cols.id), Line: line}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it.Request.RadiusKm = defaultRadiusKm

	if cols.lat >= 0 && cols.lon >= 0 && cell(row, cols.lat) != "" {
		lat, err := strconv.ParseFloat(cell(row, cols.lat), 64)
		if err != nil {
			it.ParseErr = eris.Errorf("line %d: latitude %q is not a number", line, cell(row, cols.lat))
			return it
		}
		lon, err := strconv.ParseFloat(cell(row, cols.lon), 64)
		if err != nil {
			it.ParseErr = eris.Errorf("line %d: longitude %q is not a number", line, cell(row, cols.lon))
			return it
		}
		it.Request.Lat, it.Request.Lon = lat, lon
	} else {
		p, err := geospatial.ParseCoordinates(cell(row, cols.coords))
		if err != nil {
			it.ParseErr = eris.Wrapf(err, "line %d", line)
			return it
		}
		it.Request.Lat, it.Request.Lon = p.Lat, p.Lon
	}

	if raw := cell(row, cols.radius); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			it.ParseErr = eris.Errorf("line %d: radius %q is not a number", line, raw)
			return it
		}
		it.Request.RadiusKm = r
	}

	it.Request.Mode = estimate.Mode(cell(row, cols.mode))
	for _, b := range strings.FieldsFunc(cell(row, cols.bands), func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
		it.Request.Bands = append(it.Request.Bands, b)
	}
	return it
}
