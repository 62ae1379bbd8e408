package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sells-group/popradius/internal/assets"
	"github.com/sells-group/popradius/internal/estimate"
	"github.com/sells-group/popradius/internal/query"
	"github.com/sells-group/popradius/internal/raster"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bands":  s.layers.Bands(),
	})
}

func (s *Server) handlePopulation(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, query.Outcome{
			ID:     r.Header.Get(requestIDHeader),
			Status: query.StatusInvalidInput,
			Reason: err.Error(),
		})
		return
	}

	out := s.runner.Run(r.Context(), req)
	writeJSON(w, statusCode(out.Status), out)
}

func statusCode(st query.Status) int {
	switch st {
	case query.StatusOK:
		return http.StatusOK
	case query.StatusInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

type paramError struct{ name, value string }

func (e *paramError) Error() string {
	return "parameter " + e.name + ": cannot parse " + strconv.Quote(e.value)
}

func (s *Server) parseRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	req := query.Request{RadiusKm: s.cfg.DefaultRadiusKm}

	floatParam := func(name string, dst *float64, required bool) error {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			if required {
				return &paramError{name: name, value: raw}
			}
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &paramError{name: name, value: raw}
		}
		*dst = v
		return nil
	}

	if err := floatParam("lat", &req.Lat, true); err != nil {
		return req, err
	}
	if err := floatParam("lon", &req.Lon, true); err != nil {
		return req, err
	}
	if err := floatParam("radius_km", &req.RadiusKm, false); err != nil {
		return req, err
	}

	req.Mode = estimate.Mode(strings.TrimSpace(q.Get("mode")))
	for _, b := range strings.Split(q.Get("bands"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			req.Bands = append(req.Bands, b)
		}
	}
	return req, nil
}

// layerStatus is one row of /v1/layers.
type layerStatus struct {
	Band  string       `json:"band"`
	Path  string       `json:"path"`
	Ready bool         `json:"ready"`
	Info  *raster.Info `json:"info,omitempty"`
	Error string       `json:"error,omitempty"`
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	bands := s.layers.Bands()
	out := make([]layerStatus, 0, len(bands))
	for _, band := range bands {
		path, _ := s.layers.Path(band)
		st := layerStatus{Band: band, Path: path}

		ready, err := assets.Ready(path, s.cfg.MinFileBytes)
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		st.Ready = ready
		if ready {
			info, err := s.layers.Describe(r.Context(), band)
			if err != nil {
				st.Ready = false
				st.Error = err.Error()
			} else {
				st.Info = &info
			}
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": out})
}
