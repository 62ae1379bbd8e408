// Package metrics defines the prometheus collectors for queries, raster
// reads, asset downloads and the HTTP adapter.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradius",
		Name:      "query_total",
		Help:      "Population queries by estimation mode and outcome status",
	}, []string{"mode", "status"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "popradius",
		Name:      "query_duration_seconds",
		Help:      "Population query latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"mode"})

	RasterReadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradius",
		Name:      "raster_read_bytes_total",
		Help:      "Raster bytes read from disk per band",
	}, []string{"band"})

	// Asset metrics
	AssetDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradius",
		Subsystem: "assets",
		Name:      "downloads_total",
		Help:      "Raster asset downloads by band and result",
	}, []string{"band", "result"})

	AssetDownloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradius",
		Subsystem: "assets",
		Name:      "download_bytes_total",
		Help:      "Raster asset bytes downloaded per band",
	}, []string{"band"})

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradius",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "popradius",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})
)

// ObserveQuery records one finished query.
func ObserveQuery(mode, status string, elapsed time.Duration) {
	QueriesTotal.WithLabelValues(mode, status).Inc()
	QueryDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// AddRasterBytes records bytes read per band.
func AddRasterBytes(perBand map[string]int64) {
	for band, n := range perBand {
		if n > 0 {
			RasterReadBytes.WithLabelValues(band).Add(float64(n))
		}
	}
}

// ObserveDownload records one asset download attempt outcome.
func ObserveDownload(band string, bytes int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AssetDownloadsTotal.WithLabelValues(band, result).Inc()
	if bytes > 0 {
		AssetDownloadBytes.WithLabelValues(band).Add(float64(bytes))
	}
}

// ObserveHTTP records one served request. Route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
