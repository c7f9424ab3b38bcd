// Package metrics holds the Prometheus collectors shared by the binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "basemaphist"

// Export statuses.
const (
	StatusDone   = "done"
	StatusExists = "exists"
	StatusFailed = "failed"
)

// Tile statuses.
const (
	TileOK      = "ok"
	TileMissing = "missing"
	TileError   = "error"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	Registry  *prometheus.Registry
	exports   *prometheus.CounterVec
	tiles     *prometheus.CounterVec
	tileBytes prometheus.Counter
	requests  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Monthly rasters considered, by outcome.",
		}, []string{"status"}),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_total",
			Help:      "Remote tiles requested, by outcome.",
		}, []string{"status"}),
		tileBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_bytes_total",
			Help:      "Bytes downloaded from the tile service.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_requests_total",
			Help:      "Viewer HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
	}

	m.Registry.MustRegister(m.exports, m.tiles, m.tileBytes, m.requests)
	return m
}

// Export counts one (point, month) outcome.
func (m *Metrics) Export(status string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(status).Inc()
}

// Tile counts one tile request and its payload size.
func (m *Metrics) Tile(status string, bytes int) {
	if m == nil {
		return
	}
	m.tiles.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.tileBytes.Add(float64(bytes))
	}
}

// Request counts one viewer request.
func (m *Metrics) Request(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// WriteTextfile dumps the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
