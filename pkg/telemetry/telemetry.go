// Package telemetry exposes scan-level Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrument set for the detection engine. A nil
// *Metrics is a valid no-op receiver so callers never need nil checks.
type Metrics struct {
	scansTotal        *prometheus.CounterVec
	blocksTotal       *prometheus.CounterVec
	ruleHitsTotal     *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	degradedTotal     *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
}

// NewMetrics registers the instrument set on reg (or the default
// registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "shield_scans_total", Help: "Total scans"},
			[]string{"context", "decision"},
		),
		blocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "shield_blocks_total", Help: "Total blocked scans"},
			[]string{"context", "layer"},
		),
		ruleHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "shield_rule_hits_total", Help: "Total rule and exemplar hits"},
			[]string{"rule_id", "severity", "layer"},
		),
		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "shield_cache_lookups_total", Help: "Total cache lookups"},
			[]string{"result"},
		),
		degradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "shield_degraded_scans_total", Help: "Total scans with incomplete evidence"},
			[]string{"cause"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shield_scan_duration_seconds",
				Help:    "Scan duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"context", "cache_hit"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.scansTotal,
		m.blocksTotal,
		m.ruleHitsTotal,
		m.cacheLookupsTotal,
		m.degradedTotal,
		m.scanDuration,
	)
	return m
}

// Handler serves the scrape endpoint for reg (default registry when nil).
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveScan records the outcome of one completed scan.
func (m *Metrics) ObserveScan(scanContext, decision string, cacheHit bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(scanContext, decision).Inc()
	m.scanDuration.WithLabelValues(scanContext, boolLabel(cacheHit)).Observe(elapsed.Seconds())
}

// ObserveBlock records which layer produced the blocking evidence.
func (m *Metrics) ObserveBlock(scanContext, layer string) {
	if m == nil {
		return
	}
	m.blocksTotal.WithLabelValues(scanContext, layer).Inc()
}

// ObserveRuleHit records one rule or exemplar hit.
func (m *Metrics) ObserveRuleHit(ruleID, severity, layer string) {
	if m == nil {
		return
	}
	m.ruleHitsTotal.WithLabelValues(ruleID, severity, layer).Inc()
}

// ObserveCacheLookup records a hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveDegraded records a scan that completed with incomplete evidence.
func (m *Metrics) ObserveDegraded(cause string) {
	if m == nil {
		return
	}
	m.degradedTotal.WithLabelValues(cause).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
