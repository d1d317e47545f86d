// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wavegate_stations_refresh_duration_seconds",
		Help:    "Stations refresh pipeline duration",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavegate_stations_refresh_total",
		Help: "Refresh attempts by result",
	}, []string{"result"})

	stationsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wavegate_stations_current",
		Help: "Stations in the current payload",
	})

	validationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavegate_stream_validation_total",
		Help: "Stream validation outcomes by reason",
	}, []string{"outcome", "reason"})

	validationCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavegate_stream_validation_cache_total",
		Help: "Validation cache lookups by outcome",
	}, []string{"outcome"})
)

// ObserveRefresh records the duration and result of a refresh run.
func ObserveRefresh(d time.Duration, result string) {
	refreshDuration.Observe(d.Seconds())
	refreshTotal.WithLabelValues(result).Inc()
}

// SetStationsCurrent records the size of the active payload.
func SetStationsCurrent(n int) { stationsCurrent.Set(float64(n)) }

// IncValidation records a probe outcome ("accept"/"drop") and reason.
func IncValidation(outcome, reason string) {
	validationTotal.WithLabelValues(outcome, reason).Inc()
}

// IncValidationCache records a validation-cache lookup ("hit"/"miss"/"stale").
func IncValidationCache(outcome string) {
	validationCacheTotal.WithLabelValues(outcome).Inc()
}
