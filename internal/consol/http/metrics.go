package http

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsMu          sync.Mutex
	metricsInitialized bool

	cacheHitCounter   *prometheus.CounterVec
	cacheMissCounter  *prometheus.CounterVec
	buildHistogram    *prometheus.HistogramVec
	savedRowsCounter  *prometheus.CounterVec
	metricsSetupError error
)

// SetupMetrics registers Prometheus metrics for the workings endpoints. The
// registration is performed once and subsequent calls are ignored.
func SetupMetrics(reg prometheus.Registerer) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metricsInitialized {
		return metricsSetupError
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consol_workings_cache_hits_total",
		Help: "Number of cache hits when listing working rows.",
	}, []string{"statement"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consol_workings_cache_miss_total",
		Help: "Number of cache misses when listing working rows.",
	}, []string{"statement"})
	build := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consol_workings_build_duration_seconds",
		Help:    "Duration required to build working rows from ledgers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"statement"})
	saved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consol_workings_saved_rows_total",
		Help: "Working rows written by save requests.",
	}, []string{"statement"})

	for _, c := range []prometheus.Collector{hits, misses, build, saved} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				metricsSetupError = err
				metricsInitialized = true
				return err
			}
			switch existing := already.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				switch c {
				case hits:
					hits = existing
				case misses:
					misses = existing
				default:
					saved = existing
				}
			case *prometheus.HistogramVec:
				build = existing
			default:
				metricsSetupError = fmt.Errorf("consol metrics: unexpected collector type %T", existing)
			}
		}
	}
	cacheHitCounter, cacheMissCounter, buildHistogram, savedRowsCounter = hits, misses, build, saved
	metricsInitialized = true
	return metricsSetupError
}

func recordCacheHit(statement string) {
	if cacheHitCounter != nil {
		cacheHitCounter.WithLabelValues(statement).Inc()
	}
}

func recordCacheMiss(statement string) {
	if cacheMissCounter != nil {
		cacheMissCounter.WithLabelValues(statement).Inc()
	}
}

func observeBuildDuration(statement string, d time.Duration) {
	if buildHistogram != nil {
		buildHistogram.WithLabelValues(statement).Observe(d.Seconds())
	}
}

func addSavedRows(statement string, n int) {
	if savedRowsCounter != nil && n > 0 {
		savedRowsCounter.WithLabelValues(statement).Add(float64(n))
	}
}
