// Package metrics exposes run outcomes as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cohort-retention-service/internal/cohorts/core/domain"
)

const namespace = "cohorts"

// Recorder counts processed periods and written rows on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	periods  *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		periods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_total",
			Help:      "Cohort periods processed, by granularity and outcome.",
		}, []string{"granularity", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Cohort rows upserted into the sink.",
		}, []string{"granularity"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "period_duration_seconds",
			Help:      "Wall time to compute and write one cohort period.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"granularity"}),
	}
	reg.MustRegister(r.periods, r.rows, r.duration)
	return r
}

func (r *Recorder) PeriodDone(g domain.Granularity, kind domain.Kind, d time.Duration) {
	status := "ok"
	if kind != domain.KindNone {
		status = string(kind)
	}
	r.periods.WithLabelValues(g.String(), status).Inc()
	r.duration.WithLabelValues(g.String()).Observe(d.Seconds())
}

func (r *Recorder) RowsWritten(g domain.Granularity, n int) {
	r.rows.WithLabelValues(g.String()).Add(float64(n))
}

// Registry is exposed for tests and for callers adding their own collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
