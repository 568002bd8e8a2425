// Package metrics collects and exposes Prometheus metrics for the server and
// the completion workers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the completion service and job workers report to.
type Recorder interface {
	RecordCompletion(provider string, d time.Duration, err error)
	RecordJob(status string)
}

type Collector struct {
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
	completionLatency *prometheus.HistogramVec
	completionFail    *prometheus.CounterVec
	jobs              *prometheus.CounterVec
	rateLimited       prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keystone_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		completionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keystone_completion_duration_seconds",
			Help:    "Assistant completion latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 90},
		}, []string{"provider"}),
		completionFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_completion_fail_total",
			Help: "Failed assistant completions.",
		}, []string{"provider"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keystone_jobs_total",
			Help: "Completion jobs by final status.",
		}, []string{"status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keystone_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.completionLatency,
		c.completionFail,
		c.jobs,
		c.rateLimited,
	)
	return c
}

func (c *Collector) RecordHTTP(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (c *Collector) RecordCompletion(provider string, d time.Duration, err error) {
	c.completionLatency.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		c.completionFail.WithLabelValues(provider).Inc()
	}
}

func (c *Collector) RecordJob(status string) {
	c.jobs.WithLabelValues(status).Inc()
}

func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCompletion(string, time.Duration, error) {}
func (Nop) RecordJob(string)                              {}
