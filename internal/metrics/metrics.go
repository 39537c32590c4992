package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwizi/feed-sink/internal/sink"
)

const namespace = "feedsink"

// Collector exposes Prometheus metrics for published events and inbound HTTP
// requests.
type Collector struct {
	registry        *prometheus.Registry
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// New constructs a collector on its own registry.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()

	publishTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "events_total",
		Help:      "Total number of events published, by outcome.",
	}, []string{"sink", "operation", "status", "result"})

	publishDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "duration_seconds",
		Help:      "Latency distribution for one publish, including every round trip.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sink", "operation"})

	retriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "retries_total",
		Help:      "Total number of publish retries after an unreachable endpoint.",
	}, []string{"sink"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	for _, c := range []prometheus.Collector{
		publishTotal,
		publishDuration,
		retriesTotal,
		requestDuration,
		requestTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		publishTotal:    publishTotal,
		publishDuration: publishDuration,
		retriesTotal:    retriesTotal,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
	}, nil
}

// ObservePublish records one publish outcome.
func (c *Collector) ObservePublish(outcome sink.Outcome) {
	result := "success"
	if !outcome.Success {
		result = "failure"
	}
	status := "none"
	if outcome.Status > 0 {
		status = strconv.Itoa(outcome.Status)
	}
	operation := outcome.Operation.String()
	c.publishTotal.WithLabelValues(outcome.Stream, operation, status, result).Inc()
	c.publishDuration.WithLabelValues(outcome.Stream, operation).Observe(outcome.Duration.Seconds())
}

func (c *Collector) ObserveRetry(sinkName string) {
	c.retriesTotal.WithLabelValues(sinkName).Inc()
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics. Routed
// requests are labelled by their mux pattern to keep sink names out of the
// path label.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
