package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernelgate_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "kernelgate_http_request_duration_seconds",
			Help: "HTTP request duration in seconds by route pattern.",
			// run-cell requests can last as long as the execution timeout.
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"method", "route"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kernelgate_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	sseStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernelgate_run_cell_streams_total",
			Help: "Streaming run-cell responses by final event.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInFlight, sseStreamsTotal)
	for _, ev := range []string{"result", "error"} {
		sseStreamsTotal.WithLabelValues(ev)
	}
}

// metricsMiddleware counts and times requests. The route label is the chi
// pattern, so path parameters such as image names do not become series.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// metricsHandler serves the default registry, including scrape self-metrics.
func metricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	)
}
