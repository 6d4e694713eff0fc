package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecrew",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codecrew",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codecrew",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})

	signalMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecrew",
		Name:      "signal_messages_total",
		Help:      "Signaling messages routed, by type and delivery outcome",
	}, []string{"type", "delivery"})

	signalRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codecrew",
		Name:      "signal_rooms",
		Help:      "Number of active signaling rooms",
	})

	signalPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codecrew",
		Name:      "signal_peers",
		Help:      "Number of connected signaling peers",
	})

	docOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codecrew",
		Name:      "doc_ops_total",
		Help:      "Document operations applied, by field",
	}, []string{"field"})
)

func CountSignalMessage(msgType, delivery string) {
	signalMessages.WithLabelValues(msgType, delivery).Inc()
}

func SetSignalRooms(n int) { signalRooms.Set(float64(n)) }

func AddSignalPeers(delta int) { signalPeers.Add(float64(delta)) }

func CountDocOp(field string) { docOps.WithLabelValues(field).Inc() }

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required so the WebSocket upgrade still works behind the
// middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics with Prometheus labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
