package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tom_queue_depth",
			Help: "Number of jobs waiting in a given status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tom_jobs_total",
			Help: "Total number of jobs by terminal status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tom_job_duration_seconds",
			Help:    "Time from job enqueue to terminal status",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Device lease (gate) metrics
	DeviceLeasesHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tom_device_leases_held",
			Help: "Active device leases held across the worker fleet, by device key",
		},
		[]string{"device_key"},
	)

	GateWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tom_gate_wait_duration_seconds",
			Help:    "Time a worker spent waiting to acquire a device lease",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache metrics
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tom_cache_lookups_total",
			Help: "Total cache lookups by outcome",
		},
		[]string{"status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tom_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tom_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Transport metrics
	TransportSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tom_transport_sessions_total",
			Help: "Total transport sessions opened by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tom_command_duration_seconds",
			Help:    "Time to run one command over an open transport session",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(DeviceLeasesHeld)
	prometheus.MustRegister(GateWaitDuration)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TransportSessionsTotal)
	prometheus.MustRegister(CommandDuration)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a convenience wrapper for timing an operation and observing
// its duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time into one labeled series of
// histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration reports the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
