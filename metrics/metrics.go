package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cpuload"

type SessionEvent struct {
	Utilization int
	Workers     int
	Duration    time.Duration
	Canceled    bool
}

type IterationEvent struct {
	Busy time.Duration
	Idle time.Duration
}

// LoadCollector receives events from the load generator.
type LoadCollector interface {
	SessionStarted(utilization int, workers int)
	SessionFinished(event SessionEvent)
	WorkerIteration(event IterationEvent)
}

// RequestCollector receives events from the HTTP layer.
type RequestCollector interface {
	RequestServed(route string, status int, duration time.Duration)
}

type Collector interface {
	LoadCollector
	RequestCollector
}

type PrometheusCollector struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsCanceled  prometheus.Counter
	activeSessions    prometheus.Gauge
	activeWorkers     prometheus.Gauge
	sessionDuration   prometheus.Histogram
	utilization       prometheus.Histogram
	iterations        prometheus.Counter
	busySeconds       prometheus.Counter
	idleSeconds       prometheus.Counter
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

func NewPrometheusCollector(r prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{Name: "sessions_started_total",
			Namespace: namespace,
			Help:      "Number of load sessions started"}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{Name: "sessions_completed_total",
			Namespace: namespace,
			Help:      "Number of load sessions that ran every iteration"}),
		sessionsCanceled: prometheus.NewCounter(prometheus.CounterOpts{Name: "sessions_canceled_total",
			Namespace: namespace,
			Help:      "Number of load sessions canceled before completion"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{Name: "active_sessions",
			Namespace: namespace,
			Help:      "Load sessions currently running"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{Name: "active_workers",
			Namespace: namespace,
			Help:      "Worker goroutines currently generating load"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "session_duration_seconds",
			Namespace: namespace,
			Help:      "Wall-clock duration of load sessions",
			Buckets:   durationBuckets()}),
		utilization: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "applied_utilization",
			Namespace: namespace,
			Help:      "Applied utilization percentage of load sessions",
			Buckets:   prometheus.LinearBuckets(0, 10, 11)}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_iterations_total",
			Namespace: namespace,
			Help:      "Busy/sleep iterations completed by workers"}),
		busySeconds: prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_busy_seconds_total",
			Namespace: namespace,
			Help:      "Time workers spent in the busy phase"}),
		idleSeconds: prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_idle_seconds_total",
			Namespace: namespace,
			Help:      "Time workers spent in the sleep phase"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "http_requests_total",
			Namespace: namespace,
			Help:      "HTTP requests served"}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "http_request_duration_seconds",
			Namespace: namespace,
			Help:      "HTTP request duration",
			Buckets:   durationBuckets()}, []string{"route"}),
	}
	r.MustRegister(c.sessionsStarted, c.sessionsCompleted, c.sessionsCanceled, c.activeSessions,
		c.activeWorkers, c.sessionDuration, c.utilization, c.iterations, c.busySeconds, c.idleSeconds,
		c.requests, c.requestDuration)
	return c
}

// durationBuckets covers sub-millisecond health checks up to a few minutes of load.
func durationBuckets() []float64 {
	buckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}
	bucket := float64(1)
	for bucket <= 120 {
		buckets = append(buckets, bucket)
		if bucket < 10 {
			bucket += 1
		} else if bucket < 60 {
			bucket += 5
		} else {
			bucket += 15
		}
	}
	return buckets
}

func (c *PrometheusCollector) SessionStarted(utilization int, workers int) {
	c.sessionsStarted.Inc()
	c.activeSessions.Inc()
	c.activeWorkers.Add(float64(workers))
	c.utilization.Observe(float64(utilization))
}

func (c *PrometheusCollector) SessionFinished(event SessionEvent) {
	c.activeSessions.Dec()
	c.activeWorkers.Sub(float64(event.Workers))
	c.sessionDuration.Observe(event.Duration.Seconds())
	if event.Canceled {
		c.sessionsCanceled.Inc()
	} else {
		c.sessionsCompleted.Inc()
	}
}

func (c *PrometheusCollector) WorkerIteration(event IterationEvent) {
	c.iterations.Inc()
	c.busySeconds.Add(event.Busy.Seconds())
	c.idleSeconds.Add(event.Idle.Seconds())
}

func (c *PrometheusCollector) RequestServed(route string, status int, duration time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

type noopCollector struct{}

// Noop returns a Collector that discards every event.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) SessionStarted(int, int)                  {}
func (noopCollector) SessionFinished(SessionEvent)             {}
func (noopCollector) WorkerIteration(IterationEvent)           {}
func (noopCollector) RequestServed(string, int, time.Duration) {}
