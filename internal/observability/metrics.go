package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "onionchat"

// Message outcomes recorded by RecordMessage.
const (
	OutcomeExecuted  = "executed"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeSent      = "sent"
	OutcomeSendError = "send_error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	connOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_opened_total",
			Help:      "Peer connections that reached the active state.",
		},
		[]string{"direction"},
	)
	connClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_closed_total",
			Help:      "Peer connections closed.",
		},
		[]string{"direction"},
	)
	connReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_reaped_total",
			Help:      "Idle inbound connections closed by the reaper.",
		},
		[]string{"bound"},
	)
	connsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conns_live",
			Help:      "Peer connections currently open.",
		},
		[]string{"direction"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Protocol messages by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	proxyRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_restarts_total",
			Help:      "Portable proxy startup sequences run by the health loop.",
		},
	)
	proxyUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_up",
			Help:      "1 while the portable proxy process is running.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connOpened,
			connClosed,
			connReaped,
			connsLive,
			messages,
			proxyRestarts,
			proxyUp,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnOpened(direction string) {
	RegisterMetrics()
	connOpened.WithLabelValues(direction).Inc()
	connsLive.WithLabelValues(direction).Inc()
}

// RecordConnClosed pairs with RecordConnOpened; wasOpen is false for
// connections that never became active.
func RecordConnClosed(direction string, wasOpen bool) {
	RegisterMetrics()
	connClosed.WithLabelValues(direction).Inc()
	if wasOpen {
		connsLive.WithLabelValues(direction).Dec()
	}
}

func RecordConnReaped(bound bool) {
	RegisterMetrics()
	connReaped.WithLabelValues(strconv.FormatBool(bound)).Inc()
}

func RecordMessage(command, outcome string) {
	RegisterMetrics()
	messages.WithLabelValues(command, outcome).Inc()
}

func RecordProxyRestart() {
	RegisterMetrics()
	proxyRestarts.Inc()
}

func SetProxyUp(up bool) {
	RegisterMetrics()
	if up {
		proxyUp.Set(1)
		return
	}
	proxyUp.Set(0)
}
