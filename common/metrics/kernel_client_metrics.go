package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultNamespace = "kernel_client"
)

// KernelClientMetrics are the Prometheus metrics recorded by a kernel client.
//
// Every recording method is safe to call on a nil *KernelClientMetrics, in which case nothing is recorded.
type KernelClientMetrics struct {
	// RequestsSentCounterVec counts requests sent to the kernel.
	//
	// This metric requires the following labels:
	//
	// - "channel": the channel that the request was sent on.
	//
	// - "jupyter_message_type": the Jupyter message type of the request.
	RequestsSentCounterVec *prometheus.CounterVec

	// RepliesReceivedCounterVec counts replies that were delivered to a waiting caller, by "channel".
	RepliesReceivedCounterVec *prometheus.CounterVec

	// RequestTimeoutsCounterVec counts requests whose reply did not arrive before their deadline, by "channel".
	RequestTimeoutsCounterVec *prometheus.CounterVec

	// DiscardedMessagesCounterVec counts messages whose parent matched no pending request, by "channel".
	DiscardedMessagesCounterVec *prometheus.CounterVec

	HeartbeatMissesCounter prometheus.Counter
	PendingRequestsGauge   prometheus.Gauge

	// ReplyLatencyMillisecondsVec is the time between sending a request and receiving its reply, by "channel".
	ReplyLatencyMillisecondsVec *prometheus.HistogramVec
}

// NewKernelClientMetrics creates the metrics without registering them.
func NewKernelClientMetrics(namespace string) *KernelClientMetrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &KernelClientMetrics{
		RequestsSentCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Number of requests sent to the kernel.",
		}, []string{"channel", "jupyter_message_type"}),
		RepliesReceivedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_received_total",
			Help:      "Number of replies delivered to a waiting caller.",
		}, []string{"channel"}),
		RequestTimeoutsCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Number of requests whose reply did not arrive in time.",
		}, []string{"channel"}),
		DiscardedMessagesCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_messages_total",
			Help:      "Number of received messages that matched no pending request.",
		}, []string{"channel"}),
		HeartbeatMissesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_misses_total",
			Help:      "Number of heartbeat pings that were not answered within the heartbeat interval.",
		}),
		PendingRequestsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of requests currently waiting for a reply.",
		}),
		ReplyLatencyMillisecondsVec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_milliseconds",
			Help:      "Time between sending a request and receiving its reply.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"channel"}),
	}
}

// Register registers every metric with the registerer. Metrics that are already registered are reused.
func (m *KernelClientMetrics) Register(registerer prometheus.Registerer) error {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	collectors := []prometheus.Collector{
		m.RequestsSentCounterVec,
		m.RepliesReceivedCounterVec,
		m.RequestTimeoutsCounterVec,
		m.DiscardedMessagesCounterVec,
		m.HeartbeatMissesCounter,
		m.PendingRequestsGauge,
		m.ReplyLatencyMillisecondsVec,
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			var alreadyRegistered prometheus.AlreadyRegisteredError
			if errors.As(err, &alreadyRegistered) {
				continue
			}
			return err
		}
	}

	return nil
}

func (m *KernelClientMetrics) RequestSent(channel string, msgType string) {
	if m == nil {
		return
	}
	m.RequestsSentCounterVec.WithLabelValues(channel, msgType).Inc()
}

func (m *KernelClientMetrics) ReplyReceived(channel string, latency time.Duration) {
	if m == nil {
		return
	}
	m.RepliesReceivedCounterVec.WithLabelValues(channel).Inc()
	m.ReplyLatencyMillisecondsVec.WithLabelValues(channel).Observe(float64(latency.Microseconds()) / 1.0e3)
}

func (m *KernelClientMetrics) RequestTimedOut(channel string) {
	if m == nil {
		return
	}
	m.RequestTimeoutsCounterVec.WithLabelValues(channel).Inc()
}

func (m *KernelClientMetrics) MessageDiscarded(channel string) {
	if m == nil {
		return
	}
	m.DiscardedMessagesCounterVec.WithLabelValues(channel).Inc()
}

func (m *KernelClientMetrics) HeartbeatMissed() {
	if m == nil {
		return
	}
	m.HeartbeatMissesCounter.Inc()
}

func (m *KernelClientMetrics) SetPendingRequests(n int) {
	if m == nil {
		return
	}
	m.PendingRequestsGauge.Set(float64(n))
}
