package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hsslink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "topology",
			Name:      "reconciliations_total",
			Help:      "Directory reconciliations, by whether anything changed.",
		},
		[]string{"changed"},
	)
	staleGenerations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "topology",
			Name:      "stale_generations_total",
			Help:      "Topology completions skipped because a newer event superseded them.",
		},
	)
	livePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hsslink",
			Subsystem: "topology",
			Name:      "live_peers",
			Help:      "Peers live after the last reconciliation.",
		},
	)
	blocksWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "channel",
			Name:      "blocks_written_total",
			Help:      "Outbound block writes, by peer and outcome.",
		},
		[]string{"peer", "success"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "channel",
			Name:      "payload_bytes_sent_total",
			Help:      "Payload bytes accepted by peers.",
		},
		[]string{"peer"},
	)
	blocksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "framer",
			Name:      "blocks_received_total",
			Help:      "Inbound blocks, by peer and whether a message was recovered.",
		},
		[]string{"peer", "accepted"},
	)
	messagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hsslink",
			Subsystem: "channel",
			Name:      "messages_delivered_total",
			Help:      "Messages handed to a listener or queued for polling.",
		},
		[]string{"peer", "mode"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hsslink",
			Subsystem: "channel",
			Name:      "send_duration_seconds",
			Help:      "Time spent in one send, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"peer"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			reconciliations, staleGenerations, livePeers,
			blocksWritten, bytesSent, blocksReceived, messagesDelivered, sendDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordReconcile(changed bool, live int) {
	RegisterMetrics()
	reconciliations.WithLabelValues(strconv.FormatBool(changed)).Inc()
	livePeers.Set(float64(live))
}

func RecordStaleGeneration() {
	RegisterMetrics()
	staleGenerations.Inc()
}

func RecordBlockWrite(peer string, success bool) {
	RegisterMetrics()
	blocksWritten.WithLabelValues(peer, strconv.FormatBool(success)).Inc()
}

func RecordSend(peer string, bytes int, duration time.Duration) {
	RegisterMetrics()
	bytesSent.WithLabelValues(peer).Add(float64(bytes))
	sendDuration.WithLabelValues(peer).Observe(duration.Seconds())
}

func RecordBlockReceived(peer string, accepted bool) {
	RegisterMetrics()
	blocksReceived.WithLabelValues(peer, strconv.FormatBool(accepted)).Inc()
}

// RecordDelivered counts one inbound message; mode is "listener" or "queue".
func RecordDelivered(peer, mode string) {
	RegisterMetrics()
	messagesDelivered.WithLabelValues(peer, mode).Inc()
}
