// Package metrics provides Prometheus metrics for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts send attempts by outcome: "success" or "failure".
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collegeos_messages_sent_total",
			Help: "Total number of optimistic sends by outcome",
		},
		[]string{"outcome"},
	)

	// MessagesPending tracks placeholders awaiting acknowledgment across all sessions.
	MessagesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collegeos_messages_pending",
			Help: "Number of placeholder messages awaiting acknowledgment",
		},
	)

	// SendDuration tracks how long the persist call of a send takes.
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collegeos_send_duration_seconds",
			Help:    "Duration of message persist calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TypingWrites counts best-effort typing writes by op ("upsert", "delete") and result.
	TypingWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collegeos_typing_writes_total",
			Help: "Total number of typing status writes",
		},
		[]string{"op", "result"},
	)

	// Notifications counts dispatcher decisions by outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collegeos_notifications_total",
			Help: "Total number of notification decisions by outcome",
		},
		[]string{"outcome"},
	)

	// DBHealthy is 1 while the SurrealDB connection passes its health checks.
	DBHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collegeos_db_healthy",
			Help: "Whether the database connection is healthy (1) or not (0)",
		},
	)

	// DBReconnects counts reconnection attempts by result.
	DBReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collegeos_db_reconnects_total",
			Help: "Total number of database reconnection attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks open websocket sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collegeos_active_sessions",
			Help: "Number of currently open client sessions",
		},
	)
)

// RecordSendStarted marks a new placeholder.
func RecordSendStarted() {
	MessagesPending.Inc()
}

// RecordSendFinished resolves a placeholder with its outcome.
func RecordSendFinished(success bool, seconds float64) {
	MessagesPending.Dec()
	SendDuration.Observe(seconds)
	if success {
		MessagesSent.WithLabelValues("success").Inc()
	} else {
		MessagesSent.WithLabelValues("failure").Inc()
	}
}

// RecordTypingWrite counts one typing write.
func RecordTypingWrite(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TypingWrites.WithLabelValues(op, result).Inc()
}

// RecordNotification counts one dispatcher decision.
func RecordNotification(outcome string) {
	Notifications.WithLabelValues(outcome).Inc()
}

// RecordSessionOpened and RecordSessionClosed track the session gauge.
func RecordSessionOpened() { ActiveSessions.Inc() }

func RecordSessionClosed() { ActiveSessions.Dec() }

// RecordDBHealth sets the database health gauge.
func RecordDBHealth(healthy bool) {
	if healthy {
		DBHealthy.Set(1)
	} else {
		DBHealthy.Set(0)
	}
}

// RecordDBReconnect counts one reconnection attempt.
func RecordDBReconnect(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DBReconnects.WithLabelValues(result).Inc()
}
