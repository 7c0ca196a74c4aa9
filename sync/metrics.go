package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "docsync"

var (
	messagesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "messages_generated_total",
		Help:      "Sync messages produced for peers.",
	})
	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "messages_received_total",
		Help:      "Sync messages processed from peers.",
	})
	changesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "changes_sent_total",
		Help:      "Changes included in outbound sync messages.",
	})
	changesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "changes_applied_total",
		Help:      "Buffered changes handed to the backend for application.",
	})
	resyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "resyncs_total",
		Help:      "Reset messages sent because a peer's baseline was unknown.",
	})
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "sessions_total",
		Help:      "Peer sync sessions by outcome.",
	}, []string{"outcome"})
	sessionRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "sync",
		Name:      "session_rounds",
		Help:      "Lock-step rounds needed for a session to go idle.",
		Buckets:   prometheus.LinearBuckets(1, 2, 10),
	})
)
