package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "career_chat_ai_replies_total",
			Help: "AI gateway replies by kind (generated or fallback)",
		},
		[]string{"kind"},
	)

	gatewayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "career_chat_ai_request_duration_seconds",
			Help:    "Latency of language model calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	titlesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "career_chat_session_titles_total",
			Help: "Session topics set from a first exchange",
		},
	)

	exchangesIncomplete = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "career_chat_exchanges_incomplete_total",
			Help: "Exchanges returned without an assistant message",
		},
	)

	sendLocksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "career_chat_send_locks_skipped_total",
			Help: "Sends that went ahead without the session lock because the cache failed",
		},
	)
)
