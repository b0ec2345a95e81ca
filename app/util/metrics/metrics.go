// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConversationsActive tracks live conversations in the registry.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pfc_conversations_active",
			Help: "Number of live conversations",
		},
	)

	// ConversationsTotal tracks conversation lifecycle events.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_conversations_total",
			Help: "Conversation lifecycle events",
		},
		[]string{"event"},
	)

	// ActionsTotal tracks dispatched actions.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_actions_total",
			Help: "Actions dispatched by the decision loop",
		},
		[]string{"action"},
	)

	// StateTransitionsTotal tracks conversation state transitions.
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_state_transitions_total",
			Help: "Conversation state transitions",
		},
		[]string{"to"},
	)

	// OutcomesTotal tracks ok/fallback/timeout results per component.
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_outcomes_total",
			Help: "Component results by outcome",
		},
		[]string{"component", "outcome"},
	)

	// NotificationsTotal tracks handled notifications.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_notifications_total",
			Help: "Notifications handled by type and result",
		},
		[]string{"type", "result"},
	)

	// LLMRequestDuration tracks completion latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pfc_llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// MessagesSentTotal tracks outbound messages.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_messages_sent_total",
			Help: "Outbound messages by platform and status",
		},
		[]string{"platform", "status"},
	)

	// InboundMessagesTotal tracks messages entering the queue.
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pfc_inbound_messages_total",
			Help: "Inbound messages by source and result",
		},
		[]string{"source", "result"},
	)
)

// RecordLLM records metrics for one completion call.
func RecordLLM(model, status string, seconds float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(seconds)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordOutcome counts one component result.
func RecordOutcome(component, outcome string) {
	OutcomesTotal.WithLabelValues(component, outcome).Inc()
}
