// Package metrics defines the Prometheus collectors exported by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	knowledgeBrain = "knowledge_brain"

	// Labels
	kindLabel    = "kind"
	statusLabel  = "status"
	outcomeLabel = "outcome"
	topicLabel   = "topic"
)

var jobTransitionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: knowledgeBrain,
		Name:      "job_transitions_total",
		Help:      "number of job status transitions by kind and target status",
	},
	[]string{kindLabel, statusLabel},
)

var unitsProcessedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: knowledgeBrain,
		Name:      "units_processed_total",
		Help:      "number of job units recorded by outcome",
	},
	[]string{kindLabel, outcomeLabel},
)

var collaboratorCallsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: knowledgeBrain,
		Name:      "collaborator_calls_total",
		Help:      "number of AI collaborator calls by outcome",
	},
	[]string{outcomeLabel},
)

var analysisDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: knowledgeBrain,
		Name:      "document_analysis_seconds",
		Help:      "time spent analyzing a single document",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	},
	[]string{outcomeLabel},
)

var stallActionsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: knowledgeBrain,
		Name:      "stall_actions_total",
		Help:      "number of stall detector actions (retriggered, exhausted, skipped)",
	},
	[]string{kindLabel, outcomeLabel},
)

var assembliesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: knowledgeBrain,
		Name:      "brain_assemblies_total",
		Help:      "number of brain assembly attempts by outcome",
	},
	[]string{outcomeLabel},
)

var queueMessagesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: knowledgeBrain,
		Name:      "queue_messages_total",
		Help:      "number of queue messages by topic and outcome (published, acked, redelivered)",
	},
	[]string{topicLabel, outcomeLabel},
)

func IncJobTransition(kind, status string) {
	jobTransitionsMetric.With(prometheus.Labels{kindLabel: kind, statusLabel: status}).Inc()
}

func IncUnitProcessed(kind, outcome string) {
	unitsProcessedMetric.With(prometheus.Labels{kindLabel: kind, outcomeLabel: outcome}).Inc()
}

func IncCollaboratorCall(outcome string) {
	collaboratorCallsMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func ObserveAnalysisDuration(outcome string, seconds float64) {
	analysisDurationMetric.With(prometheus.Labels{outcomeLabel: outcome}).Observe(seconds)
}

func IncStallAction(kind, outcome string) {
	stallActionsMetric.With(prometheus.Labels{kindLabel: kind, outcomeLabel: outcome}).Inc()
}

func IncAssembly(outcome string) {
	assembliesMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncQueueMessage(topic, outcome string) {
	queueMessagesMetric.With(prometheus.Labels{topicLabel: topic, outcomeLabel: outcome}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobTransitionsMetric)
	prometheus.MustRegister(unitsProcessedMetric)
	prometheus.MustRegister(collaboratorCallsMetric)
	prometheus.MustRegister(analysisDurationMetric)
	prometheus.MustRegister(stallActionsMetric)
	prometheus.MustRegister(assembliesMetric)
	prometheus.MustRegister(queueMessagesMetric)
}
