package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// WebhookEvents counts processed webhook calls by path and outcome action.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook calls by processing path and resulting action.",
		},
		[]string{"path", "action"},
	)

	// QueueAssignments counts distribution attempts by policy and result
	// (assigned, skipped_empty, disabled, error).
	QueueAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_assignments_total",
			Help: "Queue distribution attempts by policy and result.",
		},
		[]string{"policy", "result"},
	)

	// ForwardResults counts forwarding task outcomes.
	ForwardResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forward_results_total",
			Help: "Outcomes of asynchronous forwarding tasks.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(WebhookEvents, QueueAssignments, ForwardResults)
}

// ObserveForward records a forwarding outcome. It matches forward.Observer.
func ObserveForward(result string) {
	ForwardResults.WithLabelValues(result).Inc()
}
