package metrics

import "github.com/prometheus/client_golang/prometheus"

// InterviewMetrics exposes counters/histograms for call-flow processing.
type InterviewMetrics struct {
	callsInitiated  *prometheus.CounterVec
	webhookTotal    *prometheus.CounterVec
	finalizations   *prometheus.CounterVec
	decisionLatency prometheus.Histogram
}

func NewInterviewMetrics(reg prometheus.Registerer) *InterviewMetrics {
	m := &InterviewMetrics{
		callsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanly",
			Subsystem: "interview",
			Name:      "calls_initiated_total",
			Help:      "Total outbound interview calls by application type and outcome",
		}, []string{"application_type", "status"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanly",
			Subsystem: "interview",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound telephony webhooks",
		}, []string{"kind", "status"}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanly",
			Subsystem: "interview",
			Name:      "finalizations_total",
			Help:      "Total session finalizations by outcome",
		}, []string{"outcome"}),
		decisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loanly",
			Subsystem: "interview",
			Name:      "decision_latency_seconds",
			Help:      "Latency of decision-service evaluations",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsInitiated, m.webhookTotal, m.finalizations, m.decisionLatency)
	return m
}

func (m *InterviewMetrics) ObserveCallInitiated(applicationType, status string) {
	if m == nil {
		return
	}
	m.callsInitiated.WithLabelValues(applicationType, status).Inc()
}

func (m *InterviewMetrics) ObserveWebhook(kind, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(kind, status).Inc()
}

func (m *InterviewMetrics) ObserveFinalization(outcome string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(outcome).Inc()
}

func (m *InterviewMetrics) ObserveDecisionLatency(seconds float64) {
	if m == nil {
		return
	}
	m.decisionLatency.Observe(seconds)
}
