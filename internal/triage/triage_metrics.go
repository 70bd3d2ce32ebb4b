package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal      *prometheus.CounterVec
	TriageDuration    *prometheus.HistogramVec
	StageDuration     *prometheus.HistogramVec
	LLMCallsTotal     *prometheus.CounterVec
	LLMDuration       *prometheus.HistogramVec
	LLMTokensIn       prometheus.Counter
	LLMTokensOut      prometheus.Counter
	FallbacksTotal    *prometheus.CounterVec
	PriorityTotal     *prometheus.CounterVec
	AssignmentsTotal  *prometheus.CounterVec
	AmbiguousTotal    prometheus.Counter
	TriggersTotal     *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_triages_total",
			Help: "Total triage runs by outcome.",
		}, []string{"outcome"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"stage", "outcome"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_llm_calls_total",
			Help: "Total inference calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_llm_call_duration_seconds",
			Help:    "Duration of individual inference calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}, []string{"stage"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docket_llm_tokens_input_total",
			Help: "Total inference input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docket_llm_tokens_output_total",
			Help: "Total inference output tokens consumed.",
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_fallbacks_total",
			Help: "Local fallbacks taken after inference failed, by stage and reason.",
		}, []string{"stage", "reason"}),
		PriorityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_priority_total",
			Help: "Resolved priority levels.",
		}, []string{"priority"}),
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_assignments_total",
			Help: "Resolved assignee teams.",
		}, []string{"assignee"}),
		AmbiguousTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docket_ambiguous_total",
			Help: "Tickets routed to the fallback team as ambiguous.",
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_triggers_total",
			Help: "Triage trigger requests by result.",
		}, []string{"result"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_notifications_total",
			Help: "Triage notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.StageDuration,
		m.LLMCallsTotal,
		m.LLMDuration,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.FallbacksTotal,
		m.PriorityTotal,
		m.AssignmentsTotal,
		m.AmbiguousTotal,
		m.TriggersTotal,
		m.NotificationsSent,
	)

	return m
}

// Hooks returns PipelineHooks that update the corresponding metrics.
func (m *Metrics) Hooks() PipelineHooks {
	return PipelineHooks{
		OnStage: func(s Stage, duration float64, failed bool) {
			m.StageDuration.WithLabelValues(string(s), outcomeLabel(failed)).Observe(duration)
		},
		OnInference: func(s Stage, duration float64, u Usage, err error) {
			m.LLMCallsTotal.WithLabelValues(string(s), outcomeLabel(err != nil)).Inc()
			m.LLMDuration.WithLabelValues(string(s)).Observe(duration)
			m.LLMTokensIn.Add(float64(u.InputTokens))
			m.LLMTokensOut.Add(float64(u.OutputTokens))
		},
		OnFallback: func(s Stage, reason string) {
			m.FallbacksTotal.WithLabelValues(string(s), reason).Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(e.Outcome).Inc()
			m.TriageDuration.WithLabelValues(e.Outcome).Observe(e.Duration)
			m.PriorityTotal.WithLabelValues(string(e.Level)).Inc()
			m.AssignmentsTotal.WithLabelValues(e.Assignee).Inc()
			if e.Ambiguous {
				m.AmbiguousTotal.Inc()
			}
		},
	}
}

func outcomeLabel(failed bool) string {
	if failed {
		return OutcomeFailed
	}
	return OutcomeOK
}
