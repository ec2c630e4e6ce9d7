package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

// Metrics holds the call center's Prometheus metrics. It is a live.EventSink:
// counters are driven by call pipeline events.
type Metrics struct {
	registry *prometheus.Registry
	// started holds call ids that published call.started and have not
	// ended yet.
	started sync.Map

	CallsActive   prometheus.Gauge
	CallsTotal    *prometheus.CounterVec
	CallDuration  prometheus.Histogram
	Utterances    prometheus.Counter
	Routes        *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Responses     prometheus.Counter
	BargeIns      prometheus.Counter
	Reprompts     prometheus.Counter
	ErrorsTotal   *prometheus.CounterVec
	TTSLatency    prometheus.Histogram
	ContextLosses prometheus.Counter
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callcenter"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls in progress",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls by final phase",
		}, []string{"final_phase"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		Utterances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Final caller utterances routed",
		}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Routing decisions by agent and confidence",
		}, []string{"agent", "confidence"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Conversation phase transitions",
		}, []string{"from", "to"}),
		Responses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Replies started",
		}),
		BargeIns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Replies interrupted by caller audio",
		}),
		Reprompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprompts_total",
			Help:      "Inactivity re-prompts spoken",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Call pipeline errors by code",
		}, []string{"code"}),
		TTSLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_first_chunk_seconds",
			Help:      "Average time to first synthesized chunk per call",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1, 2},
		}),
		ContextLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_lost_total",
			Help:      "Calls whose session expired mid-call and was recreated",
		}),
	}

	registry.MustRegister(
		m.CallsActive,
		m.CallsTotal,
		m.CallDuration,
		m.Utterances,
		m.Routes,
		m.Transitions,
		m.Responses,
		m.BargeIns,
		m.Reprompts,
		m.ErrorsTotal,
		m.TTSLatency,
		m.ContextLosses,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Publish(_ context.Context, callID string, ev live.Event) {
	if m == nil {
		return
	}
	switch e := ev.(type) {
	case *live.CallStartedEvent:
		if _, loaded := m.started.LoadOrStore(callID, struct{}{}); !loaded {
			m.CallsActive.Inc()
		}
	case *live.UtteranceRoutedEvent:
		m.Utterances.Inc()
		m.Routes.WithLabelValues(string(e.Agent), e.Confidence).Inc()
	case *live.TransitionEvent:
		m.Transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
	case *live.ResponseEvent:
		m.Responses.Inc()
	case *live.BargeInEvent:
		m.BargeIns.Inc()
	case *live.RepromptEvent:
		m.Reprompts.Inc()
	case *live.ErrorEvent:
		m.ErrorsTotal.WithLabelValues(e.Code).Inc()
	case *live.CallEndedEvent:
		if _, ok := m.started.LoadAndDelete(callID); ok {
			m.CallsActive.Dec()
		}
		m.recordCallEnd(e.Metrics)
	}
}

func (m *Metrics) recordCallEnd(cm live.CallMetrics) {
	phase := string(cm.FinalPhase)
	if phase == "" {
		phase = "none"
	}
	m.CallsTotal.WithLabelValues(phase).Inc()
	m.CallDuration.Observe(cm.Duration.Seconds())
	if cm.TTSRequests > 0 {
		m.TTSLatency.Observe(cm.AvgTTSLatency.Seconds())
	}
	if cm.ContextLost {
		m.ContextLosses.Inc()
	}
}
