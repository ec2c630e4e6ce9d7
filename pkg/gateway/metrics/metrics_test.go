package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

func TestMetrics_CallLifecycle(t *testing.T) {
	m := NewMetrics("test")
	ctx := context.Background()

	m.Publish(ctx, "CA1", &live.CallStartedEvent{Phase: callstate.PhaseMenu})
	m.Publish(ctx, "CA1", &live.CallStartedEvent{Phase: callstate.PhaseMenu})
	if got := testutil.ToFloat64(m.CallsActive); got != 1 {
		t.Fatalf("calls_active = %v, want 1", got)
	}

	m.Publish(ctx, "CA1", &live.UtteranceRoutedEvent{Agent: callstate.AgentOrder, Confidence: "high"})
	m.Publish(ctx, "CA1", &live.UtteranceRoutedEvent{Agent: callstate.AgentOrder, Confidence: "high"})
	m.Publish(ctx, "CA1", &live.BargeInEvent{Generation: 2})
	m.Publish(ctx, "CA1", &live.ErrorEvent{Code: "tts_failed"})

	if got := testutil.ToFloat64(m.Utterances); got != 2 {
		t.Fatalf("utterances = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Routes.WithLabelValues(string(callstate.AgentOrder), "high")); got != 2 {
		t.Fatalf("routes{order,high} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BargeIns); got != 1 {
		t.Fatalf("barge_ins = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("tts_failed")); got != 1 {
		t.Fatalf("errors{tts_failed} = %v, want 1", got)
	}

	m.Publish(ctx, "CA1", &live.CallEndedEvent{Metrics: live.CallMetrics{
		CallID:      "CA1",
		FinalPhase:  callstate.PhaseComplete,
		Duration:    42 * time.Second,
		ContextLost: true,
	}})
	if got := testutil.ToFloat64(m.CallsActive); got != 0 {
		t.Fatalf("calls_active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues(string(callstate.PhaseComplete))); got != 1 {
		t.Fatalf("calls_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ContextLosses); got != 1 {
		t.Fatalf("context_lost = %v, want 1", got)
	}
}

func TestMetrics_EndWithoutStartLeavesGauge(t *testing.T) {
	m := NewMetrics("")
	m.Publish(context.Background(), "CA9", &live.CallEndedEvent{Metrics: live.CallMetrics{CallID: "CA9"}})
	if got := testutil.ToFloat64(m.CallsActive); got != 0 {
		t.Fatalf("calls_active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("none")); got != 1 {
		t.Fatalf("calls_total{none} = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("callcenter")
	m.Publish(context.Background(), "CA1", &live.ResponseEvent{Generation: 1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "callcenter_responses_total 1") {
		t.Fatalf("metrics body missing responses counter:\n%s", body)
	}
}
