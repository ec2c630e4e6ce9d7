package live

import (
	"context"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
)

// Event is the interface for all call pipeline events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// CallStartedEvent is emitted once the session is loaded and the greeting
// is queued.
type CallStartedEvent struct {
	Resumed bool            `json:"resumed"`
	Phase   callstate.Phase `json:"phase"`
}

func (e *CallStartedEvent) EventType() string { return "call.started" }

// TranscriptDeltaEvent is emitted for interim transcripts.
type TranscriptDeltaEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// UtteranceRoutedEvent is emitted when a final utterance has been routed.
type UtteranceRoutedEvent struct {
	Text       string          `json:"text"`
	Agent      callstate.Agent `json:"agent"`
	Intent     string          `json:"intent"`
	Confidence string          `json:"confidence"`
	Rule       int             `json:"rule"`
}

func (e *UtteranceRoutedEvent) EventType() string { return "utterance.routed" }

// TransitionEvent is emitted when a turn moves the call to a new phase.
type TransitionEvent struct {
	From  callstate.Phase `json:"from"`
	To    callstate.Phase `json:"to"`
	Agent callstate.Agent `json:"agent"`
}

func (e *TransitionEvent) EventType() string { return "phase.transition" }

// ResponseEvent is emitted when a reply starts playing.
type ResponseEvent struct {
	Generation uint64 `json:"generation"`
	Text       string `json:"text"`
	Hangup     bool   `json:"hangup,omitempty"`
}

func (e *ResponseEvent) EventType() string { return "response.started" }

// BargeInEvent is emitted when caller audio cut a reply short.
type BargeInEvent struct {
	Generation uint64 `json:"generation"`
}

func (e *BargeInEvent) EventType() string { return "response.interrupted" }

// RepromptEvent is emitted when the inactivity timer fired.
type RepromptEvent struct {
	Phase callstate.Phase `json:"phase"`
}

func (e *RepromptEvent) EventType() string { return "reprompt" }

// ErrorEvent is emitted when an error occurs.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// CallEndedEvent is emitted once when the media stream stops.
type CallEndedEvent struct {
	Metrics CallMetrics `json:"metrics"`
}

func (e *CallEndedEvent) EventType() string { return "call.ended" }

// CallMetrics is the per-call summary published on hangup.
type CallMetrics struct {
	CallID        string          `json:"call_id"`
	Utterances    int             `json:"utterances"`
	Responses     int             `json:"responses"`
	Interruptions int             `json:"interruptions"`
	Reprompts     int             `json:"reprompts"`
	VendorErrors  int             `json:"vendor_errors"`
	TTSRequests   int             `json:"tts_requests"`
	AvgTTSLatency time.Duration   `json:"avg_tts_latency"`
	Duration      time.Duration   `json:"duration"`
	FinalPhase    callstate.Phase `json:"final_phase"`
	ContextLost   bool            `json:"context_lost,omitempty"`
}

// EventSink receives pipeline events. Publish must not block the call for
// long; slow sinks should buffer.
type EventSink interface {
	Publish(ctx context.Context, callID string, ev Event)
}

// MetricsSink receives the summary of every finished call.
type MetricsSink interface {
	SaveCallMetrics(ctx context.Context, m CallMetrics) error
}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, callID string, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, callID, ev)
		}
	}
}
