package callevents

import (
	"context"
	"log/slog"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

// LogSink writes events and call summaries to a structured logger. Interim
// transcripts go out at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogSink) Publish(ctx context.Context, callID string, ev live.Event) {
	if ev == nil {
		return
	}
	level := slog.LevelInfo
	attrs := []any{"call_id", callID, "type", ev.EventType()}
	switch e := ev.(type) {
	case *live.TranscriptDeltaEvent:
		level = slog.LevelDebug
		attrs = append(attrs, "text", e.Text)
	case *live.UtteranceRoutedEvent:
		attrs = append(attrs, "agent", e.Agent, "intent", e.Intent, "confidence", e.Confidence, "rule", e.Rule)
	case *live.TransitionEvent:
		attrs = append(attrs, "from", e.From, "to", e.To, "agent", e.Agent)
	case *live.ResponseEvent:
		attrs = append(attrs, "generation", e.Generation, "hangup", e.Hangup)
	case *live.BargeInEvent:
		attrs = append(attrs, "generation", e.Generation)
	case *live.RepromptEvent:
		attrs = append(attrs, "phase", e.Phase)
	case *live.ErrorEvent:
		level = slog.LevelWarn
		attrs = append(attrs, "code", e.Code, "message", e.Message)
	case *live.CallStartedEvent:
		attrs = append(attrs, "resumed", e.Resumed, "phase", e.Phase)
	case *live.CallEndedEvent:
		attrs = append(attrs, "final_phase", e.Metrics.FinalPhase, "duration", e.Metrics.Duration)
	}
	l.logger().Log(ctx, level, "call event", attrs...)
}

func (l LogSink) SaveCallMetrics(ctx context.Context, m live.CallMetrics) error {
	l.logger().LogAttrs(ctx, slog.LevelInfo, "call summary",
		slog.String("call_id", m.CallID),
		slog.Int("utterances", m.Utterances),
		slog.Int("responses", m.Responses),
		slog.Int("interruptions", m.Interruptions),
		slog.Int("reprompts", m.Reprompts),
		slog.Int("vendor_errors", m.VendorErrors),
		slog.Int("tts_requests", m.TTSRequests),
		slog.Duration("avg_tts_latency", m.AvgTTSLatency),
		slog.Duration("duration", m.Duration),
		slog.String("final_phase", string(m.FinalPhase)),
		slog.Bool("context_lost", m.ContextLost),
	)
	return nil
}
