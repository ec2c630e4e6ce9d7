package live

import (
	"context"
	"errors"

	"github.com/vango-go/vai-callcenter/pkg/core/voice/stt"
)

// ErrBackpressure is returned by Transport.Send when the outbound audio
// queue is full. The caller may retry after a short wait.
var ErrBackpressure = errors.New("live: outbound queue full")

// CommandType names an outbound media-stream command.
type CommandType string

const (
	CommandAudio  CommandType = "audio"
	CommandClear  CommandType = "clear"
	CommandHangup CommandType = "hangup"
	// CommandMark follows the last audio frame of reply Generation.
	CommandMark CommandType = "mark"
)

// OutboundCommand is one instruction to the media stream. Audio commands
// carry the generation they belong to so the writer can drop stale frames.
type OutboundCommand struct {
	Type       CommandType
	Payload    []byte
	Generation uint64
}

// Transport is the outbound half of the media stream. Send must not block
// on the network: audio is queued and ErrBackpressure returned when the
// queue is full. Clear jumps the queue on a priority lane; hangup is queued
// behind the audio already sent so the goodbye plays out.
type Transport interface {
	Send(ctx context.Context, cmd OutboundCommand) error
}

// PlayoutReporter is implemented by transports whose far end reports when
// queued audio has actually played. On such a transport a reply stays
// speaking after its last frame is queued, until the end mark sent with
// CommandMark comes back through Call.OnPlayoutMark.
type PlayoutReporter interface {
	ReportsPlayout() bool
}

// Recognizer is an open streaming STT session.
type Recognizer interface {
	SendAudio(data []byte) error
	Transcripts() <-chan stt.TranscriptDelta
	Finish(ctx context.Context) error
	Err() error
	Close() error
}

// STTProvider opens recognizer sessions.
type STTProvider interface {
	NewSession(ctx context.Context, opts stt.TranscribeOptions) (Recognizer, error)
}

// STTProviderAdapter adapts an stt.Provider to STTProvider.
type STTProviderAdapter struct {
	Provider stt.Provider
}

func (a STTProviderAdapter) NewSession(ctx context.Context, opts stt.TranscribeOptions) (Recognizer, error) {
	if a.Provider == nil {
		return nil, errors.New("live: nil stt provider")
	}
	sess, err := a.Provider.NewStreamingSTT(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
