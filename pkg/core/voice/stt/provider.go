// Package stt provides streaming speech-to-text for phone audio.
package stt

import "context"

// Provider opens streaming recognition sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingSTT opens a recognition session. Audio is sent with
	// SendAudio and transcripts are read from Transcripts.
	NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (*StreamingSTT, error)
}

// TranscribeOptions configures a recognition session.
type TranscribeOptions struct {
	Model      string  // Provider-specific model (default: "ink-whisper")
	Language   string  // ISO language code (default: "en")
	Encoding   string  // Raw audio encoding (default: "pcm_mulaw", telephony)
	SampleRate int     // Audio sample rate in Hz (default: 8000)
	MinVolume  float64 // Noise floor below which audio is ignored (default: 0.01)
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text       string  // Partial or final transcript
	IsFinal    bool    // True if this is a final segment
	Confidence float64 // Recognizer confidence, 0 when the vendor does not report one
	Timestamp  float64 // Audio duration covered so far, in seconds
}
