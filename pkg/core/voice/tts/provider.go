// Package tts provides streaming text-to-speech for phone audio.
package tts

import (
	"context"
	"sync"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// SynthesizeStream converts text to streaming audio. Chunks arrive in the
	// encoding requested by opts and are ready to forward to the caller.
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // Voice identifier
	Model      string  // Provider-specific model
	Language   string  // Language code
	Encoding   string  // Raw output encoding (default: "pcm_mulaw")
	SampleRate int     // Sample rate (default: 8000)
	Speed      float64 // Speed multiplier (0.6-1.5, default 1.0)
}

// SynthesisStream provides streaming audio output.
type SynthesisStream struct {
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewSynthesisStream creates a new synthesis stream.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 100),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks. It is closed when synthesis
// ends for any reason.
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the error that ended the stream early, if any. Call it after
// Chunks is drained.
func (s *SynthesisStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close abandons the stream. The producer stops at its next chunk.
func (s *SynthesisStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed once Close has been called.
func (s *SynthesisStream) Done() <-chan struct{} {
	return s.done
}

// SetError sets the stream error. The first error wins.
func (s *SynthesisStream) SetError(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Send sends a chunk to the stream. Returns false if stream is closed.
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunks channel to signal completion.
func (s *SynthesisStream) FinishSending() {
	close(s.chunks)
}
