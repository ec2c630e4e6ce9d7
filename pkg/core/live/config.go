package live

import (
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/tts"
)

// Config holds per-call pipeline settings.
type Config struct {
	// InactivityTimeout is how long the caller may stay silent before the
	// phase's re-prompt is spoken. Default: 8s.
	InactivityTimeout time.Duration

	// SynthRetryBackoff is the wait before the single retry of a transient
	// recognizer or synthesizer failure. Default: 200ms.
	SynthRetryBackoff time.Duration

	// BackpressureWait is how long a reply waits for outbound queue space
	// before trying the frame again. Default: 20ms.
	BackpressureWait time.Duration

	// FinishTimeout bounds the recognizer flush on hangup. Default: 2s.
	FinishTimeout time.Duration

	// BargeInEnergy is the RMS energy an inbound chunk needs to interrupt
	// playback. Zero means any inbound audio interrupts.
	BargeInEnergy float64

	STT stt.TranscribeOptions
	TTS tts.SynthesizeOptions
}

// DefaultConfig returns telephony defaults: 8 kHz mu-law both ways.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 8 * time.Second,
		SynthRetryBackoff: 200 * time.Millisecond,
		BackpressureWait:  20 * time.Millisecond,
		FinishTimeout:     2 * time.Second,
		STT: stt.TranscribeOptions{
			Encoding:   "pcm_mulaw",
			SampleRate: 8000,
		},
		TTS: tts.SynthesizeOptions{
			Encoding:   "pcm_mulaw",
			SampleRate: 8000,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = def.InactivityTimeout
	}
	if c.SynthRetryBackoff <= 0 {
		c.SynthRetryBackoff = def.SynthRetryBackoff
	}
	if c.BackpressureWait <= 0 {
		c.BackpressureWait = def.BackpressureWait
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = def.FinishTimeout
	}
	if c.BargeInEnergy < 0 {
		c.BargeInEnergy = 0
	}
	if c.STT.Encoding == "" {
		c.STT.Encoding = def.STT.Encoding
	}
	if c.STT.SampleRate <= 0 {
		c.STT.SampleRate = def.STT.SampleRate
	}
	if c.TTS.Encoding == "" {
		c.TTS.Encoding = def.TTS.Encoding
	}
	if c.TTS.SampleRate <= 0 {
		c.TTS.SampleRate = def.TTS.SampleRate
	}
	return c
}
