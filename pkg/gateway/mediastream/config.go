package mediastream

import "time"

// Config tunes one media stream connection.
type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64

	// OutboundQueueFrames bounds the normal (audio) lane.
	OutboundQueueFrames int
	// FrameBytes is the outbound media payload size; 160 bytes is 20ms of
	// 8 kHz mu-law.
	FrameBytes int
	// HangupMarkTimeout closes the stream when the provider never echoes
	// the hangup mark.
	HangupMarkTimeout time.Duration

	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:           20 * time.Second,
		WriteTimeout:           5 * time.Second,
		MaxMessageBytes:        64 * 1024,
		OutboundQueueFrames:    256,
		FrameBytes:             160,
		HangupMarkTimeout:      10 * time.Second,
		MaxAudioFPS:            100,
		MaxAudioBytesPerSecond: 32 * 1024,
		InboundBurstSeconds:    2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.OutboundQueueFrames <= 0 {
		c.OutboundQueueFrames = def.OutboundQueueFrames
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = def.FrameBytes
	}
	if c.HangupMarkTimeout <= 0 {
		c.HangupMarkTimeout = def.HangupMarkTimeout
	}
	return c
}
