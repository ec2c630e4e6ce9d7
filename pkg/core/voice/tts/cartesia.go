package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/voice"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
)

// Default voice ID - deployments should configure their own.
const defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

// CartesiaProvider implements Provider using Cartesia's websocket API.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
	dialer *websocket.Dialer
}

// NewCartesia creates a new Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey: strings.TrimSpace(apiKey),
		wsURL:  cartesiaWSURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// WithWSURL points the provider at a different websocket endpoint.
func (c *CartesiaProvider) WithWSURL(raw string) *CartesiaProvider {
	if c == nil {
		return c
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		c.wsURL = raw
	}
	return c
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

type cartesiaWSRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	Language         *string                   `json:"language,omitempty"`
	ContextID        string                    `json:"context_id,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

type cartesiaWSResponse struct {
	Type       string `json:"type"` // "chunk", "done", "error"
	Data       string `json:"data,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// buildOutputFormat always asks for raw frames: phone media streams carry
// headerless audio.
func buildOutputFormat(opts SynthesizeOptions) cartesiaOutputFormat {
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	encoding := opts.Encoding
	switch encoding {
	case "pcm_s16le", "pcm_f32le", "pcm_mulaw", "pcm_alaw":
	default:
		encoding = "pcm_mulaw"
	}
	return cartesiaOutputFormat{
		Container:  "raw",
		Encoding:   encoding,
		SampleRate: sampleRate,
	}
}

func (c *CartesiaProvider) buildRequest(text string, opts SynthesizeOptions) cartesiaWSRequest {
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	model := opts.Model
	if model == "" {
		model = "sonic-3"
	}
	req := cartesiaWSRequest{
		ModelID:    model,
		Transcript: text,
		Voice: cartesiaVoiceSpec{
			Mode: "id",
			ID:   voiceID,
		},
		OutputFormat: buildOutputFormat(opts),
		ContextID:    generateContextID(),
	}
	if opts.Speed != 0 {
		req.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if opts.Language != "" {
		lang := opts.Language
		req.Language = &lang
	}
	return req
}

// SynthesizeStream converts text to streaming audio using Cartesia's WebSocket API.
func (c *CartesiaProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, voice.DialError("tts connect", resp, err)
	}

	if err := conn.WriteJSON(c.buildRequest(text, opts)); err != nil {
		conn.Close()
		return nil, voice.Transient("tts send", err)
	}

	stream := NewSynthesisStream()

	// Unblock the read below when the caller abandons the stream.
	go func() {
		select {
		case <-ctx.Done():
		case <-stream.Done():
		}
		conn.Close()
	}()

	go func() {
		defer stream.FinishSending()
		defer stream.Close()

		for {
			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				switch {
				case ctx.Err() != nil:
					stream.SetError(ctx.Err())
				case isClosed(stream):
				case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				default:
					stream.SetError(voice.Transient("tts read", err))
				}
				return
			}

			switch msg.Type {
			case "chunk":
				audioData, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					stream.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if !stream.Send(audioData) {
					return
				}

			case "done":
				return

			case "error":
				stream.SetError(voice.Transient("tts stream", errors.New(msg.Error)))
				return
			}
		}
	}()

	return stream, nil
}

func isClosed(s *SynthesisStream) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

var contextCounter atomic.Uint64

func generateContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}
