package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/voice"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"
)

// ErrSessionClosed is returned when writing to a finished session.
var ErrSessionClosed = errors.New("stt: session closed")

// CartesiaProvider implements Provider using Cartesia's streaming websocket.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
	dialer *websocket.Dialer
}

// NewCartesia creates a new Cartesia STT provider.
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

// StreamingSTT represents a real-time streaming transcription session.
type StreamingSTT struct {
	conn        *websocket.Conn
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc

	errMu sync.Mutex
	err   error
}

// NewStreamingSTT opens a streaming STT session via WebSocket.
func (c *CartesiaProvider) NewStreamingSTT(ctx context.Context, opts TranscribeOptions) (*StreamingSTT, error) {
	wsURL, err := c.buildURL(opts)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, voice.DialError("stt connect", resp, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &StreamingSTT{
		conn:        conn,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.readLoop()
	return s, nil
}

func (c *CartesiaProvider) buildURL(opts TranscribeOptions) (string, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket URL: %w", err)
	}

	q := u.Query()
	q.Set("model", valueOr(opts.Model, "ink-whisper"))
	q.Set("language", valueOr(opts.Language, "en"))
	q.Set("encoding", valueOr(getEncoding(opts.Encoding), "pcm_mulaw"))

	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))

	// Endpointing is left to the vendor's is_final segmentation; min_volume
	// only filters line noise.
	minVolume := opts.MinVolume
	if minVolume <= 0 {
		minVolume = 0.01
	}
	q.Set("min_volume", fmt.Sprintf("%g", minVolume))
	q.Set("api_key", c.apiKey)

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *StreamingSTT) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(voice.Transient("stt read", err))
			}
			return
		}

		var msg cartesiaSTTResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			delta := TranscriptDelta{
				Text:       msg.Text,
				IsFinal:    msg.IsFinal,
				Confidence: msg.Confidence,
				Timestamp:  msg.Duration,
			}
			select {
			case s.transcripts <- delta:
			case <-s.ctx.Done():
				return
			}

		case "flush_done":
			continue

		case "done":
			return

		case "error":
			s.setErr(voice.Transient("stt stream", errors.New(valueOr(msg.Error, "unknown error"))))
			return
		}
	}
}

type cartesiaSTTResponse struct {
	Type       string  `json:"type"`     // "transcript", "flush_done", "done", "error"
	Text       string  `json:"text"`     // Transcribed text
	IsFinal    bool    `json:"is_final"` // Whether this is final
	Confidence float64 `json:"confidence,omitempty"`
	Duration   float64 `json:"duration"` // Audio duration
	Language   string  `json:"language"` // Detected language
	RequestID  string  `json:"request_id"`
	Error      string  `json:"error"` // Error message if type is "error"
}

// SendAudio sends raw audio in the session's configured encoding.
func (s *StreamingSTT) SendAudio(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return voice.Transient("stt send", err)
	}
	return nil
}

// Finalize asks the vendor to flush a final segment for buffered audio while
// keeping the session open.
func (s *StreamingSTT) Finalize() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Finish ends the input stream, lets the vendor deliver its last
// transcripts, and closes the session. It waits until ctx is done at most.
func (s *StreamingSTT) Finish(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.writeMu.Unlock()
	if err == nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Transcripts returns the channel of transcript deltas. It is closed when the
// session ends.
func (s *StreamingSTT) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done returns a channel that's closed when the session ends.
func (s *StreamingSTT) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended early, if it did.
func (s *StreamingSTT) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *StreamingSTT) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close closes the streaming STT session without waiting for the vendor.
func (s *StreamingSTT) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

// getEncoding returns the raw encoding name when it is one Cartesia accepts.
func getEncoding(format string) string {
	switch format {
	case "pcm_s16le", "pcm_s32le", "pcm_f16le", "pcm_f32le", "pcm_mulaw", "pcm_alaw":
		return format
	default:
		return ""
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
