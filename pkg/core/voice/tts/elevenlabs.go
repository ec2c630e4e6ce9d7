package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/voice"
)

const elevenLabsDefaultWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsProvider implements Provider over ElevenLabs' input-streaming
// websocket. The whole reply is sent as one flushed segment.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
	dialer    *websocket.Dialer
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsDefaultWSBase,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	base = strings.TrimSpace(base)
	if base != "" {
		e.wsBaseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (e *ElevenLabsProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	if e == nil || e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	wsURL, err := buildElevenLabsProviderWSURL(e.wsBaseURL, voiceID, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, resp, err := e.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, voice.DialError("tts connect", resp, err)
	}

	text = strings.TrimSpace(text) + " "
	// Open the context, send the reply flushed, then the empty text that
	// ends the input stream.
	frames := []map[string]any{
		{"text": " "},
		{"text": text, "flush": true},
		{"text": ""},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			conn.Close()
			return nil, voice.Transient("tts send", err)
		}
	}

	stream := NewSynthesisStream()

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
			_, data, err := conn.ReadMessage()
			if err != nil {
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
			var msg map[string]json.RawMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if errText := decodeStringRaw(msg["error"]); errText != "" {
				stream.SetError(voice.Transient("tts stream", errors.New(errText)))
				return
			}
			if audioB64 := decodeStringRaw(msg["audio"]); audioB64 != "" {
				audio, err := base64.StdEncoding.DecodeString(audioB64)
				if err == nil && len(audio) > 0 {
					if !stream.Send(audio) {
						return
					}
				}
			}
			if decodeBoolRaw(msg["isFinal"]) || decodeBoolRaw(msg["is_final"]) {
				return
			}
		}
	}()

	return stream, nil
}

func buildElevenLabsProviderWSURL(base, voiceID string, opts SynthesizeOptions) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = elevenLabsDefaultWSBase
	}
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		model := opts.Model
		if model == "" {
			model = "eleven_flash_v2_5"
		}
		q.Set("model_id", model)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", elevenLabsOutputFormat(opts))
	}
	if opts.Language != "" && q.Get("language_code") == "" {
		q.Set("language_code", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// elevenLabsOutputFormat maps the shared encoding names onto ElevenLabs'
// format_rate identifiers.
func elevenLabsOutputFormat(opts SynthesizeOptions) string {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	switch opts.Encoding {
	case "pcm_s16le":
		return fmt.Sprintf("pcm_%d", rate)
	case "pcm_alaw":
		return "alaw_8000"
	default:
		return "ulaw_8000"
	}
}

func decodeStringRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func decodeBoolRaw(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false
	}
	return out
}
