package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Media stream events exchanged with the telephony provider. The wire shape
// follows Twilio Media Streams: JSON text frames keyed by "event", audio as
// base64 8 kHz mu-law.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Connected struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

type StartInfo struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type Start struct {
	SequenceNumber string    `json:"sequenceNumber"`
	StreamSID      string    `json:"streamSid"`
	Start          StartInfo `json:"start"`
}

type MediaInfo struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type Media struct {
	SequenceNumber string    `json:"sequenceNumber"`
	StreamSID      string    `json:"streamSid"`
	Media          MediaInfo `json:"media"`
}

// Audio decodes the base64 payload.
func (m Media) Audio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, badRequest("invalid media payload", "media.payload")
	}
	return data, nil
}

type StopInfo struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type Stop struct {
	SequenceNumber string   `json:"sequenceNumber"`
	StreamSID      string   `json:"streamSid"`
	Stop           StopInfo `json:"stop"`
}

type MarkInfo struct {
	Name string `json:"name"`
}

type Mark struct {
	SequenceNumber string   `json:"sequenceNumber"`
	StreamSID      string   `json:"streamSid"`
	Mark           MarkInfo `json:"mark"`
}

type DTMFInfo struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

type DTMF struct {
	SequenceNumber string   `json:"sequenceNumber"`
	StreamSID      string   `json:"streamSid"`
	DTMF           DTMFInfo `json:"dtmf"`
}

// DecodeInbound parses one provider frame into Connected, Start, Media,
// Stop, Mark or DTMF.
func DecodeInbound(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connected frame", "")
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if msg.StreamSID == "" {
			msg.StreamSID = msg.Start.StreamSID
		}
		if strings.TrimSpace(msg.Start.CallSID) == "" {
			return nil, badRequest("start.callSid is required", "start.callSid")
		}
		if strings.TrimSpace(msg.StreamSID) == "" {
			return nil, badRequest("streamSid is required", "streamSid")
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if msg.Media.Payload == "" {
			return nil, badRequest("media.payload is required", "media.payload")
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid mark frame", "")
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid dtmf frame", "")
		}
		return msg, nil
	default:
		return nil, &DecodeError{Code: "unsupported", Message: fmt.Sprintf("unsupported event %q", event), Param: "event"}
	}
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

type outboundMark struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      MarkInfo `json:"mark"`
}

// EncodeMedia builds an outbound audio frame.
func EncodeMedia(streamSID string, audio []byte) ([]byte, error) {
	msg := outboundMedia{Event: EventMedia, StreamSID: streamSID}
	msg.Media.Payload = base64.StdEncoding.EncodeToString(audio)
	return json.Marshal(msg)
}

// EncodeClear tells the provider to drop audio it has buffered for playback.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: EventClear, StreamSID: streamSID})
}

// EncodeMark asks the provider to echo name back once playback reaches it.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(outboundMark{Event: EventMark, StreamSID: streamSID, Mark: MarkInfo{Name: name}})
}
