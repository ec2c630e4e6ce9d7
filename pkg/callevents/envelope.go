// Package callevents ships call pipeline events and per-call metrics out of
// process: to Kafka topics for downstream analytics, or to the structured
// log.
package callevents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

// Envelope is the wire form of one published event.
type Envelope struct {
	ID     string          `json:"id"`
	CallID string          `json:"call_id"`
	Type   string          `json:"type"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// NewEnvelope wraps ev with a fresh sortable id.
func NewEnvelope(callID string, ev live.Event, at time.Time) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", ev.EventType(), err)
	}
	return Envelope{
		ID:     ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		CallID: callID,
		Type:   ev.EventType(),
		At:     at.UTC(),
		Data:   data,
	}, nil
}
