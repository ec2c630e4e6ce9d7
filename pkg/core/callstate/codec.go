package callstate

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Persisted sessions are CBOR with Core Deterministic Encoding so the same
// session always produces identical bytes. Timestamps keep nanosecond
// precision as RFC 3339 text.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("callstate: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("callstate: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeSession(s CallSession) ([]byte, error) {
	data, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %q: %w", s.CallID, err)
	}
	return data, nil
}

func decodeSession(data []byte) (CallSession, error) {
	var s CallSession
	if err := decMode.Unmarshal(data, &s); err != nil {
		return CallSession{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}
