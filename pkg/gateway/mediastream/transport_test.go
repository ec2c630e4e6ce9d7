package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

func decodeFramePayload(t *testing.T, f outboundFrame) []byte {
	t.Helper()
	var msg struct {
		Event string `json:"event"`
		Media struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(f.payload, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return data
}

func TestStreamTransport_SlicesAudioIntoFrames(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{FrameBytes: 160, OutboundQueueFrames: 8})
	if err := tr.Send(context.Background(), live.OutboundCommand{Type: live.CommandAudio, Payload: make([]byte, 400), Generation: 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.normal) != 3 {
		t.Fatalf("queued frames = %d, want 3", len(tr.normal))
	}
	sizes := []int{160, 160, 80}
	for i, want := range sizes {
		f := <-tr.normal
		if !f.audio || f.generation != 7 {
			t.Fatalf("frame %d = %+v", i, f)
		}
		if got := len(decodeFramePayload(t, f)); got != want {
			t.Fatalf("frame %d size = %d, want %d", i, got, want)
		}
	}
}

func TestStreamTransport_BackpressureIsAllOrNothing(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{FrameBytes: 160, OutboundQueueFrames: 4})
	if err := tr.Send(context.Background(), live.OutboundCommand{Type: live.CommandAudio, Payload: make([]byte, 320)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	err := tr.Send(context.Background(), live.OutboundCommand{Type: live.CommandAudio, Payload: make([]byte, 480)})
	if !errors.Is(err, live.ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}
	if len(tr.normal) != 2 {
		t.Fatalf("queued frames = %d, want 2 (no partial enqueue)", len(tr.normal))
	}
}

func TestStreamTransport_OversizedChunkFitsQueue(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{FrameBytes: 160, OutboundQueueFrames: 4})
	if err := tr.Send(context.Background(), live.OutboundCommand{Type: live.CommandAudio, Payload: make([]byte, 2000)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	total := 0
	for len(tr.normal) > 0 {
		f := <-tr.normal
		n := len(decodeFramePayload(t, f))
		if n%160 != 0 && len(tr.normal) > 0 {
			t.Fatalf("inner frame size %d is not a multiple of 160", n)
		}
		total += n
	}
	if total != 2000 {
		t.Fatalf("total bytes = %d, want 2000", total)
	}
}

func TestStreamTransport_ClearUsesPriorityLane(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{})
	for i := 0; i < 20; i++ {
		if err := tr.Send(context.Background(), live.OutboundCommand{Type: live.CommandClear}); err != nil {
			t.Fatalf("Send clear %d: %v", i, err)
		}
	}
	if len(tr.priority) != cap(tr.priority) {
		t.Fatalf("priority lane = %d, want full", len(tr.priority))
	}
	if len(tr.normal) != 0 {
		t.Fatalf("normal lane = %d, want 0", len(tr.normal))
	}
}

func TestStreamTransport_HangupQueuedBehindAudio(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{HangupMarkTimeout: time.Hour})
	ctx := context.Background()
	_ = tr.Send(ctx, live.OutboundCommand{Type: live.CommandAudio, Payload: make([]byte, 160)})
	if err := tr.Send(ctx, live.OutboundCommand{Type: live.CommandHangup}); err != nil {
		t.Fatalf("Send hangup: %v", err)
	}
	if err := tr.Send(ctx, live.OutboundCommand{Type: live.CommandHangup}); err != nil {
		t.Fatalf("second hangup: %v", err)
	}
	if len(tr.normal) != 2 {
		t.Fatalf("normal lane = %d, want audio + one mark", len(tr.normal))
	}
	if f := <-tr.normal; !f.audio {
		t.Fatal("first frame should be audio")
	}
	if f := <-tr.normal; f.audio || string(f.payload) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"hangup"}}` {
		t.Fatalf("second frame = %s", f.payload)
	}

	if tr.markReceived("other") {
		t.Fatal("unrelated mark should not close the stream")
	}
	if !tr.markReceived(HangupMark) {
		t.Fatal("hangup mark should close the stream")
	}
	select {
	case <-tr.Closed():
	default:
		t.Fatal("transport not closed after hangup mark")
	}
	if err := tr.Send(ctx, live.OutboundCommand{Type: live.CommandAudio, Payload: []byte{1}}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Send after close = %v, want ErrStreamClosed", err)
	}
}

func TestStreamTransport_HangupFallbackCloses(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{HangupMarkTimeout: 10 * time.Millisecond})
	if err := tr.Send(context.Background(), live.OutboundCommand{Type: live.CommandHangup}); err != nil {
		t.Fatalf("Send hangup: %v", err)
	}
	select {
	case <-tr.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("transport not closed after mark wait")
	}
}

func TestStreamTransport_PlayoutMarkFollowsAudio(t *testing.T) {
	tr := newStreamTransport("MZ1", Config{FrameBytes: 160, OutboundQueueFrames: 2})
	ctx := context.Background()
	if !tr.ReportsPlayout() {
		t.Fatal("media stream transport should report playout")
	}
	_ = tr.Send(ctx, live.OutboundCommand{Type: live.CommandAudio, Payload: make([]byte, 160), Generation: 4})
	if err := tr.Send(ctx, live.OutboundCommand{Type: live.CommandMark, Generation: 4}); err != nil {
		t.Fatalf("Send mark: %v", err)
	}
	if err := tr.Send(ctx, live.OutboundCommand{Type: live.CommandMark, Generation: 5}); !errors.Is(err, live.ErrBackpressure) {
		t.Fatalf("mark on full queue = %v, want ErrBackpressure", err)
	}
	<-tr.normal
	if f := <-tr.normal; f.audio || string(f.payload) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"gen-4"}}` {
		t.Fatalf("mark frame = %s", f.payload)
	}
}

func TestPlayoutGeneration(t *testing.T) {
	cases := []struct {
		name string
		gen  uint64
		ok   bool
	}{
		{playoutMarkName(12), 12, true},
		{"gen-1", 1, true},
		{HangupMark, 0, false},
		{"gen-", 0, false},
		{"gen-x", 0, false},
	}
	for _, tc := range cases {
		g, ok := playoutGeneration(tc.name)
		if g != tc.gen || ok != tc.ok {
			t.Fatalf("playoutGeneration(%q)=(%d, %v), want (%d, %v)", tc.name, g, ok, tc.gen, tc.ok)
		}
	}
}
