package mediastream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/live"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/tts"
)

type fakeConn struct {
	fakeWSWriter
	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.reads:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) Close() error                      { c.closeOnce.Do(func() { close(c.closed) }); return nil }
func (c *fakeConn) push(frame string)                 { c.reads <- []byte(frame) }

type nopRecognizer struct {
	transcripts chan stt.TranscriptDelta
	once        sync.Once
}

func (r *nopRecognizer) SendAudio([]byte) error                  { return nil }
func (r *nopRecognizer) Transcripts() <-chan stt.TranscriptDelta { return r.transcripts }
func (r *nopRecognizer) Finish(context.Context) error            { return r.Close() }
func (r *nopRecognizer) Err() error                              { return nil }
func (r *nopRecognizer) Close() error {
	r.once.Do(func() { close(r.transcripts) })
	return nil
}

type nopSTT struct{}

func (nopSTT) NewSession(context.Context, stt.TranscribeOptions) (live.Recognizer, error) {
	return &nopRecognizer{transcripts: make(chan stt.TranscriptDelta)}, nil
}

// toneTTS answers every request with 400 bytes of mu-law silence.
type toneTTS struct{}

func (toneTTS) Name() string { return "tone" }

func (toneTTS) SynthesizeStream(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	s := tts.NewSynthesisStream()
	go func() {
		defer s.FinishSending()
		audio := make([]byte, 400)
		for i := range audio {
			audio[i] = 0xFF
		}
		s.Send(audio)
	}()
	return s, nil
}

type downStore struct{}

func (downStore) Get(context.Context, string) (callstate.CallSession, error) {
	return callstate.CallSession{}, callstate.ErrUnavailable
}
func (downStore) Create(context.Context, string) (callstate.CallSession, error) {
	return callstate.CallSession{}, callstate.ErrUnavailable
}
func (downStore) Apply(context.Context, string, callstate.Mutation) (callstate.CallSession, error) {
	return callstate.CallSession{}, callstate.ErrUnavailable
}
func (downStore) Sweep(context.Context) (int, error) { return 0, callstate.ErrUnavailable }
func (downStore) Close() error                       { return nil }

func newTestStream(t *testing.T, store callstate.Store, conn *fakeConn) *Stream {
	t.Helper()
	engine, err := live.NewEngine(live.Dependencies{
		Store:  store,
		STT:    nopSTT{},
		TTS:    toneTTS{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: live.Config{InactivityTimeout: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s, err := New(Dependencies{
		Conn:   conn,
		Engine: engine,
		Start:  Start{StreamSID: "MZ1", Start: StartInfo{CallSID: "CA1", StreamSID: "MZ1"}},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: Config{PingInterval: time.Hour, HangupMarkTimeout: time.Hour},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

type runResult struct {
	metrics live.CallMetrics
	err     error
}

func runAsync(s *Stream) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		m, err := s.Run()
		done <- runResult{metrics: m, err: err}
	}()
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func awaitRun(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return runResult{}
	}
}

func TestNew_RequiresCallSid(t *testing.T) {
	_, err := New(Dependencies{Conn: newFakeConn(), Engine: &live.Engine{}})
	if err == nil {
		t.Fatal("expected error without call sid")
	}
}

func TestStream_GreetingThenProviderStop(t *testing.T) {
	conn := newFakeConn()
	s := newTestStream(t, callstate.NewMemoryStore(time.Hour), conn)
	if s.CallID() != "CA1" {
		t.Fatalf("CallID() = %q, want CA1", s.CallID())
	}
	done := runAsync(s)

	waitFor(t, "greeting audio", func() bool { return len(conn.textWrites(EventMedia)) >= 3 })
	for _, w := range conn.textWrites(EventMedia) {
		if !strings.Contains(w, `"streamSid":"MZ1"`) {
			t.Fatalf("media frame = %s", w)
		}
	}

	conn.push(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"/w=="}}`)
	conn.push(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)

	res := awaitRun(t, done)
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.metrics.CallID != "CA1" || res.metrics.Responses != 1 {
		t.Fatalf("metrics = %+v", res.metrics)
	}
}

func TestStream_FatalStoreHangsUpOnMark(t *testing.T) {
	conn := newFakeConn()
	s := newTestStream(t, downStore{}, conn)
	done := runAsync(s)

	waitFor(t, "hangup mark", func() bool { return len(conn.textWrites(EventMark)) == 2 })
	marks := conn.textWrites(EventMark)
	if !strings.Contains(marks[0], `"name":"gen-1"`) || !strings.Contains(marks[1], `"name":"hangup"`) {
		t.Fatalf("marks = %v, want the apology's end mark then hangup", marks)
	}
	// Audio for the apology precedes the mark.
	writes := conn.snapshot()
	if !strings.Contains(writes[0].data, `"event":"media"`) {
		t.Fatalf("first write = %s, want apology audio", writes[0].data)
	}

	conn.push(`{"event":"mark","streamSid":"MZ1","mark":{"name":"hangup"}}`)
	res := awaitRun(t, done)
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if conn.snapshot()[len(conn.snapshot())-1].messageType != websocket.CloseMessage {
		t.Fatal("stream should close the websocket after the hangup mark")
	}
}

func TestStream_CancelStopsCall(t *testing.T) {
	conn := newFakeConn()
	s := newTestStream(t, callstate.NewMemoryStore(time.Hour), conn)
	done := runAsync(s)
	waitFor(t, "greeting audio", func() bool { return len(conn.textWrites(EventMedia)) > 0 })

	s.Cancel()
	res := awaitRun(t, done)
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		t.Fatalf("Run() error = %v", res.err)
	}
	if res.metrics.CallID != "CA1" {
		t.Fatalf("metrics = %+v", res.metrics)
	}
}

func TestStream_CallerSpeechBeforeEndMarkIsBargeIn(t *testing.T) {
	conn := newFakeConn()
	s := newTestStream(t, callstate.NewMemoryStore(time.Hour), conn)
	done := runAsync(s)

	// Every greeting frame has been written, but the provider has not
	// reported it played.
	waitFor(t, "greeting end mark", func() bool { return len(conn.textWrites(EventMark)) == 1 })
	if mark := conn.textWrites(EventMark)[0]; !strings.Contains(mark, `"name":"gen-1"`) {
		t.Fatalf("mark = %s, want gen-1", mark)
	}
	if !s.call.Playback().Speaking() {
		t.Fatal("greeting stopped speaking before its end mark was echoed")
	}

	conn.push(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"AAAA"}}`)
	waitFor(t, "clear", func() bool { return len(conn.textWrites(EventClear)) == 1 })
	if s.call.Playback().Speaking() {
		t.Fatal("still speaking after barge-in")
	}

	conn.push(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)
	res := awaitRun(t, done)
	if res.metrics.Interruptions != 1 {
		t.Fatalf("interruptions = %d, want 1", res.metrics.Interruptions)
	}
}

func TestStream_EchoedEndMarkFinishesReply(t *testing.T) {
	conn := newFakeConn()
	s := newTestStream(t, callstate.NewMemoryStore(time.Hour), conn)
	done := runAsync(s)

	waitFor(t, "greeting end mark", func() bool { return len(conn.textWrites(EventMark)) == 1 })
	conn.push(`{"event":"mark","streamSid":"MZ1","mark":{"name":"gen-1"}}`)
	waitFor(t, "playout finished", func() bool { return !s.call.Playback().Speaking() })

	conn.push(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"AAAA"}}`)
	conn.push(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)
	res := awaitRun(t, done)
	if got := len(conn.textWrites(EventClear)); got != 0 {
		t.Fatalf("clear frames = %d, want 0 after the reply played out", got)
	}
	if res.metrics.Interruptions != 0 {
		t.Fatalf("interruptions = %d, want 0", res.metrics.Interruptions)
	}
}
