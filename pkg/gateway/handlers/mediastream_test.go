package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/live"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/tts"
	"github.com/vango-go/vai-callcenter/pkg/gateway/calls"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
	"github.com/vango-go/vai-callcenter/pkg/gateway/lifecycle"
)

type silentRecognizer struct {
	transcripts chan stt.TranscriptDelta
	once        sync.Once
}

func (r *silentRecognizer) SendAudio([]byte) error                  { return nil }
func (r *silentRecognizer) Transcripts() <-chan stt.TranscriptDelta { return r.transcripts }
func (r *silentRecognizer) Finish(context.Context) error            { return r.Close() }
func (r *silentRecognizer) Err() error                              { return nil }
func (r *silentRecognizer) Close() error {
	r.once.Do(func() { close(r.transcripts) })
	return nil
}

type silentSTT struct{}

func (silentSTT) NewSession(context.Context, stt.TranscribeOptions) (live.Recognizer, error) {
	return &silentRecognizer{transcripts: make(chan stt.TranscriptDelta)}, nil
}

type toneTTS struct{}

func (toneTTS) Name() string { return "tone" }

func (toneTTS) SynthesizeStream(context.Context, string, tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	s := tts.NewSynthesisStream()
	go func() {
		defer s.FinishSending()
		s.Send(make([]byte, 320))
	}()
	return s, nil
}

type mediaStreamFixture struct {
	srv     *httptest.Server
	calls   *calls.Tracker
	life    *lifecycle.Lifecycle
	handler MediaStreamHandler
}

func newMediaStreamFixture(t *testing.T, token string) *mediaStreamFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := live.NewEngine(live.Dependencies{
		Store:  callstate.NewMemoryStore(time.Hour),
		STT:    silentSTT{},
		TTS:    toneTTS{},
		Logger: logger,
		Config: live.Config{InactivityTimeout: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	cfg := config.Defaults()
	cfg.StreamToken = token
	cfg.StreamHangupMarkTimeout = time.Hour

	f := &mediaStreamFixture{calls: calls.NewTracker(), life: &lifecycle.Lifecycle{}}
	f.handler = MediaStreamHandler{
		Config:    cfg,
		Engine:    engine,
		Logger:    logger,
		Lifecycle: f.life,
		Calls:     f.calls,
	}
	f.srv = httptest.NewServer(f.handler)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *mediaStreamFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func startFrame(callSID, token string) string {
	params := map[string]string{}
	if token != "" {
		params["token"] = token
	}
	b, _ := json.Marshal(map[string]any{
		"event":     "start",
		"streamSid": "MZ1",
		"start": map[string]any{
			"callSid":          callSID,
			"streamSid":        "MZ1",
			"customParameters": params,
		},
	})
	return string(b)
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return env.Event, nil
}

func TestMediaStreamHandler_GreetsAndStops(t *testing.T) {
	f := newMediaStreamFixture(t, "")
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)); err != nil {
		t.Fatalf("write connected: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(startFrame("CA42", ""))); err != nil {
		t.Fatalf("write start: %v", err)
	}

	ev, err := readEvent(t, conn)
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if ev != "media" {
		t.Fatalf("first event = %q, want media", ev)
	}
	if !f.calls.Active("CA42") {
		t.Fatal("call not registered while streaming")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA42"}}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !f.calls.Wait(ctx) {
		t.Fatalf("call still active after stop: count=%d", f.calls.Count())
	}
}

func TestMediaStreamHandler_RejectsBadToken(t *testing.T) {
	f := newMediaStreamFixture(t, "s3cret")
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(startFrame("CA1", "wrong"))); err != nil {
		t.Fatalf("write start: %v", err)
	}
	_, err := readEvent(t, conn)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy violation close", err)
	}
	if f.calls.Count() != 0 {
		t.Fatalf("active calls = %d, want 0", f.calls.Count())
	}
}

func TestMediaStreamHandler_RequiresStart(t *testing.T) {
	f := newMediaStreamFixture(t, "")
	conn := f.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"media","media":{"payload":"/w=="}}`)); err != nil {
		t.Fatalf("write media: %v", err)
	}
	_, err := readEvent(t, conn)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy violation close", err)
	}
}

func TestMediaStreamHandler_DrainingRejects(t *testing.T) {
	f := newMediaStreamFixture(t, "")
	f.life.SetDraining(true)

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/media", nil))
	if rr.Code != 529 {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"type":"overloaded_error"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestMediaStreamHandler_MethodNotAllowed(t *testing.T) {
	f := newMediaStreamFixture(t, "")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/media", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}
