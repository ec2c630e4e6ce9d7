package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/voice"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewCartesia_NameAndURLOverride(t *testing.T) {
	p := NewCartesia(" key ")
	if p.Name() != "cartesia" {
		t.Fatalf("name = %q, want cartesia", p.Name())
	}
	if p.apiKey != "key" {
		t.Fatalf("apiKey = %q, want trimmed", p.apiKey)
	}
	if p.WithWSURL("  ").wsURL != cartesiaWSURL {
		t.Fatal("blank override should keep the default endpoint")
	}
	if got := p.WithWSURL("ws://127.0.0.1:1/stt").wsURL; got != "ws://127.0.0.1:1/stt" {
		t.Fatalf("wsURL = %q", got)
	}
}

func TestBuildURL_TelephonyDefaults(t *testing.T) {
	p := NewCartesia("k")
	raw, err := p.buildURL(TranscribeOptions{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	for _, want := range []string{"model=ink-whisper", "language=en", "encoding=pcm_mulaw", "sample_rate=8000", "min_volume=0.01", "api_key=k"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("url %q missing %q", raw, want)
		}
	}

	raw, err = p.buildURL(TranscribeOptions{Encoding: "bogus", SampleRate: 16000, Language: "hi"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if !strings.Contains(raw, "encoding=pcm_mulaw") || !strings.Contains(raw, "sample_rate=16000") || !strings.Contains(raw, "language=hi") {
		t.Fatalf("url = %q", raw)
	}
}

func TestGetEncoding(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{format: "pcm_mulaw", want: "pcm_mulaw"},
		{format: "pcm_s16le", want: "pcm_s16le"},
		{format: "wav", want: ""},
		{format: "", want: ""},
	}
	for _, tc := range tests {
		if got := getEncoding(tc.format); got != tc.want {
			t.Fatalf("getEncoding(%q) = %q, want %q", tc.format, got, tc.want)
		}
	}
}

func TestStreamingSTT_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" || r.Header.Get("Cartesia-Version") != cartesiaVersion {
			http.Error(w, "bad headers", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				gotAudio <- data
				_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "one chicken", "is_final": false})
				_ = conn.WriteJSON(map[string]any{"type": "transcript", "text": "one chicken burger", "is_final": true, "confidence": 0.92})
				continue
			}
			if string(data) == "done" {
				_ = conn.WriteJSON(map[string]any{"type": "done"})
				return
			}
		}
	}))
	defer srv.Close()

	p := NewCartesia("k").WithWSURL(wsURL(srv))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := p.NewStreamingSTT(ctx, TranscribeOptions{})
	if err != nil {
		t.Fatalf("NewStreamingSTT: %v", err)
	}
	if err := s.SendAudio([]byte{0xff, 0x7f}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if got := <-gotAudio; len(got) != 2 {
		t.Fatalf("server got %d bytes, want 2", len(got))
	}

	first := <-s.Transcripts()
	if first.IsFinal || first.Text != "one chicken" {
		t.Fatalf("first delta = %+v, want interim", first)
	}
	second := <-s.Transcripts()
	if !second.IsFinal || second.Text != "one chicken burger" || second.Confidence != 0.92 {
		t.Fatalf("second delta = %+v, want final with confidence", second)
	}

	if err := s.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, ok := <-s.Transcripts(); ok {
		t.Fatal("transcripts channel should be closed after Finish")
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v, want nil after clean finish", s.Err())
	}
	if err := s.SendAudio([]byte{1}); err != ErrSessionClosed {
		t.Fatalf("SendAudio after finish err = %v, want ErrSessionClosed", err)
	}
}

func TestStreamingSTT_VendorErrorIsTransient(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "error", "error": "model overloaded"})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	s, err := NewCartesia("k").WithWSURL(wsURL(srv)).NewStreamingSTT(context.Background(), TranscribeOptions{})
	if err != nil {
		t.Fatalf("NewStreamingSTT: %v", err)
	}
	defer s.Close()

	<-s.Done()
	if !voice.IsTransient(s.Err()) || !strings.Contains(s.Err().Error(), "model overloaded") {
		t.Fatalf("Err() = %v, want transient vendor error", s.Err())
	}
}

func TestNewStreamingSTT_DialErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "api_key=bad") {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewCartesia("bad").WithWSURL(wsURL(srv)).NewStreamingSTT(context.Background(), TranscribeOptions{})
	if err == nil || voice.IsTransient(err) {
		t.Fatalf("err = %v, want non-transient auth failure", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("err = %v, want vendor body in message", err)
	}

	_, err = NewCartesia("good").WithWSURL(wsURL(srv)).NewStreamingSTT(context.Background(), TranscribeOptions{})
	if !voice.IsTransient(err) {
		t.Fatalf("err = %v, want transient 503", err)
	}
}
