package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/tts"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
)

func noSignals() (func(chan<- os.Signal, ...os.Signal), func(chan<- os.Signal)) {
	return func(chan<- os.Signal, ...os.Signal) {}, func(chan<- os.Signal) {}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	notify, stop := noSignals()
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, callCenterDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		buildRuntime: func(context.Context, config.Config, *slog.Logger) (*runtime, error) {
			t.Fatalf("buildRuntime should not be called when config load fails")
			return nil, nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("stderr=%q, want startup error", stderr.String())
	}
}

func TestRunCallCenter_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownGracePeriod = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notify, stop := noSignals()
	closed := false
	err := runCallCenter(ctx, io.Discard, callCenterDeps{
		loadConfig: func() (config.Config, error) { return cfg, nil },
		buildRuntime: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, func() error { closed = true; return nil })
			return rt, nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})
	if err != nil {
		t.Fatalf("runCallCenter: %v", err)
	}
	if !closed {
		t.Fatal("runtime backends were not closed")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Addr: "127.0.0.1:9999", ReadHeaderTimeout: 2 * time.Second}
	srv := buildHTTPServer(cfg, http.NotFoundHandler())

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != 0 {
		t.Fatalf("ReadTimeout=%v, want 0 for long-lived streams", srv.ReadTimeout)
	}
}

func TestBuildRuntime_HandlerStackSmoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := buildRuntime(context.Background(), config.Defaults(), logger)
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.close()

	ts := httptest.NewServer(rt.gateway.Handler())
	defer ts.Close()

	for path, want := range map[string]int{
		"/healthz":  http.StatusOK,
		"/readyz":   http.StatusOK,
		"/metrics":  http.StatusOK,
		"/v1/nope":  http.StatusNotFound,
		"/v1/media": http.StatusBadRequest,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s status=%d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := config.Defaults()

	cfg.StoreBackend = config.StoreRedis
	cfg.RedisAddr = mr.Addr()
	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore(redis): %v", err)
	}
	if _, ok := store.(*callstate.RedisStore); !ok {
		t.Fatalf("store=%T, want *callstate.RedisStore", store)
	}
	if _, err := store.Create(context.Background(), "CA1"); err != nil {
		t.Fatalf("Create on redis: %v", err)
	}
	_ = store.Close()

	cfg.StoreBackend = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")
	store, err = openStore(cfg)
	if err != nil {
		t.Fatalf("openStore(sqlite): %v", err)
	}
	if _, ok := store.(*callstate.SQLiteStore); !ok {
		t.Fatalf("store=%T, want *callstate.SQLiteStore", store)
	}
	_ = store.Close()

	cfg.StoreBackend = config.StoreMemory
	store, err = openStore(cfg)
	if err != nil {
		t.Fatalf("openStore(memory): %v", err)
	}
	if _, ok := store.(*callstate.MemoryStore); !ok {
		t.Fatalf("store=%T, want *callstate.MemoryStore", store)
	}
}

func TestNewTTSProvider(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	if _, ok := newTTSProvider(cfg).(*tts.CartesiaProvider); !ok {
		t.Fatal("default provider should be cartesia")
	}
	cfg.TTSProvider = config.TTSElevenLabs
	if _, ok := newTTSProvider(cfg).(*tts.ElevenLabsProvider); !ok {
		t.Fatal("expected elevenlabs provider")
	}
}

func TestEngineConfig_MapsPipelineSettings(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.BargeInEnergy = 0.05
	cfg.TTSVoice = "voice-1"
	got := engineConfig(cfg)
	if got.InactivityTimeout != cfg.InactivityTimeout || got.BargeInEnergy != 0.05 {
		t.Fatalf("engine config=%+v", got)
	}
	if got.TTS.Voice != "voice-1" || got.STT.SampleRate != cfg.STTSampleRate {
		t.Fatalf("voice options=%+v / %+v", got.TTS, got.STT)
	}
}

func TestNewLogger_JSONAtDebug(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"
	var buf bytes.Buffer
	newLogger(cfg, &buf).Debug("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") || !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("log output=%q", buf.String())
	}
}
