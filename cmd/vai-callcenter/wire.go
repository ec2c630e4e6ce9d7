package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-callcenter/pkg/callevents"
	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/dialog"
	"github.com/vango-go/vai-callcenter/pkg/core/live"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/tts"
	"github.com/vango-go/vai-callcenter/pkg/fulfillment"
	"github.com/vango-go/vai-callcenter/pkg/gateway/calls"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
	"github.com/vango-go/vai-callcenter/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callcenter/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-callcenter/pkg/gateway/server"
)

// runtime is everything the process builds from config. close releases
// backends in reverse order of construction.
type runtime struct {
	gateway *gatewayserver.Server
	store   callstate.Store
	closers []func() error
}

func (r *runtime) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{}
	defer func() {
		if err != nil {
			_ = rt.close()
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	actions, closeActions, err := openActions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeActions != nil {
		rt.closers = append(rt.closers, closeActions)
	}

	var promMetrics *metrics.Metrics
	sinks := live.MultiSink{}
	if cfg.MetricsEnabled {
		promMetrics = metrics.NewMetrics(cfg.MetricsNamespace)
		sinks = append(sinks, promMetrics)
	}

	var summaries live.MetricsSink = callevents.LogSink{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := callevents.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaMetricsTopic, logger)
		kafkaSink.SkipDeltas = true
		rt.closers = append(rt.closers, kafkaSink.Close)
		sinks = append(sinks, kafkaSink)
		summaries = kafkaSink
	} else {
		sinks = append(sinks, callevents.LogSink{Logger: logger})
	}

	engine, err := live.NewEngine(live.Dependencies{
		Store:   store,
		Machine: dialog.NewMachine(dialog.DefaultMenu),
		Actions: actions,
		STT:     live.STTProviderAdapter{Provider: stt.NewCartesia(cfg.CartesiaAPIKey)},
		TTS:     newTTSProvider(cfg),
		Events:  sinks,
		Metrics: summaries,
		Logger:  logger,
		Config:  engineConfig(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("build call engine: %w", err)
	}

	rt.gateway = gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Engine:    engine,
		Lifecycle: &lifecycle.Lifecycle{},
		Calls:     calls.NewTracker(),
		Metrics:   promMetrics,
	})
	return rt, nil
}

func openStore(cfg config.Config) (callstate.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return callstate.NewRedisStore(client, cfg.SessionTTL, callstate.WithKeyPrefix(cfg.RedisKeyPrefix)), nil
	case config.StoreSQLite:
		store, err := callstate.NewSQLiteStore(cfg.SQLitePath, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return store, nil
	default:
		return callstate.NewMemoryStore(cfg.SessionTTL), nil
	}
}

func openActions(ctx context.Context, cfg config.Config) (dialog.Actions, func() error, error) {
	if cfg.ActionsBackend != config.ActionsPostgres {
		return fulfillment.NewMemory(), nil, nil
	}
	pg, err := fulfillment.OpenPostgres(ctx, cfg.PostgresDSN, cfg.MigrateOnStart)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() error { pg.Close(); return nil }, nil
}

func newTTSProvider(cfg config.Config) tts.Provider {
	if strings.EqualFold(cfg.TTSProvider, config.TTSElevenLabs) {
		return tts.NewElevenLabs(cfg.ElevenLabsAPIKey)
	}
	return tts.NewCartesia(cfg.CartesiaAPIKey)
}

func engineConfig(cfg config.Config) live.Config {
	return live.Config{
		InactivityTimeout: cfg.InactivityTimeout,
		SynthRetryBackoff: cfg.SynthRetryBackoff,
		BackpressureWait:  cfg.BackpressureWait,
		BargeInEnergy:     cfg.BargeInEnergy,
		STT: stt.TranscribeOptions{
			Model:      cfg.STTModel,
			Language:   cfg.STTLanguage,
			Encoding:   cfg.STTEncoding,
			SampleRate: cfg.STTSampleRate,
		},
		TTS: tts.SynthesizeOptions{
			Voice:      cfg.TTSVoice,
			Model:      cfg.TTSModel,
			Language:   cfg.TTSLanguage,
			Encoding:   cfg.TTSEncoding,
			SampleRate: cfg.TTSSampleRate,
			Speed:      cfg.TTSSpeed,
		},
	}
}
