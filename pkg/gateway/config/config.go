package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"

	ActionsMemory   = "memory"
	ActionsPostgres = "postgres"

	TTSCartesia   = "cartesia"
	TTSElevenLabs = "elevenlabs"
)

// Config is the process configuration. Values come from defaults, then the
// optional YAML file named by VAI_CALLCENTER_CONFIG_FILE, then env vars.
type Config struct {
	Addr      string `yaml:"addr"`
	MediaPath string `yaml:"media_path"`
	// StreamToken, when set, must match the "token" custom parameter of
	// every media stream.
	StreamToken string `yaml:"stream_token"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`

	// Media stream websocket.
	StreamPingInterval        time.Duration `yaml:"stream_ping_interval"`
	StreamWriteTimeout        time.Duration `yaml:"stream_write_timeout"`
	StreamReadTimeout         time.Duration `yaml:"stream_read_timeout"`
	StreamMaxMessageBytes     int64         `yaml:"stream_max_message_bytes"`
	StreamOutboundQueueFrames int           `yaml:"stream_outbound_queue_frames"`
	StreamHangupMarkTimeout   time.Duration `yaml:"stream_hangup_mark_timeout"`
	StreamMaxAudioFPS         int           `yaml:"stream_max_audio_fps"`
	StreamMaxAudioBPS         int64         `yaml:"stream_max_audio_bps"`
	StreamInboundBurstSeconds int           `yaml:"stream_inbound_burst_seconds"`

	// Session store.
	StoreBackend   string        `yaml:"store_backend"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
	SQLitePath     string        `yaml:"sqlite_path"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`

	// Voice vendors.
	CartesiaAPIKey   string  `yaml:"cartesia_api_key"`
	ElevenLabsAPIKey string  `yaml:"elevenlabs_api_key"`
	TTSProvider      string  `yaml:"tts_provider"`
	STTModel         string  `yaml:"stt_model"`
	STTLanguage      string  `yaml:"stt_language"`
	STTEncoding      string  `yaml:"stt_encoding"`
	STTSampleRate    int     `yaml:"stt_sample_rate"`
	TTSVoice         string  `yaml:"tts_voice"`
	TTSModel         string  `yaml:"tts_model"`
	TTSLanguage      string  `yaml:"tts_language"`
	TTSEncoding      string  `yaml:"tts_encoding"`
	TTSSampleRate    int     `yaml:"tts_sample_rate"`
	TTSSpeed         float64 `yaml:"tts_speed"`

	// Pipeline.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	SynthRetryBackoff time.Duration `yaml:"synth_retry_backoff"`
	BackpressureWait  time.Duration `yaml:"backpressure_wait"`
	BargeInEnergy     float64       `yaml:"barge_in_energy"`

	// Order, tracking and support actions.
	ActionsBackend string `yaml:"actions_backend"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`

	// Call events. No brokers disables Kafka and events are logged instead.
	KafkaBrokers      []string `yaml:"kafka_brokers"`
	KafkaEventsTopic  string   `yaml:"kafka_events_topic"`
	KafkaMetricsTopic string   `yaml:"kafka_metrics_topic"`

	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MetricsPath      string `yaml:"metrics_path"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	// MetricsToken, when set, is required as a bearer token on the
	// metrics endpoint.
	MetricsToken string `yaml:"metrics_token"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Addr:                      ":8080",
		MediaPath:                 "/v1/media",
		LogFormat:                 "text",
		LogLevel:                  "info",
		ReadHeaderTimeout:         10 * time.Second,
		ShutdownGracePeriod:       30 * time.Second,
		HandshakeTimeout:          5 * time.Second,
		StreamPingInterval:        20 * time.Second,
		StreamWriteTimeout:        5 * time.Second,
		StreamReadTimeout:         0,
		StreamMaxMessageBytes:     64 * 1024,
		StreamOutboundQueueFrames: 256,
		StreamHangupMarkTimeout:   10 * time.Second,
		StreamMaxAudioFPS:         100,
		StreamMaxAudioBPS:         32 * 1024,
		StreamInboundBurstSeconds: 2,
		StoreBackend:              StoreMemory,
		RedisAddr:                 "localhost:6379",
		RedisKeyPrefix:            "callcenter:session:",
		SQLitePath:                "callcenter.db",
		SessionTTL:                time.Hour,
		SweepInterval:             time.Minute,
		TTSProvider:               TTSCartesia,
		STTModel:                  "ink-whisper",
		STTLanguage:               "en",
		STTEncoding:               "pcm_mulaw",
		STTSampleRate:             8000,
		TTSModel:                  "sonic-3",
		TTSLanguage:               "en",
		TTSEncoding:               "pcm_mulaw",
		TTSSampleRate:             8000,
		InactivityTimeout:         8 * time.Second,
		SynthRetryBackoff:         200 * time.Millisecond,
		BackpressureWait:          20 * time.Millisecond,
		BargeInEnergy:             0.01,
		ActionsBackend:            ActionsMemory,
		KafkaEventsTopic:          "callcenter.events",
		KafkaMetricsTopic:         "callcenter.metrics",
		MetricsEnabled:            true,
		MetricsPath:               "/metrics",
		MetricsNamespace:          "callcenter",
	}
}

func LoadFromEnv() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("VAI_CALLCENTER_CONFIG_FILE")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Addr = envOr("VAI_CALLCENTER_ADDR", cfg.Addr)
	cfg.MediaPath = envOr("VAI_CALLCENTER_MEDIA_PATH", cfg.MediaPath)
	cfg.StreamToken = envOr("VAI_CALLCENTER_STREAM_TOKEN", cfg.StreamToken)
	cfg.LogFormat = strings.ToLower(envOr("VAI_CALLCENTER_LOG_FORMAT", cfg.LogFormat))
	cfg.LogLevel = strings.ToLower(envOr("VAI_CALLCENTER_LOG_LEVEL", cfg.LogLevel))
	cfg.ReadHeaderTimeout = envDurationOr("VAI_CALLCENTER_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("VAI_CALLCENTER_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.HandshakeTimeout = envDurationOr("VAI_CALLCENTER_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)

	cfg.StreamPingInterval = envDurationOr("VAI_CALLCENTER_STREAM_PING_INTERVAL", cfg.StreamPingInterval)
	cfg.StreamWriteTimeout = envDurationOr("VAI_CALLCENTER_STREAM_WRITE_TIMEOUT", cfg.StreamWriteTimeout)
	cfg.StreamReadTimeout = envDurationOr("VAI_CALLCENTER_STREAM_READ_TIMEOUT", cfg.StreamReadTimeout)
	cfg.StreamMaxMessageBytes = envInt64Or("VAI_CALLCENTER_STREAM_MAX_MESSAGE_BYTES", cfg.StreamMaxMessageBytes)
	cfg.StreamOutboundQueueFrames = envIntOr("VAI_CALLCENTER_OUTBOUND_QUEUE_FRAMES", cfg.StreamOutboundQueueFrames)
	cfg.StreamHangupMarkTimeout = envDurationOr("VAI_CALLCENTER_HANGUP_MARK_TIMEOUT", cfg.StreamHangupMarkTimeout)
	cfg.StreamMaxAudioFPS = envIntOr("VAI_CALLCENTER_STREAM_MAX_AUDIO_FPS", cfg.StreamMaxAudioFPS)
	cfg.StreamMaxAudioBPS = envInt64Or("VAI_CALLCENTER_STREAM_MAX_AUDIO_BPS", cfg.StreamMaxAudioBPS)
	cfg.StreamInboundBurstSeconds = envIntOr("VAI_CALLCENTER_STREAM_INBOUND_BURST_SECONDS", cfg.StreamInboundBurstSeconds)

	cfg.StoreBackend = strings.ToLower(envOr("VAI_CALLCENTER_STORE", cfg.StoreBackend))
	cfg.RedisAddr = envOr("VAI_CALLCENTER_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envOr("VAI_CALLCENTER_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envIntOr("VAI_CALLCENTER_REDIS_DB", cfg.RedisDB)
	cfg.RedisKeyPrefix = envOr("VAI_CALLCENTER_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)
	cfg.SQLitePath = envOr("VAI_CALLCENTER_SQLITE_PATH", cfg.SQLitePath)
	cfg.SessionTTL = envDurationOr("VAI_CALLCENTER_SESSION_TTL", cfg.SessionTTL)
	cfg.SweepInterval = envDurationOr("VAI_CALLCENTER_SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.CartesiaAPIKey = envOr("VAI_CALLCENTER_CARTESIA_API_KEY", envOr("CARTESIA_API_KEY", cfg.CartesiaAPIKey))
	cfg.ElevenLabsAPIKey = envOr("VAI_CALLCENTER_ELEVENLABS_API_KEY", envOr("ELEVENLABS_API_KEY", cfg.ElevenLabsAPIKey))
	cfg.TTSProvider = strings.ToLower(envOr("VAI_CALLCENTER_TTS_PROVIDER", cfg.TTSProvider))
	cfg.STTModel = envOr("VAI_CALLCENTER_STT_MODEL", cfg.STTModel)
	cfg.STTLanguage = envOr("VAI_CALLCENTER_STT_LANGUAGE", cfg.STTLanguage)
	cfg.STTEncoding = envOr("VAI_CALLCENTER_STT_ENCODING", cfg.STTEncoding)
	cfg.STTSampleRate = envIntOr("VAI_CALLCENTER_STT_SAMPLE_RATE", cfg.STTSampleRate)
	cfg.TTSVoice = envOr("VAI_CALLCENTER_TTS_VOICE", cfg.TTSVoice)
	cfg.TTSModel = envOr("VAI_CALLCENTER_TTS_MODEL", cfg.TTSModel)
	cfg.TTSLanguage = envOr("VAI_CALLCENTER_TTS_LANGUAGE", cfg.TTSLanguage)
	cfg.TTSEncoding = envOr("VAI_CALLCENTER_TTS_ENCODING", cfg.TTSEncoding)
	cfg.TTSSampleRate = envIntOr("VAI_CALLCENTER_TTS_SAMPLE_RATE", cfg.TTSSampleRate)
	cfg.TTSSpeed = envFloat64Or("VAI_CALLCENTER_TTS_SPEED", cfg.TTSSpeed)

	cfg.InactivityTimeout = envDurationOr("VAI_CALLCENTER_INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	cfg.SynthRetryBackoff = envDurationOr("VAI_CALLCENTER_SYNTH_RETRY_BACKOFF", cfg.SynthRetryBackoff)
	cfg.BackpressureWait = envDurationOr("VAI_CALLCENTER_BACKPRESSURE_WAIT", cfg.BackpressureWait)
	cfg.BargeInEnergy = envFloat64Or("VAI_CALLCENTER_BARGE_IN_ENERGY", cfg.BargeInEnergy)

	cfg.ActionsBackend = strings.ToLower(envOr("VAI_CALLCENTER_ACTIONS", cfg.ActionsBackend))
	cfg.PostgresDSN = envOr("VAI_CALLCENTER_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.MigrateOnStart = envBoolOr("VAI_CALLCENTER_MIGRATE_ON_START", cfg.MigrateOnStart)

	if brokers := splitCSV(os.Getenv("VAI_CALLCENTER_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	cfg.KafkaEventsTopic = envOr("VAI_CALLCENTER_KAFKA_EVENTS_TOPIC", cfg.KafkaEventsTopic)
	cfg.KafkaMetricsTopic = envOr("VAI_CALLCENTER_KAFKA_METRICS_TOPIC", cfg.KafkaMetricsTopic)

	cfg.MetricsEnabled = envBoolOr("VAI_CALLCENTER_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsPath = envOr("VAI_CALLCENTER_METRICS_PATH", cfg.MetricsPath)
	cfg.MetricsNamespace = envOr("VAI_CALLCENTER_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.MetricsToken = envOr("VAI_CALLCENTER_METRICS_TOKEN", cfg.MetricsToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("VAI_CALLCENTER_ADDR must not be empty")
	}
	if !strings.HasPrefix(c.MediaPath, "/") {
		return fmt.Errorf("VAI_CALLCENTER_MEDIA_PATH must start with /")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("VAI_CALLCENTER_LOG_FORMAT must be one of text|json")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("VAI_CALLCENTER_LOG_LEVEL must be one of debug|info|warn|error")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.StreamPingInterval <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_STREAM_PING_INTERVAL must be > 0")
	}
	if c.StreamWriteTimeout <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_STREAM_WRITE_TIMEOUT must be > 0")
	}
	if c.StreamReadTimeout < 0 {
		return fmt.Errorf("VAI_CALLCENTER_STREAM_READ_TIMEOUT must be >= 0")
	}
	if c.StreamMaxMessageBytes <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_STREAM_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.StreamOutboundQueueFrames <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_OUTBOUND_QUEUE_FRAMES must be > 0")
	}
	if c.StreamHangupMarkTimeout <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_HANGUP_MARK_TIMEOUT must be > 0")
	}
	if c.StreamMaxAudioFPS < 0 || c.StreamMaxAudioBPS < 0 {
		return fmt.Errorf("inbound audio limits must be >= 0")
	}
	if (c.StreamMaxAudioFPS > 0 || c.StreamMaxAudioBPS > 0) && c.StreamInboundBurstSeconds < 1 {
		return fmt.Errorf("VAI_CALLCENTER_STREAM_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("VAI_CALLCENTER_REDIS_ADDR must be set when VAI_CALLCENTER_STORE=redis")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("VAI_CALLCENTER_SQLITE_PATH must be set when VAI_CALLCENTER_STORE=sqlite")
		}
	default:
		return fmt.Errorf("VAI_CALLCENTER_STORE must be one of memory|redis|sqlite")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_SWEEP_INTERVAL must be > 0")
	}

	switch c.TTSProvider {
	case TTSCartesia:
	case TTSElevenLabs:
		if strings.TrimSpace(c.TTSVoice) == "" {
			return fmt.Errorf("VAI_CALLCENTER_TTS_VOICE must be set when VAI_CALLCENTER_TTS_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("VAI_CALLCENTER_TTS_PROVIDER must be one of cartesia|elevenlabs")
	}
	if c.STTSampleRate <= 0 || c.TTSSampleRate <= 0 {
		return fmt.Errorf("stt and tts sample rates must be > 0")
	}
	if c.TTSSpeed != 0 && (c.TTSSpeed < 0.6 || c.TTSSpeed > 1.5) {
		return fmt.Errorf("VAI_CALLCENTER_TTS_SPEED must be within 0.6-1.5")
	}

	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("VAI_CALLCENTER_INACTIVITY_TIMEOUT must be > 0")
	}
	if c.SynthRetryBackoff < 0 || c.BackpressureWait < 0 {
		return fmt.Errorf("pipeline waits must be >= 0")
	}
	if c.BargeInEnergy < 0 || c.BargeInEnergy > 1 {
		return fmt.Errorf("VAI_CALLCENTER_BARGE_IN_ENERGY must be within 0-1")
	}

	switch c.ActionsBackend {
	case ActionsMemory:
	case ActionsPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("VAI_CALLCENTER_POSTGRES_DSN must be set when VAI_CALLCENTER_ACTIONS=postgres")
		}
	default:
		return fmt.Errorf("VAI_CALLCENTER_ACTIONS must be one of memory|postgres")
	}

	if len(c.KafkaBrokers) > 0 && (strings.TrimSpace(c.KafkaEventsTopic) == "" || strings.TrimSpace(c.KafkaMetricsTopic) == "") {
		return fmt.Errorf("kafka topics must be set when VAI_CALLCENTER_KAFKA_BROKERS is set")
	}
	if c.MetricsEnabled && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("VAI_CALLCENTER_METRICS_PATH must start with /")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
