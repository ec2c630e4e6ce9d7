package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
	"github.com/vango-go/vai-callcenter/pkg/gateway/apierror"
	"github.com/vango-go/vai-callcenter/pkg/gateway/calls"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
	"github.com/vango-go/vai-callcenter/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callcenter/pkg/gateway/mediastream"
	"github.com/vango-go/vai-callcenter/pkg/gateway/mw"
)

// MediaStreamHandler accepts telephony media stream websockets and runs one
// call per connection.
type MediaStreamHandler struct {
	Config    config.Config
	Engine    *live.Engine
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Calls     *calls.Tracker
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.InvalidRequest, Message: "method not allowed", Code: "method_not_allowed"})
		return
	}
	if h.Lifecycle.IsDraining() {
		writeError(w, r, apierror.StatusOverloaded, &apierror.Error{Type: apierror.Overloaded, Message: "gateway is draining", Code: "draining"})
		return
	}
	if h.Engine == nil {
		writeError(w, r, http.StatusInternalServerError, &apierror.Error{Type: apierror.API, Message: "call engine is not configured"})
		return
	}

	// Media streams come from the telephony provider, not browsers.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("request_id", requestIDFromRequest(r))
	if h.Config.StreamMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.StreamMaxMessageBytes)
	}

	start, ok := h.awaitStart(conn, logger)
	if !ok {
		return
	}
	if !h.tokenAllowed(start) {
		logger.Warn("media stream rejected", "call_id", start.Start.CallSID, "reason", "invalid stream token")
		closeWS(conn, websocket.ClosePolicyViolation, "invalid stream token")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	stream, err := mediastream.New(mediastream.Dependencies{
		Conn:   conn,
		Engine: h.Engine,
		Start:  start,
		Logger: logger,
		Config: h.streamConfig(),
	})
	if err != nil {
		logger.Warn("media stream rejected", "error", err)
		closeWS(conn, websocket.CloseInternalServerErr, "failed to start call")
		return
	}

	unregister := func() {}
	if h.Calls != nil {
		unregister = h.Calls.Register(stream.CallID(), calls.Handle{Cancel: stream.Cancel})
	}
	defer unregister()

	logger.Info("media stream started", "call_id", stream.CallID(), "stream_sid", start.StreamSID)
	metrics, err := stream.Run()
	if err != nil {
		logger.Warn("media stream ended with error", "call_id", stream.CallID(), "error", err)
	}
	logger.Info("media stream ended",
		"call_id", stream.CallID(),
		"final_phase", metrics.FinalPhase,
		"utterances", metrics.Utterances,
		"duration_ms", metrics.Duration.Milliseconds(),
	)
}

// awaitStart reads frames until the provider's start event, skipping the
// leading connected event.
func (h MediaStreamHandler) awaitStart(conn *websocket.Conn, logger *slog.Logger) (mediastream.Start, bool) {
	timeout := h.Config.HandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	for i := 0; i < 4; i++ {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("media stream handshake failed", "error", err)
			return mediastream.Start{}, false
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := mediastream.DecodeInbound(data)
		if err != nil {
			logger.Warn("invalid media stream handshake frame", "error", err)
			closeWS(conn, websocket.CloseUnsupportedData, "invalid start frame")
			return mediastream.Start{}, false
		}
		switch m := msg.(type) {
		case mediastream.Connected:
			continue
		case mediastream.Start:
			return m, true
		default:
			closeWS(conn, websocket.ClosePolicyViolation, "expected start event")
			return mediastream.Start{}, false
		}
	}
	closeWS(conn, websocket.ClosePolicyViolation, "expected start event")
	return mediastream.Start{}, false
}

func (h MediaStreamHandler) tokenAllowed(start mediastream.Start) bool {
	want := strings.TrimSpace(h.Config.StreamToken)
	if want == "" {
		return true
	}
	got := strings.TrimSpace(start.Start.CustomParameters["token"])
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (h MediaStreamHandler) streamConfig() mediastream.Config {
	return mediastream.Config{
		PingInterval:           h.Config.StreamPingInterval,
		WriteTimeout:           h.Config.StreamWriteTimeout,
		ReadTimeout:            h.Config.StreamReadTimeout,
		MaxMessageBytes:        h.Config.StreamMaxMessageBytes,
		OutboundQueueFrames:    h.Config.StreamOutboundQueueFrames,
		HangupMarkTimeout:      h.Config.StreamHangupMarkTimeout,
		MaxAudioFPS:            h.Config.StreamMaxAudioFPS,
		MaxAudioBytesPerSecond: h.Config.StreamMaxAudioBPS,
		InboundBurstSeconds:    h.Config.StreamInboundBurstSeconds,
	}
}

func (h MediaStreamHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(2*time.Second))
}

func requestIDFromRequest(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}
