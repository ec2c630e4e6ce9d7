package mediastream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

// Conn is the subset of *websocket.Conn a stream uses.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type Dependencies struct {
	Conn   Conn
	Engine *live.Engine
	// Start is the provider's start frame, already read by the handler.
	Start  Start
	Logger *slog.Logger
	Config Config
	Now    func() time.Time
}

// Stream bridges one provider media stream to a live.Call.
type Stream struct {
	conn      Conn
	call      *live.Call
	transport *streamTransport
	start     Start
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Stream, error) {
	if deps.Conn == nil {
		return nil, errors.New("mediastream: conn is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("mediastream: engine is required")
	}
	callID := strings.TrimSpace(deps.Start.Start.CallSID)
	if callID == "" {
		return nil, errors.New("mediastream: start frame has no call sid")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg := deps.Config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	transport := newStreamTransport(deps.Start.StreamSID, cfg)
	return &Stream{
		conn:      deps.Conn,
		call:      deps.Engine.NewCall(callID, transport),
		transport: transport,
		start:     deps.Start,
		logger:    logger.With("call_id", callID, "stream_sid", deps.Start.StreamSID),
		cfg:       cfg,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (s *Stream) CallID() string { return s.call.ID() }

// Cancel ends the stream; the call is stopped and its metrics flushed
// before Run returns.
func (s *Stream) Cancel() { s.cancel() }

// Run serves the stream until the provider stops it, the call hangs up or
// the connection fails. It returns the call's final metrics.
func (s *Stream) Run() (live.CallMetrics, error) {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		})
	}

	g, gctx := errgroup.WithContext(s.ctx)
	readCh := make(chan inboundFrame, 64)
	go s.readLoop(gctx, readCh)
	g.Go(func() error {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      gctx,
			cfg:      s.cfg,
			priority: s.transport.priority,
			normal:   s.transport.normal,
			isStale:  s.call.Playback().IsStale,
		}
		if err := w.Run(); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	})

	var loopErr error
	g.Go(func() error {
		defer s.cancel()
		err := s.serve(gctx, readCh)
		loopErr = err
		return err
	})

	err := g.Wait()
	s.transport.close()
	if loopErr == nil && err != nil {
		s.logger.Warn("media stream writer failed", "err", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metrics := s.call.OnSessionStop(stopCtx)
	return metrics, err
}

func (s *Stream) serve(ctx context.Context, readCh <-chan inboundFrame) error {
	params := live.StartParams{StreamID: s.start.StreamSID, Custom: s.start.Start.CustomParameters}
	if err := s.call.OnSessionStart(ctx, params); err != nil {
		return err
	}

	limiter := newInboundAudioLimiter(s.now, s.cfg.MaxAudioFPS, s.cfg.MaxAudioBytesPerSecond, s.cfg.InboundBurstSeconds)
	dropped := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.transport.Closed():
			s.logger.Info("media stream closed after hangup")
			return nil
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("read: %w", frame.err)
			}
			if frame.messageType != websocket.TextMessage {
				continue
			}
			msg, err := DecodeInbound(frame.data)
			if err != nil {
				s.logger.Debug("ignoring media stream frame", "err", err)
				continue
			}
			switch m := msg.(type) {
			case Media:
				if m.Media.Track != "" && m.Media.Track != "inbound" {
					continue
				}
				audio, err := m.Audio()
				if err != nil {
					s.logger.Debug("ignoring media frame", "err", err)
					continue
				}
				if !limiter.Allow(len(audio)) {
					dropped++
					if dropped == 1 || dropped%100 == 0 {
						s.logger.Warn("inbound audio rate limited", "dropped", dropped)
					}
					continue
				}
				if err := s.call.OnAudioChunk(audio); err != nil {
					s.logger.Warn("audio not forwarded", "err", err)
				}
			case Mark:
				if g, ok := playoutGeneration(m.Mark.Name); ok {
					s.call.OnPlayoutMark(g)
					continue
				}
				if s.transport.markReceived(m.Mark.Name) {
					s.logger.Info("hangup mark played")
					return nil
				}
			case Stop:
				s.logger.Info("media stream stopped by provider")
				return nil
			case DTMF:
				s.logger.Debug("dtmf", "digit", m.DTMF.Digit)
			case Start, Connected:
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}
