package mediastream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundFrame is one encoded Twilio message. Only audio frames carry a
// playback generation; clear and mark frames are never stale.
type outboundFrame struct {
	payload    []byte
	audio      bool
	generation uint64
}

// outboundWriter is the single writer for a media stream. The priority lane
// (clear) is drained before every audio write, and audio whose generation
// has been superseded is dropped instead of reaching the caller.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      Config
	priority <-chan outboundFrame
	normal   <-chan outboundFrame
	isStale  func(uint64) bool
}

// Run writes until the context ends (flushing pending clears and sending a
// close frame) or both lanes are closed.
func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}
	timeout := durationOr(w.cfg.WriteTimeout, 5*time.Second)
	ping := time.NewTicker(durationOr(w.cfg.PingInterval, 20*time.Second))
	defer ping.Stop()

	var done <-chan struct{}
	if w.ctx != nil {
		done = w.ctx.Done()
	}

	for w.priority != nil || w.normal != nil {
		if w.ctx != nil && w.ctx.Err() != nil {
			w.shutdown(timeout)
			return nil
		}
		if err := w.drainPriority(timeout); err != nil {
			return err
		}

		select {
		case <-done:
		case <-ping.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(timeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.writeFrame(frame, timeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			// A barge-in may have queued a clear while this frame was
			// being dequeued; it still goes first.
			if err := w.drainPriority(timeout); err != nil {
				return err
			}
			if err := w.writeFrame(frame, timeout); err != nil {
				return err
			}
		}
	}
	return nil
}

// pollPriority returns a queued priority frame without blocking.
func (w *outboundWriter) pollPriority() (outboundFrame, bool) {
	if w.priority == nil {
		return outboundFrame{}, false
	}
	select {
	case frame, ok := <-w.priority:
		if !ok {
			w.priority = nil
			return outboundFrame{}, false
		}
		return frame, true
	default:
		return outboundFrame{}, false
	}
}

func (w *outboundWriter) drainPriority(timeout time.Duration) error {
	for {
		frame, ok := w.pollPriority()
		if !ok {
			return nil
		}
		if err := w.writeFrame(frame, timeout); err != nil {
			return err
		}
	}
}

// shutdown gives queued clears a short window, then closes the socket.
func (w *outboundWriter) shutdown(timeout time.Duration) {
	window := 100 * time.Millisecond
	if timeout < window {
		window = timeout
	}
	deadline := time.Now().Add(window)
	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		frame, ok := w.pollPriority()
		if !ok {
			break
		}
		_ = w.writeFrame(frame, timeout)
	}
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(timeout))
	_ = w.ws.Close()
}

func (w *outboundWriter) writeFrame(frame outboundFrame, timeout time.Duration) error {
	if len(frame.payload) == 0 {
		return nil
	}
	if frame.audio && w.isStale != nil && w.isStale(frame.generation) {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
