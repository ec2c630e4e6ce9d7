package mediastream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
)

// HangupMark is the mark name queued behind the last reply before the
// stream is closed.
const HangupMark = "hangup"

// playoutMarkPrefix names the mark queued after each reply's last frame;
// the generation follows it.
const playoutMarkPrefix = "gen-"

var ErrStreamClosed = errors.New("mediastream: stream closed")

// streamTransport implements live.Transport over the provider's media
// stream. Audio and the hangup mark share the normal lane so they play in
// order; clear uses the priority lane.
type streamTransport struct {
	streamSID  string
	frameBytes int
	markWait   time.Duration

	priority chan outboundFrame
	normal   chan outboundFrame

	// audioMu makes the capacity check and the enqueue of one command's
	// frames atomic with respect to other senders.
	audioMu sync.Mutex

	hangupOnce sync.Once
	closeOnce  sync.Once
	closed     chan struct{}
}

func newStreamTransport(streamSID string, cfg Config) *streamTransport {
	cfg = cfg.withDefaults()
	return &streamTransport{
		streamSID:  streamSID,
		frameBytes: cfg.FrameBytes,
		markWait:   cfg.HangupMarkTimeout,
		priority:   make(chan outboundFrame, 16),
		normal:     make(chan outboundFrame, cfg.OutboundQueueFrames),
		closed:     make(chan struct{}),
	}
}

func (t *streamTransport) Send(ctx context.Context, cmd live.OutboundCommand) error {
	select {
	case <-t.closed:
		return ErrStreamClosed
	default:
	}
	switch cmd.Type {
	case live.CommandAudio:
		return t.sendAudio(cmd.Payload, cmd.Generation)
	case live.CommandClear:
		payload, err := EncodeClear(t.streamSID)
		if err != nil {
			return err
		}
		return t.enqueuePriority(outboundFrame{payload: payload})
	case live.CommandMark:
		return t.sendPlayoutMark(cmd.Generation)
	case live.CommandHangup:
		return t.sendHangup(ctx)
	default:
		return fmt.Errorf("mediastream: unsupported command %q", cmd.Type)
	}
}

// ReportsPlayout is true: the provider echoes every mark once the audio
// queued before it has played, or when a clear discards it.
func (t *streamTransport) ReportsPlayout() bool { return true }

// Closed is closed once the stream should end: the hangup mark was echoed
// or its wait ran out.
func (t *streamTransport) Closed() <-chan struct{} {
	return t.closed
}

func (t *streamTransport) close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *streamTransport) sendAudio(audio []byte, gen uint64) error {
	if len(audio) == 0 {
		return nil
	}
	frames, err := t.frames(audio, gen)
	if err != nil {
		return err
	}

	t.audioMu.Lock()
	defer t.audioMu.Unlock()
	if cap(t.normal)-len(t.normal) < len(frames) {
		return live.ErrBackpressure
	}
	for _, f := range frames {
		select {
		case t.normal <- f:
		default:
			return live.ErrBackpressure
		}
	}
	return nil
}

// frames slices audio into media frames. A chunk larger than the whole
// queue is sliced coarser so it can always fit once the queue drains.
func (t *streamTransport) frames(audio []byte, gen uint64) ([]outboundFrame, error) {
	size := t.frameBytes
	if n := (len(audio) + size - 1) / size; n > cap(t.normal) {
		per := (len(audio) + cap(t.normal) - 1) / cap(t.normal)
		size = ((per + t.frameBytes - 1) / t.frameBytes) * t.frameBytes
	}
	out := make([]outboundFrame, 0, (len(audio)+size-1)/size)
	for start := 0; start < len(audio); start += size {
		end := start + size
		if end > len(audio) {
			end = len(audio)
		}
		payload, err := EncodeMedia(t.streamSID, audio[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, outboundFrame{payload: payload, audio: true, generation: gen})
	}
	return out, nil
}

func (t *streamTransport) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case t.priority <- frame:
			return nil
		default:
		}
		select {
		case <-t.priority:
		default:
		}
	}
	select {
	case t.priority <- frame:
		return nil
	default:
		return live.ErrBackpressure
	}
}

// sendPlayoutMark queues the end-of-reply mark behind the reply's audio
// without blocking.
func (t *streamTransport) sendPlayoutMark(gen uint64) error {
	payload, err := EncodeMark(t.streamSID, playoutMarkName(gen))
	if err != nil {
		return err
	}
	t.audioMu.Lock()
	defer t.audioMu.Unlock()
	select {
	case t.normal <- outboundFrame{payload: payload}:
		return nil
	default:
		return live.ErrBackpressure
	}
}

func playoutMarkName(gen uint64) string {
	return playoutMarkPrefix + strconv.FormatUint(gen, 10)
}

// playoutGeneration parses a mark name produced by playoutMarkName.
func playoutGeneration(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, playoutMarkPrefix)
	if !ok {
		return 0, false
	}
	g, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return g, true
}

// sendHangup queues the hangup mark behind any audio and arms the fallback
// close. Only the first hangup counts.
func (t *streamTransport) sendHangup(ctx context.Context) error {
	payload, err := EncodeMark(t.streamSID, HangupMark)
	if err != nil {
		return err
	}
	var sendErr error
	t.hangupOnce.Do(func() {
		t.audioMu.Lock()
		defer t.audioMu.Unlock()
		select {
		case t.normal <- outboundFrame{payload: payload}:
		case <-ctx.Done():
			sendErr = ctx.Err()
			return
		case <-t.closed:
			sendErr = ErrStreamClosed
			return
		}
		time.AfterFunc(t.markWait, t.close)
	})
	return sendErr
}

// markReceived handles a mark echoed by the provider.
func (t *streamTransport) markReceived(name string) bool {
	if name != HangupMark {
		return false
	}
	t.close()
	return true
}
