package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-callcenter/pkg/core/callstate"
	"github.com/vango-go/vai-callcenter/pkg/core/dialog"
	"github.com/vango-go/vai-callcenter/pkg/core/intent"
	"github.com/vango-go/vai-callcenter/pkg/core/voice"
	"github.com/vango-go/vai-callcenter/pkg/core/voice/stt"
)

// maxRecognizerReopens bounds how often a dropped recognizer stream is
// replaced during one call.
const maxRecognizerReopens = 3

var errStalePlayback = errors.New("live: playback superseded")

// StartParams describe the media stream that opened the call.
type StartParams struct {
	StreamID string
	// Custom carries the telephony provider's custom parameters.
	Custom map[string]string
}

// Call is the per-call pipeline: caller audio goes to the recognizer,
// final utterances are routed through the state machine, replies are
// synthesized under a playback generation and caller audio during a reply
// cuts it short.
type Call struct {
	engine    *Engine
	callID    string
	transport Transport
	logger    *slog.Logger
	cfg       Config

	playback  Playback
	finalizer *Finalizer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	recMu sync.Mutex
	rec   Recognizer

	// turnMu serializes caller turns and re-prompts.
	turnMu   sync.Mutex
	activity chan struct{}

	started  atomic.Bool
	stopped  atomic.Bool
	hungUp   atomic.Bool
	stopOnce sync.Once

	statsMu      sync.Mutex
	stats        CallMetrics
	ttsLatency   time.Duration
	ttsLatencyN  int
	startedAt    time.Time
	lastPhase    callstate.Phase
	metricsFinal CallMetrics
}

func newCall(e *Engine, callID string, transport Transport) *Call {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		engine:    e,
		callID:    callID,
		transport: transport,
		logger:    e.logger.With("call_id", callID),
		cfg:       e.cfg,
		finalizer: NewFinalizer(e.now),
		ctx:       ctx,
		cancel:    cancel,
		activity:  make(chan struct{}, 1),
		lastPhase: callstate.PhaseMenu,
	}
	c.stats.CallID = callID
	c.finalizer.OnInterim = func(text string) {
		c.publish(c.ctx, &TranscriptDeltaEvent{Text: text})
	}
	return c
}

func (c *Call) ID() string { return c.callID }

// Playback exposes the generation state so the transport writer can drop
// stale frames at write time.
func (c *Call) Playback() *Playback { return &c.playback }

// OnSessionStart loads or creates the session, opens the recognizer, speaks
// the greeting and starts the transcript consumer and inactivity timer.
// Store or recognizer failures are handled in-call with the fatal apology
// and a hangup; the returned error only reports misuse.
func (c *Call) OnSessionStart(ctx context.Context, params StartParams) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("live: call %s already started", c.callID)
	}
	c.statsMu.Lock()
	c.startedAt = c.engine.now()
	c.statsMu.Unlock()

	sess, created, err := callstate.GetOrCreate(ctx, c.engine.store, c.callID)
	if err != nil {
		c.fatal("session_load", err)
		return nil
	}
	c.notePhase(sess)
	c.logger.Info("call started",
		"stream_id", params.StreamID,
		"resumed", !created,
		"phase", sess.Phase,
	)

	rec, err := c.openRecognizer(ctx)
	if err != nil {
		c.fatal("stt_open", err)
		return nil
	}
	c.setRecognizer(rec)

	greeting := c.engine.machine.Greeting(sess)
	at := c.engine.now()
	if _, err := c.engine.store.Apply(ctx, c.callID, func(s *callstate.CallSession) error {
		s.AppendMessage(callstate.RoleAssistant, greeting, at)
		return nil
	}); err != nil {
		if errors.Is(err, callstate.ErrUnavailable) {
			c.fatal("session_write", err)
			return nil
		}
		c.logger.Warn("greeting not recorded", "err", err)
	}

	c.publish(ctx, &CallStartedEvent{Resumed: !created, Phase: sess.Phase})
	c.speak(greeting, dialog.EndsCall(sess))

	c.wg.Add(2)
	go c.consumeTranscripts(rec)
	go c.watchInactivity()
	return nil
}

// OnAudioChunk handles one inbound media frame. Caller audio during a
// reply is a barge-in: the reply's generation is retired and a clear is
// sent before the audio reaches the recognizer.
func (c *Call) OnAudioChunk(payload []byte) error {
	if c.stopped.Load() || len(payload) == 0 {
		return nil
	}
	if c.playback.Speaking() && c.loudEnough(payload) {
		if g, ok := c.playback.Interrupt(); ok {
			if err := c.transport.Send(c.ctx, OutboundCommand{Type: CommandClear, Generation: g}); err != nil {
				c.logger.Warn("clear not sent", "generation", g, "err", err)
			}
			c.statsMu.Lock()
			c.stats.Interruptions++
			c.statsMu.Unlock()
			c.logger.Debug("barge-in", "generation", g)
			c.publish(c.ctx, &BargeInEvent{Generation: g})
		}
	}

	rec := c.recognizer()
	if rec == nil {
		return nil
	}
	if err := rec.SendAudio(payload); err != nil {
		if errors.Is(err, stt.ErrSessionClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Call) loudEnough(payload []byte) bool {
	if c.cfg.BargeInEnergy <= 0 {
		return true
	}
	return AudioEnergy(c.cfg.STT.Encoding, payload) >= c.cfg.BargeInEnergy
}

// OnFinalUtterance runs one caller turn: record and route the utterance
// and apply the transition atomically, resolve the directive's action
// outside the store lock, record the reply, then speak it.
func (c *Call) OnFinalUtterance(ctx context.Context, u Utterance) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.hungUp.Load() || c.stopped.Load() {
		return
	}
	defer c.touch()

	c.statsMu.Lock()
	c.stats.Utterances++
	c.statsMu.Unlock()

	at := u.At
	if at.IsZero() {
		at = c.engine.now()
	}

	var (
		from     callstate.Phase
		decision intent.Decision
		dir      dialog.Directive
	)
	turn := func(s *callstate.CallSession) error {
		from = s.Phase
		s.AppendMessage(callstate.RoleUser, u.Text, at)
		decision = c.engine.router.Route(u.Text, *s)
		dir = c.engine.machine.Transition(s, decision, u.Text, at)
		return nil
	}

	prefix := ""
	sess, err := c.engine.store.Apply(ctx, c.callID, turn)
	if errors.Is(err, callstate.ErrNotFound) {
		c.logger.Warn("session expired mid-call, starting over")
		sess, err = c.recreate(ctx, turn)
		prefix = dialog.ContextLostNotice
	}
	if err != nil {
		if errors.Is(err, callstate.ErrUnavailable) {
			c.fatal("session_write", err)
			return
		}
		c.logger.Error("turn failed", "err", err)
		c.publish(ctx, &ErrorEvent{Code: "turn_failed", Message: err.Error()})
		c.speak(dialog.ApologyText, false)
		return
	}
	c.notePhase(sess)

	c.logger.Info("utterance routed",
		"phase", sess.Phase,
		"agent", decision.Agent,
		"intent", decision.Intent,
		"confidence", decision.Confidence,
		"rule", decision.Rule,
	)
	c.publish(ctx, &UtteranceRoutedEvent{
		Text:       u.Text,
		Agent:      decision.Agent,
		Intent:     decision.Intent,
		Confidence: string(decision.Confidence),
		Rule:       decision.Rule,
	})
	if from != sess.Phase {
		c.publish(ctx, &TransitionEvent{From: from, To: sess.Phase, Agent: decision.Agent})
	}
	if dir.Rejected != nil {
		c.logger.Debug("utterance rejected in phase", "phase", sess.Phase, "err", dir.Rejected)
	}

	out := c.engine.machine.Resolve(ctx, c.engine.actions, sess, dir, at)
	if out.Err != nil {
		c.logger.Warn("action failed", "phase", sess.Phase, "err", out.Err)
		c.publish(ctx, &ErrorEvent{Code: "action_failed", Message: out.Err.Error()})
	}

	text := out.Text
	if prefix != "" {
		text = strings.TrimSpace(prefix + " " + text)
	}
	replyAt := c.engine.now()
	sess, err = c.engine.store.Apply(ctx, c.callID, func(s *callstate.CallSession) error {
		if out.Patch != nil {
			if err := out.Patch(s); err != nil {
				return err
			}
		}
		s.AppendMessage(callstate.RoleAssistant, text, replyAt)
		return nil
	})
	switch {
	case err == nil:
		c.notePhase(sess)
	case errors.Is(err, callstate.ErrUnavailable):
		c.fatal("session_write", err)
		return
	default:
		c.logger.Warn("reply not recorded", "err", err)
	}

	c.speak(text, out.Hangup)
}

// recreate starts a fresh session after the old one expired and replays
// the turn on it.
func (c *Call) recreate(ctx context.Context, turn callstate.Mutation) (callstate.CallSession, error) {
	if _, err := c.engine.store.Create(ctx, c.callID); err != nil && !errors.Is(err, callstate.ErrAlreadyExists) {
		return callstate.CallSession{}, err
	}
	c.statsMu.Lock()
	c.stats.ContextLost = true
	c.statsMu.Unlock()
	return c.engine.store.Apply(ctx, c.callID, func(s *callstate.CallSession) error {
		s.ContextLost = true
		return turn(s)
	})
}

// OnSessionStop ends the call: outstanding replies are retired, the
// recognizer is flushed and every call goroutine has exited before the
// call's metrics are published. The session record is left to expire.
func (c *Call) OnSessionStop(ctx context.Context) CallMetrics {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		c.playback.Invalidate()
		c.cancel()

		if rec := c.recognizer(); rec != nil {
			fctx, cancel := context.WithTimeout(ctx, c.cfg.FinishTimeout)
			if err := rec.Finish(fctx); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
				c.logger.Debug("recognizer finish", "err", err)
			}
			cancel()
			_ = rec.Close()
		}
		c.wg.Wait()

		m := c.snapshot()
		c.metricsFinal = m
		if c.engine.metrics != nil {
			if err := c.engine.metrics.SaveCallMetrics(ctx, m); err != nil {
				c.logger.Warn("call metrics not saved", "err", err)
			}
		}
		c.publish(ctx, &CallEndedEvent{Metrics: m})
		c.logger.Info("call ended",
			"phase", m.FinalPhase,
			"duration", m.Duration,
			"utterances", m.Utterances,
			"interruptions", m.Interruptions,
		)
	})
	return c.metricsFinal
}

// Metrics returns the call's counters so far.
func (c *Call) Metrics() CallMetrics {
	return c.snapshot()
}

func (c *Call) snapshot() CallMetrics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	m := c.stats
	m.FinalPhase = c.lastPhase
	if c.ttsLatencyN > 0 {
		m.AvgTTSLatency = c.ttsLatency / time.Duration(c.ttsLatencyN)
	}
	if !c.startedAt.IsZero() {
		m.Duration = c.engine.now().Sub(c.startedAt)
	}
	return m
}

func (c *Call) notePhase(s callstate.CallSession) {
	c.statsMu.Lock()
	c.lastPhase = s.Phase
	c.statsMu.Unlock()
}

// fatal speaks the fatal apology and hangs up.
func (c *Call) fatal(code string, err error) {
	c.logger.Error("call failed", "code", code, "err", err)
	c.publish(c.ctx, &ErrorEvent{Code: code, Message: err.Error()})
	c.speak(dialog.FatalApologyText, true)
}

// speak plays text under a new generation in the background. A hangup is
// queued behind the reply's audio even when the reply was cut short.
func (c *Call) speak(text string, hangup bool) uint64 {
	text = strings.TrimSpace(text)
	preempted := c.playback.Speaking()
	g := c.playback.Begin()
	if preempted {
		if err := c.transport.Send(c.ctx, OutboundCommand{Type: CommandClear, Generation: g}); err != nil {
			c.logger.Warn("clear not sent", "generation", g, "err", err)
		}
	}

	c.statsMu.Lock()
	c.stats.Responses++
	c.statsMu.Unlock()
	c.publish(c.ctx, &ResponseEvent{Generation: g, Text: text, Hangup: hangup})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.play(g, text)
		if !c.markPlayout(g) {
			c.playback.Finish(g)
			c.touch()
		}
		if hangup {
			c.hangup()
		}
	}()
	return g
}

// markPlayout queues the end mark for reply g when the transport reports
// playout. It reports whether Finish is left to OnPlayoutMark.
func (c *Call) markPlayout(g uint64) bool {
	pr, ok := c.transport.(PlayoutReporter)
	if !ok || !pr.ReportsPlayout() {
		return false
	}
	for c.ctx.Err() == nil {
		ran, err := c.playback.Emit(g, func() error {
			return c.transport.Send(c.ctx, OutboundCommand{Type: CommandMark, Generation: g})
		})
		if !ran {
			return true
		}
		if errors.Is(err, ErrBackpressure) {
			t := time.NewTimer(c.cfg.BackpressureWait)
			select {
			case <-c.ctx.Done():
				t.Stop()
			case <-t.C:
			}
			continue
		}
		if err != nil {
			c.logger.Warn("playout mark not sent", "generation", g, "err", err)
			return false
		}
		return true
	}
	return true
}

// OnPlayoutMark is called when the caller's side has played reply g to
// its end. Until then caller audio still counts as a barge-in.
func (c *Call) OnPlayoutMark(g uint64) {
	c.playback.Finish(g)
	c.touch()
}

func (c *Call) play(g uint64, text string) {
	apologized := text == dialog.ApologyText || text == dialog.FatalApologyText
	segments := SplitForSpeech(text)
	for i := 0; i < len(segments); i++ {
		if c.playback.IsStale(g) || c.ctx.Err() != nil {
			return
		}
		err := c.playSegment(g, segments[i])
		if err == nil {
			continue
		}
		if errors.Is(err, errStalePlayback) || c.ctx.Err() != nil || c.stopped.Load() {
			return
		}
		c.logger.Warn("synthesis failed", "generation", g, "err", err)
		c.publish(c.ctx, &ErrorEvent{Code: "tts_failed", Message: err.Error()})
		if apologized {
			return
		}
		apologized = true
		segments = []string{dialog.ApologyText}
		i = -1
	}
}

// playSegment synthesizes and emits one segment, retrying once when the
// vendor fails before any audio went out.
func (c *Call) playSegment(g uint64, text string) error {
	return c.retryTransient(c.ctx, func(ctx context.Context) error {
		start := c.engine.now()
		c.statsMu.Lock()
		c.stats.TTSRequests++
		c.statsMu.Unlock()

		stream, err := c.engine.tts.SynthesizeStream(ctx, text, c.cfg.TTS)
		if err != nil {
			return err
		}
		defer stream.Close()

		sent, err := c.pump(ctx, g, stream.Chunks(), start)
		if err == nil {
			err = stream.Err()
		}
		if err != nil && sent > 0 && voice.IsTransient(err) {
			// Replaying would repeat audio the caller already heard.
			return fmt.Errorf("tts failed after %d frames: %v", sent, err)
		}
		return err
	})
}

func (c *Call) pump(ctx context.Context, g uint64, chunks <-chan []byte, start time.Time) (int, error) {
	sent := 0
	for chunk := range chunks {
		if sent == 0 {
			c.recordTTSLatency(c.engine.now().Sub(start))
		}
		for {
			ran, err := c.playback.Emit(g, func() error {
				return c.transport.Send(ctx, OutboundCommand{Type: CommandAudio, Payload: chunk, Generation: g})
			})
			if !ran {
				return sent, errStalePlayback
			}
			if errors.Is(err, ErrBackpressure) {
				t := time.NewTimer(c.cfg.BackpressureWait)
				select {
				case <-ctx.Done():
					t.Stop()
					return sent, ctx.Err()
				case <-t.C:
				}
				continue
			}
			if err != nil {
				return sent, err
			}
			sent++
			break
		}
	}
	return sent, nil
}

func (c *Call) recordTTSLatency(d time.Duration) {
	c.statsMu.Lock()
	c.ttsLatency += d
	c.ttsLatencyN++
	c.statsMu.Unlock()
}

// retryTransient runs fn and retries it once after the configured backoff
// when it fails with a transient vendor error.
func (c *Call) retryTransient(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.cfg.SynthRetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if voice.IsTransient(err) {
			c.statsMu.Lock()
			c.stats.VendorErrors++
			c.statsMu.Unlock()
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Call) hangup() {
	if !c.hungUp.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info("hanging up")
	if err := c.transport.Send(c.ctx, OutboundCommand{Type: CommandHangup, Generation: c.playback.Generation()}); err != nil {
		c.logger.Warn("hangup not sent", "err", err)
	}
}

func (c *Call) openRecognizer(ctx context.Context) (Recognizer, error) {
	var rec Recognizer
	err := c.retryTransient(ctx, func(ctx context.Context) error {
		r, err := c.engine.stt.NewSession(ctx, c.cfg.STT)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

func (c *Call) recognizer() Recognizer {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	return c.rec
}

func (c *Call) setRecognizer(r Recognizer) {
	c.recMu.Lock()
	c.rec = r
	c.recMu.Unlock()
}

// consumeTranscripts feeds recognizer output through the finalizer. A
// recognizer that drops with an error is replaced a bounded number of
// times; after that the caller gets the fatal apology.
func (c *Call) consumeTranscripts(rec Recognizer) {
	defer c.wg.Done()
	reopens := 0
	for {
		for delta := range rec.Transcripts() {
			// Interims alone do not hold off the re-prompt.
			if delta.IsFinal {
				c.touch()
			}
			u, ok := c.finalizer.Push(TranscriptEvent{
				Text:       delta.Text,
				IsFinal:    delta.IsFinal,
				Confidence: delta.Confidence,
			})
			if ok && c.ctx.Err() == nil {
				c.OnFinalUtterance(c.ctx, u)
			}
		}
		if c.ctx.Err() != nil || c.stopped.Load() {
			return
		}
		err := rec.Err()
		if err == nil {
			return
		}
		c.logger.Warn("recognizer dropped", "err", err)
		c.publish(c.ctx, &ErrorEvent{Code: "stt_dropped", Message: err.Error()})
		if reopens >= maxRecognizerReopens {
			c.fatal("stt_dropped", err)
			return
		}
		reopens++
		c.finalizer.Reset()
		next, err := c.openRecognizer(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.fatal("stt_open", err)
			}
			return
		}
		_ = rec.Close()
		c.setRecognizer(next)
		rec = next
	}
}

func (c *Call) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

// watchInactivity speaks the phase's re-prompt when the caller has been
// silent for InactivityTimeout. Replies in progress and turns being
// processed postpone it.
func (c *Call) watchInactivity() {
	defer c.wg.Done()
	timeout := c.cfg.InactivityTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			c.reprompt()
			timer.Reset(timeout)
		}
	}
}

func (c *Call) reprompt() {
	if c.hungUp.Load() || c.stopped.Load() || c.playback.Speaking() {
		return
	}
	if !c.turnMu.TryLock() {
		return
	}
	defer c.turnMu.Unlock()

	sess, err := c.engine.store.Get(c.ctx, c.callID)
	if err != nil {
		if errors.Is(err, callstate.ErrUnavailable) {
			c.fatal("session_read", err)
		}
		return
	}
	text := c.engine.machine.Reprompt(sess)
	if text == "" {
		return
	}
	at := c.engine.now()
	if _, err := c.engine.store.Apply(c.ctx, c.callID, func(s *callstate.CallSession) error {
		s.AppendMessage(callstate.RoleAssistant, text, at)
		return nil
	}); err != nil && !errors.Is(err, callstate.ErrNotFound) {
		c.logger.Warn("reprompt not recorded", "err", err)
	}

	c.statsMu.Lock()
	c.stats.Reprompts++
	c.statsMu.Unlock()
	c.logger.Debug("caller silent, re-prompting", "phase", sess.Phase)
	c.publish(c.ctx, &RepromptEvent{Phase: sess.Phase})
	c.speak(text, false)
}

func (c *Call) publish(ctx context.Context, ev Event) {
	if c.engine.events == nil {
		return
	}
	c.engine.events.Publish(ctx, c.callID, ev)
}
