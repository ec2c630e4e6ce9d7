// Package live runs the per-call voice pipeline of the call center.
//
// A call is "a state machine with ears (STT) and a mouth (TTS)": caller
// audio from the media stream goes to a streaming recognizer, final
// transcripts become utterances, utterances are routed and applied to the
// conversation session, and the reply is synthesized back onto the stream.
//
// # Architecture
//
//   - Engine: shared collaborators (store, state machine, router, speech
//     vendors, sinks) and the factory for calls
//   - Call: one media stream's pipeline and its goroutines
//   - Finalizer: turns interim/final recognizer events into utterances
//   - Playback: the reply generation counter behind barge-in
//   - TTSBuffer: splits replies into sentence-sized synthesis segments
//
// # Data Flow
//
//	Audio In → OnAudioChunk → Recognizer → Finalizer → OnFinalUtterance
//	    │                                                   │
//	    └── barge-in: Playback.Interrupt + clear            │
//	                                                        ▼
//	Audio Out ← Transport ← Playback.Emit ← TTS ← Resolve ← Route + Transition
//
// # Barge-in
//
// Each reply runs under a generation number. Caller audio while a reply is
// playing bumps the generation and sends a clear on the transport's
// priority lane. Emit checks the generation and enqueues under one lock, so
// once Interrupt returns no frame of the old reply can be queued; frames
// already queued are dropped by the writer through Playback.IsStale.
//
// # Usage
//
//	engine, err := live.NewEngine(live.Dependencies{
//	    Store:   store,
//	    Actions: fulfillment,
//	    STT:     live.STTProviderAdapter{Provider: stt.NewCartesia(key)},
//	    TTS:     tts.NewCartesia(key),
//	})
//
//	call := engine.NewCall(callSID, transport)
//	call.OnSessionStart(ctx, live.StartParams{StreamID: streamSID})
//	for frame := range inbound {
//	    call.OnAudioChunk(frame)
//	}
//	call.OnSessionStop(ctx)
package live
