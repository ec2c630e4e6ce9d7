package live

import (
	"sync"
	"sync/atomic"
)

// Playback tracks which reply generation is allowed to reach the caller.
//
// Every reply starts a new generation. A barge-in bumps the generation, and
// from that moment no frame of an older generation is handed to the
// transport: Emit checks the generation and enqueues under the same lock
// Interrupt takes. Writers that already hold queued frames use IsStale,
// which is lock-free, to drop them.
type Playback struct {
	mu       sync.Mutex
	gen      atomic.Uint64
	speaking bool
	active   uint64
}

// Begin starts a new reply and returns its generation. Any reply still in
// flight becomes stale.
func (p *Playback) Begin() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.gen.Add(1)
	p.speaking = true
	p.active = g
	return g
}

// Interrupt stops the current reply. It returns the new generation and
// true if a reply was playing; otherwise it changes nothing.
func (p *Playback) Interrupt() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.speaking {
		return p.gen.Load(), false
	}
	g := p.gen.Add(1)
	p.speaking = false
	return g, true
}

// Emit runs send if g is still current. send runs under the playback lock
// and must not block; it should enqueue and return. The boolean reports
// whether send ran.
func (p *Playback) Emit(g uint64, send func() error) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen.Load() != g {
		return false, nil
	}
	return true, send()
}

// Finish marks reply g as played out. It is a no-op for a stale generation.
func (p *Playback) Finish(g uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == g && p.gen.Load() == g {
		p.speaking = false
	}
}

// Invalidate makes every outstanding generation stale, speaking or not.
func (p *Playback) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen.Add(1)
	p.speaking = false
}

func (p *Playback) IsStale(g uint64) bool {
	return p.gen.Load() != g
}

func (p *Playback) Generation() uint64 {
	return p.gen.Load()
}

func (p *Playback) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}
