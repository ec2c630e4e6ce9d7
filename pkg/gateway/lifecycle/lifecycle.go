package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle holds the gateway's drain state. Once draining, readiness fails
// and the media endpoint refuses new calls while live ones finish.
type Lifecycle struct {
	mu            sync.RWMutex
	drainingSince time.Time
}

// SetDraining marks the gateway draining (recording when it started) or
// clears the mark.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case !draining:
		l.drainingSince = time.Time{}
	case l.drainingSince.IsZero():
		l.drainingSince = time.Now()
	}
}

func (l *Lifecycle) IsDraining() bool {
	return !l.DrainingSince().IsZero()
}

// DrainingSince is zero when the gateway is not draining.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.drainingSince
}
