package live

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// TranscriptEvent is one recognizer result. Interim events may be revised;
// a final event is the recognizer's endpoint for a stretch of speech.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Utterance is a finalized caller turn handed to routing.
type Utterance struct {
	Text       string
	Confidence float64
	// Final reports that the recognizer endpointed the turn.
	Final bool
	At    time.Time
}

// Finalizer turns a recognizer's interim/final event stream into discrete
// utterances. It only trusts the recognizer's final flag: interim text is
// tracked for display and never routed.
type Finalizer struct {
	mu      sync.Mutex
	now     func() time.Time
	interim string

	// OnInterim, when set, observes each interim revision.
	OnInterim func(text string)
}

func NewFinalizer(now func() time.Time) *Finalizer {
	if now == nil {
		now = time.Now
	}
	return &Finalizer{now: now}
}

// Push feeds one event. It returns the utterance and true when ev is a
// final result carrying speech; silence and punctuation-only finals reset
// the pending interim without producing a turn.
func (f *Finalizer) Push(ev TranscriptEvent) (Utterance, bool) {
	text := strings.TrimSpace(ev.Text)

	f.mu.Lock()
	if !ev.IsFinal {
		f.interim = text
		cb := f.OnInterim
		f.mu.Unlock()
		if cb != nil && text != "" {
			cb(text)
		}
		return Utterance{}, false
	}
	f.interim = ""
	at := f.now()
	f.mu.Unlock()

	if !hasLetterOrDigit(text) {
		return Utterance{}, false
	}
	return Utterance{Text: text, Confidence: ev.Confidence, Final: true, At: at}, true
}

// Interim returns the latest unconfirmed transcript.
func (f *Finalizer) Interim() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interim
}

// Reset drops pending interim text.
func (f *Finalizer) Reset() {
	f.mu.Lock()
	f.interim = ""
	f.mu.Unlock()
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
