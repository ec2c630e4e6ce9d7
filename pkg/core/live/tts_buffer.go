package live

import (
	"strings"
	"sync"
)

// TTSBuffer accumulates reply text and emits chunks suitable for TTS.
// It sends text on:
// 1. A delta ending in sentence punctuation
// 2. Word count threshold when at a word boundary
type TTSBuffer struct {
	mu          sync.Mutex
	text        strings.Builder
	minWords    int
	punctuation string
}

// NewTTSBuffer creates a buffer that splits on sentence ends and every 20
// words.
func NewTTSBuffer() *TTSBuffer {
	return NewTTSBufferWith(20, ".!?")
}

func NewTTSBufferWith(minWords int, punctuation string) *TTSBuffer {
	if minWords <= 0 {
		minWords = 20
	}
	if punctuation == "" {
		punctuation = ".!?"
	}
	return &TTSBuffer{
		minWords:    minWords,
		punctuation: punctuation,
	}
}

// Add adds a text delta and returns text to send to TTS (if any).
// Returns empty string if more text should be buffered.
func (b *TTSBuffer) Add(delta string) string {
	if delta == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A leading space confirms the previous word is complete.
	startsWithSpace := delta[0] == ' ' || delta[0] == '\n'

	prevContent := b.text.String()
	prevWordCount := len(strings.Fields(prevContent))

	b.text.WriteString(delta)

	// Punctuation inside a token ("3.5", "No.5") does not end a chunk.
	if trimmed := strings.TrimRight(delta, " \n"); trimmed != "" {
		if strings.IndexByte(b.punctuation, trimmed[len(trimmed)-1]) >= 0 {
			toSend := strings.TrimSpace(b.text.String())
			b.text.Reset()
			return toSend
		}
	}

	if prevWordCount >= b.minWords && startsWithSpace {
		toSend := strings.TrimSpace(prevContent)
		b.text.Reset()
		b.text.WriteString(strings.TrimLeft(delta, " \n"))
		return toSend
	}

	return ""
}

// Flush returns any remaining buffered text and resets the buffer.
func (b *TTSBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return result
}

// Reset clears the buffer without returning content.
func (b *TTSBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

// Len returns the current buffer length.
func (b *TTSBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.Len()
}

// SplitForSpeech breaks a reply into the segments synthesized one after
// another, so the first sentence starts playing before the rest is rendered
// and a barge-in can land between segments.
func SplitForSpeech(text string) []string {
	b := NewTTSBuffer()
	var out []string
	for i, word := range strings.Fields(text) {
		delta := word
		if i > 0 {
			delta = " " + word
		}
		if chunk := b.Add(delta); chunk != "" {
			out = append(out, chunk)
		}
	}
	if rest := b.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}
