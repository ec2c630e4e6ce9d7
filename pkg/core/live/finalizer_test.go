package live

import (
	"testing"
	"time"
)

func TestFinalizer_InterimNeverEmits(t *testing.T) {
	var seen []string
	f := NewFinalizer(nil)
	f.OnInterim = func(text string) { seen = append(seen, text) }

	for _, text := range []string{"one", "one chick", "one chicken"} {
		if _, ok := f.Push(TranscriptEvent{Text: text}); ok {
			t.Fatalf("interim %q produced an utterance", text)
		}
	}
	if f.Interim() != "one chicken" {
		t.Fatalf("Interim() = %q, want %q", f.Interim(), "one chicken")
	}
	if len(seen) != 3 {
		t.Fatalf("OnInterim calls = %d, want 3", len(seen))
	}
}

func TestFinalizer_FinalEmitsAndResets(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFinalizer(func() time.Time { return at })

	f.Push(TranscriptEvent{Text: "one chicken"})
	u, ok := f.Push(TranscriptEvent{Text: "  one chicken burger ", IsFinal: true, Confidence: 0.9})
	if !ok {
		t.Fatal("final result did not produce an utterance")
	}
	if u.Text != "one chicken burger" || u.Confidence != 0.9 || !u.At.Equal(at) {
		t.Fatalf("utterance = %#v", u)
	}
	if f.Interim() != "" {
		t.Fatalf("Interim() = %q after final, want empty", f.Interim())
	}
}

func TestFinalizer_EmptyFinalIsDropped(t *testing.T) {
	f := NewFinalizer(nil)
	f.Push(TranscriptEvent{Text: "uh"})
	for _, text := range []string{"", "   ", "...", "?"} {
		if _, ok := f.Push(TranscriptEvent{Text: text, IsFinal: true}); ok {
			t.Fatalf("final %q produced an utterance", text)
		}
	}
	if f.Interim() != "" {
		t.Fatalf("Interim() = %q, want reset", f.Interim())
	}
}

func TestFinalizer_ConsecutiveFinalsAreSeparate(t *testing.T) {
	f := NewFinalizer(nil)
	var got []string
	for _, text := range []string{"pizza", "done"} {
		if u, ok := f.Push(TranscriptEvent{Text: text, IsFinal: true}); ok {
			got = append(got, u.Text)
		}
	}
	if len(got) != 2 || got[0] != "pizza" || got[1] != "done" {
		t.Fatalf("utterances = %q, want [pizza done]", got)
	}
}
