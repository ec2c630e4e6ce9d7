package intent

import (
	"strings"
	"unicode"
)

var ratingWords = map[string]int{
	"1": 1, "2": 2, "3": 3, "4": 4, "5": 5,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
}

// ParseRating extracts the first 1–5 rating from text, given as a digit or a
// number word. Text is split into runs of letters and runs of digits, so
// "4/5", "4-star" and "4stars" all parse as 4 while "done" does not parse
// as 1 and "10" is not a rating.
func ParseRating(text string) (int, bool) {
	for _, tok := range ratingTokens(strings.ToLower(text)) {
		if n, ok := ratingWords[tok]; ok {
			return n, true
		}
	}
	return 0, false
}

func ratingTokens(text string) []string {
	var (
		out   []string
		start = -1
		digit bool
	)
	for i, r := range text {
		isDigit := unicode.IsDigit(r)
		inWord := isDigit || unicode.IsLetter(r)
		if start >= 0 && (!inWord || isDigit != digit) {
			out = append(out, text[start:i])
			start = -1
		}
		if inWord && start < 0 {
			start, digit = i, isDigit
		}
	}
	if start >= 0 {
		out = append(out, text[start:])
	}
	return out
}
