package inference

import (
	"bytes"
	"unicode/utf8"
)

var multibytePatterns = [...]struct {
	num     int
	pattern byte
}{{2, 0xC0}, {3, 0xE0}, {4, 0xF0}}

// multibyteFix reports how many more bytes the text needs before its last
// character is complete, looking at lead bytes among the final three.
func multibyteFix(text []byte) int {
	fix := 0
	for k := min(3, len(text)); k > 0; k-- {
		chr := text[len(text)-k]
		for _, mb := range multibytePatterns {
			if mb.num > k && chr&mb.pattern == mb.pattern {
				fix = mb.num - k
			}
		}
	}
	return fix
}

// findStop returns the byte index of the first stop sequence, in list
// order, that occurs in text, or -1.
func findStop(text []byte, stops [][]byte) int {
	for _, s := range stops {
		if i := bytes.Index(text, s); i >= 0 {
			return i
		}
	}
	return -1
}

// stopHoldback returns the length of the longest suffix of tail that could
// still grow into a stop sequence.
func stopHoldback(tail []byte, stops [][]byte) int {
	best := 0
	for _, s := range stops {
		for l := min(len(s)-1, len(tail)); l > best; l-- {
			if bytes.HasSuffix(tail, s[:l]) {
				best = l
				break
			}
		}
	}
	return best
}

// trimIncomplete drops a trailing character that is still missing bytes,
// which happens when generation ends in the middle of one.
func trimIncomplete(text []byte) []byte {
	for k := 1; k <= min(utf8.UTFMax-1, len(text)); k++ {
		tail := text[len(text)-k:]
		if !utf8.RuneStart(tail[0]) {
			continue
		}
		if utf8.FullRune(tail) {
			return text
		}
		return text[:len(text)-k]
	}
	return text
}
