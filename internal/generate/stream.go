package generate

import "unicode/utf8"

// streamer feeds a StreamFunc while holding back text that is not yet safe
// to emit: bytes that could still turn into a stop-sequence match, and the
// tail of a multi-byte character the byte-level decoder has only partially
// produced.
type streamer struct {
	fn      StreamFunc
	stop    []string
	emitted int
	done    bool
}

func newStreamer(fn StreamFunc, stop []string) *streamer {
	return &streamer{fn: fn, stop: stop}
}

// push emits the safe portion of the accumulated text.
func (s *streamer) push(text string) {
	if s.fn == nil || s.done {
		return
	}
	limit := len(text) - maxStopHold(text, s.stop)
	limit = runeSafeCut(text, s.emitted, limit)
	if limit > s.emitted {
		s.fn(text[s.emitted:limit], false)
		s.emitted = limit
	}
}

// finish emits whatever remains of the final (already truncated) text and
// sends the exactly-once final flush.
func (s *streamer) finish(text string) {
	if s.fn == nil || s.done {
		return
	}
	s.done = true
	rest := ""
	if s.emitted < len(text) {
		rest = text[s.emitted:]
		s.emitted = len(text)
	}
	s.fn(rest, true)
}

// runeSafeCut backs the cut point off a trailing incomplete UTF-8 sequence
// so a multi-byte character is never split across stream chunks. Genuinely
// invalid bytes pass through after utf8.UTFMax-1 backoffs.
func runeSafeCut(text string, from, limit int) int {
	if limit <= from {
		return from
	}
	k := limit
	for limit-k < utf8.UTFMax-1 {
		if k <= from {
			return from
		}
		r, size := utf8.DecodeLastRuneInString(text[:k])
		if r == utf8.RuneError && size <= 1 {
			k--
			continue
		}
		return k
	}
	return limit
}
