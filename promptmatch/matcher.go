// Package promptmatch implements the incremental regex search over a
// growing byte stream that the session state machine uses to find the
// end of a device's command output. It owns no transport and no vendor
// knowledge; it is fed bytes and reports back where the active prompt set
// matched.
package promptmatch

import (
	"bytes"
	"regexp"
)

// lookback bounds how much of the accumulated buffer is searched for the
// last line on each Feed call. Every vendor prompt in the fleet fits in
// far less than this. Newline normalization still runs over the whole
// buffer, so Feed cost grows with the unmatched bytes it holds.
const lookback = 4096

// Detector is the interface Session depends on; Matcher (regex prompts)
// and NetconfFramer (EOM framing) both implement it.
type Detector interface {
	// Feed appends chunk to the internal buffer and checks whether the
	// active terminator now matches. On a match it returns the output
	// that preceded the terminator, the literal text that matched, and
	// true; the internal buffer is then truncated to whatever bytes (if
	// any) followed the match, so the Detector is immediately ready for
	// the next command.
	Feed(chunk []byte) (output []byte, matched string, ok bool)
	// Reset clears any buffered bytes without changing the active
	// terminator set.
	Reset()
}

// Matcher is a Detector driven by one or more anchored regexes (the union
// of vendor prompts, shell prompts, and any per-command override).
type Matcher struct {
	buf     []byte
	prompts []*regexp.Regexp
}

// New creates a Matcher with the given active prompt set. The set can be
// swapped per command with SetPrompts to implement the override
// precedence described in the session design (raw explicit >
// per-command override > vendor set).
func New(prompts []*regexp.Regexp) *Matcher {
	return &Matcher{prompts: prompts}
}

// SetPrompts replaces the active regex set without touching the buffer.
func (m *Matcher) SetPrompts(prompts []*regexp.Regexp) {
	m.prompts = prompts
}

// Reset discards any buffered, unmatched bytes.
func (m *Matcher) Reset() {
	m.buf = nil
}

// Feed implements Detector.
func (m *Matcher) Feed(chunk []byte) ([]byte, string, bool) {
	m.buf = append(m.buf, chunk...)

	norm := normalizeNewlines(m.buf)

	window := norm
	windowStart := 0
	if len(window) > lookback {
		windowStart = len(window) - lookback
		window = window[windowStart:]
	}

	lastLineStart := bytes.LastIndexByte(window, '\n') + 1
	lastLine := window[lastLineStart:]

	for _, re := range m.prompts {
		if loc := re.FindIndex(lastLine); loc != nil {
			// Require the match to reach the end of the line: prompts are
			// anchored at end-of-buffer per the vendor profile invariant.
			if loc[1] != len(lastLine) {
				continue
			}
			matched := string(lastLine[loc[0]:loc[1]])

			// The boundary between output and prompt, expressed as an
			// offset into norm.
			boundary := windowStart + lastLineStart + loc[0]
			output := make([]byte, boundary)
			copy(output, norm[:boundary])

			// Anything the device already sent past the prompt becomes
			// the seed for the next round; in practice this is empty.
			tail := norm[windowStart+lastLineStart+loc[1]:]
			m.buf = append([]byte(nil), tail...)

			return bytes.TrimRight(output, "\n"), matched, true
		}
	}

	return nil, "", false
}

// normalizeNewlines rewrites CRLF and bare CR into LF so a prompt regex
// never gets split across a line-ending boundary, regardless of which
// convention a given vendor's pty uses.
func normalizeNewlines(buf []byte) []byte {
	out := bytes.ReplaceAll(buf, []byte("\r\n"), []byte("\n"))
	out = bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
	return out
}
