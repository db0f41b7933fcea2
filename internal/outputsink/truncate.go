package outputsink

import "github.com/mattn/go-runewidth"

// TrimToValidUTF8 walks backward from the end of b over UTF-8 continuation
// bytes (10xxxxxx) so a byte-bounded cut never splits a multi-byte rune.
// Used whenever a spill or preview buffer is truncated at an arbitrary
// byte offset, since streamed tool output is not guaranteed to be
// line-aligned at that offset.
func TrimToValidUTF8(b []byte) []byte {
	i := len(b)
	for i > 0 && isContinuationByte(b[i-1]) {
		i--
	}
	// i now points at the start of what may be an incomplete leading byte;
	// if the sequence starting there can't be complete within b, drop it too.
	if i > 0 && i < len(b) {
		lead := b[i-1]
		if leadByteSeqLen(lead) > len(b)-(i-1) {
			i--
		}
	}
	return b[:i]
}

func isContinuationByte(c byte) bool {
	return c&0xC0 == 0x80
}

// trimLeadingPartialRune walks forward over UTF-8 continuation bytes at
// the start of b, so a byte-bounded cut from the front never begins
// mid-rune. The mirror of TrimToValidUTF8, used when the retained
// buffer is a suffix of the original stream rather than a prefix.
func trimLeadingPartialRune(b []byte) []byte {
	i := 0
	for i < len(b) && isContinuationByte(b[i]) {
		i++
	}
	return b[i:]
}

// leadByteSeqLen returns the total byte length of the UTF-8 sequence a
// lead byte starts, or 1 if it isn't a recognized multi-byte lead.
func leadByteSeqLen(lead byte) int {
	switch {
	case lead&0x80 == 0x00:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// TruncatePreview clamps s to at most maxWidth terminal display columns
// (accounting for wide CJK runes), appending an ellipsis when it cuts
// anything. This is a text-shaping utility, not a TUI renderer: it is
// used to bound single-line previews embedded in progress events and
// batch summaries (§6), never to draw a screen.
func TruncatePreview(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	const ellipsis = "..."
	budget := maxWidth - runewidth.StringWidth(ellipsis)
	if budget <= 0 {
		return runewidth.Truncate(ellipsis, maxWidth, "")
	}
	return runewidth.Truncate(s, budget, "") + ellipsis
}
