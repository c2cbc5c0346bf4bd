// Package interp implements the Output Interpreter: pure, side-effect-free
// functions over subprocess byte streams. It strips terminal control
// sequences, extracts a last-line preview, detects approval/menu prompts,
// and parses the coordinator's embedded FYP_* directives. Nothing here
// touches a session, a socket, or the clock beyond what callers pass in.
package interp

import "bytes"

// Strip removes ANSI/VT terminal control sequences from b and collapses
// backspace/DEL erase sequences, leaving plain text content.
//
// Handled sequences: CSI (ESC '[' ... final byte in '@'-'~'), 8-bit CSI
// (0x9B ... final byte), OSC (ESC ']' ... BEL or ST, both 7- and 8-bit),
// DCS (ESC 'P' ... ST). Strip(Strip(x)) == Strip(x) for all x, and
// Strip(x) == x for plain ASCII text with no control bytes.
func Strip(b []byte) []byte {
	out := make([]byte, 0, len(b))

	for i := 0; i < len(b); i++ {
		c := b[i]

		switch {
		case c == 0x1b && i+1 < len(b) && b[i+1] == '[':
			i += 2
			for i < len(b) && !isCSIFinal(b[i]) {
				i++
			}
			// i now at the final byte (or end of input); loop's i++ advances past it.
		case c == 0x9b:
			i++
			for i < len(b) && !isCSIFinal(b[i]) {
				i++
			}
		case c == 0x1b && i+1 < len(b) && b[i+1] == ']':
			i += 2
			end := findOSCTerminator(b, i)
			i = end
		case c == 0x9d:
			i++
			end := findOSCTerminator(b, i)
			i = end
		case c == 0x1b && i+1 < len(b) && b[i+1] == 'P':
			i += 2
			end := findSTTerminator(b, i)
			i = end
		case c == 0x90:
			i++
			end := findSTTerminator(b, i)
			i = end
		case c == 0x1b:
			// Lone/unrecognized escape: drop the ESC and its immediate
			// parameter byte if any, to avoid leaking raw escape bytes.
			if i+1 < len(b) {
				i++
			}
		case c == '\b' || c == 0x7f:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}

	return out
}

func isCSIFinal(c byte) bool {
	return c >= 0x40 && c <= 0x7e
}

// findOSCTerminator returns the index just past a BEL (0x07) or ST (ESC '\\')
// terminator starting the scan at i, or len(b) if none is found.
func findOSCTerminator(b []byte, i int) int {
	for ; i < len(b); i++ {
		if b[i] == 0x07 {
			return i + 1
		}
		if b[i] == 0x1b && i+1 < len(b) && b[i+1] == '\\' {
			return i + 2
		}
	}
	return len(b)
}

// findSTTerminator returns the index just past an ST (ESC '\\' or 0x9C)
// terminator starting the scan at i, or len(b) if none is found.
func findSTTerminator(b []byte, i int) int {
	for ; i < len(b); i++ {
		if b[i] == 0x9c {
			return i + 1
		}
		if b[i] == 0x1b && i+1 < len(b) && b[i+1] == '\\' {
			return i + 2
		}
	}
	return len(b)
}

// LastLine extracts the last non-empty, stripped line from raw chunk text,
// treating '\r' as a line boundary the way redrawing TUIs do, and clamps it
// to maxLen bytes (220 for preview use).
func LastLine(raw []byte, maxLen int) string {
	stripped := Strip(normalizeCR(raw))
	lines := bytes.Split(stripped, []byte{'\r'})

	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimRight(lines[i], " \t")
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLen {
			line = line[:maxLen]
		}
		return string(line)
	}
	return ""
}

// normalizeCR converts lone '\n' into '\r' boundaries so CR-splitting also
// catches LF-only producers, without disturbing existing CRLF sequences.
func normalizeCR(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' && (i == 0 || b[i-1] != '\r') {
			out = append(out, '\r')
			continue
		}
		out = append(out, b[i])
	}
	return out
}
