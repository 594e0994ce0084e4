package er7

import "strings"

// DefaultLineBreakToken is how the interface engine encodes a line break in free text
const DefaultLineBreakToken = `\E\.br\E\`

// normalizeLineEndings rewrites \r\n and \n to the \r segment terminator
func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\r")
	return strings.ReplaceAll(s, "\n", "\r")
}

// splitLines returns the non-blank segment lines of a normalized message.
// MLLP block characters around the payload are dropped.
func splitLines(s string) []string {
	s = strings.Trim(s, "\x0b\x1c")
	parts := strings.Split(s, "\r")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "\x0b\x1c")
		if strings.TrimSpace(p) == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}

// freeText turns the line-break token back into newlines
func (d *Decoder) freeText(s string) string {
	return strings.ReplaceAll(s, d.config.LineBreakToken, "\n")
}
