package validator

import "strings"

// maskLiterals replaces the contents of quoted string literals with spaces
// and drops // comments, so keyword and token scans never fire on quoted
// text. Escaped quotes inside a literal are handled; the overall length is
// preserved so regex offsets stay meaningful.
func maskLiterals(text string) (masked string, hadLiteral bool) {
	var b strings.Builder
	b.Grow(len(text))

	var quote byte
	escaped := false
	inComment := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inComment {
			if c == '\n' {
				inComment = false
				b.WriteByte(c)
			} else {
				b.WriteByte(' ')
			}
			continue
		}

		if quote != 0 {
			if escaped {
				escaped = false
				b.WriteByte(' ')
				continue
			}
			switch c {
			case '\\':
				escaped = true
				b.WriteByte(' ')
			case quote:
				quote = 0
				b.WriteByte(c)
			default:
				b.WriteByte(' ')
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			hadLiteral = true
			b.WriteByte(c)
		case '/':
			if i+1 < len(text) && text[i+1] == '/' {
				inComment = true
				b.WriteByte(' ')
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), hadLiteral
}
