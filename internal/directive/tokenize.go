package directive

import "strings"

// Tokenize splits a command line into tokens while supporting quotes and
// backslash escapes.
//
//	!send -p "Client A" -c alpha
func Tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		// quoted empty strings ("") are still a token
		touched bool
	)
	flush := func() {
		if buf.Len() > 0 || touched {
			out = append(out, buf.String())
			buf.Reset()
		}
		touched = false
	}
	for _, ch := range s {
		if esc {
			buf.WriteRune(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
			touched = true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// SplitBody cuts s at the first '|' that is neither escaped nor quoted.
// ok is false when there is no such separator.
func SplitBody(s string) (head, body string, ok bool) {
	var (
		inQ   bool
		qChar byte
		esc   bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			esc = false
			continue
		}
		switch {
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
			}
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == '|':
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
