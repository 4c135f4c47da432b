package router

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var ridSeq uint64

func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	// base36 timestamp + seq + 2 random chars
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// splitVerb cuts "<verb> <rest>" at the first run of whitespace.
func splitVerb(text string) (verb, rest string) {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

// isFlag reports whether a token names a flag. Signed numbers and UTC
// offsets such as -05:00 are values.
func isFlag(tok string) bool {
	if len(tok) < 2 || tok[0] != '-' {
		return false
	}
	c := tok[1]
	if c == '-' {
		return len(tok) > 2
	}
	return !(c >= '0' && c <= '9')
}

// parseArgs splits tokens into positionals and flags.
//
// Supported:
//
//	-k v, -k=v, --k v, --k=v
//	-all (a switch; switches never consume the next token)
func parseArgs(tokens []string, switches []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	isSwitch := func(k string) bool {
		for _, s := range switches {
			if s == k {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(tokens); i++ {
		a := tokens[i]
		if !isFlag(a) {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimLeft(a, "-")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		if isSwitch(key) {
			bools[key] = true
			continue
		}
		if i+1 < len(tokens) && !isFlag(tokens[i+1]) {
			flags[key] = tokens[i+1]
			i++
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}
