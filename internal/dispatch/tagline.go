package dispatch

import (
	"strings"

	"dispatchbot/internal/domain"
)

const everyone = "@everyone"

// TagLine is the salutation that opens every dispatched message. It mentions
// the partner's first tag target, falling back to the partner name and then
// to everyone in the channel.
func TagLine(p domain.Partner) string {
	return "Dear " + mention(p) + ","
}

func mention(p domain.Partner) string {
	tag, ok := p.FirstTag()
	if !ok {
		if name := domain.NormalizePartnerName(p.Name); name != "" {
			return "@" + name
		}
		return everyone
	}
	tag = strings.TrimSpace(tag)
	switch {
	case strings.HasPrefix(tag, "<@") && strings.HasSuffix(tag, ">"):
		return tag
	case isDigits(tag):
		return "<@" + tag + ">"
	default:
		return "@" + strings.ReplaceAll(tag, "@", "")
	}
}

// Compose builds the outgoing text for one target.
func Compose(p domain.Partner, content string) string {
	return TagLine(p) + "\n\n" + content
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
