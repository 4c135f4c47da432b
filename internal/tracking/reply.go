package tracking

import (
	"strings"

	"dispatchbot/internal/domain"
)

// Reply is a parsed "<tag> | <text>" message.
type Reply struct {
	Tag    domain.ReplyTag
	Target domain.Status
	Text   string
}

// ParseReply reads a status reply. Only the first '|' separates the tag.
func ParseReply(body string) (Reply, error) {
	tag, text, ok := strings.Cut(body, "|")
	if !ok {
		return Reply{}, &domain.SyntaxError{Msg: "reply must look like <status_tag> | <your message>"}
	}
	t := domain.ReplyTag(strings.ToLower(strings.TrimSpace(tag)))
	target, ok := t.Target()
	if !ok {
		return Reply{}, &domain.SyntaxError{Msg: "invalid status tag " + quoteTag(t)}
	}
	return Reply{Tag: t, Target: target, Text: strings.TrimSpace(text)}, nil
}

func quoteTag(t domain.ReplyTag) string { return "\"" + string(t) + "\"" }

// RulesText explains the reply vocabulary to partners.
func RulesText() string {
	var b strings.Builder
	b.WriteString("**REPLY RULES FOR PARTNERS**\n\n")
	b.WriteString("Reply directly to the bot's message using `<status_tag> | <your message>`.\n")
	prev := domain.StatusRequested
	for _, tag := range domain.ReplyTags {
		target, _ := tag.Target()
		b.WriteString("\n**" + prev.Label() + " → " + target.Label() + ":**\n")
		b.WriteString("```\n" + string(tag) + " | [Your response message]\n```")
		prev = target
	}
	b.WriteString("\n\n**Status Workflow:**\n")
	labels := make([]string, 0, len(domain.Chain))
	for _, s := range domain.Chain {
		labels = append(labels, s.Label())
	}
	b.WriteString(strings.Join(labels, " → "))
	b.WriteString("\n\n**Notes:**\n")
	b.WriteString("• Status only moves forward; stages may be skipped but never repeated or undone\n")
	b.WriteString("• Anything after the `|` is stored as your reply\n")
	b.WriteString("• A reply in the wrong format leaves the status unchanged")
	return b.String()
}
