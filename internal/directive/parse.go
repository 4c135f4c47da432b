// Package directive turns a send command into a structured send plan.
package directive

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"dispatchbot/internal/domain"
)

// AllPartners is the selector that expands to every registered partner.
const AllPartners = "-all"

// DefaultMaxContent bounds message bodies, in characters.
const DefaultMaxContent = 2000

// Group is one partner selector and the channels chosen for it.
type Group struct {
	Partner string
	// Channels are project-name prefixes given with -c.
	Channels     []string
	SendAll      bool
	SendSpecific bool
}

// Broadcast reports whether the group targets the partner's full project set.
func (g Group) Broadcast() bool { return !g.SendSpecific }

type Directive struct {
	Verb    string
	Groups  []Group
	Content string
}

// Parse reads `<verb> <group>... | <content>`.
//
// The content is validated before the groups are looked at, so an oversized
// body is rejected even when the selectors are also wrong.
func Parse(raw string, maxContent int) (Directive, error) {
	if maxContent <= 0 {
		maxContent = DefaultMaxContent
	}
	head, body, ok := SplitBody(raw)
	if !ok {
		return Directive{}, &domain.SyntaxError{Msg: "missing '|' between the targets and the message content"}
	}
	content, err := ValidateContent(body, maxContent)
	if err != nil {
		return Directive{}, err
	}

	tokens := Tokenize(head)
	d := Directive{Content: content}
	if len(tokens) > 0 && !strings.HasPrefix(tokens[0], "-") {
		d.Verb = tokens[0]
		tokens = tokens[1:]
	}

	var cur *Group
	flush := func() {
		if cur != nil {
			d.Groups = append(d.Groups, *cur)
			cur = nil
		}
	}

	for i := 0; i < len(tokens); i++ {
		switch tok := tokens[i]; tok {
		case "-p":
			arg, err := flagArg(tokens, i, "partner name")
			if err != nil {
				return Directive{}, err
			}
			flush()
			cur = &Group{Partner: arg}
			i++
		case AllPartners:
			flush()
			cur = &Group{Partner: AllPartners}
		case "-c":
			arg, err := flagArg(tokens, i, "channel name")
			if err != nil {
				return Directive{}, err
			}
			if cur == nil {
				return Directive{}, &domain.SyntaxError{Flag: "-c", Msg: "channel given before any partner (-p)"}
			}
			if arg == AllPartners {
				cur.SendAll = true
			} else {
				cur.Channels = append(cur.Channels, arg)
				cur.SendSpecific = true
			}
			i++
		}
	}
	flush()

	if len(d.Groups) == 0 {
		return Directive{}, &domain.SyntaxError{Msg: "no partner selected; use -p <partner> or -all"}
	}
	return d, nil
}

// flagArg returns the argument following tokens[i]. Another flag in that
// position counts as a missing argument, except the -all selector.
func flagArg(tokens []string, i int, what string) (string, error) {
	flag := tokens[i]
	if i+1 >= len(tokens) {
		return "", &domain.SyntaxError{Flag: flag, Msg: "missing " + what}
	}
	arg := tokens[i+1]
	if arg != AllPartners && (arg == "-p" || arg == "-c") {
		return "", &domain.SyntaxError{Flag: flag, Msg: "missing " + what}
	}
	if strings.TrimSpace(arg) == "" {
		return "", &domain.SyntaxError{Flag: flag, Msg: "empty " + what}
	}
	return arg, nil
}

// ValidateContent trims the body and enforces the length bound.
func ValidateContent(body string, maxContent int) (string, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		return "", &domain.ValidationError{Code: domain.CodeEmptyContent, Msg: "message content cannot be empty"}
	}
	if n := utf8.RuneCountInString(content); n > maxContent {
		return "", &domain.ValidationError{
			Code: domain.CodeContentTooLong,
			Msg:  fmt.Sprintf("message content is too long (%d/%d characters)", n, maxContent),
		}
	}
	return content, nil
}
