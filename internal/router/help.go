package router

import (
	"sort"
	"strings"
)

// helpText renders the command list, or one command's usage when path names
// a verb or alias. Output uses Discord markdown.
func (m *Router) helpText(path []string) string {
	prefix := m.Prefix()
	if len(path) > 0 {
		name := strings.ToLower(strings.TrimPrefix(path[0], prefix))
		c, ok := m.lookup(name)
		if !ok {
			return "Unknown command `" + prefix + name + "`. Type `" + prefix + "help` for the list."
		}
		return helpCommand(prefix, c)
	}

	m.mu.RLock()
	cmds := make([]*Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		cmds = append(cmds, c)
	}
	m.mu.RUnlock()

	// Operator-only verbs go last, alphabetical within each group.
	sort.Slice(cmds, func(i, j int) bool {
		oi, oj := cmds[i].Access == AccessOperator, cmds[j].Access == AccessOperator
		if oi != oj {
			return !oi
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []string{"**Commands**", "Type `" + prefix + "help <command>` for details.", ""}
	for _, c := range cmds {
		line := "• `" + prefix + c.Name + "`"
		if c.Access == AccessOperator {
			line += " (operator)"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + d
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Reply to a message sent by the bot with `<tag> | <text>` to update its status.")
	return strings.Join(lines, "\n")
}

func helpCommand(prefix string, c *Command) string {
	lines := []string{"**" + prefix + c.Name + "**"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, d)
	}
	if c.Access == AccessOperator {
		lines = append(lines, "_Operators only._")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "Usage: `"+prefix+u+"`")
	}
	if len(c.Aliases) > 0 {
		al := append([]string(nil), c.Aliases...)
		sort.Strings(al)
		for i := range al {
			al[i] = "`" + prefix + al[i] + "`"
		}
		lines = append(lines, "Aliases: "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}
