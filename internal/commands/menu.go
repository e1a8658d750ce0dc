package commands

import (
	"sort"
	"strings"
	"unicode"

	kit "craftybot/internal/transport"
)

// sanitizeCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menu builds the /menu list: one entry per registered command, aliases
// excluded, sorted by name.
func menu(cmds []Command) []kit.BotCommand {
	byName := map[string]string{}
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Hidden {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		byName[name] = desc
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]kit.BotCommand, 0, len(names))
	for _, n := range names {
		out = append(out, kit.BotCommand{Command: n, Description: byName[n]})
		if len(out) >= 100 {
			break
		}
	}
	return out
}
