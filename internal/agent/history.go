package agent

import (
	"regexp"
	"strings"
)

// Recent keeps the last pairs user/assistant pairs of history.
func Recent(history []Turn, pairs int) []Turn {
	if pairs <= 0 {
		return nil
	}
	max := pairs * 2
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// Truncate shortens s to n runes, marking the cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// transcript renders history for a prompt, one line per message.
func transcript(history []Turn, limit int) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range history {
		role := "User"
		if t.Role == RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(Truncate(strings.TrimSpace(t.Content), limit))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

var uuidPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// SnapshotIDFrom returns the first snapshot id in message, else current,
// else the most recent one mentioned in history.
func SnapshotIDFrom(message string, history []Turn, current string) string {
	if id := uuidPattern.FindString(message); id != "" {
		return strings.ToLower(id)
	}
	if current != "" {
		return current
	}
	for i := len(history) - 1; i >= 0; i-- {
		ids := uuidPattern.FindAllString(history[i].Content, -1)
		if len(ids) > 0 {
			return strings.ToLower(ids[len(ids)-1])
		}
	}
	return ""
}
