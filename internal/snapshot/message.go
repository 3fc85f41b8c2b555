package snapshot

import (
	"encoding/json"
	"regexp"
	"strings"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel normalises the API's upper-case levels.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Message is one finding from the planning API's validate operation.
type Message struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Level = ParseLevel(raw.Level)
	m.Message = raw.Message
	return nil
}

var validatorTag = regexp.MustCompile(`\[(\w+)\]`)

// Validator returns the bracketed validator name that prefixes API messages, if any.
func (m Message) Validator() string {
	if sm := validatorTag.FindStringSubmatch(m.Message); sm != nil {
		return sm[1]
	}
	return ""
}

type Messages []Message

func (ms Messages) Errors() Messages {
	return ms.Filter(LevelError)
}

func (ms Messages) Filter(level Level) Messages {
	out := make(Messages, 0, len(ms))
	for _, m := range ms {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

func (ms Messages) Count(level Level) int {
	n := 0
	for _, m := range ms {
		if m.Level == level {
			n++
		}
	}
	return n
}

func (ms Messages) HasErrors() bool { return ms.Count(LevelError) > 0 }
