package llmclient

import (
	"encoding/json"
	"strings"
)

// CountTokens is a rough estimate: the larger of word count and chars/4.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if chars > words {
		return chars
	}
	if words == 0 {
		return 1
	}
	return words
}

// ExtractJSON pulls one JSON value out of a model reply, tolerating
// markdown fences and prose around it.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, ErrInvalidJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return nil, ErrInvalidJSON
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(candidate), nil
}

func renderInput(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	}
	b, _ := json.MarshalIndent(input, "", "  ")
	return string(b)
}
