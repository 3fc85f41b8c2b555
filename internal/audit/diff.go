package audit

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"smartplanning/internal/snapshot"
)

// Diff renders a line diff between the indented JSON forms of before and
// after, one "+", "-" or " " prefixed line each. Equal values give "".
func Diff(before, after any) string {
	if snapshot.Equal(before, after) {
		return ""
	}
	a, b := pretty(before), pretty(after)

	dmp := diffmatchpatch.New()
	ac, bc, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ac, bc, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		mark := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			mark = "-"
		case diffmatchpatch.DiffInsert:
			mark = "+"
		}
		for _, line := range chunk {
			out.WriteString(mark)
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}
	return out.String()
}

func pretty(v any) string {
	raw, err := snapshot.EncodeJSON(v)
	if err != nil {
		return inline(v) + "\n"
	}
	s := string(raw)
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
