package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Hints are deterministic suggestions computed from the document.
type Hints struct {
	NextDuplicateID string        `json:"next_duplicate_id,omitempty"`
	NextID          string        `json:"next_id,omitempty"`
	Candidates      []Suggestion  `json:"candidates,omitempty"`
	Placeholders    []Placeholder `json:"placeholders,omitempty"`
	// SiblingValues come from the same array of the most similar entity.
	SiblingValues []string `json:"sibling_values,omitempty"`
}

// NextDuplicateID returns value_k for the smallest k >= 2 not already taken.
func NextDuplicateID(taken []string, value string) string {
	set := toSet(taken)
	for k := 2; ; k++ {
		c := fmt.Sprintf("%s_%d", value, k)
		if !set[c] {
			return c
		}
	}
}

var reNumericTail = regexp.MustCompile(`^(.*?)(\d+)$`)

// InferNextID continues the dominant "prefix + number" pattern of ids. When no
// pattern exists it falls back to fallbackPrefix plus a running index.
func InferNextID(ids []string, fallbackPrefix string) string {
	set := toSet(ids)
	type family struct {
		count int
		max   int
		width map[int]int
	}
	families := map[string]*family{}
	for _, id := range ids {
		m := reNumericTail.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		f := families[m[1]]
		if f == nil {
			f = &family{width: map[int]int{}}
			families[m[1]] = f
		}
		f.count++
		f.width[len(m[2])]++
		if n > f.max {
			f.max = n
		}
	}

	best := ""
	var bf *family
	for prefix, f := range families {
		if bf == nil || f.count > bf.count || (f.count == bf.count && prefix < best) {
			best, bf = prefix, f
		}
	}
	if bf != nil && bf.count >= 1 {
		width, wc := 0, 0
		for w, c := range bf.width {
			if c > wc || (c == wc && w > width) {
				width, wc = w, c
			}
		}
		for n := bf.max + 1; ; n++ {
			c := fmt.Sprintf("%s%0*d", best, width, n)
			if !set[c] {
				return c
			}
		}
	}

	if fallbackPrefix == "" {
		fallbackPrefix = "AUTO"
	}
	for n := len(ids) + 1; ; n++ {
		c := fmt.Sprintf("%s_AUTO_%d", fallbackPrefix, n)
		if !set[c] {
			return c
		}
	}
}

// Placeholder is a nested-array element that looks like a stand-in value.
type Placeholder struct {
	Path   string `json:"path"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

var placeholderTokens = []string{"placeholder", "dummy", "test", "tbd", "todo", "xxx", "tmp", "n/a", "none", "unknown", "default"}

// IsPlaceholderToken reports whether v starts with a known sentinel token.
func IsPlaceholderToken(v string) bool {
	l := strings.ToLower(strings.TrimSpace(v))
	if l == "" {
		return true
	}
	for _, t := range placeholderTokens {
		if strings.HasPrefix(l, t) {
			return true
		}
	}
	return false
}

// findPlaceholders inspects the elements of a nested array. An element is a
// placeholder when it starts with a sentinel token, when it breaks the prefix
// shared by all its siblings, or when known is non-nil and does not contain it.
func findPlaceholders(basePath string, values []any, known map[string]bool) []Placeholder {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i], _ = v.(string)
	}
	var out []Placeholder
	for i, s := range strs {
		path := fmt.Sprintf("%s[%d]", basePath, i)
		switch {
		case IsPlaceholderToken(s):
			out = append(out, Placeholder{Path: path, Value: s, Reason: "sentinel value"})
		case breaksPattern(strs, i):
			out = append(out, Placeholder{Path: path, Value: s, Reason: "breaks the format shared by sibling elements"})
		case known != nil && !known[s]:
			out = append(out, Placeholder{Path: path, Value: s, Reason: "does not reference an existing entity"})
		}
	}
	return out
}

// breaksPattern reports whether strs[i] lacks the prefix or suffix that all
// other elements share. At least two siblings are needed to see a pattern.
func breaksPattern(strs []string, i int) bool {
	var others []string
	for j, s := range strs {
		if j != i && s != "" && !IsPlaceholderToken(s) {
			others = append(others, s)
		}
	}
	if len(others) < 2 {
		return false
	}
	prefix, suffix := others[0], others[0]
	for _, s := range others[1:] {
		prefix = prefix[:commonPrefix(prefix, s)]
		suffix = suffix[len(suffix)-commonSuffix(suffix, s):]
	}
	if len(prefix) >= 3 && !strings.HasPrefix(strs[i], prefix) {
		return true
	}
	return len(suffix) >= 3 && !strings.HasSuffix(strs[i], suffix)
}

// FormatPattern summarises the identifiers of one field.
type FormatPattern struct {
	Field              string   `json:"field_name"`
	TotalCount         int      `json:"total_count"`
	NonEmptyCount      int      `json:"non_empty_count"`
	SampleValues       []string `json:"sample_values"`
	MinLength          int      `json:"min_length"`
	MaxLength          int      `json:"max_length"`
	CommonPrefix       string   `json:"common_prefix,omitempty"`
	NumericSuffixWidth int      `json:"numeric_suffix_width,omitempty"`
	UsesUnderscore     bool     `json:"uses_underscore"`
	DetectedPatterns   []string `json:"detected_patterns,omitempty"`
}

func buildFormatPattern(field string, values []string) FormatPattern {
	p := FormatPattern{Field: field, TotalCount: len(values), SampleValues: []string{}}
	var nonEmpty []string
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		nonEmpty = append(nonEmpty, v)
	}
	p.NonEmptyCount = len(nonEmpty)
	if len(nonEmpty) == 0 {
		return p
	}
	p.MinLength, p.MaxLength = len(nonEmpty[0]), len(nonEmpty[0])
	prefix := nonEmpty[0]
	underscore := true
	widths := map[int]int{}
	for _, v := range nonEmpty {
		if len(p.SampleValues) < 5 {
			p.SampleValues = append(p.SampleValues, v)
		}
		if len(v) < p.MinLength {
			p.MinLength = len(v)
		}
		if len(v) > p.MaxLength {
			p.MaxLength = len(v)
		}
		prefix = prefix[:commonPrefix(prefix, v)]
		if !strings.Contains(v, "_") {
			underscore = false
		}
		if m := reNumericTail.FindStringSubmatch(v); m != nil {
			widths[len(m[2])]++
		}
	}
	p.CommonPrefix = prefix
	p.UsesUnderscore = underscore
	bestW, bestC := 0, 0
	for w, c := range widths {
		if c > bestC || (c == bestC && w > bestW) {
			bestW, bestC = w, c
		}
	}
	if bestC*2 >= len(nonEmpty) {
		p.NumericSuffixWidth = bestW
		p.DetectedPatterns = append(p.DetectedPatterns, fmt.Sprintf("Ends with a %d digit number", bestW))
	}
	if prefix != "" {
		p.DetectedPatterns = append(p.DetectedPatterns, fmt.Sprintf("Starts with '%s'", prefix))
	}
	if underscore {
		p.DetectedPatterns = append(p.DetectedPatterns, "Contains underscore separator")
	}
	return p
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
