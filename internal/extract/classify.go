package extract

import (
	"regexp"
	"strings"

	"smartplanning/internal/snapshot"
)

// Kind is the class of a validation error.
type Kind string

const (
	KindEmptyID           Kind = "EMPTY_FIELD"
	KindDuplicateID       Kind = "DUPLICATE_ID"
	KindEmptyCollection   Kind = "EMPTY_COLLECTION"
	KindMissingElement    Kind = "MISSING_ARRAY_ELEMENT"
	KindDanglingReference Kind = "DANGLING_REFERENCE"
	KindInvalidValue      Kind = "INVALID_VALUE"
	KindUnknown           Kind = "UNKNOWN"
)

// Mode is how the implicated location is searched for.
type Mode string

const (
	// ModeValue searches for a concrete identifier or an invalid-but-present value.
	ModeValue Mode = "value"
	// ModeEmptyField searches for a field that has no value.
	ModeEmptyField Mode = "empty_field"
)

// Identification is the analysed form of one validation message.
type Identification struct {
	Message           snapshot.Message `json:"original_error"`
	Validator         string           `json:"validator,omitempty"`
	Kind              Kind             `json:"error_type"`
	SearchMode        Mode             `json:"search_mode"`
	SearchValue       string           `json:"search_value"`
	SearchValues      []string         `json:"search_values,omitempty"`
	Collection        string           `json:"collection,omitempty"`
	Field             string           `json:"field,omitempty"`
	Reference         *RefRule         `json:"reference,omitempty"`
	ShouldInvestigate bool             `json:"should_investigate"`
	Source            string           `json:"source"`
}

// RefRule states that From.Field (or each element of From.ArrayField) must name an
// existing To.ToField.
type RefRule struct {
	From       string `json:"from"`
	Field      string `json:"field"`
	ArrayField string `json:"array_field,omitempty"`
	To         string `json:"to"`
	ToField    string `json:"to_field"`
}

var refRules = map[string]RefRule{
	"validate_work_plan_ids":                    {From: "articles", Field: "workPlanId", ArrayField: "workPlanIds", To: "workPlans", ToField: "workPlanId"},
	"validate_demand_article_ids":               {From: "demands", Field: "articleId", To: "articles", ToField: "articleId"},
	"validate_equipment_predecessor_references": {From: "equipment", Field: "predecessorKey", ArrayField: "predecessors", To: "equipment", ToField: "equipmentId"},
	"validate_demand_successors":                {From: "demands", Field: "successor", To: "demands", ToField: "demandId"},
}

// RefRules returns every known reference rule.
func RefRules() []RefRule {
	out := make([]RefRule, 0, len(refRules))
	for _, name := range []string{
		"validate_demand_article_ids",
		"validate_work_plan_ids",
		"validate_equipment_predecessor_references",
		"validate_demand_successors",
	} {
		out = append(out, refRules[name])
	}
	return out
}

// RulesInto lists the reference rules whose target is collection.
func RulesInto(collection string) []RefRule {
	var out []RefRule
	for _, r := range RefRules() {
		if r.To == collection {
			out = append(out, r)
		}
	}
	return out
}

// RuleForArray finds the reference rule that governs a nested array field.
func RuleForArray(collection, field string) (RefRule, bool) {
	for _, r := range RefRules() {
		if r.From == collection && r.ArrayField != "" && r.ArrayField == field {
			return r, true
		}
	}
	return RefRule{}, false
}

var (
	reDuplicates   = regexp.MustCompile(`(?i)duplicates?\b[^:]*?found:\s*(.+)$`)
	reEmptyIDs     = regexp.MustCompile(`(?i)\bIDs?\b[^.]*\b(must not be empty|empty ids? found|are empty|is empty)`)
	reEmptyColl    = regexp.MustCompile(`(?i)(must not be empty|\bno\b[\w ]+\bdefined\b|\bis empty\b|\bare empty\b)`)
	reMissingElem  = regexp.MustCompile(`(?i)\b(?:article|demand|work plan|equipment|worker|packaging)\s+'?([^\s':,]+)'?\s+(?:has no|is missing|without|missing)\s+([A-Za-z][\w ]*)`)
	reInvalidValue = regexp.MustCompile(`(?i)\b(?:article|demand|work plan|equipment|worker|packaging)\s+'?([^\s':,]+)'?\s+has invalid\s+([A-Za-z_][\w]*)(?::\s*(.*))?`)
	reNotExist     = regexp.MustCompile(`(?i)(do(?:es)? not exist|unknown|not found|dangling|invalid reference)`)
	reRefPhrase    = regexp.MustCompile(`(?i)([\w ]+?)\s+IDs?\s+in\s+([\w ]+?)\s+do(?:es)? not exist in\s+([\w ]+)`)
)

// Classify analyses msg with the validator table and message patterns.
// ok is false when the message matches none of the known error shapes.
func Classify(msg snapshot.Message) (Identification, bool) {
	id := Identification{
		Message:    msg,
		Validator:  msg.Validator(),
		Kind:       KindUnknown,
		SearchMode: ModeValue,
		Source:     "rules",
	}
	text := stripValidator(msg.Message)

	if rule, ok := refRules[id.Validator]; ok {
		return classifyReference(id, text, rule), true
	}

	switch {
	case reDuplicates.MatchString(text):
		values := splitIDs(reDuplicates.FindStringSubmatch(text)[1])
		coll, _ := snapshot.CollectionForText(text)
		if len(values) == 0 || coll.Name == "" {
			return id, false
		}
		id.Kind = KindDuplicateID
		id.Collection = coll.Name
		id.Field = coll.IDField
		id.SearchValue = values[0]
		id.SearchValues = values
		id.ShouldInvestigate = true
		return id, true

	case reEmptyIDs.MatchString(text):
		coll, ok := snapshot.CollectionForText(text)
		if !ok {
			return id, false
		}
		id.Kind = KindEmptyID
		id.SearchMode = ModeEmptyField
		id.Collection = coll.Name
		id.Field = coll.IDField
		id.SearchValue = coll.IDField
		id.ShouldInvestigate = true
		return id, true

	case reInvalidValue.MatchString(text):
		m := reInvalidValue.FindStringSubmatch(text)
		coll, ok := snapshot.CollectionForText(text)
		if !ok {
			return id, false
		}
		id.Kind = KindInvalidValue
		id.Collection = coll.Name
		id.SearchValue = m[1]
		id.Field = m[2]
		id.ShouldInvestigate = true
		return id, true

	case reMissingElem.MatchString(text):
		m := reMissingElem.FindStringSubmatch(text)
		coll, ok := snapshot.CollectionForText(text)
		if !ok {
			return id, false
		}
		id.Kind = KindMissingElement
		id.Collection = coll.Name
		id.SearchValue = strings.TrimRight(m[1], ".")
		id.Field = strings.TrimSpace(m[2])
		id.ShouldInvestigate = true
		return id, true

	case reEmptyColl.MatchString(text):
		coll, ok := snapshot.CollectionForText(text)
		if !ok {
			return id, false
		}
		id.Kind = KindEmptyCollection
		id.SearchMode = ModeEmptyField
		id.Collection = coll.Name
		id.SearchValue = coll.Name
		id.ShouldInvestigate = true
		return id, true

	case reNotExist.MatchString(text):
		if m := reRefPhrase.FindStringSubmatch(text); m != nil {
			from, okFrom := snapshot.CollectionForText(m[2])
			to, okTo := snapshot.CollectionForText(m[3])
			if okFrom && okTo {
				rule := RefRule{From: from.Name, Field: to.IDField, To: to.Name, ToField: to.IDField}
				return classifyReference(id, text, rule), true
			}
		}
	}
	return id, false
}

func classifyReference(id Identification, text string, rule RefRule) Identification {
	id.Kind = KindDanglingReference
	id.Collection = rule.From
	id.Field = rule.Field
	r := rule
	id.Reference = &r
	id.ShouldInvestigate = true
	if i := strings.LastIndex(text, ":"); i >= 0 {
		id.SearchValues = splitIDs(text[i+1:])
	}
	if len(id.SearchValues) > 0 {
		id.SearchValue = id.SearchValues[0]
	}
	return id
}

func stripValidator(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") {
		if i := strings.Index(text, "]"); i > 0 {
			return strings.TrimSpace(text[i+1:])
		}
	}
	return text
}

// splitIDs reads a comma separated identifier list such as "D1, D2." or "['A', 'B']".
func splitIDs(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]{}()")
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if i := strings.Index(part, " appears"); i > 0 {
			part = part[:i]
		}
		if fs := strings.Fields(part); len(fs) > 1 {
			part = fs[0]
		}
		part = strings.Trim(part, `'"`+"`")
		part = strings.TrimRight(part, ".")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
