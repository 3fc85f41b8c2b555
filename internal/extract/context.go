package extract

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"smartplanning/internal/snapshot"
)

// Options bound the size of an extracted context.
type Options struct {
	MaxSimilar       int
	MaxResults       int
	MaxTargets       int
	MaxRelated       int
	MaxExamples      int
	MaxCandidates    int
	ArrayWindow      int
	UseReferenceData bool
	// Reference is the pre-validated document used for empty collections.
	Reference *snapshot.Document
}

func (o Options) withDefaults() Options {
	if o.MaxSimilar <= 0 {
		o.MaxSimilar = 10
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 10
	}
	if o.MaxTargets <= 0 {
		o.MaxTargets = 20
	}
	if o.MaxRelated <= 0 {
		o.MaxRelated = 5
	}
	if o.MaxExamples <= 0 {
		o.MaxExamples = 10
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 5
	}
	if o.ArrayWindow <= 0 {
		o.ArrayWindow = 3
	}
	return o
}

// Result is one located occurrence of the error.
type Result struct {
	Path       string         `json:"path"`
	Index      int            `json:"index"`
	Value      any            `json:"value"`
	Object     map[string]any `json:"original_object,omitempty"`
	References []Reference    `json:"references,omitempty"`
	// ReferencesCount is the number of inbound references before capping.
	ReferencesCount int `json:"references_count,omitempty"`
}

// Reference is an inbound pointer from another entity to a located value.
type Reference struct {
	Path string `json:"path"`
	// Affinity counts the scalar values the referencing entity shares with the
	// located entity; it tells duplicates apart.
	Affinity int `json:"affinity"`
}

// ArrayContext is the slice of a nested array around the offending element.
type ArrayContext struct {
	Path      string `json:"path"`
	Offset    int    `json:"offset"`
	Offending int    `json:"offending_index"`
	Length    int    `json:"length"`
	Values    []any  `json:"values"`
}

// Enriched carries examples and patterns that help the model imitate the data.
type Enriched struct {
	FieldExamples  map[string][]string      `json:"field_examples"`
	FormatPatterns map[string]FormatPattern `json:"format_patterns"`
	Related        []map[string]any         `json:"related_entities,omitempty"`
	ValidIDs       []string                 `json:"all_valid_ids,omitempty"`
}

// Context is the bounded excerpt handed to the correction generator.
type Context struct {
	Identification
	Found          bool            `json:"found"`
	NotFoundReason string          `json:"not_found_reason,omitempty"`
	ResultsCount   int             `json:"results_count"`
	Results        []Result        `json:"results"`
	Similar        []SimilarEntity `json:"similar_entities,omitempty"`
	ArrayContext   []ArrayContext  `json:"array_context,omitempty"`
	Targets        []string        `json:"available_targets,omitempty"`
	Enriched       Enriched        `json:"enriched_context"`
	Hints          Hints           `json:"hints"`

	ManualInterventionRequired bool   `json:"manual_intervention_required,omitempty"`
	Reason                     string `json:"reason,omitempty"`

	ReferenceDataAvailable bool   `json:"reference_data_available,omitempty"`
	ReferenceData          []any  `json:"reference_data,omitempty"`
	ReferenceDataCount     int    `json:"reference_data_count,omitempty"`
	FallbackSolution       string `json:"fallback_solution,omitempty"`
}

// Investigable reports whether downstream steps can attempt an automated fix.
func (c *Context) Investigable() bool {
	return c.Found && !c.ManualInterventionRequired
}

// Extractor reduces a snapshot to the context of one error.
type Extractor struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{opts: opts.withDefaults(), log: log}
}

// Extract builds the context for id. It never fails: an unlocatable error
// yields a context with Found false and a reason.
func (e *Extractor) Extract(doc *snapshot.Document, id Identification) *Context {
	c := &Context{
		Identification: id,
		Results:        []Result{},
		Enriched:       Enriched{FieldExamples: map[string][]string{}, FormatPatterns: map[string]FormatPattern{}},
	}
	switch id.Kind {
	case KindDuplicateID:
		e.duplicate(doc, c)
	case KindEmptyID:
		e.emptyID(doc, c)
	case KindEmptyCollection:
		e.emptyCollection(doc, c)
	case KindMissingElement:
		e.missingElement(doc, c)
	case KindDanglingReference:
		e.dangling(doc, c)
	case KindInvalidValue:
		e.invalidValue(doc, c)
	default:
		e.generic(doc, c)
	}
	c.ResultsCount = len(c.Results)
	if len(c.Results) > e.opts.MaxResults {
		c.Results = c.Results[:e.opts.MaxResults]
	}
	if !c.Found && c.NotFoundReason == "" {
		c.NotFoundReason = "no matching entity located"
	}
	e.log.Debug("context extracted",
		zap.String("error_type", string(id.Kind)),
		zap.String("search_value", id.SearchValue),
		zap.Bool("found", c.Found),
		zap.Int("results", c.ResultsCount),
		zap.Int("similar", len(c.Similar)),
	)
	return c
}

func (e *Extractor) duplicate(doc *snapshot.Document, c *Context) {
	coll, ok := snapshot.LookupCollection(c.Collection)
	if !ok {
		c.NotFoundReason = fmt.Sprintf("unknown collection %q", c.Collection)
		return
	}
	ids := doc.IDs(coll)
	arr, _ := doc.Collection(coll.Name)
	for i, v := range ids {
		if v != c.SearchValue {
			continue
		}
		obj, _ := arr[i].(map[string]any)
		r := Result{
			Path:   snapshot.Path{Collection: coll.Name, Index: i, Field: coll.IDField, FieldIndex: -1}.String(),
			Index:  i,
			Value:  v,
			Object: obj,
		}
		r.References, r.ReferencesCount = e.inbound(doc, coll, v, obj)
		c.Results = append(c.Results, r)
	}
	if len(c.Results) < 2 {
		c.NotFoundReason = fmt.Sprintf("%s %q occurs %d time(s)", coll.IDField, c.SearchValue, len(c.Results))
		return
	}
	c.Found = true
	c.Hints.NextDuplicateID = NextDuplicateID(ids, c.SearchValue)
	last := c.Results[len(c.Results)-1].Index
	c.Similar = similarEntities(doc, coll, last, e.opts.MaxSimilar)
	e.enrich(doc, coll, last, c)
}

func (e *Extractor) emptyID(doc *snapshot.Document, c *Context) {
	coll, ok := snapshot.LookupCollection(c.Collection)
	if !ok {
		c.NotFoundReason = fmt.Sprintf("unknown collection %q", c.Collection)
		return
	}
	arr, _ := doc.Collection(coll.Name)
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok || !snapshot.IsBlank(obj[coll.IDField]) {
			continue
		}
		c.Results = append(c.Results, Result{
			Path:   snapshot.Path{Collection: coll.Name, Index: i, Field: coll.IDField, FieldIndex: -1}.String(),
			Index:  i,
			Value:  obj[coll.IDField],
			Object: obj,
		})
	}
	if len(c.Results) == 0 {
		c.NotFoundReason = fmt.Sprintf("no %s entry has an empty %s", coll.Name, coll.IDField)
		return
	}
	c.Found = true
	first := c.Results[0].Index
	c.Hints.NextID = InferNextID(nonBlank(doc.IDs(coll)), idPrefix(coll))
	c.Similar = similarEntities(doc, coll, first, e.opts.MaxSimilar)
	e.enrich(doc, coll, first, c)
}

func (e *Extractor) emptyCollection(doc *snapshot.Document, c *Context) {
	arr, exists := doc.Collection(c.Collection)
	if exists && len(arr) > 0 {
		c.NotFoundReason = fmt.Sprintf("collection %s is not empty (%d entries)", c.Collection, len(arr))
		return
	}
	c.Found = true
	c.Results = append(c.Results, Result{Path: c.Collection, Index: -1, Value: []any{}})

	if !e.opts.UseReferenceData {
		c.ManualInterventionRequired = true
		c.Reason = fmt.Sprintf("required collection %s is empty and the reference data fallback is disabled", c.Collection)
		return
	}
	var ref []any
	if e.opts.Reference != nil {
		ref, _ = e.opts.Reference.Collection(c.Collection)
	}
	if len(ref) == 0 {
		c.ManualInterventionRequired = true
		c.Reason = fmt.Sprintf("required collection %s is empty and the reference data has no entries for it", c.Collection)
		return
	}
	c.ReferenceDataAvailable = true
	c.FallbackSolution = "reference_data"
	c.ReferenceDataCount = len(ref)
	n := 3
	if len(ref) < n {
		n = len(ref)
	}
	c.ReferenceData = append([]any(nil), ref[:n]...)
}

func (e *Extractor) missingElement(doc *snapshot.Document, c *Context) {
	coll, ok := snapshot.LookupCollection(c.Collection)
	if !ok {
		c.NotFoundReason = fmt.Sprintf("unknown collection %q", c.Collection)
		return
	}
	index := indexOf(doc.IDs(coll), c.SearchValue)
	if index < 0 {
		c.NotFoundReason = fmt.Sprintf("%s %q not found", coll.IDField, c.SearchValue)
		return
	}
	obj, _ := doc.Entity(coll.Name, index)
	field := resolveArrayField(obj, c.Field)
	if field == "" {
		c.NotFoundReason = fmt.Sprintf("%s has no array field matching %q", c.SearchValue, c.Field)
		return
	}
	c.Field = field
	c.Found = true
	values, _ := obj[field].([]any)
	path := snapshot.Path{Collection: coll.Name, Index: index, Field: field, FieldIndex: -1}
	c.Results = append(c.Results, Result{Path: path.String(), Index: index, Value: values, Object: obj})

	var known map[string]bool
	rule, hasRule := RuleForArray(coll.Name, field)
	if hasRule {
		if target, ok := snapshot.LookupCollection(rule.To); ok {
			known = toSet(nonBlank(doc.IDs(target)))
			present := map[string]bool{}
			for _, v := range values {
				present[snapshot.Scalar(v)] = true
			}
			c.Hints.Candidates = e.topCandidates(RankCandidates(doc, target, rule.ToField, "", arrayProfile(doc, target, values), present))
			c.Targets = limit(sortedKeys(known), e.opts.MaxTargets)
		}
	}
	c.Hints.Placeholders = findPlaceholders(path.String(), values, known)
	c.Similar = similarEntities(doc, coll, index, e.opts.MaxSimilar)
	c.Hints.SiblingValues = siblingValues(c.Similar, field, values)
	offending := len(values)
	if len(c.Hints.Placeholders) > 0 {
		if p, err := snapshot.ParsePath(c.Hints.Placeholders[0].Path); err == nil {
			offending = p.FieldIndex
		}
	}
	c.ArrayContext = []ArrayContext{window(path.String(), values, offending, e.opts.ArrayWindow)}
	e.enrich(doc, coll, index, c)
}

func (e *Extractor) dangling(doc *snapshot.Document, c *Context) {
	rule := c.Reference
	if rule == nil {
		c.NotFoundReason = "no reference rule for this error"
		return
	}
	from, okFrom := snapshot.LookupCollection(rule.From)
	target, okTo := snapshot.LookupCollection(rule.To)
	if !okFrom || !okTo {
		c.NotFoundReason = fmt.Sprintf("unknown collections %s -> %s", rule.From, rule.To)
		return
	}
	valid := toSet(nonBlank(doc.IDs(target)))
	wanted := toSet(c.SearchValues)
	arr, _ := doc.Collection(from.Name)
	bad := func(v string) bool {
		if v == "" || valid[v] {
			return false
		}
		return len(wanted) == 0 || wanted[v]
	}
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if v := strings.TrimSpace(snapshot.Scalar(obj[rule.Field])); bad(v) {
			c.Results = append(c.Results, Result{
				Path:   snapshot.Path{Collection: from.Name, Index: i, Field: rule.Field, FieldIndex: -1}.String(),
				Index:  i,
				Value:  obj[rule.Field],
				Object: obj,
			})
		}
		if rule.ArrayField == "" {
			continue
		}
		nested, _ := obj[rule.ArrayField].([]any)
		for j, nv := range nested {
			if bad(strings.TrimSpace(snapshot.Scalar(nv))) {
				p := snapshot.Path{Collection: from.Name, Index: i, Field: rule.ArrayField, FieldIndex: j}
				c.Results = append(c.Results, Result{Path: p.String(), Index: i, Value: nv, Object: obj})
				if len(c.ArrayContext) < e.opts.MaxResults {
					base := p.WithField(rule.ArrayField)
					c.ArrayContext = append(c.ArrayContext, window(base.String(), nested, j, e.opts.ArrayWindow))
				}
			}
		}
	}
	c.Targets = limit(sortedKeys(valid), e.opts.MaxTargets)
	if len(c.Results) == 0 {
		c.NotFoundReason = fmt.Sprintf("no %s.%s value outside %s located", from.Name, rule.Field, target.Name)
		return
	}
	c.Found = true
	first := c.Results[0]
	if c.SearchValue == "" {
		c.SearchValue = snapshot.Scalar(first.Value)
	}

	exclude := map[string]bool{}
	var profile Profile
	if p, err := snapshot.ParsePath(first.Path); err == nil && p.HasFieldIndex() {
		nested, _ := first.Object[rule.ArrayField].([]any)
		for _, v := range nested {
			exclude[snapshot.Scalar(v)] = true
		}
		profile = arrayProfile(doc, target, nested)
	} else {
		profile = entityProfile(first.Object, target)
	}
	c.Hints.Candidates = e.topCandidates(RankCandidates(doc, target, rule.ToField, snapshot.Scalar(first.Value), profile, exclude))
	c.Similar = similarEntities(doc, from, first.Index, e.opts.MaxSimilar)
	e.enrich(doc, from, first.Index, c)
}

func (e *Extractor) invalidValue(doc *snapshot.Document, c *Context) {
	coll, ok := snapshot.LookupCollection(c.Collection)
	if !ok {
		c.NotFoundReason = fmt.Sprintf("unknown collection %q", c.Collection)
		return
	}
	index := indexOf(doc.IDs(coll), c.SearchValue)
	if index < 0 {
		c.NotFoundReason = fmt.Sprintf("%s %q not found", coll.IDField, c.SearchValue)
		return
	}
	obj, _ := doc.Entity(coll.Name, index)
	field := resolveField(obj, c.Field)
	if field == "" {
		c.NotFoundReason = fmt.Sprintf("%s %q has no field %q", coll.Label, c.SearchValue, c.Field)
		return
	}
	c.Field = field
	c.Found = true
	c.Results = append(c.Results, Result{
		Path:   snapshot.Path{Collection: coll.Name, Index: index, Field: field, FieldIndex: -1}.String(),
		Index:  index,
		Value:  obj[field],
		Object: obj,
	})
	similar := similarEntities(doc, coll, index, e.opts.MaxSimilar*3)
	kept := similar[:0]
	for _, s := range similar {
		if usable(s.Object[field]) {
			kept = append(kept, s)
		}
	}
	c.Similar = limitSimilar(kept, e.opts.MaxSimilar)
	e.enrich(doc, coll, index, c)
}

// generic serves messages the rules could not classify, guided by the search
// mode and value an identifier chose.
func (e *Extractor) generic(doc *snapshot.Document, c *Context) {
	if c.SearchValue == "" {
		c.NotFoundReason = "no search value"
		return
	}
	var firstColl snapshot.CollectionInfo
	first := -1
	for _, name := range doc.Collections() {
		coll, known := snapshot.LookupCollection(name)
		if !known {
			coll = snapshot.CollectionInfo{Name: name}
		}
		arr, _ := doc.Collection(name)
		for i, elem := range arr {
			obj, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			for _, k := range sortedFields(obj) {
				v := obj[k]
				hit := false
				if c.SearchMode == ModeEmptyField {
					hit = k == c.SearchValue && snapshot.IsBlank(v)
				} else {
					hit = snapshot.Scalar(v) == c.SearchValue
				}
				if !hit {
					continue
				}
				c.Results = append(c.Results, Result{
					Path:   snapshot.Path{Collection: name, Index: i, Field: k, FieldIndex: -1}.String(),
					Index:  i,
					Value:  v,
					Object: obj,
				})
				if first < 0 {
					first, firstColl = i, coll
				}
			}
		}
	}
	if first < 0 {
		c.NotFoundReason = fmt.Sprintf("%s %q not found in any collection", c.SearchMode, c.SearchValue)
		return
	}
	c.Found = true
	if c.Collection == "" {
		c.Collection = firstColl.Name
	}
	if c.SearchMode == ModeValue && len(c.Results) > 1 {
		c.Kind = KindDuplicateID
	}
	if firstColl.IDField != "" {
		c.Similar = similarEntities(doc, firstColl, first, e.opts.MaxSimilar)
		e.enrich(doc, firstColl, first, c)
	}
}

// inbound lists the entities whose reference fields point at value, closest
// first and capped at MaxTargets, along with the uncapped count.
func (e *Extractor) inbound(doc *snapshot.Document, coll snapshot.CollectionInfo, value string, located map[string]any) ([]Reference, int) {
	var out []Reference
	for _, rule := range RulesInto(coll.Name) {
		arr, _ := doc.Collection(rule.From)
		for i, elem := range arr {
			obj, ok := elem.(map[string]any)
			if !ok || sameObject(obj, located) {
				continue
			}
			if snapshot.Scalar(obj[rule.Field]) == value {
				out = append(out, Reference{
					Path:     snapshot.Path{Collection: rule.From, Index: i, Field: rule.Field, FieldIndex: -1}.String(),
					Affinity: sharedValues(obj, located),
				})
			}
			if rule.ArrayField == "" {
				continue
			}
			nested, _ := obj[rule.ArrayField].([]any)
			for j, nv := range nested {
				if snapshot.Scalar(nv) == value {
					out = append(out, Reference{
						Path:     snapshot.Path{Collection: rule.From, Index: i, Field: rule.ArrayField, FieldIndex: j}.String(),
						Affinity: sharedValues(obj, located),
					})
				}
			}
		}
	}
	total := len(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Affinity > out[j].Affinity })
	if len(out) > e.opts.MaxTargets {
		out = out[:e.opts.MaxTargets]
	}
	return out, total
}

func (e *Extractor) enrich(doc *snapshot.Document, coll snapshot.CollectionInfo, index int, c *Context) {
	ids := doc.IDs(coll)
	arr, _ := doc.Collection(coll.Name)

	for _, field := range append([]string{coll.IDField}, coll.GroupKeys...) {
		seen := map[string]bool{}
		var examples []string
		for _, elem := range arr {
			obj, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			v := snapshot.Scalar(obj[field])
			if strings.TrimSpace(v) == "" || seen[v] {
				continue
			}
			seen[v] = true
			examples = append(examples, v)
			if len(examples) >= e.opts.MaxExamples {
				break
			}
		}
		if len(examples) > 0 {
			c.Enriched.FieldExamples[field] = examples
		}
	}
	c.Enriched.FormatPatterns[coll.IDField] = buildFormatPattern(coll.IDField, ids)
	c.Enriched.ValidIDs = limit(nonBlank(ids), e.opts.MaxTargets)

	self, ok := doc.Entity(coll.Name, index)
	if !ok || len(coll.GroupKeys) == 0 {
		return
	}
	key := coll.GroupKeys[0]
	want := snapshot.Scalar(self[key])
	if want == "" {
		return
	}
	for i, elem := range arr {
		if i == index {
			continue
		}
		obj, ok := elem.(map[string]any)
		if !ok || snapshot.Scalar(obj[key]) != want {
			continue
		}
		compact := map[string]any{coll.IDField: obj[coll.IDField]}
		for _, k := range coll.GroupKeys {
			if v, ok := obj[k]; ok {
				compact[k] = v
			}
		}
		c.Enriched.Related = append(c.Enriched.Related, compact)
		if len(c.Enriched.Related) >= e.opts.MaxRelated {
			break
		}
	}
}

func (e *Extractor) topCandidates(all []Suggestion) []Suggestion {
	if len(all) > e.opts.MaxCandidates {
		return all[:e.opts.MaxCandidates]
	}
	return all
}

// arrayProfile collects the grouping values of the target entities already
// referenced by an array; a replacement should fit the same category.
func arrayProfile(doc *snapshot.Document, target snapshot.CollectionInfo, values []any) Profile {
	refs := map[string]bool{}
	for _, v := range values {
		if s := snapshot.Scalar(v); s != "" && !IsPlaceholderToken(s) {
			refs[s] = true
		}
	}
	p := Profile{}
	arr, _ := doc.Collection(target.Name)
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok || !refs[snapshot.Scalar(obj[target.IDField])] {
			continue
		}
		for _, k := range target.GroupKeys {
			p.add(k, snapshot.Scalar(obj[k]))
		}
	}
	return p
}

// entityProfile treats the referencing entity's own values as the category
// the referenced entity should share.
func entityProfile(obj map[string]any, target snapshot.CollectionInfo) Profile {
	p := Profile{}
	for _, k := range target.GroupKeys {
		if v := snapshot.Scalar(obj[k]); v != "" {
			p.add(k, v)
		}
	}
	return p
}

// siblingValues lists the elements of the same array in the most similar
// entity that has one, minus the values already present.
func siblingValues(similar []SimilarEntity, field string, present []any) []string {
	have := map[string]bool{}
	for _, v := range present {
		have[snapshot.Scalar(v)] = true
	}
	for _, s := range similar {
		nested, ok := s.Object[field].([]any)
		if !ok || len(nested) == 0 {
			continue
		}
		var out []string
		for _, v := range nested {
			if sv := snapshot.Scalar(v); sv != "" && !have[sv] && !IsPlaceholderToken(sv) {
				out = append(out, sv)
			}
		}
		return out
	}
	return nil
}

func window(path string, values []any, offending, radius int) ArrayContext {
	start := offending - radius
	if start < 0 {
		start = 0
	}
	end := offending + radius + 1
	if end > len(values) {
		end = len(values)
	}
	if start > end {
		start = end
	}
	return ArrayContext{
		Path:      path,
		Offset:    start,
		Offending: offending,
		Length:    len(values),
		Values:    append([]any(nil), values[start:end]...),
	}
}

// resolveField finds the entity field an error message names, accepting
// snake_case spellings of camelCase fields ("rel_density_min" -> "relDensityMin").
func resolveField(obj map[string]any, name string) string {
	if _, ok := obj[name]; ok {
		return name
	}
	want := normalizeName(name)
	for k := range obj {
		if normalizeName(k) == want {
			return k
		}
	}
	return ""
}

// resolveArrayField maps a phrase such as "work plans" to an array field such
// as "workPlanIds".
func resolveArrayField(obj map[string]any, phrase string) string {
	if f := resolveField(obj, phrase); f != "" {
		if _, ok := obj[f].([]any); ok {
			return f
		}
	}
	want := stem(normalizeName(phrase))
	for _, k := range sortedFields(obj) {
		if _, ok := obj[k].([]any); !ok {
			continue
		}
		if stem(normalizeName(k)) == want {
			return k
		}
	}
	return ""
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func stem(s string) string {
	s = strings.TrimSuffix(s, "s")
	s = strings.TrimSuffix(s, "id")
	return strings.TrimSuffix(s, "s")
}

func usable(v any) bool {
	if snapshot.IsBlank(v) {
		return false
	}
	s := snapshot.Scalar(v)
	return s != "0" && s != "0.0" && s != "false"
}

func idPrefix(c snapshot.CollectionInfo) string {
	var b strings.Builder
	for _, r := range c.Label {
		if unicode.IsUpper(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.ToUpper(c.Name)
	}
	return b.String()
}

func indexOf(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	return -1
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func limit(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func limitSimilar(values []SimilarEntity, n int) []SimilarEntity {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func sortedFields(obj map[string]any) []string {
	keys := make(map[string]bool, len(obj))
	for k := range obj {
		keys[k] = true
	}
	return sortedKeys(keys)
}

func sameObject(a, b map[string]any) bool {
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
