package correction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"smartplanning/internal/llmtool"
	"smartplanning/internal/snapshot"
)

// CheckOptions carries the document facts semantic validation needs.
type CheckOptions struct {
	UseReferenceData bool
	Reference        *snapshot.Document
}

var requiredKeys = []string{"action", "target_path", "current_value", "new_value", "reasoning"}

const actionList = "update_field, add_to_array, remove_from_array, manual_intervention_required"

func knownAction(a Action) bool {
	switch a {
	case ActionUpdateField, ActionAddToArray, ActionRemoveFromArray, ActionManualIntervention:
		return true
	}
	return false
}

// ParseRaw checks the shape of a raw model answer and returns the decoded
// proposal. Every problem is reported, not only the first.
func ParseRaw(raw json.RawMessage) (Proposal, error) {
	var errs ValidationErrors
	var obj map[string]any
	if err := llmtool.Decode(raw, &obj); err != nil || obj == nil {
		errs.add("", "response is not a JSON object")
		return Proposal{}, errs
	}
	obj = unwrapProposal(obj)

	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			errs.add(k, "field required")
		}
	}
	p := Proposal{CurrentValue: obj["current_value"], NewValue: obj["new_value"]}
	if s, ok := obj["action"].(string); ok {
		p.Action = Action(strings.TrimSpace(s))
	} else if _, present := obj["action"]; present {
		errs.add("action", "must be a string")
	}
	if s, ok := obj["target_path"].(string); ok {
		p.TargetPath = strings.TrimSpace(s)
	} else if _, present := obj["target_path"]; present {
		errs.add("target_path", "must be a string")
	}
	if s, ok := obj["reasoning"].(string); ok {
		p.Reasoning = s
	} else if _, present := obj["reasoning"]; present {
		errs.add("reasoning", "must be a string")
	}
	if v, present := obj["additional_updates"]; present && v != nil {
		list, ok := v.([]any)
		if !ok {
			errs.add("additional_updates", "must be an array")
		}
		for i, item := range list {
			field := fmt.Sprintf("additional_updates[%d]", i)
			m, ok := item.(map[string]any)
			if !ok {
				errs.add(field, "must be an object")
				continue
			}
			tp, ok := m["target_path"].(string)
			if !ok || strings.TrimSpace(tp) == "" {
				errs.add(field+".target_path", "field required")
			}
			if _, ok := m["new_value"]; !ok {
				errs.add(field+".new_value", "field required")
			}
			p.AdditionalUpdates = append(p.AdditionalUpdates, AdditionalUpdate{
				TargetPath:   strings.TrimSpace(tp),
				CurrentValue: m["current_value"],
				NewValue:     m["new_value"],
			})
		}
	}
	if len(errs) > 0 {
		return p, errs
	}
	if _, err := p.Parse(); err != nil {
		return p, err
	}
	return p, nil
}

// Parse checks action-specific constraints and converts p into a Plan.
func (p Proposal) Parse() (Plan, error) {
	var errs ValidationErrors
	plan := Plan{Reasoning: p.Reasoning}

	if strings.TrimSpace(p.Reasoning) == "" {
		errs.add("reasoning", "must not be empty")
	}
	var path snapshot.Path
	if p.Action != ActionManualIntervention {
		var err error
		path, err = snapshot.ParsePath(p.TargetPath)
		if err != nil {
			errs.add("target_path", "%q is not collection, collection[i], collection[i].field or collection[i].field[j]", p.TargetPath)
			if !knownAction(p.Action) {
				errs.add("action", "%q is not one of %s", p.Action, actionList)
			}
			return Plan{}, errs
		}
	}

	switch p.Action {
	case ActionUpdateField:
		switch {
		case isSentinel(p.NewValue):
			if !path.IsCollection() {
				errs.add("target_path", "%s must name a bare collection", ReferenceDataSentinel)
			}
			plan.Variant = UseReferenceData{Collection: path.Collection}
		case !path.HasIndex() || !path.HasField():
			errs.add("target_path", "update_field needs collection[i].field")
		default:
			plan.Variant = UpdateField{FieldUpdate{Path: path, Current: p.CurrentValue, New: coerceValue(p.NewValue)}}
		}
	case ActionAddToArray:
		entity, ok := coerceValue(p.NewValue).(map[string]any)
		if !ok {
			errs.add("new_value", "add_to_array needs a full entity object")
		}
		if !path.IsCollection() {
			errs.add("target_path", "add_to_array needs a bare collection name")
		}
		plan.Variant = AddToArray{Collection: path.Collection, Entity: entity}
	case ActionRemoveFromArray:
		switch {
		case path.IsCollection():
			if p.CurrentValue == nil {
				errs.add("current_value", "remove_from_array on a collection needs current_value as a match filter")
			}
		case path.HasField() && !path.HasFieldIndex():
			errs.add("target_path", "remove_from_array needs collection[i] or collection[i].field[j]")
		}
		plan.Variant = RemoveFromArray{Path: path, Filter: coerceValue(p.CurrentValue)}
	case ActionManualIntervention:
		plan.Variant = ManualIntervention{Reason: p.Reasoning}
	default:
		errs.add("action", "%q is not one of %s", p.Action, actionList)
	}

	if p.Action != ActionManualIntervention {
		for i, u := range p.AdditionalUpdates {
			field := fmt.Sprintf("additional_updates[%d].target_path", i)
			up, err := snapshot.ParsePath(u.TargetPath)
			if err != nil || !up.HasIndex() || !up.HasField() {
				errs.add(field, "%q must be collection[i].field", u.TargetPath)
				continue
			}
			plan.Additional = append(plan.Additional, FieldUpdate{Path: up, Current: u.CurrentValue, New: coerceValue(u.NewValue)})
		}
	}
	if len(errs) > 0 {
		return Plan{}, errs
	}
	return plan, nil
}

// Check validates a plan against the document it will be applied to. It
// dry-runs the edit on a copy so interactions between the main edit and the
// additional updates are seen.
func Check(plan Plan, doc *snapshot.Document, opts CheckOptions) error {
	var errs ValidationErrors
	if plan.Manual() {
		return nil
	}
	if u, ok := plan.Variant.(UseReferenceData); ok {
		if !opts.UseReferenceData {
			errs = append(errs, FieldError{Field: "new_value", Message: ErrReferenceDataDisabled.Error(), Err: ErrReferenceDataDisabled})
		} else if opts.Reference == nil {
			errs.add("new_value", "no reference document is loaded")
		} else if ref, ok := opts.Reference.Collection(u.Collection); !ok || len(ref) == 0 {
			errs.add("target_path", "reference document has no %s", u.Collection)
		}
		if len(errs) > 0 {
			return errs
		}
	}

	work := doc.Clone()
	touched, err := mutate(work, plan, opts.Reference)
	if err != nil {
		errs.add("target_path", "%v", err)
		return errs
	}
	for _, t := range touched {
		checkUnique(work, t, &errs)
	}
	return errs.orNil()
}

// checkUnique reports identifier collisions and repeated nested-array values
// introduced at path.
func checkUnique(doc *snapshot.Document, path snapshot.Path, errs *ValidationErrors) {
	coll, known := snapshot.LookupCollection(path.Collection)
	switch {
	case path.HasFieldIndex():
		arr, err := doc.Get(path.WithField(path.Field))
		if err != nil {
			return
		}
		values, _ := arr.([]any)
		if path.FieldIndex >= len(values) {
			return
		}
		for j, v := range values {
			if j != path.FieldIndex && snapshot.Equal(v, values[path.FieldIndex]) {
				errs.add("new_value", "%s would repeat %q already at %s", path, snapshot.Scalar(v),
					snapshot.Path{Collection: path.Collection, Index: path.Index, Field: path.Field, FieldIndex: j})
				return
			}
		}
	case path.HasField() && known && path.Field == coll.IDField:
		checkIDUnique(doc, coll, path.Index, errs)
	case path.HasField():
		v, err := doc.Get(path)
		if err != nil {
			return
		}
		if values, ok := v.([]any); ok && hasRepeat(values) {
			errs.add("new_value", "%s would contain a repeated value", path)
		}
	case path.HasIndex() && known:
		checkIDUnique(doc, coll, path.Index, errs)
	}
}

func checkIDUnique(doc *snapshot.Document, coll snapshot.CollectionInfo, index int, errs *ValidationErrors) {
	ids := doc.IDs(coll)
	if index < 0 || index >= len(ids) {
		return
	}
	id := ids[index]
	if strings.TrimSpace(id) == "" {
		errs.add("new_value", "%s at %s[%d] must not be empty", coll.IDField, coll.Name, index)
		return
	}
	for i, other := range ids {
		if i != index && other == id {
			errs.add("new_value", "%s %q would duplicate %s[%d]", coll.IDField, id, coll.Name, i)
			return
		}
	}
}

func hasRepeat(values []any) bool {
	for i := range values {
		for j := i + 1; j < len(values); j++ {
			if snapshot.Equal(values[i], values[j]) {
				return true
			}
		}
	}
	return false
}

// ErrorStrings renders err as a list, expanding ValidationErrors.
func ErrorStrings(err error) []string {
	if err == nil {
		return nil
	}
	var v ValidationErrors
	if errors.As(err, &v) {
		return v.Strings()
	}
	return []string{err.Error()}
}
