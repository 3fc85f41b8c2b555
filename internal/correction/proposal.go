package correction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"smartplanning/internal/snapshot"
)

// Action names one kind of edit.
type Action string

const (
	ActionUpdateField        Action = "update_field"
	ActionAddToArray         Action = "add_to_array"
	ActionRemoveFromArray    Action = "remove_from_array"
	ActionManualIntervention Action = "manual_intervention_required"
)

// ReferenceDataSentinel in new_value asks for a collection to be copied from
// the reference document instead of using a literal value.
const ReferenceDataSentinel = "USE_REFERENCE_DATA"

var (
	ErrInvalidAfterRetries   = errors.New("correction proposal invalid after retries")
	ErrReferenceDataDisabled = errors.New("reference data fallback is disabled")
)

// AdditionalUpdate is a follow-up update_field, used to propagate renames.
type AdditionalUpdate struct {
	TargetPath   string `json:"target_path"`
	CurrentValue any    `json:"current_value"`
	NewValue     any    `json:"new_value"`
}

// Proposal is the wire form of one correction as the generator returns it.
type Proposal struct {
	Action            Action             `json:"action"`
	TargetPath        string             `json:"target_path"`
	CurrentValue      any                `json:"current_value"`
	NewValue          any                `json:"new_value"`
	Reasoning         string             `json:"reasoning"`
	AdditionalUpdates []AdditionalUpdate `json:"additional_updates"`
}

// ErrorAnalyzed summarises the context the proposal was generated from.
type ErrorAnalyzed struct {
	SearchMode   string   `json:"search_mode"`
	SearchValue  string   `json:"search_value"`
	ErrorType    string   `json:"error_type"`
	ResultsCount int      `json:"results_count"`
	ResultPaths  []string `json:"result_paths,omitempty"`
	Candidates   []string `json:"candidates,omitempty"`
}

// Envelope is what llm_correction_proposal.json holds.
type Envelope struct {
	Iteration     int              `json:"iteration"`
	SnapshotID    string           `json:"snapshot_id"`
	OriginalError snapshot.Message `json:"original_error"`
	ErrorAnalyzed ErrorAnalyzed    `json:"error_analyzed"`
	Proposal      Proposal         `json:"correction_proposal"`
	Generator     string           `json:"generator,omitempty"`
}

// Variant is the closed set of edits a validated proposal can describe.
type Variant interface {
	action() Action
}

// FieldUpdate overwrites one existing location.
type FieldUpdate struct {
	Path    snapshot.Path
	Current any
	New     any
}

// UpdateField is update_field with a literal value.
type UpdateField struct{ FieldUpdate }

// AddToArray appends a full entity to a top-level collection.
type AddToArray struct {
	Collection string
	Entity     map[string]any
}

// RemoveFromArray removes the element at Path, or when Path has no index the
// first element of the collection matching Filter.
type RemoveFromArray struct {
	Path   snapshot.Path
	Filter any
}

// UseReferenceData replaces a collection with the reference document's copy.
type UseReferenceData struct {
	Collection string
}

// ManualIntervention leaves the document untouched.
type ManualIntervention struct {
	Reason string
}

func (UpdateField) action() Action        { return ActionUpdateField }
func (AddToArray) action() Action         { return ActionAddToArray }
func (RemoveFromArray) action() Action    { return ActionRemoveFromArray }
func (UseReferenceData) action() Action   { return ActionUpdateField }
func (ManualIntervention) action() Action { return ActionManualIntervention }

// Plan is a proposal parsed into structured form.
type Plan struct {
	Variant    Variant
	Additional []FieldUpdate
	Reasoning  string
}

// Manual reports whether the plan is a no-op routed to an operator.
func (p Plan) Manual() bool {
	_, ok := p.Variant.(ManualIntervention)
	return ok
}

// FieldError is one shape or semantic problem of a proposal.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates every problem found in one proposal.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return "invalid correction proposal: " + strings.Join(parts, "; ")
}

// Strings lists the problems one per entry, as persisted and fed back to the model.
func (v ValidationErrors) Strings() []string {
	out := make([]string, len(v))
	for i, e := range v {
		out[i] = e.String()
	}
	return out
}

func (v ValidationErrors) Unwrap() []error {
	var out []error
	for _, e := range v {
		if e.Err != nil {
			out = append(out, e.Err)
		}
	}
	return out
}

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// isSentinel reports whether v is the reference data marker.
func isSentinel(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ReferenceDataSentinel
}

// coerceValue parses a string that holds a JSON object or array; models
// sometimes double-encode structured values.
func coerceValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "[") && !strings.HasPrefix(t, "{") {
		return v
	}
	parsed, err := snapshot.DecodeValue([]byte(t))
	if err != nil {
		return v
	}
	return parsed
}

// unwrapProposal accepts either a bare proposal or an envelope that carries
// one under correction_proposal.
func unwrapProposal(obj map[string]any) map[string]any {
	if inner, ok := obj["correction_proposal"].(map[string]any); ok {
		if _, has := obj["action"]; !has {
			return inner
		}
	}
	return obj
}

// MarshalIndent renders a proposal the way it is stored.
func (p Proposal) MarshalIndent() (json.RawMessage, error) {
	raw, err := snapshot.EncodeJSON(p)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
