package correction

import (
	"context"
	"encoding/json"
	"fmt"

	"smartplanning/internal/extract"
	"smartplanning/internal/snapshot"
)

// MinCandidateScore is the score below which a reference candidate is not
// trusted and the error goes to manual intervention.
const MinCandidateScore = 0.5

// HeuristicGenerator derives proposals from the deterministic hints of the
// context. It needs no model and answers the same way every time.
type HeuristicGenerator struct{}

func NewHeuristicGenerator() *HeuristicGenerator { return &HeuristicGenerator{} }

func (HeuristicGenerator) Name() string { return "heuristic" }

func (h HeuristicGenerator) Generate(_ context.Context, req Request) (Generation, error) {
	raw, err := json.Marshal(h.Propose(req.Context))
	if err != nil {
		return Generation{}, fmt.Errorf("encode proposal: %w", err)
	}
	return Generation{Raw: raw}, nil
}

// Repair regenerates; the answer cannot change, so the validator's retry
// budget ends the loop when the first answer was rejected.
func (h HeuristicGenerator) Repair(ctx context.Context, req Request, _ json.RawMessage, _ []string) (Generation, error) {
	return h.Generate(ctx, req)
}

// Propose maps a context to a proposal.
func (HeuristicGenerator) Propose(c *extract.Context) Proposal {
	if c == nil {
		return manual("", "no context was extracted")
	}
	if !c.Found {
		return manual(c.Collection, "error could not be located: "+c.NotFoundReason)
	}
	if c.ManualInterventionRequired {
		return manual(c.Collection, c.Reason)
	}
	if c.FallbackSolution == "reference_data" {
		return Proposal{
			Action:     ActionUpdateField,
			TargetPath: c.Collection,
			NewValue:   ReferenceDataSentinel,
			Reasoning: fmt.Sprintf("%s is empty; using the reference snapshot as fallback (contains %d entries). Manual verification recommended.",
				c.Collection, c.ReferenceDataCount),
		}
	}
	switch c.Kind {
	case extract.KindDuplicateID:
		return proposeDuplicate(c)
	case extract.KindEmptyID:
		return proposeEmptyID(c)
	case extract.KindDanglingReference:
		return proposeDangling(c)
	case extract.KindMissingElement:
		return proposeMissingElement(c)
	case extract.KindInvalidValue:
		return proposeInvalidValue(c)
	}
	return manual(firstPath(c), "no automated rule applies to this error")
}

func proposeDuplicate(c *extract.Context) Proposal {
	if len(c.Results) < 2 || c.Hints.NextDuplicateID == "" {
		return manual(firstPath(c), "duplicate occurrences could not be told apart")
	}
	last := c.Results[len(c.Results)-1]
	p := Proposal{
		Action:       ActionUpdateField,
		TargetPath:   last.Path,
		CurrentValue: last.Value,
		NewValue:     c.Hints.NextDuplicateID,
		Reasoning: fmt.Sprintf("%v occurs %d times; the occurrence at %s is renamed to %s and the references that share its values follow it.",
			last.Value, c.ResultsCount, last.Path, c.Hints.NextDuplicateID),
	}
	// A reference moves with the renamed entity only when it is closer to it
	// than to every other occurrence.
	kept := map[string]int{}
	for _, r := range c.Results[:len(c.Results)-1] {
		for _, ref := range r.References {
			if ref.Affinity > kept[ref.Path] {
				kept[ref.Path] = ref.Affinity
			}
		}
	}
	for _, ref := range last.References {
		if ref.Affinity > kept[ref.Path] {
			p.AdditionalUpdates = append(p.AdditionalUpdates, AdditionalUpdate{
				TargetPath:   ref.Path,
				CurrentValue: last.Value,
				NewValue:     c.Hints.NextDuplicateID,
			})
		}
	}
	return p
}

func proposeEmptyID(c *extract.Context) Proposal {
	if len(c.Results) == 0 || c.Hints.NextID == "" {
		return manual(firstPath(c), "no identifier could be inferred")
	}
	r := c.Results[0]
	return Proposal{
		Action:       ActionUpdateField,
		TargetPath:   r.Path,
		CurrentValue: r.Value,
		NewValue:     c.Hints.NextID,
		Reasoning:    fmt.Sprintf("%s is empty; %s continues the identifier sequence of the collection.", r.Path, c.Hints.NextID),
	}
}

func proposeDangling(c *extract.Context) Proposal {
	if len(c.Results) == 0 {
		return manual(firstPath(c), "no dangling reference located")
	}
	r := c.Results[0]
	if len(c.Hints.Candidates) == 0 || c.Hints.Candidates[0].Score < MinCandidateScore {
		return manual(r.Path, fmt.Sprintf("no existing identifier is close enough to %v", r.Value))
	}
	best := c.Hints.Candidates[0]
	return Proposal{
		Action:       ActionUpdateField,
		TargetPath:   r.Path,
		CurrentValue: r.Value,
		NewValue:     best.Value,
		Reasoning: fmt.Sprintf("%v does not exist; %s is the closest existing identifier (score %.2f, edit distance %d).",
			r.Value, best.Value, best.Score, best.Distance),
	}
}

func proposeMissingElement(c *extract.Context) Proposal {
	if len(c.Results) == 0 {
		return manual(firstPath(c), "array not located")
	}
	r := c.Results[0]
	values, _ := r.Value.([]any)
	present := map[string]bool{}
	for _, v := range values {
		present[snapshot.Scalar(v)] = true
	}
	choice := ""
	for _, s := range c.Hints.SiblingValues {
		if !present[s] {
			choice = s
			break
		}
	}
	if choice == "" {
		for _, s := range c.Hints.Candidates {
			if !present[s.Value] {
				choice = s.Value
				break
			}
		}
	}
	if choice == "" {
		return manual(r.Path, "no value is available to complete the array")
	}

	if len(c.Hints.Placeholders) > 0 {
		ph := c.Hints.Placeholders[0]
		return Proposal{
			Action:       ActionUpdateField,
			TargetPath:   ph.Path,
			CurrentValue: ph.Value,
			NewValue:     choice,
			Reasoning:    fmt.Sprintf("%q at %s is a placeholder (%s); it is replaced by %s.", ph.Value, ph.Path, ph.Reason, choice),
		}
	}
	next := append(append([]any{}, values...), choice)
	return Proposal{
		Action:       ActionUpdateField,
		TargetPath:   r.Path,
		CurrentValue: values,
		NewValue:     next,
		Reasoning:    fmt.Sprintf("%s lacks an element; %s is taken from the most similar entity.", r.Path, choice),
	}
}

func proposeInvalidValue(c *extract.Context) Proposal {
	if len(c.Results) == 0 {
		return manual(firstPath(c), "invalid value not located")
	}
	r := c.Results[0]
	for _, s := range c.Similar {
		v, ok := s.Object[c.Field]
		if !ok || snapshot.Equal(v, r.Value) {
			continue
		}
		return Proposal{
			Action:       ActionUpdateField,
			TargetPath:   r.Path,
			CurrentValue: r.Value,
			NewValue:     v,
			Reasoning:    fmt.Sprintf("%s is invalid; %s of the same group uses %s.", r.Path, s.Path, snapshot.Scalar(v)),
		}
	}
	return manual(r.Path, "no similar entity provides a valid value")
}

func manual(path, reason string) Proposal {
	if reason == "" {
		reason = "no automated correction is possible"
	}
	return Proposal{Action: ActionManualIntervention, TargetPath: path, Reasoning: reason}
}

func firstPath(c *extract.Context) string {
	if len(c.Results) > 0 {
		return c.Results[0].Path
	}
	return c.Collection
}
