package extract

import (
	"sort"

	"smartplanning/internal/snapshot"
)

// Rank orders kinds so that root causes are corrected before their symptoms.
func Rank(k Kind) int {
	switch k {
	case KindEmptyID:
		return 0
	case KindDuplicateID:
		return 1
	case KindEmptyCollection, KindMissingElement:
		return 2
	case KindDanglingReference:
		return 3
	default:
		return 4
	}
}

// Candidate is one error-level message with its rule classification.
type Candidate struct {
	Message    snapshot.Message
	Ident      Identification
	Classified bool
}

// Prioritize classifies the error-level messages and orders them by Rank.
// Messages of equal rank keep their order from the validation result. Warnings
// and info messages are dropped.
func Prioritize(msgs snapshot.Messages) []Candidate {
	errs := msgs.Errors()
	out := make([]Candidate, 0, len(errs))
	for _, m := range errs {
		id, ok := Classify(m)
		out = append(out, Candidate{Message: m, Ident: id, Classified: ok})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Rank(out[i].Ident.Kind) < Rank(out[j].Ident.Kind)
	})
	return out
}

// Select returns the highest priority error not rejected by skip.
func Select(msgs snapshot.Messages, skip func(snapshot.Message) bool) (Candidate, bool) {
	for _, c := range Prioritize(msgs) {
		if skip != nil && skip(c.Message) {
			continue
		}
		return c, true
	}
	return Candidate{}, false
}
