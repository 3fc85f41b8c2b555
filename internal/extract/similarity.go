package extract

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"smartplanning/internal/snapshot"
)

// CategoryWeight is the share of a candidate's score that comes from category
// agreement. The rest comes from string similarity. A candidate in the right
// category therefore outranks one that is only textually closer.
const CategoryWeight = 0.6

// TextSimilarity is the normalised edit-distance similarity in [0,1].
func TextSimilarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

// EditDistance is the plain Levenshtein distance.
func EditDistance(a, b string) int {
	return levenshtein.Distance(a, b, nil)
}

// Score combines category agreement and text similarity. With no category
// information (hasCategory false) the score is the text similarity alone.
func Score(category, text float64, hasCategory bool) float64 {
	if !hasCategory {
		return text
	}
	return CategoryWeight*category + (1-CategoryWeight)*text
}

// Suggestion is one ranked replacement value.
type Suggestion struct {
	Value         string  `json:"value"`
	Score         float64 `json:"score"`
	Similarity    float64 `json:"similarity"`
	Distance      int     `json:"distance"`
	CategoryMatch float64 `json:"category_match"`
}

// Profile is the set of category values an acceptable candidate should carry,
// keyed by grouping field.
type Profile map[string]map[string]bool

func (p Profile) add(field, value string) {
	if value == "" {
		return
	}
	if p[field] == nil {
		p[field] = map[string]bool{}
	}
	p[field][value] = true
}

// match is the fraction of the candidate's grouping values found in p.
func (p Profile) match(obj map[string]any, keys []string) float64 {
	total, hit := 0, 0
	for _, k := range keys {
		v := snapshot.Scalar(obj[k])
		if v == "" {
			continue
		}
		total++
		if p[k][v] {
			hit++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

// RankCandidates scores every entity of the target collection as a replacement
// for bad. Values in exclude are never suggested.
func RankCandidates(doc *snapshot.Document, target snapshot.CollectionInfo, idField, bad string, profile Profile, exclude map[string]bool) []Suggestion {
	arr, _ := doc.Collection(target.Name)
	hasCategory := len(profile) > 0
	seen := map[string]bool{}
	out := make([]Suggestion, 0, len(arr))
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		v := snapshot.Scalar(obj[idField])
		if v == "" || v == bad || exclude[v] || seen[v] {
			continue
		}
		seen[v] = true
		cat := profile.match(obj, target.GroupKeys)
		sim := TextSimilarity(bad, v)
		out = append(out, Suggestion{
			Value:         v,
			Score:         Score(cat, sim, hasCategory),
			Similarity:    sim,
			Distance:      EditDistance(bad, v),
			CategoryMatch: cat,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		pi, pj := commonPrefix(bad, out[i].Value), commonPrefix(bad, out[j].Value)
		if pi != pj {
			return pi > pj
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// SimilarEntity is an entity of the same collection judged comparable to the
// implicated one.
type SimilarEntity struct {
	Path   string         `json:"path"`
	Score  float64        `json:"score"`
	Object map[string]any `json:"object"`
}

// similarEntities ranks the other entities of coll by shared grouping keys and
// shared identifier prefix. Only entities with a positive score are returned.
func similarEntities(doc *snapshot.Document, coll snapshot.CollectionInfo, index int, limit int) []SimilarEntity {
	self, ok := doc.Entity(coll.Name, index)
	if !ok || limit <= 0 {
		return nil
	}
	selfID := snapshot.Scalar(self[coll.IDField])
	arr, _ := doc.Collection(coll.Name)
	out := make([]SimilarEntity, 0, limit)
	for i, elem := range arr {
		if i == index {
			continue
		}
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		group := 0.0
		if len(coll.GroupKeys) > 0 {
			n := 0
			for _, k := range coll.GroupKeys {
				sv := snapshot.Scalar(self[k])
				if sv != "" && sv == snapshot.Scalar(obj[k]) {
					n++
				}
			}
			group = float64(n) / float64(len(coll.GroupKeys))
		}
		prefix := prefixRatio(selfID, snapshot.Scalar(obj[coll.IDField]))
		score := CategoryWeight*group + (1-CategoryWeight)*prefix
		if score <= 0 {
			continue
		}
		out = append(out, SimilarEntity{
			Path:   snapshot.Path{Collection: coll.Name, Index: i, FieldIndex: -1}.String(),
			Score:  score,
			Object: obj,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func prefixRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(commonPrefix(a, b)) / float64(longest)
}

// sharedValues counts the scalar values two objects have in common, ignoring keys.
func sharedValues(a, b map[string]any) int {
	vals := map[string]bool{}
	for _, v := range a {
		if s := strings.TrimSpace(snapshot.Scalar(v)); s != "" {
			vals[s] = true
		}
	}
	n := 0
	for _, v := range b {
		if s := strings.TrimSpace(snapshot.Scalar(v)); s != "" && vals[s] {
			n++
			delete(vals, s)
		}
	}
	return n
}
