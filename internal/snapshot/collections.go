package snapshot

import (
	"strings"
)

// CollectionInfo describes a known top-level collection of the planning document.
type CollectionInfo struct {
	Name    string
	IDField string
	// Label is how validation messages refer to one entity ("Work Plan").
	Label string
	// GroupKeys are the domain attributes that make two entities comparable.
	GroupKeys []string
}

var knownCollections = []CollectionInfo{
	{Name: "demands", IDField: "demandId", Label: "Demand", GroupKeys: []string{"articleId", "dispatcherGroup"}},
	{Name: "articles", IDField: "articleId", Label: "Article", GroupKeys: []string{"articleType", "workPlanId"}},
	{Name: "workPlans", IDField: "workPlanId", Label: "Work Plan", GroupKeys: []string{"workPlanType", "department"}},
	{Name: "equipment", IDField: "equipmentId", Label: "Equipment", GroupKeys: []string{"equipmentType", "department"}},
	{Name: "workerQualifications", IDField: "workerId", Label: "Worker", GroupKeys: []string{"department", "qualification"}},
	{Name: "packaging", IDField: "packagingId", Label: "Packaging", GroupKeys: []string{"packagingType"}},
}

func KnownCollections() []CollectionInfo {
	return append([]CollectionInfo(nil), knownCollections...)
}

func LookupCollection(name string) (CollectionInfo, bool) {
	for _, c := range knownCollections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionInfo{}, false
}

// CollectionForIDField maps an identifier field name back to its collection.
func CollectionForIDField(field string) (CollectionInfo, bool) {
	for _, c := range knownCollections {
		if c.IDField == field {
			return c, true
		}
	}
	return CollectionInfo{}, false
}

// CollectionForText picks the collection whose label occurs first in text, ignoring case.
func CollectionForText(text string) (CollectionInfo, bool) {
	text = strings.ToLower(text)
	best := -1
	var out CollectionInfo
	for _, c := range knownCollections {
		i := strings.Index(text, strings.ToLower(c.Label))
		if i < 0 {
			continue
		}
		if best < 0 || i < best || (i == best && len(c.Label) > len(out.Label)) {
			best = i
			out = c
		}
	}
	return out, best >= 0
}

// IDs returns the identifier of every entity in the collection, "" for missing ones.
func (d *Document) IDs(c CollectionInfo) []string {
	arr, _ := d.Collection(c.Name)
	out := make([]string, len(arr))
	for i, elem := range arr {
		if obj, ok := elem.(map[string]any); ok {
			out[i] = Scalar(obj[c.IDField])
		}
	}
	return out
}

// IsBlank reports whether v is null, an empty string, or whitespace only.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
