package snapshot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Path addresses a location in a Document:
//
//	collection
//	collection[i]
//	collection[i].field
//	collection[i].field[j]
//
// Index and FieldIndex are -1 when absent.
type Path struct {
	Collection string
	Index      int
	Field      string
	FieldIndex int
}

var pathPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\[(\d+)\](?:\.([A-Za-z_][A-Za-z0-9_]*)(?:\[(\d+)\])?)?)?$`)

// ParsePath parses a target path string once into its structured form.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	m := pathPattern.FindStringSubmatch(s)
	if m == nil {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	p := Path{Collection: m[1], Index: -1, Field: m[3], FieldIndex: -1}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
		p.Index = n
	}
	if m[4] != "" {
		n, err := strconv.Atoi(m[4])
		if err != nil {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
		p.FieldIndex = n
	}
	return p, nil
}

// MustPath is ParsePath for literals; it panics on malformed input.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) HasIndex() bool      { return p.Index >= 0 }
func (p Path) HasField() bool      { return p.Field != "" }
func (p Path) HasFieldIndex() bool { return p.FieldIndex >= 0 }

// IsCollection reports whether the path names a bare collection.
func (p Path) IsCollection() bool { return !p.HasIndex() }

// Element returns the path of the entity that contains p.
func (p Path) Element() Path {
	return Path{Collection: p.Collection, Index: p.Index, FieldIndex: -1}
}

// WithField returns the path of field on the same entity.
func (p Path) WithField(field string) Path {
	return Path{Collection: p.Collection, Index: p.Index, Field: field, FieldIndex: -1}
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Collection)
	if p.HasIndex() {
		fmt.Fprintf(&b, "[%d]", p.Index)
		if p.HasField() {
			b.WriteString(".")
			b.WriteString(p.Field)
			if p.HasFieldIndex() {
				fmt.Fprintf(&b, "[%d]", p.FieldIndex)
			}
		}
	}
	return b.String()
}

// Get resolves p and returns the value stored there.
func (d *Document) Get(p Path) (any, error) {
	arr, err := d.array(p.Collection)
	if err != nil {
		return nil, err
	}
	if !p.HasIndex() {
		return arr, nil
	}
	if p.Index >= len(arr) {
		return nil, fmt.Errorf("%w: %s (length %d)", ErrPathNotFound, p, len(arr))
	}
	if !p.HasField() {
		return arr[p.Index], nil
	}
	obj, ok := arr[p.Index].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrPathNotFound, p.Element())
	}
	val, ok := obj[p.Field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
	}
	if !p.HasFieldIndex() {
		return val, nil
	}
	nested, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotArray, p.WithField(p.Field))
	}
	if p.FieldIndex >= len(nested) {
		return nil, fmt.Errorf("%w: %s (length %d)", ErrPathNotFound, p, len(nested))
	}
	return nested[p.FieldIndex], nil
}

// Set overwrites an existing field (or nested array element) and returns the previous value.
func (d *Document) Set(p Path, value any) (any, error) {
	if !p.HasIndex() || !p.HasField() {
		return nil, fmt.Errorf("%w: %s needs an index and a field", ErrInvalidPath, p)
	}
	old, err := d.Get(p)
	if err != nil {
		return nil, err
	}
	arr, _ := d.Collection(p.Collection)
	obj := arr[p.Index].(map[string]any)
	if !p.HasFieldIndex() {
		obj[p.Field] = value
		return old, nil
	}
	nested := obj[p.Field].([]any)
	nested[p.FieldIndex] = value
	return old, nil
}

// Append adds value to the end of a collection, creating it when absent.
func (d *Document) Append(collection string, value any) (int, error) {
	cur, exists := d.root[collection]
	if !exists || cur == nil {
		d.root[collection] = []any{value}
		return 0, nil
	}
	arr, ok := cur.([]any)
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrNotArray, collection)
	}
	d.root[collection] = append(arr, value)
	return len(arr), nil
}

// Remove deletes the element addressed by p: collection[i] or collection[i].field[j].
// Relative order of the remaining elements is preserved.
func (d *Document) Remove(p Path) (any, error) {
	if !p.HasIndex() {
		return nil, fmt.Errorf("%w: %s needs an index", ErrInvalidPath, p)
	}
	if p.HasField() && !p.HasFieldIndex() {
		return nil, fmt.Errorf("%w: %s does not address an array element", ErrInvalidPath, p)
	}
	removed, err := d.Get(p)
	if err != nil {
		return nil, err
	}
	if !p.HasField() {
		arr, _ := d.Collection(p.Collection)
		d.root[p.Collection] = removeAt(arr, p.Index)
		return removed, nil
	}
	obj, _ := d.Entity(p.Collection, p.Index)
	nested := obj[p.Field].([]any)
	obj[p.Field] = removeAt(nested, p.FieldIndex)
	return removed, nil
}

// RemoveMatch deletes the first element of collection that matches filter.
// An object filter matches any object element whose fields include every filter field
// with an equal value; any other filter must equal the element.
func (d *Document) RemoveMatch(collection string, filter any) (int, any, error) {
	arr, err := d.array(collection)
	if err != nil {
		return -1, nil, err
	}
	for i, elem := range arr {
		if Matches(elem, filter) {
			d.root[collection] = removeAt(arr, i)
			return i, elem, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: no element of %s matches the filter", ErrPathNotFound, collection)
}

// ReplaceCollection swaps a whole top-level array and returns the previous one.
func (d *Document) ReplaceCollection(collection string, items []any) ([]any, error) {
	prev, exists := d.root[collection]
	var old []any
	if exists && prev != nil {
		arr, ok := prev.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotArray, collection)
		}
		old = arr
	}
	copied, _ := deepCopy(items).([]any)
	if copied == nil {
		copied = []any{}
	}
	d.root[collection] = copied
	return old, nil
}

// Matches implements the RemoveMatch filter rule.
func Matches(elem, filter any) bool {
	f, ok := filter.(map[string]any)
	if !ok {
		return Equal(elem, filter)
	}
	obj, ok := elem.(map[string]any)
	if !ok || len(f) == 0 {
		return false
	}
	for k, want := range f {
		got, ok := obj[k]
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}

func (d *Document) array(collection string) ([]any, error) {
	v, ok := d.root[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", ErrPathNotFound, collection)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotArray, collection)
	}
	return arr, nil
}

func removeAt(arr []any, i int) []any {
	out := make([]any, 0, len(arr)-1)
	out = append(out, arr[:i]...)
	return append(out, arr[i+1:]...)
}
