package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidPath  = errors.New("invalid target path")
	ErrPathNotFound = errors.New("target path not found")
	ErrNotArray     = errors.New("value is not an array")
)

// Document is a production-plan snapshot held as generic JSON.
// Numbers are kept as json.Number so untouched values round-trip unchanged.
type Document struct {
	root map[string]any
}

// Parse decodes a snapshot document. The top level must be a JSON object.
func Parse(raw []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}
	return &Document{root: root}, nil
}

// New wraps an already decoded root object.
func New(root map[string]any) *Document {
	if root == nil {
		root = map[string]any{}
	}
	return &Document{root: root}
}

func (d *Document) Root() map[string]any { return d.root }

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.root)
}

// Bytes renders the document the way it is persisted: indented, no HTML escaping.
func (d *Document) Bytes() ([]byte, error) {
	return EncodeJSON(d.root)
}

// Clone returns a deep copy; mutations on the copy never reach d.
func (d *Document) Clone() *Document {
	return &Document{root: deepCopy(d.root).(map[string]any)}
}

// Collection returns the named top-level array.
func (d *Document) Collection(name string) ([]any, bool) {
	v, ok := d.root[name]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// Collections lists the names of all top-level arrays in sorted order.
func (d *Document) Collections() []string {
	out := make([]string, 0, len(d.root))
	for k, v := range d.root {
		if _, ok := v.([]any); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Entity returns collection[index] as an object.
func (d *Document) Entity(collection string, index int) (map[string]any, bool) {
	arr, ok := d.Collection(collection)
	if !ok || index < 0 || index >= len(arr) {
		return nil, false
	}
	obj, ok := arr[index].(map[string]any)
	return obj, ok
}

// EncodeJSON renders v indented without HTML escaping.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes arbitrary JSON keeping numbers as json.Number.
func DecodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Equal reports whether two JSON values are structurally equal.
// Values are compared by their canonical encoding, so 3 and json.Number("3") match.
func Equal(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Scalar renders a scalar JSON value as text; objects and arrays yield "".
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64, int, int64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return t
	}
}
