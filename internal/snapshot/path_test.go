package snapshot

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, raw string) *Document {
	t.Helper()
	d, err := Parse([]byte(raw))
	require.NoError(t, err)
	return d
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		want    Path
		wantErr bool
	}{
		{in: "demands", want: Path{Collection: "demands", Index: -1, FieldIndex: -1}},
		{in: "demands[3]", want: Path{Collection: "demands", Index: 3, FieldIndex: -1}},
		{in: "demands[3].demandId", want: Path{Collection: "demands", Index: 3, Field: "demandId", FieldIndex: -1}},
		{in: "articles[0].workPlanIds[2]", want: Path{Collection: "articles", Index: 0, Field: "workPlanIds", FieldIndex: 2}},
		{in: " workPlans[12].name ", want: Path{Collection: "workPlans", Index: 12, Field: "name", FieldIndex: -1}},
		{in: "", wantErr: true},
		{in: "demands[-1]", wantErr: true},
		{in: "demands.demandId", wantErr: true},
		{in: "demands[1].a.b", wantErr: true},
		{in: "demands[x]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPath))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathStringRoundTrip(t *testing.T) {
	for _, s := range []string{"demands", "demands[0]", "demands[0].demandId", "articles[4].tags[1]"} {
		assert.Equal(t, s, MustPath(s).String())
	}
}

func TestSetThenGetReturnsNewValue(t *testing.T) {
	d := mustDoc(t, `{"demands":[{"demandId":"D1","qty":5,"tags":["a","b"]}]}`)
	values := []any{"D9", json.Number("7"), nil, true, map[string]any{"k": "v"}, []any{"x"}}
	for _, v := range values {
		p := MustPath("demands[0].demandId")
		_, err := d.Set(p, v)
		require.NoError(t, err)
		got, err := d.Get(p)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	old, err := d.Set(MustPath("demands[0].tags[1]"), "c")
	require.NoError(t, err)
	assert.Equal(t, "b", old)
	got, _ := d.Get(MustPath("demands[0].tags"))
	assert.Equal(t, []any{"a", "c"}, got)
}

func TestSetRequiresExistingPath(t *testing.T) {
	d := mustDoc(t, `{"demands":[{"demandId":"D1"}]}`)
	_, err := d.Set(MustPath("demands[0].missing"), "x")
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = d.Set(MustPath("demands[4].demandId"), "x")
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = d.Set(MustPath("orders[0].id"), "x")
	assert.ErrorIs(t, err, ErrPathNotFound)
	_, err = d.Set(MustPath("demands[0]"), "x")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRemoveByIndexPreservesOrder(t *testing.T) {
	d := mustDoc(t, `{"demands":[{"demandId":"A"},{"demandId":"B"},{"demandId":"C"},{"demandId":"D"}]}`)
	removed, err := d.Remove(MustPath("demands[1]"))
	require.NoError(t, err)
	assert.Equal(t, "B", removed.(map[string]any)["demandId"])
	assert.Equal(t, []string{"A", "C", "D"}, d.IDs(CollectionInfo{Name: "demands", IDField: "demandId"}))
}

func TestRemoveNestedElement(t *testing.T) {
	d := mustDoc(t, `{"articles":[{"articleId":"A","workPlanIds":["W1","placeholder","W2"]}]}`)
	_, err := d.Remove(MustPath("articles[0].workPlanIds[1]"))
	require.NoError(t, err)
	got, _ := d.Get(MustPath("articles[0].workPlanIds"))
	assert.Equal(t, []any{"W1", "W2"}, got)
}

func TestRemoveMatch(t *testing.T) {
	d := mustDoc(t, `{"equipment":[{"equipmentId":"E1","type":"x"},{"equipmentId":"E2","type":"y"},{"equipmentId":"E2","type":"z"}]}`)
	idx, _, err := d.RemoveMatch("equipment", map[string]any{"equipmentId": "E2"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	arr, _ := d.Collection("equipment")
	require.Len(t, arr, 2)
	assert.Equal(t, "z", arr[1].(map[string]any)["type"])

	_, _, err = d.RemoveMatch("equipment", map[string]any{"equipmentId": "E9"})
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestAppendCreatesCollection(t *testing.T) {
	d := mustDoc(t, `{}`)
	idx, err := d.Append("workPlans", map[string]any{"workPlanId": "W1"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = d.Append("workPlans", map[string]any{"workPlanId": "W2"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	d2 := mustDoc(t, `{"workPlans":"oops"}`)
	_, err = d2.Append("workPlans", map[string]any{})
	assert.ErrorIs(t, err, ErrNotArray)
}

func TestCloneIsIndependent(t *testing.T) {
	d := mustDoc(t, `{"demands":[{"demandId":"D1"}]}`)
	c := d.Clone()
	_, err := c.Set(MustPath("demands[0].demandId"), "D2")
	require.NoError(t, err)
	got, _ := d.Get(MustPath("demands[0].demandId"))
	assert.Equal(t, "D1", got)
}

func TestNumbersRoundTrip(t *testing.T) {
	raw := `{"articles":[{"articleId":"A","relDensityMin":0.10,"qty":12345678901234567890}]}`
	d := mustDoc(t, raw)
	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
	assert.Contains(t, string(out), "0.10")
}
