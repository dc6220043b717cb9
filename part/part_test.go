package part

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatisticsUpdate(t *testing.T) {
	var s Statistics
	for _, v := range []any{2.5, nil, 1.0, 9.25, nil} {
		s.Update(v)
	}
	assert.Equal(t, uint64(5), s.Count)
	assert.Equal(t, uint64(2), s.NullCount)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 9.25, s.Max)
}

func TestStatisticsUpdateAllNull(t *testing.T) {
	var s Statistics
	s.Update(nil)
	assert.Nil(t, s.Min)
	assert.Nil(t, s.Max)
	assert.Equal(t, uint64(1), s.NullCount)
}

func TestMergeTables(t *testing.T) {
	a := Table{Name: "cpu", Columns: []Column{
		{Name: "usage", Stats: Statistics{Count: 2, Min: 0.5, Max: 0.9}},
		{Name: "host", Stats: Statistics{Count: 2, Min: "a", Max: "b"}},
	}}
	b := Table{Name: "cpu", Columns: []Column{
		{Name: "usage", Stats: Statistics{Count: 3, NullCount: 1, Min: 0.1, Max: 0.7}},
		{Name: "host", Stats: Statistics{Count: 3, Min: "c", Max: "d"}},
	}}
	other := Table{Name: "mem", Columns: []Column{
		{Name: "free", Stats: Statistics{Count: 100}},
	}}

	merged := MergeTables("cpu", []Table{a, other, b})
	assert.Equal(t, "cpu", merged.Name)
	assert.Equal(t, uint64(5), merged.RowCount())
	if assert.Len(t, merged.Columns, 2) {
		assert.Equal(t, "host", merged.Columns[0].Name)
		assert.Equal(t, "a", merged.Columns[0].Stats.Min)
		assert.Equal(t, "d", merged.Columns[0].Stats.Max)
		assert.Equal(t, "usage", merged.Columns[1].Name)
		assert.Equal(t, uint64(1), merged.Columns[1].Stats.NullCount)
		assert.Equal(t, 0.1, merged.Columns[1].Stats.Min)
		assert.Equal(t, 0.9, merged.Columns[1].Stats.Max)
	}

	_, ok := merged.Column("free")
	assert.False(t, ok)
}
