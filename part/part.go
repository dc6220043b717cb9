package part

import (
	"sort"

	"github.com/danthegoodman1/icetier/utils"
)

type (
	// Table summarizes one table within a chunk without scanning its rows
	Table struct {
		Name    string
		Columns []Column
	}

	Column struct {
		Name  string
		Stats Statistics
	}

	Statistics struct {
		// Count is the number of rows the column spans, nulls included
		Count     uint64
		NullCount uint64
		// Min and Max are nil when every value is null
		Min any
		Max any
	}
)

// RowCount is the largest column count, columns of one table span the same rows.
func (t Table) RowCount() uint64 {
	var rows uint64
	for _, c := range t.Columns {
		if c.Stats.Count > rows {
			rows = c.Stats.Count
		}
	}
	return rows
}

func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Update folds one value into the statistics. A nil value counts as a null.
func (s *Statistics) Update(v any) {
	s.Count++
	if v == nil {
		s.NullCount++
		return
	}
	if s.Min == nil {
		s.Min, s.Max = v, v
		return
	}
	if c, err := utils.CompareValues(v, s.Min); err == nil && c < 0 {
		s.Min = v
	}
	if c, err := utils.CompareValues(v, s.Max); err == nil && c > 0 {
		s.Max = v
	}
}

// Merge combines statistics gathered over disjoint row sets.
func (s Statistics) Merge(o Statistics) Statistics {
	res := Statistics{
		Count:     s.Count + o.Count,
		NullCount: s.NullCount + o.NullCount,
		Min:       s.Min,
		Max:       s.Max,
	}
	if res.Min == nil {
		res.Min = o.Min
	} else if o.Min != nil {
		if c, err := utils.CompareValues(o.Min, res.Min); err == nil && c < 0 {
			res.Min = o.Min
		}
	}
	if res.Max == nil {
		res.Max = o.Max
	} else if o.Max != nil {
		if c, err := utils.CompareValues(o.Max, res.Max); err == nil && c > 0 {
			res.Max = o.Max
		}
	}
	return res
}

// MergeTables combines per chunk summaries of the same table name. Columns
// missing from one side keep the other side's statistics. Output columns are
// sorted by name.
func MergeTables(name string, tables []Table) Table {
	byName := make(map[string]Statistics)
	for _, t := range tables {
		if t.Name != name {
			continue
		}
		for _, c := range t.Columns {
			byName[c.Name] = byName[c.Name].Merge(c.Stats)
		}
	}
	merged := Table{Name: name, Columns: make([]Column, 0, len(byName))}
	for colName, stats := range byName {
		merged.Columns = append(merged.Columns, Column{Name: colName, Stats: stats})
	}
	sort.Slice(merged.Columns, func(i, j int) bool {
		return merged.Columns[i].Name < merged.Columns[j].Name
	})
	return merged
}
