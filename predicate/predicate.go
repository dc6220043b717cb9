// Package predicate holds the tier-agnostic filter that each storage tier
// translates into its own representation before applying it.
package predicate

import (
	"fmt"
	"strings"

	"github.com/danthegoodman1/icetier/utils"
)

// TimeColumn is the column a TimestampRange restricts.
const TimeColumn = "time"

type (
	Op string

	// Expr compares a column against a literal value.
	Expr struct {
		Column string
		Op     Op
		Value  any
	}

	// TimestampRange is the half open range [Start, End) over the time column,
	// in whatever unit that column is written in.
	TimestampRange struct {
		Start int64
		End   int64
	}

	Predicate struct {
		// TableNames restricts matching tables, nil means any table
		TableNames []string
		// FieldColumns restricts which non-tag columns are of interest, nil means all
		FieldColumns []string
		Exprs        []Expr
		Range        *TimestampRange
	}

	Builder struct {
		p Predicate
	}
)

const (
	Eq    Op = "="
	NotEq Op = "!="
	Lt    Op = "<"
	LtEq  Op = "<="
	Gt    Op = ">"
	GtEq  Op = ">="
)

func (o Op) Valid() bool {
	switch o {
	case Eq, NotEq, Lt, LtEq, Gt, GtEq:
		return true
	default:
		return false
	}
}

// Eval applies the operator to the result of comparing a value against a literal.
func (o Op) Eval(cmp int) bool {
	switch o {
	case Eq:
		return cmp == 0
	case NotEq:
		return cmp != 0
	case Lt:
		return cmp < 0
	case LtEq:
		return cmp <= 0
	case Gt:
		return cmp > 0
	case GtEq:
		return cmp >= 0
	default:
		return false
	}
}

// Matches reports whether v satisfies e. Nulls and values of another kind
// never match.
func (e Expr) Matches(v any) bool {
	if v == nil {
		return false
	}
	cmp, err := utils.CompareValues(v, e.Value)
	if err != nil {
		return false
	}
	return e.Op.Eval(cmp)
}

func (e Expr) String() string {
	return fmt.Sprintf("%s %s %v", e.Column, e.Op, e.Value)
}

func (r TimestampRange) Contains(ts int64) bool {
	return ts >= r.Start && ts < r.End
}

// ContainsValue is Contains for a column value, non numeric values are outside.
func (r TimestampRange) ContainsValue(v any) bool {
	lo, err := utils.CompareValues(v, r.Start)
	if err != nil {
		return false
	}
	hi, err := utils.CompareValues(v, r.End)
	if err != nil {
		return false
	}
	return lo >= 0 && hi < 0
}

// IsEmpty reports whether p matches everything.
func (p *Predicate) IsEmpty() bool {
	return p == nil || (p.TableNames == nil && p.FieldColumns == nil && len(p.Exprs) == 0 && p.Range == nil)
}

func (p *Predicate) ShouldIncludeTable(name string) bool {
	if p == nil || p.TableNames == nil {
		return true
	}
	return utils.Contains(p.TableNames, name)
}

func (p *Predicate) String() string {
	if p.IsEmpty() {
		return "Predicate{}"
	}
	var parts []string
	if p.TableNames != nil {
		parts = append(parts, "table IN ("+strings.Join(p.TableNames, ", ")+")")
	}
	if p.FieldColumns != nil {
		parts = append(parts, "field IN ("+strings.Join(p.FieldColumns, ", ")+")")
	}
	for _, e := range p.Exprs {
		parts = append(parts, e.String())
	}
	if p.Range != nil {
		parts = append(parts, fmt.Sprintf("range: [%d, %d)", p.Range.Start, p.Range.End))
	}
	return "Predicate{" + strings.Join(parts, " AND ") + "}"
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Table(name string) *Builder {
	if b.p.TableNames == nil {
		b.p.TableNames = []string{}
	}
	if !utils.Contains(b.p.TableNames, name) {
		b.p.TableNames = append(b.p.TableNames, name)
	}
	return b
}

func (b *Builder) Tables(names ...string) *Builder {
	for _, name := range names {
		b.Table(name)
	}
	return b
}

func (b *Builder) FieldColumns(columns ...string) *Builder {
	b.p.FieldColumns = append(make([]string, 0, len(columns)), columns...)
	return b
}

func (b *Builder) Add(expr Expr) *Builder {
	b.p.Exprs = append(b.p.Exprs, expr)
	return b
}

func (b *Builder) Timestamp(start, end int64) *Builder {
	b.p.Range = &TimestampRange{Start: start, End: end}
	return b
}

func (b *Builder) Build() *Predicate {
	p := b.p
	return &p
}
