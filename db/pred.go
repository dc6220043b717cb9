package db

import (
	"fmt"

	"github.com/danthegoodman1/icetier/predicate"
	"github.com/danthegoodman1/icetier/readbuffer"
)

var rbOps = map[predicate.Op]readbuffer.Op{
	predicate.Eq:    readbuffer.OpEqual,
	predicate.NotEq: readbuffer.OpNotEqual,
	predicate.Lt:    readbuffer.OpLess,
	predicate.LtEq:  readbuffer.OpLessEqual,
	predicate.Gt:    readbuffer.OpGreater,
	predicate.GtEq:  readbuffer.OpGreaterEqual,
}

// toReadBufferPredicate translates pred for the read buffer. A nil predicate
// becomes the empty one, which matches everything. FieldColumns have no read
// buffer counterpart and are ignored.
func toReadBufferPredicate(pred *predicate.Predicate) (readbuffer.Predicate, error) {
	var out readbuffer.Predicate
	if pred == nil {
		return out, nil
	}
	out.Tables = pred.TableNames
	for _, expr := range pred.Exprs {
		op, ok := rbOps[expr.Op]
		if !ok {
			return readbuffer.Predicate{}, fmt.Errorf("%w: operator %q in %s", ErrPredicateConversion, expr.Op, expr)
		}
		lit, err := toReadBufferLiteral(expr.Value)
		if err != nil {
			return readbuffer.Predicate{}, fmt.Errorf("%w: %s: %w", ErrPredicateConversion, expr, err)
		}
		out.Exprs = append(out.Exprs, readbuffer.BinaryExpr{Column: expr.Column, Op: op, Literal: lit})
	}
	if pred.Range != nil {
		out.Range = &readbuffer.TimeRange{Start: pred.Range.Start, End: pred.Range.End}
	}
	return out, nil
}

func toReadBufferLiteral(v any) (any, error) {
	switch n := v.(type) {
	case string, float64, int64, bool:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	default:
		return nil, fmt.Errorf("unsupported literal %v (%T)", v, v)
	}
}
