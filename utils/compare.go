package utils

import (
	"errors"
	"fmt"
)

var ErrIncomparable = errors.New("values are not comparable")

// CompareValues orders two scalar column values. Integers compare exactly,
// a float on either side makes both compare as float64. Strings and bools
// only compare against their own kind.
func CompareValues(a, b any) (int, error) {
	if c, ok := compareIntegers(a, b); ok {
		return c, nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		default:
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

func cmp[T int64 | uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareIntegers orders a and b without float rounding when both are
// integers. ok is false otherwise.
func compareIntegers(a, b any) (c int, ok bool) {
	ai, aSigned, ok := toInteger(a)
	if !ok {
		return 0, false
	}
	bi, bSigned, ok := toInteger(b)
	if !ok {
		return 0, false
	}
	switch {
	case aSigned && bSigned:
		return cmp(int64(ai), int64(bi)), true
	case !aSigned && !bSigned:
		return cmp(ai, bi), true
	case aSigned:
		if int64(ai) < 0 {
			return -1, true
		}
		return cmp(ai, bi), true
	default:
		if int64(bi) < 0 {
			return 1, true
		}
		return cmp(ai, bi), true
	}
}

// toInteger returns the bits of an integer value and whether it is signed.
func toInteger(v any) (uint64, bool, bool) {
	switch n := v.(type) {
	case int64:
		return uint64(n), true, true
	case int:
		return uint64(int64(n)), true, true
	case int32:
		return uint64(int64(n)), true, true
	case uint64:
		return n, false, true
	case uint32:
		return uint64(n), false, true
	default:
		return 0, false, false
	}
}
