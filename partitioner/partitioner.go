package partitioner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type (
	PartitionPlan struct {
		Func string
		Args []string
		As   string
	}

	PartitionFunc func(row map[string]any, args []string) (string, error)
)

var (
	Functions = make(map[string]PartitionFunc)

	registerOnce sync.Once

	ErrFuncNotFound = errors.New("partition function not found")

	ErrMissingArgs       = errors.New("missing args")
	ErrMissingColumns    = errors.New("missing one or more columns specified in args")
	ErrInvalidColumnType = errors.New("invalid column type")
	ErrInvalidPlan       = errors.New("invalid partition plan")
)

// DefaultPartition is the key of every row when no plans are configured.
const DefaultPartition = "default"

func timeFunc(format func(t time.Time) string) PartitionFunc {
	return func(row map[string]any, args []string) (string, error) {
		t, err := parseTimeFunc(row, args)
		if err != nil {
			return "", fmt.Errorf("error in parseTimeFunc: %w", err)
		}
		return format(t), nil
	}
}

// RegisterFunctions is safe to call more than once.
func RegisterFunctions() {
	registerOnce.Do(func() {
		Functions["toDay"] = timeFunc(func(t time.Time) string { return fmt.Sprint(t.Day()) })
		Functions["toMonth"] = timeFunc(func(t time.Time) string { return fmt.Sprint(t.Month()) })
		Functions["toYear"] = timeFunc(func(t time.Time) string { return fmt.Sprint(t.Year()) })
		Functions["toYearDay"] = timeFunc(func(t time.Time) string { return fmt.Sprint(t.YearDay()) })
		Functions["toYearWeek"] = timeFunc(func(t time.Time) string { return fmt.Sprint(t.ISOWeek()) })
		Functions["toWeekDay"] = timeFunc(func(t time.Time) string { return fmt.Sprint(t.Weekday()) })
		Functions["toDate"] = timeFunc(func(t time.Time) string { return t.Format("2006-01-02") })
		Functions["col"] = columnValue
	})
}

// GetRowPartition builds the partition key of row as "as=value" pairs joined
// by "/". With no plans every row lands in DefaultPartition.
func GetRowPartition(row map[string]any, partitioners []PartitionPlan) (string, error) {
	if len(partitioners) == 0 {
		return DefaultPartition, nil
	}
	var finalParts []string
	for _, partFunc := range partitioners {
		f, ok := Functions[partFunc.Func]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFuncNotFound, partFunc.Func)
		}

		s, err := f(row, partFunc.Args)
		if err != nil {
			return "", fmt.Errorf("error processing partition function %s: %w", partFunc.Func, err)
		}
		finalParts = append(finalParts, fmt.Sprintf("%s=%s", partFunc.As, s))
	}
	return strings.Join(finalParts, "/"), nil
}

// ParsePlan reads a comma separated list of func:arg:as triples, for example
// "toDate:time:day,col:host:host". An empty string is no plans.
func ParsePlan(s string) ([]PartitionPlan, error) {
	RegisterFunctions()
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var plans []PartitionPlan
	for _, item := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, item)
		}
		if _, ok := Functions[parts[0]]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFuncNotFound, parts[0])
		}
		plans = append(plans, PartitionPlan{Func: parts[0], Args: []string{parts[1]}, As: parts[2]})
	}
	return plans, nil
}

func columnValue(row map[string]any, args []string) (string, error) {
	if len(args) == 0 {
		return "", ErrMissingArgs
	}
	value, exists := row[args[0]]
	if !exists || value == nil {
		return "", ErrMissingColumns
	}
	switch v := value.(type) {
	case string, bool, int64, float64:
		return fmt.Sprint(v), nil
	default:
		return "", ErrInvalidColumnType
	}
}

// parseTimeFunc reads args[0] as a time column. Strings are
// YYYY-MM-DDTHH:mm:ss.sssZ, numbers are unix milliseconds.
func parseTimeFunc(row map[string]any, args []string) (t time.Time, err error) {
	if len(args) == 0 {
		err = ErrMissingArgs
		return
	}

	key := args[0]

	if key == "now()" {
		t = time.Now()
		return
	}

	value, exists := row[key]
	if !exists {
		err = ErrMissingColumns
		return
	}

	switch v := value.(type) {
	case string:
		t, err = time.Parse("2006-01-02T15:04:05.000Z", v)
		if err != nil {
			err = fmt.Errorf("error in time.Parse for string: %w", err)
		}
	case float64:
		t = time.UnixMilli(int64(v))
	case int64:
		t = time.UnixMilli(v)
	default:
		err = ErrInvalidColumnType
	}
	return
}
