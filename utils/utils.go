package utils

func Ptr[T any](s T) *T {
	return &s
}

func Deref[T any](ref *T, fallback T) T {
	if ref == nil {
		return fallback
	}
	return *ref
}

// OrEmpty keeps nil slices from encoding as JSON null.
func OrEmpty[T any](s []T) []T {
	if s == nil {
		return make([]T, 0)
	}
	return s
}

func Contains[T comparable](s []T, v T) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// AppendUnique appends the values of add not already in s.
func AppendUnique[T comparable](s []T, add ...T) []T {
	for _, v := range add {
		if !Contains(s, v) {
			s = append(s, v)
		}
	}
	return s
}
