package database

// IS NULL OR helpers: convert empty Go values to nil so PostgreSQL
// sees NULL and the ($1::type IS NULL OR ...) pattern skips the filter.

func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// clampLimit bounds a page size to [1, max], using def for unset values.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
