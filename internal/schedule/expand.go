// Package schedule decides which clip windows and which frames of a movie
// are still eligible for extraction. Everything here is pure: callers
// supply reference data and the already-uploaded exclusion sets.
package schedule

// Expanded is one (row, element) pair produced by Expand.
type Expanded[R, V any] struct {
	Row   R
	Value V
}

// Expand explodes rows into one entry per element of seq(row). Row order is
// kept, then element order within a row. Rows with an empty sequence
// contribute nothing.
func Expand[R, V any](rows []R, seq func(R) []V) []Expanded[R, V] {
	var out []Expanded[R, V]
	for _, row := range rows {
		for _, v := range seq(row) {
			out = append(out, Expanded[R, V]{Row: row, Value: v})
		}
	}
	return out
}
