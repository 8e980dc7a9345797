package domc

import "sort"

// Median computes the median of revealed R values. For an even-sized set it
// returns the lower of the two middle values — spec.md §9 leaves this tie
// rule undefined in the original source and asks implementers to adopt and
// test a convention; this is that convention (see DESIGN.md Open Question
// decision #4). An empty slice returns 0; callers must apply spec.md's
// "zero reveals => no-op" rule themselves.
func Median(values []uint16) uint16 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]uint16(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1] // lower of the two middle values
}
