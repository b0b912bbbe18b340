package checkpoint

import (
	"cmp"
	"fmt"
	"slices"
)

// DefaultWindow is the number of most recent checkpoints kept.
const DefaultWindow = 100

// Partition splits scanned checkpoints around the retention cutoff.
type Partition struct {
	Window int
	Max    int
	Cutoff int
	Delete []Entry
	Keep   []Entry
}

// Empty reports whether there were no checkpoints to partition.
func (p Partition) Empty() bool {
	return len(p.Delete) == 0 && len(p.Keep) == 0
}

// Select partitions entries (any order) with cutoff = max - (window - 1).
// Entries below the cutoff go to Delete; the rest, including the maximum,
// go to Keep. Both slices come back ascending by ordinal.
func Select(entries []Entry, window int) (Partition, error) {
	if window < 1 {
		return Partition{}, fmt.Errorf("retention window must be at least 1, got %d", window)
	}
	p := Partition{Window: window}
	if len(entries) == 0 {
		return p, nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int { return cmp.Compare(a.Ordinal, b.Ordinal) })

	p.Max = sorted[len(sorted)-1].Ordinal
	p.Cutoff = p.Max - (window - 1)
	for _, e := range sorted {
		if e.Ordinal < p.Cutoff {
			p.Delete = append(p.Delete, e)
		} else {
			p.Keep = append(p.Keep, e)
		}
	}
	return p, nil
}
