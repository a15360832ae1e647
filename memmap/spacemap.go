package memmap

import (
	"sort"

	c "pagingaudit/commons"
)

// SortSpaceMap orders the space map by base address, in place.
// Equal bases keep their relative order. Overlaps are not repaired.
func SortSpaceMap(space []SpaceDescriptor) {
	sort.SliceStable(space, func(i, j int) bool {
		return space[i].BaseAddress < space[j].BaseAddress
	})
}

func spaceSorted(space []SpaceDescriptor) bool {
	return sort.SliceIsSorted(space, func(i, j int) bool {
		return space[i].BaseAddress < space[j].BaseAddress
	})
}

// MergeSpaceMap coalesces neighbours that share a GCD type and touch, i.e.,
// a.End() == b.BaseAddress. The input must be sorted and non-empty and is
// left untouched; the caller replaces it with the result.
func MergeSpaceMap(space []SpaceDescriptor) ([]SpaceDescriptor, error) {
	if len(space) == 0 {
		return nil, c.InvalidArgf("cannot merge an empty space map")
	}
	if !spaceSorted(space) {
		return nil, c.InvalidArgf("space map of %d entries is not sorted", len(space))
	}
	if len(space) > MaxDescriptors {
		return nil, c.OutOfMemoryf("space map of %d entries exceeds %d", len(space), MaxDescriptors)
	}
	merged := make([]SpaceDescriptor, 0, len(space))
	for i := 0; i < len(space); i++ {
		curr := space[i]
		for i+1 < len(space) && curr.GcdType == space[i+1].GcdType && curr.End() == space[i+1].BaseAddress {
			i++
			curr.Length += space[i].Length
		}
		merged = append(merged, curr)
	}
	return merged, nil
}

// SpaceMapSpan returns [first base, last end) of a sorted space map.
func SpaceMapSpan(space []SpaceDescriptor) (uint64, uint64, error) {
	if len(space) == 0 {
		return 0, 0, c.InvalidArgf("empty space map has no span")
	}
	last := space[len(space)-1]
	return space[0].BaseAddress, last.End(), nil
}
