package memmap

import (
	"sort"

	c "pagingaudit/commons"
)

// MaxDescriptors bounds every descriptor sequence the audit allocates. A
// request above it is reported as ErrOutOfMemory instead of being attempted.
var MaxDescriptors = 1 << 24

// SortMemoryMap orders the memory map by physical start, in place.
func SortMemoryMap(mm []MemoryDescriptor) {
	sort.SliceStable(mm, func(i, j int) bool {
		return mm[i].PhysicalStart < mm[j].PhysicalStart
	})
}

func memorySorted(mm []MemoryDescriptor) bool {
	return sort.SliceIsSorted(mm, func(i, j int) bool {
		return mm[i].PhysicalStart < mm[j].PhysicalStart
	})
}

// filler returns the synthetic entry covering [start, end).
func filler(start, end uint64) MemoryDescriptor {
	return MemoryDescriptor{
		Type:          NoneMemoryType,
		PhysicalStart: start,
		NumberOfPages: c.SizeToPages(end - start),
	}
}

// FillMemoryMap returns a copy of the sorted memory map where every hole is
// covered by a NoneMemoryType entry, so that the result runs contiguously
// from start (when the map begins after it) up to at least end.
// Overlapping neighbours are copied as they are. On error mm is untouched.
func FillMemoryMap(mm []MemoryDescriptor, start, end uint64) ([]MemoryDescriptor, error) {
	if len(mm) == 0 {
		return nil, c.InvalidArgf("cannot fill an empty memory map")
	}
	if end < start {
		return nil, c.InvalidArgf("fill span [0x%x, 0x%x) is reversed", start, end)
	}
	if !memorySorted(mm) {
		return nil, c.InvalidArgf("memory map of %d entries is not sorted", len(mm))
	}
	// Worst case every entry is followed by a hole, plus both ends.
	if len(mm) > (MaxDescriptors-2)/2 {
		return nil, c.OutOfMemoryf("filling %d entries may exceed %d descriptors", len(mm), MaxDescriptors)
	}
	filled := make([]MemoryDescriptor, 0, 2*len(mm)+2)

	if mm[0].PhysicalStart > start {
		filled = append(filled, filler(start, mm[0].PhysicalStart))
	}
	for i := range mm {
		filled = append(filled, mm[i])
		if i+1 < len(mm) {
			lastEnd, nextStart := mm[i].End(), mm[i+1].PhysicalStart
			if nextStart > lastEnd {
				filled = append(filled, filler(lastEnd, nextStart))
			}
		}
	}
	if lastEnd := filled[len(filled)-1].End(); end > lastEnd {
		filled = append(filled, filler(lastEnd, end))
	}
	return filled, nil
}
