package memmap

import (
	c "pagingaudit/commons"
)

// Classify returns the GCD type of the space map entry holding start, and
// the number of trailing pages of [start, start+pages) that this entry does
// not cover. The caller resolves the front and queries again for the tail.
//
// space must be sorted and free of overlaps, as MergeSpaceMap leaves it.
// A start outside every entry yields GcdMemoryTypeNonExistent with nothing
// left over, so the whole query is reported under that type.
func Classify(space []SpaceDescriptor, start, pages uint64) (GcdMemoryType, uint64, error) {
	if !c.Aligned(start) {
		return GcdMemoryTypeNonExistent, 0, c.InvalidArgf("query start 0x%x is not page aligned", start)
	}
	if len(space) == 0 || pages == 0 {
		return GcdMemoryTypeNonExistent, 0, nil
	}
	end := start + c.PagesToSize(pages)
	// A few hundred entries at most, a scan is enough.
	for i := range space {
		entry := &space[i]
		if entry.BaseAddress <= start && entry.End() > start {
			if entry.End() >= end {
				return entry.GcdType, 0, nil
			}
			return entry.GcdType, c.SizeToPages(end - entry.End()), nil
		}
	}
	return GcdMemoryTypeNonExistent, 0, nil
}
