package audit

import (
	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	"pagingaudit/sink"
)

// Reconcile annotates every page of the memory map with its GCD type.
//
// The space map is sorted and merged, the memory map sorted and filled up
// to the span of the space map. Each memory map entry then yields one record
// per run of pages sharing a GCD type: the covered prefix is recorded and
// the remainder goes back to the front of the queue.
func Reconcile(space SpaceMapProvider, memmap MemoryMapProvider, out *sink.RecordSink) error {
	spaceMap, err := space.SpaceMap()
	if err != nil {
		return errors.Wrap(err, "fetching the space map")
	}
	for i := range spaceMap {
		if err := spaceMap[i].Validate(); err != nil {
			return err
		}
	}
	mm.SortSpaceMap(spaceMap)
	merged, err := mm.MergeSpaceMap(spaceMap)
	if err != nil {
		return errors.Wrap(err, "merging the space map")
	}
	start, end, err := mm.SpaceMapSpan(merged)
	if err != nil {
		return err
	}

	raw, err := memmap.MemoryMap()
	if err != nil {
		return errors.Wrap(err, "fetching the memory map")
	}
	descs := raw.Descriptors()
	for i := range descs {
		if err := descs[i].Validate(); err != nil {
			return errors.Wrapf(err, "memory map entry %d", i)
		}
	}
	mm.SortMemoryMap(descs)
	filled, err := mm.FillMemoryMap(descs, start, end)
	if err != nil {
		return errors.Wrap(err, "filling the memory map")
	}

	queue := c.FromSlice(filled)
	for !queue.IsEmpty() {
		d := queue.PopFront().Value
		typ, uncovered, err := mm.Classify(merged, d.PhysicalStart, d.NumberOfPages)
		if err != nil {
			return err
		}
		covered := d.NumberOfPages - uncovered
		out.AddMemoryMap(sink.MemoryMapRecord{
			Type:          d.Type,
			PhysicalStart: d.PhysicalStart,
			VirtualStart:  d.VirtualStart,
			NumberOfPages: covered,
			Attribute:     d.Attribute,
			GcdType:       typ,
		})
		if uncovered == 0 {
			continue
		}
		rest := d
		rest.PhysicalStart += c.PagesToSize(covered)
		if rest.VirtualStart != 0 {
			rest.VirtualStart += c.PagesToSize(covered)
		}
		rest.NumberOfPages = uncovered
		queue.AddFront(&c.ListElem[mm.MemoryDescriptor]{Value: rest})
	}
	return nil
}
