package memview

import (
	"encoding/binary"

	c "pagingaudit/commons"
	pg "pagingaudit/platform/pagetables"
)

const (
	ARENA_SIZE       = 64
	ARENA_TOTAL_SIZE = uint64(ARENA_SIZE) * c.PageSize
)

// Span is a range of physical addresses.
type Span struct {
	Addr uint64
	Size uint64
}

// FreeSpaceAllocator keeps track of free physical space.
type FreeSpaceAllocator struct {
	FreeSpace c.List[Span]
	Used      c.List[Span]
}

// NewFreeSpaceAllocator returns an allocator handing out the given spans.
func NewFreeSpaceAllocator(frees []Span) *FreeSpaceAllocator {
	f := &FreeSpaceAllocator{}
	f.FreeSpace.Init()
	f.Used.Init()
	for _, s := range frees {
		f.FreeSpace.AddBack(&c.ListElem[Span]{Value: s})
	}
	return f
}

// Malloc allocates a free region of provided size.
// We try to minimize fragmentation and eat from the smallest region that
// satisfies the request.
func (f *FreeSpaceAllocator) Malloc(size uint64) (uint64, error) {
	size = c.Round(size, true)
	if size == 0 {
		return 0, c.InvalidArgf("cannot allocate 0 bytes")
	}
	var candidate *c.ListElem[Span]
	for v := f.FreeSpace.First; v != nil; v = v.Next {
		if v.Value.Size >= size && (candidate == nil || candidate.Value.Size > v.Value.Size) {
			candidate = v
		}
	}
	if candidate == nil {
		return 0, c.OutOfMemoryf("no free space for 0x%x bytes", size)
	}
	result := candidate.Value.Addr
	if size == candidate.Value.Size {
		f.FreeSpace.Remove(candidate)
		f.Used.AddBack(candidate)
		return result, nil
	}
	f.Used.AddBack(&c.ListElem[Span]{Value: Span{Addr: result, Size: size}})
	candidate.Value.Addr, candidate.Value.Size = result+size, candidate.Value.Size-size
	return result, nil
}

// Arena is a run of ARENA_SIZE tables registered as one region.
type Arena struct {
	Region *Region
	Idx    int
	Full   bool
}

// Allocate returns the physical address of the next zeroed table.
func (a *Arena) Allocate() uint64 {
	c.Check(!a.Full)
	addr := a.Region.GPA + uint64(a.Idx)*c.PageSize
	a.Idx++
	if a.Idx >= ARENA_SIZE {
		a.Full = true
	}
	return addr
}

// TableAllocator builds page tables inside a PhysicalMemory, e.g., to
// produce synthetic snapshots and test fixtures.
type TableAllocator struct {
	All       c.List[*Arena]
	Current   *Arena
	Allocator *FreeSpaceAllocator
	Memory    *PhysicalMemory
}

func NewTableAllocator(mem *PhysicalMemory, allocator *FreeSpaceAllocator) *TableAllocator {
	pga := &TableAllocator{Allocator: allocator, Memory: mem}
	pga.All.Init()
	return pga
}

// NewPTEs returns the physical address of a new, empty table.
func (pga *TableAllocator) NewPTEs() (uint64, error) {
	if pga.Current == nil {
		gpa, err := pga.Allocator.Malloc(ARENA_TOTAL_SIZE)
		if err != nil {
			return 0, err
		}
		region := NewRegion("pagetables", gpa, make([]byte, ARENA_TOTAL_SIZE))
		if err := pga.Memory.AddRegion(region); err != nil {
			return 0, err
		}
		pga.Current = &Arena{Region: region}
		pga.All.AddBack(&c.ListElem[*Arena]{Value: pga.Current})
	}
	addr := pga.Current.Allocate()
	if pga.Current.Full {
		pga.Current = nil
	}
	return addr, nil
}

// SetPTE writes entry at index idx of the table at table.
func (pga *TableAllocator) SetPTE(table uint64, idx int, entry pg.PTE) error {
	raw, err := pga.Memory.Read(table+uint64(idx)*8, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(raw, uint64(entry))
	return nil
}

// Map installs a leaf of the given size translating va to pa under root,
// allocating the missing intermediate tables. Existing leaves in the way
// are an error.
func (pga *TableAllocator) Map(root, va, pa, size, flags uint64) error {
	target, ok := pg.LevelFor(size)
	if !ok {
		return c.InvalidArgf("unsupported page size 0x%x", size)
	}
	if va%size != 0 || pa%size != 0 {
		return c.InvalidArgf("mapping 0x%x to 0x%x is not aligned on 0x%x", va, pa, size)
	}
	table := root
	for lvl := pg.RootLevel; lvl > target; lvl-- {
		ptes, err := pga.Memory.LookupPTEs(table)
		if err != nil {
			return err
		}
		idx := pg.PDX(va, lvl)
		entry := ptes[idx]
		if entry.Valid() && (lvl < pg.RootLevel && entry.IsSuper()) {
			return c.InvalidArgf("0x%x is already mapped by a leaf at level %d", va, lvl+1)
		}
		if !entry.Valid() {
			next, err := pga.NewPTEs()
			if err != nil {
				return err
			}
			// Directories are permissive, the leaf carries the rights.
			entry = pg.MakePTE(next, pg.ConvertOpts(c.DEF_VAL|c.USER_VAL))
			if err := pga.SetPTE(table, idx, entry); err != nil {
				return err
			}
		}
		table = entry.Address()
	}
	leaf := pg.MakePTE(pa, flags)
	if target != 0 {
		leaf = pg.MakeSuper(pa, flags)
	}
	return pga.SetPTE(table, pg.PDX(va, target), leaf)
}

// Unmap clears the 4K leaf mapping va, leaving a not-present slot, e.g.,
// to model a guard page. Missing tables are an error.
func (pga *TableAllocator) Unmap(root, va uint64) error {
	table := root
	for lvl := pg.RootLevel; lvl > 0; lvl-- {
		ptes, err := pga.Memory.LookupPTEs(table)
		if err != nil {
			return err
		}
		entry := ptes[pg.PDX(va, lvl)]
		if !entry.Valid() || (entry.IsSuper() && lvl < pg.RootLevel) {
			return c.NotFoundf("0x%x has no 4K table", va)
		}
		table = entry.Address()
	}
	return pga.SetPTE(table, pg.PDX(va, 0), 0)
}
