package snapshot

import (
	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	"pagingaudit/platform/memview"
	pg "pagingaudit/platform/pagetables"
	"pagingaudit/sink"
)

// Layout of the synthetic platform.
const (
	synthTables     = uint64(0x1000000)
	synthTablesSize = uint64(0x100000)
	synthLeaves     = 8
	SynthStride     = 48
	SynthBitwidth   = 39
)

// SynthGuard is the guard page of the synthetic platform, the 4K slot right
// after its last 4K leaf.
const SynthGuard = uint64(0x40200000) + synthLeaves*c.PageSize

// Synthesize writes a small but complete snapshot to dir: page tables with
// leaves of every size and one guard page, a space map with adjacent entries
// to merge and a memory map with holes.
func Synthesize(dir string) (*Manifest, error) {
	mem := memview.NewPhysicalMemory()
	ta := memview.NewTableAllocator(mem, memview.NewFreeSpaceAllocator([]memview.Span{
		{Addr: synthTables, Size: synthTablesSize},
	}))
	root, err := ta.NewPTEs()
	if err != nil {
		return nil, err
	}
	rw := pg.ConvertOpts(c.R_VAL | c.W_VAL)
	rx := pg.ConvertOpts(c.R_VAL | c.X_VAL)
	if err := ta.Map(root, 0, 0, pg.Size1G, rw); err != nil {
		return nil, err
	}
	if err := ta.Map(root, 0x40000000, 0x40000000, pg.Size2M, rw); err != nil {
		return nil, err
	}
	for i := uint64(0); i < synthLeaves; i++ {
		flags := rw
		if i%2 == 0 {
			flags = rx
		}
		if err := ta.Map(root, 0x40200000+i*c.PageSize, 0x200000+i*c.PageSize, pg.Size4K, flags); err != nil {
			return nil, err
		}
	}

	var regions []*memview.Region
	mem.Regions.Foreach(func(e *c.ListElem[*memview.Region]) {
		regions = append(regions, e.Value)
	})

	m := &Manifest{
		CR3:      root,
		Bitwidth: SynthBitwidth,
		SpaceMap: []mm.SpaceDescriptor{
			{BaseAddress: 0x100000, Length: 0xf00000, GcdType: mm.GcdMemoryTypeSystemMemory},
			{BaseAddress: 0x0, Length: 0xa0000, GcdType: mm.GcdMemoryTypeSystemMemory},
			{BaseAddress: 0xa0000, Length: 0x60000, GcdType: mm.GcdMemoryTypeMemoryMappedIo},
			{BaseAddress: 0x1000000, Length: 0x7f000000, GcdType: mm.GcdMemoryTypeSystemMemory},
			{BaseAddress: 0xfec00000, Length: 0x100000, GcdType: mm.GcdMemoryTypeMemoryMappedIo},
		},
		MemoryMap: DescriptorFile{Stride: SynthStride},
		MAT:       DescriptorFile{Stride: SynthStride},
		Guards:    []uint64{SynthGuard},
		LoadedImages: []sink.LoadedImage{
			{Base: 0x200000, Size: synthLeaves * c.PageSize, Name: "Shell.pdb"},
		},
	}
	memmap := []mm.MemoryDescriptor{
		{Type: mm.ConventionalMemory, PhysicalStart: 0x100000, NumberOfPages: 0x100, Attribute: 0xf},
		{Type: mm.BootServicesCode, PhysicalStart: 0x1000, NumberOfPages: 0x9f, Attribute: 0xf},
		{Type: mm.LoaderCode, PhysicalStart: 0x200000, NumberOfPages: synthLeaves, Attribute: 0xf},
		{Type: mm.RuntimeServicesData, PhysicalStart: synthTables, VirtualStart: 0xffff800001000000, NumberOfPages: synthTablesSize >> c.PageShift, Attribute: 0x800000000000000f},
		{Type: mm.ReservedMemoryType, PhysicalStart: 0x7ff00000, NumberOfPages: 0x100, Attribute: 0x1},
	}
	mat := []mm.MemoryDescriptor{
		{Type: mm.RuntimeServicesData, PhysicalStart: synthTables, VirtualStart: 0xffff800001000000, NumberOfPages: synthTablesSize >> c.PageShift, Attribute: 0x2000},
	}
	if err := Write(dir, m, regions, memmap, mat); err != nil {
		return nil, err
	}
	return m, nil
}
