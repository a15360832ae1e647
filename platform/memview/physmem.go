package memview

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
	pg "pagingaudit/platform/pagetables"
)

/**
* A guest physical memory made of regions. Regions come either from a memory
* image on disk (mapped read only) or from the TableAllocator when building
* page tables from scratch. Page tables are decoded from the bytes on every
* lookup, the audit never writes through them.
**/

// Region is a contiguous range of physical memory backed by Data.
type Region struct {
	Name string
	GPA  uint64
	Data []byte

	// release unmaps Data, if needed.
	release func() error
}

// NewRegion wraps data as the memory at gpa.
func NewRegion(name string, gpa uint64, data []byte) *Region {
	return &Region{Name: name, GPA: gpa, Data: data}
}

func (r *Region) Size() uint64 {
	return uint64(len(r.Data))
}

func (r *Region) End() uint64 {
	return r.GPA + r.Size()
}

// ContainsGPA returns true iff [gpa, gpa+size) is inside the region.
func (r *Region) ContainsGPA(gpa, size uint64) bool {
	return gpa >= r.GPA && gpa+size >= gpa && gpa+size <= r.End()
}

// Close releases the backing memory.
func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release, r.Data = nil, nil
	return err
}

// PhysicalMemory is a set of non-overlapping regions sorted by GPA.
type PhysicalMemory struct {
	Regions c.List[*Region]
}

func NewPhysicalMemory() *PhysicalMemory {
	p := &PhysicalMemory{}
	p.Regions.Init()
	return p
}

// AddRegion inserts r, refusing empty, unaligned and overlapping regions.
func (p *PhysicalMemory) AddRegion(r *Region) error {
	if r.Size() == 0 || !c.Aligned(r.GPA) || !c.Aligned(r.Size()) {
		return c.InvalidArgf("region %q at 0x%x of 0x%x bytes is empty or unaligned", r.Name, r.GPA, r.Size())
	}
	if r.End() < r.GPA || r.End() > c.Limit52bits {
		return c.InvalidArgf("region %q at 0x%x does not fit in physical memory", r.Name, r.GPA)
	}
	elem := &c.ListElem[*Region]{Value: r}
	for v := p.Regions.First; v != nil; v = v.Next {
		if v.Value.GPA < r.End() && r.GPA < v.Value.End() {
			return c.InvalidArgf("region %q overlaps %q at 0x%x", r.Name, v.Value.Name, v.Value.GPA)
		}
		if r.GPA < v.Value.GPA {
			p.Regions.InsertBefore(elem, v)
			return nil
		}
	}
	p.Regions.AddBack(elem)
	return nil
}

// Find returns the region holding [gpa, gpa+size), nil if there is none.
func (p *PhysicalMemory) Find(gpa, size uint64) *Region {
	for v := p.Regions.First; v != nil; v = v.Next {
		if v.Value.ContainsGPA(gpa, size) {
			return v.Value
		}
	}
	return nil
}

// Read returns the bytes of [gpa, gpa+size). The slice aliases the region.
func (p *PhysicalMemory) Read(gpa, size uint64) ([]byte, error) {
	r := p.Find(gpa, size)
	if r == nil {
		return nil, c.NotFoundf("no region holds [0x%x, 0x%x)", gpa, gpa+size)
	}
	off := gpa - r.GPA
	return r.Data[off : off+size], nil
}

// LookupPTEs decodes the table stored at physical.
func (p *PhysicalMemory) LookupPTEs(physical uint64) (*pg.PTEs, error) {
	if !c.Aligned(physical) {
		return nil, c.InvalidArgf("table address 0x%x is not page aligned", physical)
	}
	raw, err := p.Read(physical, c.PageSize)
	if err != nil {
		return nil, err
	}
	ptes := new(pg.PTEs)
	for i := range ptes {
		ptes[i] = pg.PTE(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return ptes, nil
}

// Close releases every region.
func (p *PhysicalMemory) Close() error {
	var err error
	for e := p.Regions.PopFront(); e != nil; e = p.Regions.PopFront() {
		if cerr := e.Value.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "closing region %q", e.Value.Name))
		}
	}
	return err
}
