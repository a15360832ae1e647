package pagetables

import (
	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
)

// PageTables is a read-only view of a set of page tables.
type PageTables struct {
	// Memory is used to resolve table addresses.
	Memory Memory

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the physical address of the root, as loaded in CR3.
	rootPhysical uint64
}

// New returns the PageTables rooted at cr3. Control bits in cr3 (PCID, PWT,
// PCD) are ignored.
func New(mem Memory, cr3 uint64) (*PageTables, error) {
	if mem == nil {
		return nil, c.InvalidArgf("page tables need a memory")
	}
	p := &PageTables{Memory: mem, rootPhysical: cr3 & addrMask}
	root, err := mem.LookupPTEs(p.rootPhysical)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading root table at 0x%x", p.rootPhysical), c.ErrNotFound)
	}
	p.root = root
	return p, nil
}

// CR3 returns the physical address of the root.
func (p *PageTables) CR3() uint64 {
	return p.rootPhysical
}

func (p *PageTables) lookup(entry PTE) (*PTEs, error) {
	ptes, err := p.Memory.LookupPTEs(entry.Address())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reading table at 0x%x", entry.Address()), c.ErrNotFound)
	}
	return ptes, nil
}

// FindMapping translates addr and returns the leaf entry mapping it together
// with the size of the page. An unmapped address is reported as ErrNotFound.
func (p *PageTables) FindMapping(addr uint64) (PTE, uint64, error) {
	table := p.root
	for lvl := _LVL_PML4; lvl >= _LVL_PTE; lvl-- {
		entry := table[PDX(addr, lvl)]
		if !entry.Valid() {
			return entry, 0, c.NotFoundf("0x%x is not mapped at level %d", addr, lvl+1)
		}
		switch {
		case lvl == _LVL_PTE:
			return entry, Size4K, nil
		case lvl == _LVL_PDE && entry.IsSuper():
			return entry, Size2M, nil
		case lvl == _LVL_PDPTE && entry.IsSuper():
			return entry, Size1G, nil
		}
		next, err := p.lookup(entry)
		if err != nil {
			return 0, 0, err
		}
		table = next
	}
	panic("unreachable")
}
