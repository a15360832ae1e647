package pagetables

const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	executeDisable = 1 << 63
	entriesPerPage = 512

	// Size of the page mapped by a leaf at each level.
	Size4K = uint64(1) << pteShift
	Size2M = uint64(1) << pmdShift
	Size1G = uint64(1) << pudShift
)

// Page Table levels
const (
	_LVL_PTE   = 0
	_LVL_PDE   = 1
	_LVL_PDPTE = 2
	_LVL_PML4  = 3
)

var (
	pdshift = [4]int{
		pteShift,
		pmdShift,
		pudShift,
		pgdShift,
	}
)

// Page Table constants
const (
	_NPTBITS = 9 // log2(entriesPerPage)
	_PDXMASK = ((1 << _NPTBITS) - 1)
)

// PDX returns the index for the given address and level.
func PDX(addr uint64, n int) int {
	return int((addr >> pdshift[n]) & _PDXMASK)
}

// PDADDR returns the address for the given level.
func PDADDR(n int, i uint64) uint64 {
	return i << pdshift[n]
}

// IndexToAddress rebuilds the address translated through the slots
// (i4, i3, i2, i1) of the four levels, PML4 first.
func IndexToAddress(i4, i3, i2, i1 int) uint64 {
	return PDADDR(_LVL_PML4, uint64(i4)) | PDADDR(_LVL_PDPTE, uint64(i3)) |
		PDADDR(_LVL_PDE, uint64(i2)) | PDADDR(_LVL_PTE, uint64(i1))
}

// PTEs is a collection of entries, i.e., one page table.
type PTEs [entriesPerPage]PTE

// LevelFor returns the level holding leaves of the given page size.
func LevelFor(size uint64) (int, bool) {
	switch size {
	case Size4K:
		return _LVL_PTE, true
	case Size2M:
		return _LVL_PDE, true
	case Size1G:
		return _LVL_PDPTE, true
	}
	return -1, false
}

// RootLevel is the level of the table CR3 points to.
const RootLevel = _LVL_PML4
