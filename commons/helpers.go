package commons

/**
* Page arithmetic shared by the memory map, the page walker and the images.
* Sizes are always uint64: descriptors carry 64-bit addresses regardless of
* the host word size.
**/

const (
	PageShift = 12
	PageSize  = uint64(1) << PageShift
	PageMask  = PageSize - 1

	// Limit52bits is the architectural ceiling of x86-64 physical addresses.
	Limit52bits = uint64(1) << 52
)

// PagesToSize converts a number of pages into bytes.
func PagesToSize(pages uint64) uint64 {
	return pages << PageShift
}

// SizeToPages converts bytes into pages, rounding up.
func SizeToPages(size uint64) uint64 {
	pages := size >> PageShift
	if size&PageMask != 0 {
		pages++
	}
	return pages
}

// Round aligns addr on a page boundary, up or down.
func Round(addr uint64, up bool) uint64 {
	res := addr - (addr % PageSize)
	if up && (addr%PageSize != 0) {
		res += PageSize
	}
	return res
}

// Aligned reports whether addr sits on a page boundary.
func Aligned(addr uint64) bool {
	return addr&PageMask == 0
}
