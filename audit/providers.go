// Package audit reconciles the memory map of a platform against its GCD
// space map and flattens its page tables.
package audit

import (
	mm "pagingaudit/memmap"
	pg "pagingaudit/platform/pagetables"
	"pagingaudit/sink"
)

// SpaceMapProvider returns the GCD memory space map, in any order.
type SpaceMapProvider interface {
	SpaceMap() ([]mm.SpaceDescriptor, error)
}

// MemoryMapProvider returns the raw OS memory map.
type MemoryMapProvider interface {
	MemoryMap() (mm.DescriptorBuffer, error)
}

// RootProvider returns the physical address of the top level page table.
type RootProvider interface {
	RootPointer() (uint64, error)
}

// Source is everything a full audit consumes.
type Source interface {
	SpaceMapProvider
	MemoryMapProvider
	RootProvider

	// Memory gives access to the page tables.
	Memory() (pg.Memory, error)

	// GuardOracle may return nil, guard detection is then disabled.
	GuardOracle() pg.GuardOracle
}

// InfoProvider is implemented by sources that also know the platform
// details written along the memory map.
type InfoProvider interface {
	Bitwidth() uint8
	LoadedImages() []sink.LoadedImage
	MAT() []mm.MemoryDescriptor
}
