// Package memmap holds the two physical-range authorities of the platform,
// the OS memory map and the GCD memory space map, and the interval
// algorithms that reconcile them.
package memmap

import (
	"fmt"

	c "pagingaudit/commons"
)

// MemoryType is the allocation type of an OS memory map entry.
type MemoryType uint32

const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
	UnacceptedMemoryType
	MaxMemoryType

	// NoneMemoryType tags the synthetic entries inserted by FillMemoryMap.
	NoneMemoryType MemoryType = 0xAAAAAAAA
)

var memoryTypeNames = [MaxMemoryType]string{
	"EfiReservedMemoryType",
	"EfiLoaderCode",
	"EfiLoaderData",
	"EfiBootServicesCode",
	"EfiBootServicesData",
	"EfiRuntimeServicesCode",
	"EfiRuntimeServicesData",
	"EfiConventionalMemory",
	"EfiUnusableMemory",
	"EfiACPIReclaimMemory",
	"EfiACPIMemoryNVS",
	"EfiMemoryMappedIO",
	"EfiMemoryMappedIOPortSpace",
	"EfiPalCode",
	"EfiPersistentMemory",
	"EfiUnacceptedMemoryType",
}

func (t MemoryType) String() string {
	if t < MaxMemoryType {
		return memoryTypeNames[t]
	}
	if t == NoneMemoryType {
		return "None"
	}
	return fmt.Sprintf("MemoryType(0x%x)", uint32(t))
}

// GcdMemoryType is the classification the GCD gives a physical range.
type GcdMemoryType uint32

const (
	GcdMemoryTypeNonExistent GcdMemoryType = iota
	GcdMemoryTypeReserved
	GcdMemoryTypeSystemMemory
	GcdMemoryTypeMemoryMappedIo
	GcdMemoryTypePersistent
	GcdMemoryTypeMoreReliable
	GcdMemoryTypeUnaccepted
	GcdMemoryTypeMaximum

	NoneGcdMemoryType GcdMemoryType = 0xAAAAAAAA
)

var gcdTypeNames = [GcdMemoryTypeMaximum]string{
	"NonExistent",
	"Reserved",
	"SystemMemory",
	"MemoryMappedIo",
	"Persistent",
	"MoreReliable",
	"Unaccepted",
}

func (t GcdMemoryType) String() string {
	if t < GcdMemoryTypeMaximum {
		return gcdTypeNames[t]
	}
	if t == NoneGcdMemoryType {
		return "None"
	}
	return fmt.Sprintf("GcdMemoryType(0x%x)", uint32(t))
}

// ParseGcdMemoryType is the inverse of GcdMemoryType.String.
func ParseGcdMemoryType(name string) (GcdMemoryType, error) {
	for i, n := range gcdTypeNames {
		if n == name {
			return GcdMemoryType(i), nil
		}
	}
	if name == "None" {
		return NoneGcdMemoryType, nil
	}
	return GcdMemoryTypeNonExistent, c.InvalidArgf("unknown GCD memory type %q", name)
}

// MemoryDescriptor is one OS memory map region.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// End returns the first physical address after the region.
func (d *MemoryDescriptor) End() uint64 {
	return d.PhysicalStart + c.PagesToSize(d.NumberOfPages)
}

// Validate checks the descriptor invariants: a non-empty, page aligned range
// that does not wrap around the address space.
func (d *MemoryDescriptor) Validate() error {
	if d.NumberOfPages == 0 {
		return c.InvalidArgf("memory descriptor at 0x%x has no pages", d.PhysicalStart)
	}
	if !c.Aligned(d.PhysicalStart) {
		return c.InvalidArgf("memory descriptor start 0x%x is not page aligned", d.PhysicalStart)
	}
	if d.NumberOfPages > (^uint64(0)-d.PhysicalStart)>>c.PageShift {
		return c.InvalidArgf("memory descriptor at 0x%x with 0x%x pages wraps", d.PhysicalStart, d.NumberOfPages)
	}
	return nil
}

// SpaceDescriptor is one GCD memory space map range.
type SpaceDescriptor struct {
	BaseAddress  uint64
	Length       uint64
	Capabilities uint64
	Attributes   uint64
	GcdType      GcdMemoryType
}

func (s *SpaceDescriptor) End() uint64 {
	return s.BaseAddress + s.Length
}

// Validate checks that both ends of the range are page aligned.
func (s *SpaceDescriptor) Validate() error {
	if !c.Aligned(s.BaseAddress) || !c.Aligned(s.End()) {
		return c.InvalidArgf("space descriptor [0x%x, 0x%x) is not page aligned", s.BaseAddress, s.End())
	}
	if s.End() < s.BaseAddress {
		return c.InvalidArgf("space descriptor at 0x%x with length 0x%x wraps", s.BaseAddress, s.Length)
	}
	return nil
}
