// Package sink accumulates the records of an audit and writes them out.
package sink

import (
	"fmt"

	mm "pagingaudit/memmap"
)

// MemoryMapRecord is a memory map run annotated with the GCD type of all
// of its pages.
type MemoryMapRecord struct {
	Type          mm.MemoryType
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
	GcdType       mm.GcdMemoryType
}

func (r *MemoryMapRecord) line() string {
	return fmt.Sprintf("MemoryMap,0x%016x,0x%016x,0x%016x,0x%016x,0x%016x,0x%016x\n",
		uint64(r.Type), r.PhysicalStart, r.VirtualStart, r.NumberOfPages, r.Attribute, uint64(r.GcdType))
}

// LoadedImage is an image the firmware loaded, with its debug file name.
// Rights is the protection its base is mapped with, filled by the walk.
type LoadedImage struct {
	Base   uint64
	Size   uint64
	Name   string
	Rights string
}

func (l *LoadedImage) line() string {
	return fmt.Sprintf("LoadedImage,0x%016x,0x%016x,%s\n", l.Base, l.Size, l.Name)
}

func guardLine(addr uint64) string {
	return fmt.Sprintf("GuardPage,0x%016x\n", addr)
}

func bitwidthLine(width uint8) string {
	return fmt.Sprintf("Bitwidth,0x%02x\n", width)
}

// MAT entries carry no GCD type.
func matLine(d *mm.MemoryDescriptor) string {
	return fmt.Sprintf("MAT,0x%016x,0x%016x,0x%016x,0x%016x,0x%016x,0x%016x\n",
		uint64(d.Type), d.PhysicalStart, d.VirtualStart, d.NumberOfPages, d.Attribute, uint64(mm.NoneGcdMemoryType))
}
