package memmap

import (
	"encoding/binary"

	c "pagingaudit/commons"
)

// Layout of a firmware memory descriptor. The firmware reports a stride
// that may exceed DescriptorSize; the extra bytes are skipped.
const (
	DescriptorSize = 40

	offType          = 0
	offPhysicalStart = 8
	offVirtualStart  = 16
	offNumberOfPages = 24
	offAttribute     = 32
)

// DescriptorBuffer is a raw memory map: Len() descriptors laid out every
// Stride bytes, little endian.
type DescriptorBuffer struct {
	Data   []byte
	Stride int
}

// NewDescriptorBuffer wraps data, checking that it holds a whole number of
// descriptors of the given stride.
func NewDescriptorBuffer(data []byte, stride int) (DescriptorBuffer, error) {
	if stride < DescriptorSize {
		return DescriptorBuffer{}, c.InvalidArgf("descriptor stride %d is below %d", stride, DescriptorSize)
	}
	if len(data)%stride != 0 {
		return DescriptorBuffer{}, c.InvalidArgf("memory map of %d bytes is not a multiple of stride %d", len(data), stride)
	}
	return DescriptorBuffer{Data: data, Stride: stride}, nil
}

// Len returns the number of descriptors.
func (b DescriptorBuffer) Len() int {
	if b.Stride == 0 {
		return 0
	}
	return len(b.Data) / b.Stride
}

// At decodes the descriptor at index i.
func (b DescriptorBuffer) At(i int) MemoryDescriptor {
	raw := b.Data[i*b.Stride : i*b.Stride+DescriptorSize]
	return MemoryDescriptor{
		Type:          MemoryType(binary.LittleEndian.Uint32(raw[offType:])),
		PhysicalStart: binary.LittleEndian.Uint64(raw[offPhysicalStart:]),
		VirtualStart:  binary.LittleEndian.Uint64(raw[offVirtualStart:]),
		NumberOfPages: binary.LittleEndian.Uint64(raw[offNumberOfPages:]),
		Attribute:     binary.LittleEndian.Uint64(raw[offAttribute:]),
	}
}

// Descriptors decodes the whole buffer.
func (b DescriptorBuffer) Descriptors() []MemoryDescriptor {
	res := make([]MemoryDescriptor, 0, b.Len())
	for it := b.Iter(); it.Next(); {
		res = append(res, it.Descriptor())
	}
	return res
}

// Iter returns an iterator positioned before the first descriptor.
func (b DescriptorBuffer) Iter() *DescriptorIter {
	return &DescriptorIter{buf: b, idx: -1}
}

// DescriptorIter walks a DescriptorBuffer by stride.
type DescriptorIter struct {
	buf DescriptorBuffer
	idx int
}

// Next advances to the next descriptor and reports whether there is one.
func (it *DescriptorIter) Next() bool {
	if it.idx+1 >= it.buf.Len() {
		it.idx = it.buf.Len()
		return false
	}
	it.idx++
	return true
}

// Descriptor decodes the current descriptor.
func (it *DescriptorIter) Descriptor() MemoryDescriptor {
	return it.buf.At(it.idx)
}

// EncodeDescriptors lays descs out with the given stride, zeroing padding.
func EncodeDescriptors(descs []MemoryDescriptor, stride int) (DescriptorBuffer, error) {
	if stride < DescriptorSize {
		return DescriptorBuffer{}, c.InvalidArgf("descriptor stride %d is below %d", stride, DescriptorSize)
	}
	data := make([]byte, len(descs)*stride)
	for i, d := range descs {
		raw := data[i*stride:]
		binary.LittleEndian.PutUint32(raw[offType:], uint32(d.Type))
		binary.LittleEndian.PutUint64(raw[offPhysicalStart:], d.PhysicalStart)
		binary.LittleEndian.PutUint64(raw[offVirtualStart:], d.VirtualStart)
		binary.LittleEndian.PutUint64(raw[offNumberOfPages:], d.NumberOfPages)
		binary.LittleEndian.PutUint64(raw[offAttribute:], d.Attribute)
	}
	return DescriptorBuffer{Data: data, Stride: stride}, nil
}
