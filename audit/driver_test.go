package audit

import (
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	"pagingaudit/sink"
)

// maps serves fixed space and memory maps.
type maps struct {
	space    []mm.SpaceDescriptor
	memmap   []mm.MemoryDescriptor
	stride   int
	spaceErr error
}

func (m *maps) SpaceMap() ([]mm.SpaceDescriptor, error) {
	if m.spaceErr != nil {
		return nil, m.spaceErr
	}
	return append([]mm.SpaceDescriptor(nil), m.space...), nil
}

func (m *maps) MemoryMap() (mm.DescriptorBuffer, error) {
	stride := m.stride
	if stride == 0 {
		stride = mm.DescriptorSize
	}
	return mm.EncodeDescriptors(m.memmap, stride)
}

const (
	ram  = mm.GcdMemoryTypeSystemMemory
	mmio = mm.GcdMemoryTypeMemoryMappedIo
	none = mm.GcdMemoryTypeNonExistent
)

type run struct {
	start uint64
	pages uint64
	typ   mm.GcdMemoryType
}

func runs(records []sink.MemoryMapRecord) []run {
	res := make([]run, len(records))
	for i, r := range records {
		res[i] = run{r.PhysicalStart, r.NumberOfPages, r.GcdType}
	}
	return res
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name   string
		space  []mm.SpaceDescriptor
		memmap []mm.MemoryDescriptor
		want   []run
	}{
		{
			name: "split after merge",
			space: []mm.SpaceDescriptor{
				{BaseAddress: 0x3000, Length: 0x1000, GcdType: mmio},
				{BaseAddress: 0x0, Length: 0x1000, GcdType: ram},
				{BaseAddress: 0x1000, Length: 0x2000, GcdType: ram},
			},
			memmap: []mm.MemoryDescriptor{{Type: mm.ConventionalMemory, PhysicalStart: 0, NumberOfPages: 2}},
			want:   []run{{0, 2, ram}, {0x2000, 1, ram}, {0x3000, 1, mmio}},
		},
		{
			// An uncovered start classifies the whole remainder, even the
			// MMIO page at 0x4000.
			name: "holes in the space map",
			space: []mm.SpaceDescriptor{
				{BaseAddress: 0x0, Length: 0x1000, GcdType: ram},
				{BaseAddress: 0x2000, Length: 0x1000, GcdType: ram},
				{BaseAddress: 0x4000, Length: 0x1000, GcdType: mmio},
			},
			memmap: []mm.MemoryDescriptor{{Type: mm.ConventionalMemory, PhysicalStart: 0, NumberOfPages: 2}},
			want:   []run{{0, 1, ram}, {0x1000, 1, none}, {0x2000, 1, ram}, {0x3000, 2, none}},
		},
		{
			name: "one entry spanning three types",
			space: []mm.SpaceDescriptor{
				{BaseAddress: 0x0, Length: 0x2000, GcdType: ram},
				{BaseAddress: 0x2000, Length: 0x1000, GcdType: mmio},
				{BaseAddress: 0x3000, Length: 0x3000, GcdType: mm.GcdMemoryTypeReserved},
			},
			memmap: []mm.MemoryDescriptor{
				{Type: mm.LoaderData, PhysicalStart: 0x1000, NumberOfPages: 4},
				{Type: mm.LoaderCode, PhysicalStart: 0x0, NumberOfPages: 1},
			},
			want: []run{{0, 1, ram}, {0x1000, 1, ram}, {0x2000, 1, mmio}, {0x3000, 2, mm.GcdMemoryTypeReserved}, {0x5000, 1, mm.GcdMemoryTypeReserved}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := sink.New()
			if err := Reconcile(&maps{space: tt.space}, &maps{memmap: tt.memmap, stride: 48}, out); err != nil {
				t.Fatalf("Reconcile() failed: %v", err)
			}
			if got := runs(out.MemoryMap); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Reconcile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconcileKeepsDescriptorFields(t *testing.T) {
	m := &maps{
		space: []mm.SpaceDescriptor{
			{BaseAddress: 0x0, Length: 0x2000, GcdType: ram},
			{BaseAddress: 0x2000, Length: 0x2000, GcdType: mmio},
		},
		memmap: []mm.MemoryDescriptor{
			{Type: mm.RuntimeServicesData, PhysicalStart: 0x1000, VirtualStart: 0xffff000000001000, NumberOfPages: 2, Attribute: 0x800000000000000f},
			{Type: mm.BootServicesData, PhysicalStart: 0x3000, NumberOfPages: 1, Attribute: 0xf},
		},
	}
	out := sink.New()
	if err := Reconcile(m, m, out); err != nil {
		t.Fatal(err)
	}
	want := []sink.MemoryMapRecord{
		{Type: mm.NoneMemoryType, PhysicalStart: 0, NumberOfPages: 1, GcdType: ram},
		{Type: mm.RuntimeServicesData, PhysicalStart: 0x1000, VirtualStart: 0xffff000000001000, NumberOfPages: 1, Attribute: 0x800000000000000f, GcdType: ram},
		{Type: mm.RuntimeServicesData, PhysicalStart: 0x2000, VirtualStart: 0xffff000000002000, NumberOfPages: 1, Attribute: 0x800000000000000f, GcdType: mmio},
		{Type: mm.BootServicesData, PhysicalStart: 0x3000, NumberOfPages: 1, Attribute: 0xf, GcdType: mmio},
	}
	if !reflect.DeepEqual(out.MemoryMap, want) {
		t.Errorf("Reconcile() =\n%+v\nwant\n%+v", out.MemoryMap, want)
	}
}

// Every page of the filled memory map is recorded exactly once.
func TestReconcileConservation(t *testing.T) {
	m := &maps{
		space: []mm.SpaceDescriptor{
			{BaseAddress: 0x0, Length: 0x5000, GcdType: ram},
			{BaseAddress: 0x5000, Length: 0x3000, GcdType: mmio},
			{BaseAddress: 0x8000, Length: 0x1000, GcdType: ram},
			{BaseAddress: 0x9000, Length: 0x7000, GcdType: mm.GcdMemoryTypeReserved},
		},
		memmap: []mm.MemoryDescriptor{
			{PhysicalStart: 0x1000, NumberOfPages: 9},
			{PhysicalStart: 0xc000, NumberOfPages: 2},
		},
	}
	out := sink.New()
	if err := Reconcile(m, m, out); err != nil {
		t.Fatal(err)
	}
	next := uint64(0)
	for _, r := range out.MemoryMap {
		if r.PhysicalStart != next || r.NumberOfPages == 0 {
			t.Fatalf("record %+v does not start at %#x", r, next)
		}
		next = r.PhysicalStart + c.PagesToSize(r.NumberOfPages)
	}
	if next != 0x10000 {
		t.Errorf("records end at %#x", next)
	}
}

func TestReconcileErrors(t *testing.T) {
	good := []mm.SpaceDescriptor{{BaseAddress: 0, Length: 0x1000, GcdType: ram}}
	tests := []struct {
		name string
		m    *maps
		want error
	}{
		{"no space map", &maps{memmap: []mm.MemoryDescriptor{{NumberOfPages: 1}}}, c.ErrInvalidArgument},
		{"space map failure", &maps{spaceErr: c.NotFoundf("gone")}, c.ErrNotFound},
		{"no memory map", &maps{space: good}, c.ErrInvalidArgument},
		{"empty descriptor", &maps{space: good, memmap: []mm.MemoryDescriptor{{PhysicalStart: 0}}}, c.ErrInvalidArgument},
		{"unaligned space entry", &maps{space: []mm.SpaceDescriptor{{BaseAddress: 0x10, Length: 0x1000}}}, c.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := sink.New()
			if err := Reconcile(tt.m, tt.m, out); !errors.Is(err, tt.want) {
				t.Errorf("Reconcile() = %v, want %v", err, tt.want)
			}
			if len(out.MemoryMap) != 0 {
				t.Errorf("records left behind: %v", out.MemoryMap)
			}
		})
	}
}
