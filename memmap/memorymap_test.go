package memmap

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
)

// randomMemoryMap returns n sorted, non-overlapping entries with random holes.
func randomMemoryMap(r *rand.Rand, n int, base uint64) []MemoryDescriptor {
	res := make([]MemoryDescriptor, 0, n)
	addr := base
	for i := 0; i < n; i++ {
		addr += uint64(r.Intn(3)) * page
		pages := uint64(1 + r.Intn(6))
		res = append(res, MemoryDescriptor{
			Type:          MemoryType(r.Intn(int(MaxMemoryType))),
			PhysicalStart: addr,
			NumberOfPages: pages,
			Attribute:     0xf,
		})
		addr += c.PagesToSize(pages)
	}
	return res
}

func TestSortMemoryMap(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	mm := randomMemoryMap(r, 30, 0)
	r.Shuffle(len(mm), func(i, j int) { mm[i], mm[j] = mm[j], mm[i] })
	SortMemoryMap(mm)
	for i := 0; i+1 < len(mm); i++ {
		if mm[i].PhysicalStart > mm[i+1].PhysicalStart {
			t.Fatalf("entry %d out of order", i)
		}
	}
}

func TestFillMemoryMap(t *testing.T) {
	tests := []struct {
		name       string
		in         []MemoryDescriptor
		start, end uint64
		want       []MemoryDescriptor
		wantErr    error
	}{
		{
			name:  "leading, middle and trailing holes",
			in:    []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0x2000, NumberOfPages: 1}, {Type: LoaderData, PhysicalStart: 0x5000, NumberOfPages: 2}},
			start: 0,
			end:   0xa000,
			want: []MemoryDescriptor{
				{Type: NoneMemoryType, PhysicalStart: 0, NumberOfPages: 2},
				{Type: LoaderCode, PhysicalStart: 0x2000, NumberOfPages: 1},
				{Type: NoneMemoryType, PhysicalStart: 0x3000, NumberOfPages: 2},
				{Type: LoaderData, PhysicalStart: 0x5000, NumberOfPages: 2},
				{Type: NoneMemoryType, PhysicalStart: 0x7000, NumberOfPages: 3},
			},
		},
		{
			name:  "already contiguous",
			in:    []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0, NumberOfPages: 1}, {Type: LoaderData, PhysicalStart: 0x1000, NumberOfPages: 1}},
			start: 0,
			end:   0x2000,
			want:  []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0, NumberOfPages: 1}, {Type: LoaderData, PhysicalStart: 0x1000, NumberOfPages: 1}},
		},
		{
			name:  "map beyond the span is kept",
			in:    []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0, NumberOfPages: 8}},
			start: 0x1000,
			end:   0x2000,
			want:  []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0, NumberOfPages: 8}},
		},
		{
			name:  "partial trailing page rounds up",
			in:    []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0, NumberOfPages: 1}},
			start: 0,
			end:   0x1800,
			want:  []MemoryDescriptor{{Type: LoaderCode, PhysicalStart: 0, NumberOfPages: 1}, {Type: NoneMemoryType, PhysicalStart: 0x1000, NumberOfPages: 1}},
		},
		{
			name:    "empty",
			in:      nil,
			end:     0x1000,
			wantErr: c.ErrInvalidArgument,
		},
		{
			name:    "reversed span",
			in:      []MemoryDescriptor{{PhysicalStart: 0, NumberOfPages: 1}},
			start:   0x2000,
			end:     0x1000,
			wantErr: c.ErrInvalidArgument,
		},
		{
			name:    "unsorted",
			in:      []MemoryDescriptor{{PhysicalStart: 0x1000, NumberOfPages: 1}, {PhysicalStart: 0, NumberOfPages: 1}},
			end:     0x2000,
			wantErr: c.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := append([]MemoryDescriptor(nil), tt.in...)
			got, err := FillMemoryMap(tt.in, tt.start, tt.end)
			if !reflect.DeepEqual(tt.in, orig) {
				t.Errorf("FillMemoryMap() modified its input")
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FillMemoryMap() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FillMemoryMap() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FillMemoryMap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFillMemoryMapCoverage(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for round := 0; round < 50; round++ {
		start := uint64(r.Intn(4)) * page
		mm := randomMemoryMap(r, 1+r.Intn(30), start+uint64(r.Intn(4))*page)
		end := mm[len(mm)-1].End() + uint64(r.Intn(5))*page
		filled, err := FillMemoryMap(mm, start, end)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if filled[0].PhysicalStart != start {
			t.Fatalf("round %d: starts at 0x%x, want 0x%x", round, filled[0].PhysicalStart, start)
		}
		for i := 0; i+1 < len(filled); i++ {
			if filled[i].End() != filled[i+1].PhysicalStart {
				t.Fatalf("round %d: hole between %d and %d", round, i, i+1)
			}
		}
		if last := filled[len(filled)-1]; last.End() < end {
			t.Fatalf("round %d: ends at 0x%x, want at least 0x%x", round, last.End(), end)
		}
		for _, d := range filled {
			if d.Type == NoneMemoryType && (d.Attribute != 0 || d.VirtualStart != 0) {
				t.Fatalf("round %d: synthetic entry carries attributes %+v", round, d)
			}
		}
	}
}

func TestMemoryDescriptorValidate(t *testing.T) {
	good := MemoryDescriptor{PhysicalStart: 0x1000, NumberOfPages: 1}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	for _, bad := range []MemoryDescriptor{
		{PhysicalStart: 0x1000},
		{PhysicalStart: 0x1004, NumberOfPages: 1},
		{PhysicalStart: 0xfffffffffffff000, NumberOfPages: 2},
	} {
		if err := bad.Validate(); !errors.Is(err, c.ErrInvalidArgument) {
			t.Errorf("Validate(%+v) = %v", bad, err)
		}
	}
}
