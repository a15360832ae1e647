package pagetables

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
)

// fakeMemory maps physical addresses to tables.
type fakeMemory map[uint64]*PTEs

func (m fakeMemory) LookupPTEs(physical uint64) (*PTEs, error) {
	if ptes, ok := m[physical]; ok {
		return ptes, nil
	}
	return nil, fmt.Errorf("no table at 0x%x", physical)
}

func (m fakeMemory) table(addr uint64) *PTEs {
	if _, ok := m[addr]; !ok {
		m[addr] = new(PTEs)
	}
	return m[addr]
}

type guardSet map[uint64]bool

func (g guardSet) IsGuardPage(addr uint64) bool {
	return g[addr]
}

var rw = ConvertOpts(c.R_VAL | c.W_VAL)

// oneGigTables has a single 1G leaf at PDPT index 0.
func oneGigTables() fakeMemory {
	mem := fakeMemory{}
	mem.table(0x1000)[0] = MakePTE(0x2000, rw)
	mem.table(0x2000)[0] = MakeSuper(0x0, rw)
	return mem
}

// mixedTables has one leaf of every size, ten 4K leaves at 0x40200000 and
// a guard candidate right after them.
func mixedTables() fakeMemory {
	mem := fakeMemory{}
	mem.table(0x1000)[0] = MakePTE(0x2000, rw)
	mem.table(0x2000)[0] = MakeSuper(0x0, rw)
	mem.table(0x2000)[1] = MakePTE(0x3000, rw)
	mem.table(0x3000)[0] = MakeSuper(0x40000000, rw)
	mem.table(0x3000)[1] = MakePTE(0x4000, rw)
	for i := 0; i < 10; i++ {
		mem.table(0x4000)[i] = MakePTE(0x100000+uint64(i)*Size4K, rw)
	}
	return mem
}

func newTestWalker(t *testing.T, mem fakeMemory, oracle GuardOracle) *Walker {
	t.Helper()
	pt, err := New(mem, 0x1000)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return NewWalker(pt, oracle, nil)
}

func TestWalkSingleGigaLeaf(t *testing.T) {
	w := newTestWalker(t, oneGigTables(), nil)
	var counts Counts
	if err := w.Walk(&counts, nil); err != nil {
		t.Fatalf("count pass failed: %v", err)
	}
	want := Counts{Pte1G: 1, Pde: 2}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
	bufs := NewBuffers(counts)
	if err := w.Walk(&counts, bufs); err != nil {
		t.Fatalf("fill pass failed: %v", err)
	}
	if !reflect.DeepEqual(bufs.Pde, []uint64{0x1000, 0x2000}) {
		t.Errorf("directories = %#x", bufs.Pde)
	}
	if bufs.Pte1G[0] != MakeSuper(0, rw) {
		t.Errorf("1G leaf = %#x", bufs.Pte1G[0])
	}
	if w.Stats.NotPresent1G != 511 {
		t.Errorf("1G not present = %d, want 511", w.Stats.NotPresent1G)
	}
}

func TestWalkCountFillConsistency(t *testing.T) {
	guards := guardSet{IndexToAddress(0, 1, 1, 10): true}
	w := newTestWalker(t, mixedTables(), guards)

	var counts Counts
	if err := w.Walk(&counts, nil); err != nil {
		t.Fatalf("count pass failed: %v", err)
	}
	want := Counts{Pte1G: 1, Pte2M: 1, Pte4K: 10, Pde: 4, Guard: 1}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}

	bufs := NewBuffers(counts)
	filled := counts
	if err := w.Walk(&filled, bufs); err != nil {
		t.Fatalf("fill pass failed: %v", err)
	}
	if filled != counts || bufs.Capacity() != counts {
		t.Fatalf("fill counts %+v differ from %+v", filled, counts)
	}
	if got := bufs.Guard[0]; got != 0x4020a000 {
		t.Errorf("guard = %#x", got)
	}
	if !reflect.DeepEqual(bufs.Pde, []uint64{0x1000, 0x2000, 0x3000, 0x4000}) {
		t.Errorf("directories = %#x", bufs.Pde)
	}
	for i, e := range bufs.Pte4K {
		if e.Address() != 0x100000+uint64(i)*Size4K || e.IsSuper() {
			t.Errorf("4K leaf %d = %#x", i, e)
		}
	}
	if w.Stats.NotPresent4K != 502 || w.Stats.NotPresent2M != 510 || w.Stats.NotPresent1G != 510 {
		t.Errorf("stats = %+v", w.Stats)
	}
}

func TestWalkGuardsNeedOracle(t *testing.T) {
	w := newTestWalker(t, mixedTables(), nil)
	var counts Counts
	if err := w.Walk(&counts, nil); err != nil {
		t.Fatal(err)
	}
	if counts.Guard != 0 || counts.Pte4K != 10 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestWalkKeepAbsentLeaves(t *testing.T) {
	guards := guardSet{IndexToAddress(0, 1, 1, 10): true}
	w := newTestWalker(t, mixedTables(), guards)
	w.KeepAbsentLeaves = true
	var counts Counts
	if err := w.Walk(&counts, nil); err != nil {
		t.Fatal(err)
	}
	if counts.Pte4K != 511 || counts.Guard != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestWalkBufferTooSmall(t *testing.T) {
	w := newTestWalker(t, mixedTables(), nil)
	counts := Counts{Pte4K: 5, Pde: 4, Pte1G: 1, Pte2M: 1}
	bufs := NewBuffers(counts)
	err := w.Walk(&counts, bufs)
	if !errors.Is(err, c.ErrBufferTooSmall) {
		t.Fatalf("Walk() = %v, want buffer too small", err)
	}
	if counts.Pte4K != 10 {
		t.Errorf("true 4K count = %d, want 10", counts.Pte4K)
	}
	for i, e := range bufs.Pte4K {
		if e.Address() != 0x100000+uint64(i)*Size4K {
			t.Errorf("4K leaf %d = %#x", i, e)
		}
	}
}

func TestWalkInvalidArguments(t *testing.T) {
	w := newTestWalker(t, mixedTables(), nil)
	if err := w.Walk(nil, nil); !errors.Is(err, c.ErrInvalidArgument) {
		t.Errorf("nil counts: %v", err)
	}
	tests := []struct {
		name   string
		counts Counts
		bufs   *Buffers
	}{
		{"capacity without buffers", Counts{Pte4K: 3}, nil},
		{"capacity without one buffer", Counts{Pde: 3, Guard: 1}, &Buffers{Pde: make([]uint64, 3)}},
		{"capacity above buffer", Counts{Pte1G: 4}, &Buffers{Pte1G: make([]PTE, 2)}},
		{"negative capacity", Counts{Pte2M: -1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts := tt.counts
			if err := w.Walk(&counts, tt.bufs); !errors.Is(err, c.ErrInvalidArgument) {
				t.Errorf("Walk() = %v, want invalid argument", err)
			}
		})
	}
}

func TestWalkMissingTable(t *testing.T) {
	mem := mixedTables()
	delete(mem, 0x3000)
	w := newTestWalker(t, mem, nil)
	var counts Counts
	if err := w.Walk(&counts, nil); !errors.Is(err, c.ErrNotFound) {
		t.Errorf("Walk() = %v, want not found", err)
	}
	if _, err := New(mem, 0x9000); !errors.Is(err, c.ErrNotFound) {
		t.Errorf("New() = %v, want not found", err)
	}
}

func TestFindMapping(t *testing.T) {
	pt, err := New(mixedTables(), 0x1000|0x18)
	if err != nil {
		t.Fatal(err)
	}
	if pt.CR3() != 0x1000 {
		t.Errorf("CR3() = %#x", pt.CR3())
	}
	tests := []struct {
		addr     uint64
		wantAddr uint64
		wantSize uint64
	}{
		{0x12345, 0, Size1G},
		{0x40000000 + 0x1234, 0x40000000, Size2M},
		{0x40200000 + 3*Size4K, 0x100000 + 3*Size4K, Size4K},
	}
	for _, tt := range tests {
		pte, size, err := pt.FindMapping(tt.addr)
		if err != nil {
			t.Fatalf("FindMapping(%#x): %v", tt.addr, err)
		}
		if pte.Address() != tt.wantAddr || size != tt.wantSize {
			t.Errorf("FindMapping(%#x) = %#x, %#x", tt.addr, pte.Address(), size)
		}
		if c.RightsString(pte.Rights()) != "RW" {
			t.Errorf("FindMapping(%#x) rights = %s", tt.addr, c.RightsString(pte.Rights()))
		}
	}
	if _, _, err := pt.FindMapping(0x40200000 + 20*Size4K); !errors.Is(err, c.ErrNotFound) {
		t.Errorf("unmapped address: %v", err)
	}
}

func TestIndexToAddress(t *testing.T) {
	addr := uint64(0x00007f1234567000)
	got := IndexToAddress(PDX(addr, _LVL_PML4), PDX(addr, _LVL_PDPTE), PDX(addr, _LVL_PDE), PDX(addr, _LVL_PTE))
	if got != addr {
		t.Errorf("IndexToAddress() = %#x, want %#x", got, addr)
	}
}
