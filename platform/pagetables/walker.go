package pagetables

import (
	"io"

	"golang.org/x/exp/slog"

	c "pagingaudit/commons"
)

// Counts holds one number per output category. On input to Walk they are the
// declared capacities, on output the true totals.
type Counts struct {
	Pte1G int
	Pte2M int
	Pte4K int
	Pde   int
	Guard int
}

// Pad adds margin to every category.
func (n Counts) Pad(margin int) Counts {
	return Counts{
		Pte1G: n.Pte1G + margin,
		Pte2M: n.Pte2M + margin,
		Pte4K: n.Pte4K + margin,
		Pde:   n.Pde + margin,
		Guard: n.Guard + margin,
	}
}

// Buffers receive the records of a walk. A nil slice means the category is
// only counted.
type Buffers struct {
	Pte1G []PTE
	Pte2M []PTE
	Pte4K []PTE
	Pde   []uint64
	Guard []uint64
}

// NewBuffers allocates buffers of the given capacities.
func NewBuffers(n Counts) *Buffers {
	return &Buffers{
		Pte1G: make([]PTE, n.Pte1G),
		Pte2M: make([]PTE, n.Pte2M),
		Pte4K: make([]PTE, n.Pte4K),
		Pde:   make([]uint64, n.Pde),
		Guard: make([]uint64, n.Guard),
	}
}

// Capacity returns the number of records each buffer can hold.
func (b *Buffers) Capacity() Counts {
	return Counts{
		Pte1G: len(b.Pte1G),
		Pte2M: len(b.Pte2M),
		Pte4K: len(b.Pte4K),
		Pde:   len(b.Pde),
		Guard: len(b.Guard),
	}
}

// Stats counts the entries a walk found not present, per leaf size.
type Stats struct {
	NotPresent1G int
	NotPresent2M int
	NotPresent4K int
}

// Walker flattens page tables into leaf, directory and guard records.
type Walker struct {
	Tables *PageTables

	// Oracle, when set, is asked about every absent 4K slot.
	Oracle GuardOracle

	// KeepAbsentLeaves records absent 4K slots that are not guard pages as
	// 4K leaves, the way the firmware audit dump does.
	KeepAbsentLeaves bool

	Logger *slog.Logger

	// Stats of the last walk.
	Stats Stats
}

// NewWalker returns a walker over p. oracle and logger may be nil.
func NewWalker(p *PageTables, oracle GuardOracle, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Walker{Tables: p, Oracle: oracle, Logger: logger}
}

// sink is one output category during a walk.
type sink[T any] struct {
	buf      []T
	provided bool
	count    int
}

func newSink[T any](buf []T, declared int) sink[T] {
	if buf == nil {
		return sink[T]{}
	}
	return sink[T]{buf: buf[:declared], provided: true}
}

// put counts v and stores it if there is room left.
func (s *sink[T]) put(v T) {
	s.count++
	if s.count <= len(s.buf) {
		s.buf[s.count-1] = v
	}
}

func (s *sink[T]) short() bool {
	return s.provided && s.count > len(s.buf)
}

func checkPair(name string, declared, length int, isNil bool) error {
	if declared < 0 {
		return c.InvalidArgf("negative %s capacity %d", name, declared)
	}
	if declared > 0 && isNil {
		return c.InvalidArgf("%s capacity %d declared without a buffer", name, declared)
	}
	if declared > length {
		return c.InvalidArgf("%s capacity %d exceeds its buffer of %d", name, declared, length)
	}
	return nil
}

// Walk visits every table reachable from the root. Every record is counted,
// but only stored while its buffer has room. When bufs is nil the walk only
// counts. On return counts holds the true totals; if any provided buffer was
// too short the error is marked ErrBufferTooSmall.
func (w *Walker) Walk(counts *Counts, bufs *Buffers) error {
	if counts == nil {
		return c.InvalidArgf("walk needs counts")
	}
	if bufs == nil {
		bufs = &Buffers{}
	}
	for _, pair := range []struct {
		name     string
		declared int
		length   int
		isNil    bool
	}{
		{"1G", counts.Pte1G, len(bufs.Pte1G), bufs.Pte1G == nil},
		{"2M", counts.Pte2M, len(bufs.Pte2M), bufs.Pte2M == nil},
		{"4K", counts.Pte4K, len(bufs.Pte4K), bufs.Pte4K == nil},
		{"PDE", counts.Pde, len(bufs.Pde), bufs.Pde == nil},
		{"guard", counts.Guard, len(bufs.Guard), bufs.Guard == nil},
	} {
		if err := checkPair(pair.name, pair.declared, pair.length, pair.isNil); err != nil {
			return err
		}
	}
	if w.Tables == nil || w.Tables.root == nil {
		return c.InvalidArgf("walk needs page tables")
	}

	pte1G := newSink(bufs.Pte1G, counts.Pte1G)
	pte2M := newSink(bufs.Pte2M, counts.Pte2M)
	pte4K := newSink(bufs.Pte4K, counts.Pte4K)
	pde := newSink(bufs.Pde, counts.Pde)
	guard := newSink(bufs.Guard, counts.Guard)
	w.Stats = Stats{}

	pml4 := w.Tables.root
	pde.put(w.Tables.rootPhysical)
	for i4 := 0; i4 < entriesPerPage; i4++ {
		if !pml4[i4].Valid() {
			continue
		}
		pdpt, err := w.Tables.lookup(pml4[i4])
		if err != nil {
			return err
		}
		pde.put(pml4[i4].Address())

		for i3 := 0; i3 < entriesPerPage; i3++ {
			e3 := pdpt[i3]
			if !e3.Valid() {
				w.Stats.NotPresent1G++
				continue
			}
			if e3.IsSuper() {
				pte1G.put(e3)
				continue
			}
			pd, err := w.Tables.lookup(e3)
			if err != nil {
				return err
			}
			pde.put(e3.Address())

			for i2 := 0; i2 < entriesPerPage; i2++ {
				e2 := pd[i2]
				if !e2.Valid() {
					w.Stats.NotPresent2M++
					continue
				}
				if e2.IsSuper() {
					pte2M.put(e2)
					continue
				}
				pt, err := w.Tables.lookup(e2)
				if err != nil {
					return err
				}
				pde.put(e2.Address())

				for i1 := 0; i1 < entriesPerPage; i1++ {
					e1 := pt[i1]
					if !e1.Valid() {
						w.Stats.NotPresent4K++
						if w.Oracle != nil {
							if addr := IndexToAddress(i4, i3, i2, i1); w.Oracle.IsGuardPage(addr) {
								guard.put(addr)
								continue
							}
						}
						if !w.KeepAbsentLeaves {
							continue
						}
					}
					pte4K.put(e1)
				}
			}
		}
	}

	w.Logger.Debug("page table walk",
		slog.Int("tables", pde.count),
		slog.Int("4k", pte4K.count), slog.Int("4k_not_present", w.Stats.NotPresent4K),
		slog.Int("2m", pte2M.count), slog.Int("2m_not_present", w.Stats.NotPresent2M),
		slog.Int("1g", pte1G.count), slog.Int("1g_not_present", w.Stats.NotPresent1G),
		slog.Int("guards", guard.count))

	short := pte1G.short() || pte2M.short() || pte4K.short() || pde.short() || guard.short()
	*counts = Counts{
		Pte1G: pte1G.count,
		Pte2M: pte2M.count,
		Pte4K: pte4K.count,
		Pde:   pde.count,
		Guard: guard.count,
	}
	if short {
		return c.TooSmallf("walk found %+v records", *counts)
	}
	return nil
}
