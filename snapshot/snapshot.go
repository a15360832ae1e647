package snapshot

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	"pagingaudit/platform/memview"
	pg "pagingaudit/platform/pagetables"
	"pagingaudit/sink"
)

// GuardSet is a guard oracle backed by the guard pages a snapshot lists.
type GuardSet map[uint64]struct{}

func NewGuardSet(addrs []uint64) GuardSet {
	g := make(GuardSet, len(addrs))
	for _, a := range addrs {
		g[a] = struct{}{}
	}
	return g
}

func (g GuardSet) IsGuardPage(address uint64) bool {
	_, ok := g[address]
	return ok
}

// Snapshot is a loaded snapshot directory. It provides everything an audit
// consumes.
type Snapshot struct {
	Dir      string
	Manifest *Manifest

	memmap mm.DescriptorBuffer
	mat    []mm.MemoryDescriptor
	memory *memview.PhysicalMemory
}

func readDescriptors(dir string, f DescriptorFile) (mm.DescriptorBuffer, error) {
	data, err := os.ReadFile(filepath.Join(dir, f.File))
	if err != nil {
		return mm.DescriptorBuffer{}, errors.Wrapf(err, "reading %s", f.File)
	}
	return mm.NewDescriptorBuffer(data, f.Stride)
}

// Load reads the manifest and the descriptor files of dir. Memory images are
// only opened on the first call to Memory.
func Load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, MANIFEST))
	if err != nil {
		return nil, errors.Wrapf(err, "reading snapshot %s", dir)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{Dir: dir, Manifest: m}
	if s.memmap, err = readDescriptors(dir, m.MemoryMap); err != nil {
		return nil, err
	}
	if m.MAT.File != "" {
		mat, err := readDescriptors(dir, m.MAT)
		if err != nil {
			return nil, err
		}
		s.mat = mat.Descriptors()
	}
	return s, nil
}

// SpaceMap returns a copy of the GCD memory space map.
func (s *Snapshot) SpaceMap() ([]mm.SpaceDescriptor, error) {
	if len(s.Manifest.SpaceMap) == 0 {
		return nil, c.NotFoundf("snapshot %s has no space map", s.Dir)
	}
	return append([]mm.SpaceDescriptor(nil), s.Manifest.SpaceMap...), nil
}

// MemoryMap returns the raw memory map.
func (s *Snapshot) MemoryMap() (mm.DescriptorBuffer, error) {
	return s.memmap, nil
}

// RootPointer returns the CR3 value captured in the snapshot.
func (s *Snapshot) RootPointer() (uint64, error) {
	if s.Manifest.CR3 == 0 {
		return 0, c.NotFoundf("snapshot %s has no page table root", s.Dir)
	}
	return s.Manifest.CR3, nil
}

// Memory maps the images of the snapshot.
func (s *Snapshot) Memory() (pg.Memory, error) {
	if s.memory != nil {
		return s.memory, nil
	}
	mem := memview.NewPhysicalMemory()
	for _, img := range s.Manifest.Images {
		r, err := memview.LoadImage(filepath.Join(s.Dir, img.File), img.GPA)
		if err == nil {
			err = mem.AddRegion(r)
			if err != nil {
				r.Close()
			}
		}
		if err != nil {
			return nil, errors.CombineErrors(err, mem.Close())
		}
	}
	s.memory = mem
	return mem, nil
}

// GuardOracle returns nil when the snapshot carries no guard information.
func (s *Snapshot) GuardOracle() pg.GuardOracle {
	if s.Manifest.Guards == nil {
		return nil
	}
	return NewGuardSet(s.Manifest.Guards)
}

func (s *Snapshot) Bitwidth() uint8 {
	return s.Manifest.Bitwidth
}

func (s *Snapshot) LoadedImages() []sink.LoadedImage {
	return s.Manifest.LoadedImages
}

func (s *Snapshot) MAT() []mm.MemoryDescriptor {
	return s.mat
}

// Close unmaps the memory images.
func (s *Snapshot) Close() error {
	if s.memory == nil {
		return nil
	}
	err := s.memory.Close()
	s.memory = nil
	return err
}
