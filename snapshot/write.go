package snapshot

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	mm "pagingaudit/memmap"
	"pagingaudit/platform/memview"
)

// Write stores a snapshot in dir: every region as an image file, the memory
// map and the MAT with the manifest's strides, then the manifest. The image
// list of m is rebuilt from regions.
func Write(dir string, m *Manifest, regions []*memview.Region, memmap, mat []mm.MemoryDescriptor) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating snapshot %s", dir)
	}
	m.Images = m.Images[:0]
	for _, r := range regions {
		name := filepath.Base(r.Name)
		if name == "" || name == "." || name == "/" {
			name = "region"
		}
		file := name + "-" + hex(r.GPA) + ".img"
		if err := memview.WriteImage(filepath.Join(dir, file), r); err != nil {
			return err
		}
		m.Images = append(m.Images, ImageSpec{File: file, GPA: r.GPA})
	}

	if m.MemoryMap.File == "" {
		m.MemoryMap.File = MEMMAP_FILE
	}
	if m.MemoryMap.Stride == 0 {
		m.MemoryMap.Stride = mm.DescriptorSize
	}
	if err := writeDescriptors(dir, m.MemoryMap, memmap); err != nil {
		return err
	}
	if len(mat) > 0 {
		if m.MAT.File == "" {
			m.MAT.File = MAT_FILE
		}
		if m.MAT.Stride == 0 {
			m.MAT.Stride = mm.DescriptorSize
		}
		if err := writeDescriptors(dir, m.MAT, mat); err != nil {
			return err
		}
	}

	data, err := m.Encode()
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, MANIFEST), data, 0o644), "writing manifest")
}

func writeDescriptors(dir string, f DescriptorFile, descs []mm.MemoryDescriptor) error {
	buf, err := mm.EncodeDescriptors(descs, f.Stride)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(filepath.Join(dir, f.File), buf.Data, 0o644), "writing %s", f.File)
}
