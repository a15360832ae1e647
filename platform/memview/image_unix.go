//go:build unix

package memview

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	c "pagingaudit/commons"
)

// LoadImage maps the file at path read only as the memory at gpa. If the
// file cannot be mapped it is read instead.
func LoadImage(path string, gpa uint64) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening memory image")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat memory image %s", path)
	}
	if info.Size() == 0 || uint64(info.Size())%c.PageSize != 0 {
		return nil, c.InvalidArgf("memory image %s of %d bytes is not a whole number of pages", path, info.Size())
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return readImage(path, gpa)
	}
	r := NewRegion(path, gpa, data)
	r.release = func() error { return unix.Munmap(data) }
	return r, nil
}
