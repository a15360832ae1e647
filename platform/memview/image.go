package memview

import (
	"os"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
)

func readImage(path string, gpa uint64) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading memory image")
	}
	if len(data) == 0 || uint64(len(data))%c.PageSize != 0 {
		return nil, c.InvalidArgf("memory image %s of %d bytes is not a whole number of pages", path, len(data))
	}
	return NewRegion(path, gpa, data), nil
}

// WriteImage stores the content of r at path.
func WriteImage(path string, r *Region) error {
	return errors.Wrapf(os.WriteFile(path, r.Data, 0o644), "writing memory image %s", path)
}
