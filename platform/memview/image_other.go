//go:build !unix

package memview

// LoadImage reads the file at path as the memory at gpa.
func LoadImage(path string, gpa uint64) (*Region, error) {
	return readImage(path, gpa)
}
