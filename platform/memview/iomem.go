package memview

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
)

const (
	IOMEM_PATH = "/proc/iomem"

	iomemSystemRAM  = "System RAM"
	iomemReserved   = "Reserved"
	iomemPersistent = "Persistent Memory"
)

// iomemType classifies a top level /proc/iomem resource.
func iomemType(name string) mm.GcdMemoryType {
	switch {
	case name == iomemSystemRAM:
		return mm.GcdMemoryTypeSystemMemory
	case name == iomemReserved:
		return mm.GcdMemoryTypeReserved
	case strings.HasPrefix(name, iomemPersistent):
		return mm.GcdMemoryTypePersistent
	}
	return mm.GcdMemoryTypeMemoryMappedIo
}

// ReadIomem parses an iomem listing, the running kernel's when path is empty.
func ReadIomem(path string) ([]mm.SpaceDescriptor, error) {
	if path == "" {
		path = IOMEM_PATH
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return ParseIomem(f)
}

// ParseIomem turns the top level entries of a /proc/iomem listing into a
// space map. Ranges are widened to whole pages and clipped against their
// predecessor so the result never overlaps. Ends beyond the 52-bit physical
// address limit are clamped to it. Holes are left out.
func ParseIomem(r io.Reader) ([]mm.SpaceDescriptor, error) {
	var (
		res     []mm.SpaceDescriptor
		hidden  = true
		lastEnd uint64
	)
	scanner := bufio.NewScanner(r)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := scanner.Text()
		if len(strings.TrimSpace(line)) == 0 || strings.HasPrefix(line, " ") {
			continue
		}
		bounds, name, ok := strings.Cut(line, " : ")
		if !ok {
			return nil, c.InvalidArgf("iomem line %d: missing name: %q", lineno, line)
		}
		first, last, ok := strings.Cut(strings.TrimSpace(bounds), "-")
		if !ok {
			return nil, c.InvalidArgf("iomem line %d: bad range %q", lineno, bounds)
		}
		start, err := strconv.ParseUint(first, 16, 64)
		if err != nil {
			return nil, c.InvalidArgf("iomem line %d: bad start %q", lineno, first)
		}
		end, err := strconv.ParseUint(last, 16, 64)
		if err != nil || end < start {
			return nil, c.InvalidArgf("iomem line %d: bad end %q", lineno, last)
		}
		if start != 0 || end != 0 {
			hidden = false
		}
		if start >= c.Limit52bits {
			return nil, c.InvalidArgf("iomem line %d: 0x%x is above the physical address limit", lineno, start)
		}
		if end >= c.Limit52bits {
			end = c.Limit52bits - 1
		}
		start, end = c.Round(start, false), c.Round(end+1, true)
		if len(res) > 0 && start < lastEnd {
			start = lastEnd
		}
		if end <= start {
			continue
		}
		res = append(res, mm.SpaceDescriptor{
			BaseAddress: start,
			Length:      end - start,
			GcdType:     iomemType(strings.TrimSpace(name)),
		})
		lastEnd = end
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading iomem")
	}
	if hidden {
		return nil, c.NotFoundf("iomem lists no addresses, reading it needs privileges")
	}
	return res, nil
}
