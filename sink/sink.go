package sink

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	pg "pagingaudit/platform/pagetables"
)

// Names of the files written by Dump.
const (
	FILE_1G       = "1G.dat"
	FILE_2M       = "2M.dat"
	FILE_4K       = "4K.dat"
	FILE_PDE      = "PDE.dat"
	FILE_REPORT   = "report.json"
	DB_GUARDS     = "GuardPage"
	DB_MEMORYINFO = "MemoryInfoDatabase"
	DB_MAT        = "MAT"
	DB_EXT        = ".dat"
)

// RecordSink collects the records of one audit. It is owned by the caller of
// the audit and reused across audits through Reset.
//
// Records are kept structured. Dump renders them as text lines in a database
// that Flush writes to a file and empties, one file per group of records.
type RecordSink struct {
	MemoryMap []MemoryMapRecord
	Guards    []uint64
	Tables    *pg.Tables
	Bitwidth  uint8
	Images    []LoadedImage
	MAT       []mm.MemoryDescriptor

	db bytes.Buffer
}

func New() *RecordSink {
	return &RecordSink{}
}

// AddMemoryMap records a reconciled memory map run.
func (s *RecordSink) AddMemoryMap(r MemoryMapRecord) {
	s.MemoryMap = append(s.MemoryMap, r)
}

// AddTables records the flattened page tables. Guard pages are also kept
// apart since they are written as text.
func (s *RecordSink) AddTables(t *pg.Tables) {
	s.Tables = t
	s.Guards = append(s.Guards, t.Guard...)
}

// SetBitwidth records the physical address width.
func (s *RecordSink) SetBitwidth(width uint8) {
	s.Bitwidth = width
}

// AddLoadedImage records a loaded image.
func (s *RecordSink) AddLoadedImage(img LoadedImage) {
	s.Images = append(s.Images, img)
}

// AddMAT records a memory attributes table entry.
func (s *RecordSink) AddMAT(d mm.MemoryDescriptor) {
	s.MAT = append(s.MAT, d)
}

// Append adds a text line to the database.
func (s *RecordSink) Append(line string) {
	s.db.WriteString(line)
}

// Pending returns the database content not flushed yet.
func (s *RecordSink) Pending() string {
	return s.db.String()
}

// Flush writes the database to dir/name.dat and empties it. An empty
// database still produces an empty file.
func (s *RecordSink) Flush(dir, name string) error {
	path := filepath.Join(dir, name+DB_EXT)
	if err := os.WriteFile(path, s.db.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "flushing %s", name)
	}
	s.db.Reset()
	return nil
}

// Reset drops every record.
func (s *RecordSink) Reset() {
	*s = RecordSink{}
}

func writeUint64s(path string, vals []uint64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return errors.Wrapf(os.WriteFile(path, buf, 0o644), "writing %s", filepath.Base(path))
}

func entries(ptes []pg.PTE) []uint64 {
	res := make([]uint64, len(ptes))
	for i, p := range ptes {
		res[i] = uint64(p)
	}
	return res
}

// WriteTables dumps the page table records as little endian arrays.
func (s *RecordSink) WriteTables(dir string) error {
	if s.Tables == nil {
		return c.NotFoundf("no page tables recorded")
	}
	var err error
	for _, f := range []struct {
		name string
		vals []uint64
	}{
		{FILE_1G, entries(s.Tables.Pte1G)},
		{FILE_2M, entries(s.Tables.Pte2M)},
		{FILE_4K, entries(s.Tables.Pte4K)},
		{FILE_PDE, s.Tables.Pde},
	} {
		err = errors.CombineErrors(err, writeUint64s(filepath.Join(dir, f.name), f.vals))
	}
	return err
}
