package sink

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	c "pagingaudit/commons"
)

// Dump writes every output the configuration asks for into dir: the binary
// page table arrays, then the GuardPage, MemoryInfoDatabase and MAT
// databases, then the JSON report.
func (s *RecordSink) Dump(dir string, id string, conf c.Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	var err error
	if s.Tables != nil {
		err = errors.CombineErrors(err, s.WriteTables(dir))
	}
	if conf.WantCSV() {
		err = errors.CombineErrors(err, s.dumpText(dir))
	}
	if conf.WantJSON() {
		report, jerr := s.JSON(id)
		if jerr == nil {
			jerr = errors.Wrap(os.WriteFile(filepath.Join(dir, FILE_REPORT), report, 0o644), "writing report")
		}
		err = errors.CombineErrors(err, jerr)
	}
	return err
}

func (s *RecordSink) dumpText(dir string) error {
	if s.Tables != nil {
		for _, g := range s.Guards {
			s.Append(guardLine(g))
		}
		if err := s.Flush(dir, DB_GUARDS); err != nil {
			return err
		}
	}

	if s.Bitwidth != 0 {
		s.Append(bitwidthLine(s.Bitwidth))
	}
	for i := range s.MemoryMap {
		s.Append(s.MemoryMap[i].line())
	}
	for i := range s.Images {
		s.Append(s.Images[i].line())
	}
	if err := s.Flush(dir, DB_MEMORYINFO); err != nil {
		return err
	}

	if len(s.MAT) == 0 {
		return nil
	}
	for i := range s.MAT {
		s.Append(matLine(&s.MAT[i]))
	}
	return s.Flush(dir, DB_MAT)
}
