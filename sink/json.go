package sink

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	c "pagingaudit/commons"
	pg "pagingaudit/platform/pagetables"
)

// Addresses and raw entries do not fit a JSON number, they are written as
// hex strings.
func hex(v uint64) string {
	return fmt.Sprintf("0x%016x", v)
}

// writePTEs writes each leaf with its protection, e.g., {"entry": "0x...", "rights": "RW"}.
func writePTEs(w *jwriter.Writer, ptes []pg.PTE) {
	arr := w.Array()
	for _, p := range ptes {
		leaf := w.Object()
		leaf.Name("entry").String(hex(uint64(p)))
		leaf.Name("rights").String(c.RightsString(p.Rights()))
		leaf.End()
	}
	arr.End()
}

func writeAddrs(w *jwriter.Writer, addrs []uint64) {
	arr := w.Array()
	for _, a := range addrs {
		w.String(hex(a))
	}
	arr.End()
}

// JSON renders every record as one report document.
func (s *RecordSink) JSON(id string) ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("id").String(id)
	obj.Name("bitwidth").Int(int(s.Bitwidth))

	mmArr := obj.Name("memoryMap").Array()
	for i := range s.MemoryMap {
		r := &s.MemoryMap[i]
		rec := w.Object()
		rec.Name("type").String(r.Type.String())
		rec.Name("physicalStart").String(hex(r.PhysicalStart))
		rec.Name("virtualStart").String(hex(r.VirtualStart))
		rec.Name("pages").String(hex(r.NumberOfPages))
		rec.Name("attribute").String(hex(r.Attribute))
		rec.Name("gcdType").String(r.GcdType.String())
		rec.End()
	}
	mmArr.End()

	if s.Tables != nil {
		tables := obj.Name("pageTables").Object()
		tables.Name("pte1G")
		writePTEs(&w, s.Tables.Pte1G)
		tables.Name("pte2M")
		writePTEs(&w, s.Tables.Pte2M)
		tables.Name("pte4K")
		writePTEs(&w, s.Tables.Pte4K)
		tables.Name("pde")
		writeAddrs(&w, s.Tables.Pde)
		tables.End()
	}
	obj.Name("guards")
	writeAddrs(&w, s.Guards)

	imgArr := obj.Name("loadedImages").Array()
	for _, img := range s.Images {
		rec := w.Object()
		rec.Name("base").String(hex(img.Base))
		rec.Name("size").String(hex(img.Size))
		rec.Name("name").String(img.Name)
		if img.Rights != "" {
			rec.Name("rights").String(img.Rights)
		}
		rec.End()
	}
	imgArr.End()

	matArr := obj.Name("mat").Array()
	for _, d := range s.MAT {
		rec := w.Object()
		rec.Name("type").String(d.Type.String())
		rec.Name("physicalStart").String(hex(d.PhysicalStart))
		rec.Name("virtualStart").String(hex(d.VirtualStart))
		rec.Name("pages").String(hex(d.NumberOfPages))
		rec.Name("attribute").String(hex(d.Attribute))
		rec.End()
	}
	matArr.End()
	obj.End()

	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
