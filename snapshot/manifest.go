// Package snapshot reads and writes the directory an audit runs on: physical
// memory images holding the page tables, the platform maps and a manifest
// tying them together.
package snapshot

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	c "pagingaudit/commons"
	mm "pagingaudit/memmap"
	"pagingaudit/sink"
)

const (
	MANIFEST    = "manifest.json"
	MEMMAP_FILE = "memmap.bin"
	MAT_FILE    = "mat.bin"

	MAX_BITWIDTH = 64
)

// ImageSpec places a memory image file in physical memory.
type ImageSpec struct {
	File string
	GPA  uint64
}

// DescriptorFile is a raw descriptor buffer stored next to the manifest.
type DescriptorFile struct {
	File   string
	Stride int
}

// Manifest describes a snapshot. Addresses are hex strings in the file.
type Manifest struct {
	CR3          uint64
	Bitwidth     uint8
	Images       []ImageSpec
	SpaceMap     []mm.SpaceDescriptor
	MemoryMap    DescriptorFile
	MAT          DescriptorFile
	Guards       []uint64
	LoadedImages []sink.LoadedImage
}

func parseHex(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, c.InvalidArgf("manifest field %s: bad number %q", field, s)
	}
	return v, nil
}

// hexReader reads hex string values, remembering the first error.
type hexReader struct {
	r   *jreader.Reader
	err error
}

func (h *hexReader) read(field string) uint64 {
	s := h.r.String()
	if h.err != nil || h.r.Error() != nil {
		return 0
	}
	v, err := parseHex(field, s)
	if err != nil {
		h.err = err
	}
	return v
}

func readDescriptorFile(r *jreader.Reader) DescriptorFile {
	var d DescriptorFile
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "file":
			d.File = r.String()
		case "stride":
			d.Stride = r.Int()
		}
	}
	return d
}

// ParseManifest decodes a manifest. Unknown fields are ignored.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	r := jreader.NewReader(data)
	h := &hexReader{r: &r}
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "cr3":
			m.CR3 = h.read("cr3")
		case "bitwidth":
			width := r.Int()
			if (width < 0 || width > MAX_BITWIDTH) && h.err == nil {
				h.err = c.InvalidArgf("manifest field bitwidth: %d is not an address width", width)
			}
			m.Bitwidth = uint8(width)
		case "images":
			for arr := r.Array(); arr.Next(); {
				var img ImageSpec
				for o := r.Object(); o.Next(); {
					switch string(o.Name()) {
					case "file":
						img.File = r.String()
					case "gpa":
						img.GPA = h.read("images.gpa")
					}
				}
				m.Images = append(m.Images, img)
			}
		case "spaceMap":
			for arr := r.Array(); arr.Next(); {
				var d mm.SpaceDescriptor
				for o := r.Object(); o.Next(); {
					switch string(o.Name()) {
					case "base":
						d.BaseAddress = h.read("spaceMap.base")
					case "length":
						d.Length = h.read("spaceMap.length")
					case "capabilities":
						d.Capabilities = h.read("spaceMap.capabilities")
					case "attributes":
						d.Attributes = h.read("spaceMap.attributes")
					case "type":
						typ, err := mm.ParseGcdMemoryType(r.String())
						if err != nil && h.err == nil {
							h.err = err
						}
						d.GcdType = typ
					}
				}
				m.SpaceMap = append(m.SpaceMap, d)
			}
		case "memoryMap":
			m.MemoryMap = readDescriptorFile(&r)
		case "mat":
			m.MAT = readDescriptorFile(&r)
		case "guards":
			for arr := r.Array(); arr.Next(); {
				m.Guards = append(m.Guards, h.read("guards"))
			}
		case "loadedImages":
			for arr := r.Array(); arr.Next(); {
				var img sink.LoadedImage
				for o := r.Object(); o.Next(); {
					switch string(o.Name()) {
					case "base":
						img.Base = h.read("loadedImages.base")
					case "size":
						img.Size = h.read("loadedImages.size")
					case "name":
						img.Name = r.String()
					}
				}
				m.LoadedImages = append(m.LoadedImages, img)
			}
		}
	}
	if err := r.Error(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding manifest"), c.ErrInvalidArgument)
	}
	if h.err != nil {
		return nil, h.err
	}
	if m.MemoryMap.File == "" {
		m.MemoryMap.File = MEMMAP_FILE
	}
	if m.MemoryMap.Stride == 0 {
		m.MemoryMap.Stride = mm.DescriptorSize
	}
	return m, nil
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func writeDescriptorFile(w *jwriter.Writer, d DescriptorFile) {
	obj := w.Object()
	obj.Name("file").String(d.File)
	obj.Name("stride").Int(d.Stride)
	obj.End()
}

// Encode renders the manifest as JSON.
func (m *Manifest) Encode() ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("cr3").String(hex(m.CR3))
	obj.Name("bitwidth").Int(int(m.Bitwidth))

	arr := obj.Name("images").Array()
	for _, img := range m.Images {
		o := w.Object()
		o.Name("file").String(img.File)
		o.Name("gpa").String(hex(img.GPA))
		o.End()
	}
	arr.End()

	arr = obj.Name("spaceMap").Array()
	for _, d := range m.SpaceMap {
		o := w.Object()
		o.Name("base").String(hex(d.BaseAddress))
		o.Name("length").String(hex(d.Length))
		o.Name("capabilities").String(hex(d.Capabilities))
		o.Name("attributes").String(hex(d.Attributes))
		o.Name("type").String(d.GcdType.String())
		o.End()
	}
	arr.End()

	obj.Name("memoryMap")
	writeDescriptorFile(&w, m.MemoryMap)
	if m.MAT.File != "" {
		obj.Name("mat")
		writeDescriptorFile(&w, m.MAT)
	}

	arr = obj.Name("guards").Array()
	for _, g := range m.Guards {
		w.String(hex(g))
	}
	arr.End()

	arr = obj.Name("loadedImages").Array()
	for _, img := range m.LoadedImages {
		o := w.Object()
		o.Name("base").String(hex(img.Base))
		o.Name("size").String(hex(img.Size))
		o.Name("name").String(img.Name)
		o.End()
	}
	arr.End()
	obj.End()

	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
