package writer

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wudi/pdfmark/ir/raw"
	"github.com/wudi/pdfmark/xref"
)

type entryKind int

const (
	entryFree entryKind = iota
	entryInUse
	entryCompressed
)

// xrefEntry locates one object. For compressed entries offset is the
// object stream number and gen the index inside it.
type xrefEntry struct {
	kind   entryKind
	offset int64
	gen    int
}

type xrefEntries map[int]xrefEntry

func (e xrefEntries) numbers() []int {
	keys := make([]int, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// segments groups sorted object numbers into contiguous runs.
func segments(nums []int) [][]int {
	var out [][]int
	for i, n := range nums {
		if i == 0 || n != nums[i-1]+1 {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], n)
	}
	return out
}

// fullEntries copies every live object of a table so a section without
// /Prev can describe the whole file.
func fullEntries(t xref.Table) xrefEntries {
	out := xrefEntries{0: {kind: entryFree, gen: 65535}}
	for _, n := range t.Objects() {
		if off, gen, ok := t.Lookup(n); ok {
			out[n] = xrefEntry{kind: entryInUse, offset: off, gen: gen}
			continue
		}
		if stream, idx, ok := t.ObjStream(n); ok {
			out[n] = xrefEntry{kind: entryCompressed, offset: int64(stream), gen: idx}
		}
	}
	return out
}

func (e xrefEntries) hasCompressed() bool {
	for _, v := range e {
		if v.kind == entryCompressed {
			return true
		}
	}
	return false
}

// table renders a classic "xref" section. Object 0 is always present.
func (e xrefEntries) table() []byte {
	all := xrefEntries{0: {kind: entryFree, gen: 65535}}
	for k, v := range e {
		all[k] = v
	}
	var b bytes.Buffer
	b.WriteString("xref\n")
	for _, seg := range segments(all.numbers()) {
		fmt.Fprintf(&b, "%d %d\n", seg[0], len(seg))
		for _, n := range seg {
			v := all[n]
			kind := byte('n')
			if v.kind == entryFree {
				kind = 'f'
			}
			fmt.Fprintf(&b, "%010d %05d %c \n", v.offset, v.gen, kind)
		}
	}
	return b.Bytes()
}

// streamWidths are the /W field widths of written xref streams.
var streamWidths = [3]int{1, 4, 2}

// stream returns the /Index array and the binary rows of an xref stream.
func (e xrefEntries) stream() (*raw.ArrayObj, []byte) {
	index := raw.NewArray()
	var rows []byte
	for _, seg := range segments(e.numbers()) {
		index.Append(raw.NumberInt(int64(seg[0])))
		index.Append(raw.NumberInt(int64(len(seg))))
		for _, n := range seg {
			v := e[n]
			rows = appendStreamEntry(rows, int(v.kind), v.offset, v.gen)
		}
	}
	return index, rows
}

func appendStreamEntry(buf []byte, typ int, field2 int64, field3 int) []byte {
	buf = append(buf, byte(typ))
	off := uint32(field2)
	buf = append(buf, byte(off>>24), byte(off>>16), byte(off>>8), byte(off))
	return append(buf, byte(field3>>8), byte(field3))
}
