// Package pdftest builds small, byte-exact PDF fixtures for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/pdfmark/filters"
)

// HelveticaAscent is the ascender, in 1/1000 em, used to place text tops.
const HelveticaAscent = 0.718

// Text is one line of text placed by the top-left corner of its box, in
// page-local coordinates (origin top-left, y down).
type Text struct {
	X, Y    float64
	Size    float64
	Content string
	// Parts, when set, are shown with consecutive Tj operators instead of Content.
	Parts []string
}

type Page struct {
	Width, Height float64
	Texts         []Text
	// Raw is appended to the content stream verbatim.
	Raw string
	// Forms are form XObjects available to Raw through Do, keyed by name.
	Forms map[string]string
}

type Options struct {
	XRefStream bool
	Compress   bool
	Encrypt    bool
	// BaseFont defaults to Helvetica.
	BaseFont string
}

// Line is shorthand for a 12pt text at (x, y).
func Line(x, y float64, content string) Text { return Text{X: x, Y: y, Size: 12, Content: content} }

// A4 returns a 595x842 page with the given texts.
func A4(texts ...Text) Page { return Page{Width: 595, Height: 842, Texts: texts} }

// Letter returns a 612x792 page with the given texts.
func Letter(texts ...Text) Page { return Page{Width: 612, Height: 792, Texts: texts} }

// Content renders the page's content stream.
func (p Page) Content() string {
	var b strings.Builder
	for _, t := range p.Texts {
		size := t.Size
		if size == 0 {
			size = 12
		}
		baseline := p.Height - t.Y - size*HelveticaAscent
		fmt.Fprintf(&b, "BT /F1 %s Tf %s %s Td ", num(size), num(t.X), num(baseline))
		parts := t.Parts
		if len(parts) == 0 {
			parts = []string{t.Content}
		}
		for _, part := range parts {
			fmt.Fprintf(&b, "(%s) Tj ", Escape(part))
		}
		b.WriteString("ET\n")
	}
	b.WriteString(p.Raw)
	return b.String()
}

// Escape quotes a string for a PDF literal.
func Escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

func num(f float64) string {
	s := fmt.Sprintf("%.4f", f)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "" || s == "-0" {
		return "0"
	}
	return s
}

// Build assembles a complete single-revision PDF.
func Build(pages []Page, opts Options) []byte {
	font := opts.BaseFont
	if font == "" {
		font = "Helvetica"
	}
	objs := map[int]string{}
	streams := map[int][]byte{}
	streamDicts := map[int]string{}

	kids := make([]string, 0, len(pages))
	next := 4
	for _, p := range pages {
		pageNum, contentNum := next, next+1
		next += 2
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
		xobjects := ""
		if len(p.Forms) > 0 {
			names := make([]string, 0, len(p.Forms))
			for name := range p.Forms {
				names = append(names, name)
			}
			sort.Strings(names)
			var entries []string
			for _, name := range names {
				formNum := next
				next++
				entries = append(entries, fmt.Sprintf("/%s %d 0 R", name, formNum))
				streams[formNum] = []byte(p.Forms[name])
				streamDicts[formNum] = fmt.Sprintf(" /Type /XObject /Subtype /Form /BBox [0 0 %s %s] /Resources << /Font << /F1 3 0 R >> >>",
					num(p.Width), num(p.Height))
			}
			xobjects = " /XObject << " + strings.Join(entries, " ") + " >>"
		}
		objs[pageNum] = fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources << /Font << /F1 3 0 R >>%s >> /Contents %d 0 R >>",
			num(p.Width), num(p.Height), xobjects, contentNum)
		data := []byte(p.Content())
		dict := ""
		if opts.Compress {
			enc, err := filters.EncodeFlate(data)
			if err != nil {
				panic(err)
			}
			data = enc
			dict = " /Filter /FlateDecode"
		}
		streams[contentNum] = data
		streamDicts[contentNum] = dict
	}
	objs[1] = "<< /Type /Catalog /Pages 2 0 R >>"
	objs[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	objs[3] = fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>", font)
	encryptNum := 0
	if opts.Encrypt {
		encryptNum = next
		next++
		objs[encryptNum] = "<< /Filter /Standard /V 1 /R 2 /O <00> /U <00> /P -4 >>"
	}

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, next+1)
	for n := 1; n < next; n++ {
		offsets[n] = buf.Len()
		if data, ok := streams[n]; ok {
			fmt.Fprintf(buf, "%d 0 obj\n<< /Length %d%s >>\nstream\n", n, len(data), streamDicts[n])
			buf.Write(data)
			buf.WriteString("\nendstream\nendobj\n")
			continue
		}
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objs[n])
	}

	trailerExtra := ""
	if encryptNum > 0 {
		trailerExtra = fmt.Sprintf(" /Encrypt %d 0 R /ID [<0102> <0102>]", encryptNum)
	}
	xrefOffset := buf.Len()
	if opts.XRefStream {
		xrefNum := next
		offsets[xrefNum] = xrefOffset
		size := xrefNum + 1
		entries := make([]byte, 0, size*6)
		entries = append(entries, 0, 0, 0, 0, 0, 0xff)
		for n := 1; n < size; n++ {
			off := offsets[n]
			entries = append(entries, 1, byte(off>>24), byte(off>>16), byte(off>>8), byte(off), 0)
		}
		fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef /Size %d /Root 1 0 R /W [1 4 1] /Index [0 %d] /Length %d%s >>\nstream\n",
			xrefNum, size, size, len(entries), trailerExtra)
		buf.Write(entries)
		buf.WriteString("\nendstream\nendobj\n")
	} else {
		fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", next)
		for n := 1; n < next; n++ {
			fmt.Fprintf(buf, "%010d 00000 n \n", offsets[n])
		}
		fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R%s >>\n", next, trailerExtra)
	}
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

// Exam builds a one-page letter document with the given lines, 50pt apart from y=100.
func Exam(lines ...string) []byte {
	texts := make([]Text, len(lines))
	for i, l := range lines {
		texts[i] = Line(50, 100+float64(i)*50, l)
	}
	return Build([]Page{Letter(texts...)}, Options{})
}
