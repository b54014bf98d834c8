package fonts

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Encoding maps single-byte codes to runes. A zero rune means the code is
// unmapped.
type Encoding [256]rune

// BaseEncoding returns the table for a named simple-font encoding.
// StandardEncoding and unknown names fall back to WinAnsi, which agrees
// with it on the printable ASCII range.
func BaseEncoding(name string) *Encoding {
	cm := charmap.Windows1252
	if name == "MacRomanEncoding" {
		cm = charmap.Macintosh
	}
	var enc Encoding
	for i := 0; i < 256; i++ {
		r := cm.DecodeByte(byte(i))
		if r == '\ufffd' {
			continue
		}
		enc[i] = r
	}
	if name == "StandardEncoding" {
		enc['\''] = '’'
		enc['`'] = '‘'
	}
	return &enc
}

// Apply overrides codes with a /Differences array given as alternating
// start codes and glyph names.
func (e *Encoding) Apply(diffs []any) {
	code := -1
	for _, d := range diffs {
		switch v := d.(type) {
		case int:
			code = v
		case string:
			if code < 0 || code > 255 {
				continue
			}
			if r, ok := GlyphRune(v); ok {
				e[code] = r
			} else {
				e[code] = 0
			}
			code++
		}
	}
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$', "percent": '%',
	"ampersand": '&', "quotesingle": '\'', "quoteright": '’', "quoteleft": '‘',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+', "comma": ',', "hyphen": '-',
	"minus": '−', "period": '.', "slash": '/', "zero": '0', "one": '1', "two": '2', "three": '3',
	"four": '4', "five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9', "colon": ':',
	"semicolon": ';', "less": '<', "equal": '=', "greater": '>', "question": '?', "at": '@',
	"bracketleft": '[', "backslash": '\\', "bracketright": ']', "asciicircum": '^', "underscore": '_',
	"grave": '`', "braceleft": '{', "bar": '|', "braceright": '}', "asciitilde": '~',
	"endash": '–', "emdash": '—', "bullet": '•', "ellipsis": '…',
	"quotedblleft": '“', "quotedblright": '”', "degree": '°', "nbspace": ' ',
	"fi": 'ﬁ', "fl": 'ﬂ', "ff": 'ﬀ', "ffi": 'ﬃ', "ffl": 'ﬄ',
	"multiply": '×', "divide": '÷', "checkmark": '✓',
}

// GlyphRune resolves a glyph name: single letters, the common Latin names,
// and the uniXXXX / uXXXX[XX] conventions.
func GlyphRune(name string) (rune, bool) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if len(name) == 1 && (name[0] >= 'A' && name[0] <= 'Z' || name[0] >= 'a' && name[0] <= 'z') {
		return rune(name[0]), true
	}
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	if strings.HasPrefix(name, "uni") && len(name) == 7 {
		if v, err := strconv.ParseUint(name[3:], 16, 32); err == nil {
			return rune(v), true
		}
	}
	if strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7 {
		if v, err := strconv.ParseUint(name[1:], 16, 32); err == nil {
			return rune(v), true
		}
	}
	return 0, false
}

// Decode maps codes through the table, skipping unmapped ones.
func (e *Encoding) Decode(codes []byte) string {
	var b strings.Builder
	for _, c := range codes {
		if r := e[c]; r != 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EncodeWinAnsi converts text to WinAnsi bytes for a standard font.
// Characters outside the code page become '?'.
func EncodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}
