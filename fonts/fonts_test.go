package fonts

import "testing"

func TestStandardMetrics(t *testing.T) {
	cases := []struct {
		name    string
		family  string
		ascent  float64
		widthOf byte
		width   float64
		ok      bool
	}{
		{"Helvetica", "Helvetica", 718, 'A', 667, true},
		{"ABCDEF+Helvetica-Bold", "Helvetica", 718, 'b', 611, true},
		{"ArialMT", "Helvetica", 718, '1', 556, true},
		{"Times-Roman", "Times", 683, 'a', 444, true},
		{"Courier-Oblique", "Courier", 629, 'W', 600, true},
		{"Garamond", "", 750, 'A', 500, false},
	}
	for _, tc := range cases {
		m, ok := Standard(tc.name)
		if ok != tc.ok || m.Family != tc.family || m.Ascent != tc.ascent {
			t.Fatalf("%s: got %+v ok=%v", tc.name, m, ok)
		}
		if w := m.Width(tc.widthOf); w != tc.width {
			t.Fatalf("%s: width(%q) = %v, want %v", tc.name, tc.widthOf, w, tc.width)
		}
	}
}

func TestStringWidth(t *testing.T) {
	got := Helvetica().StringWidth([]byte("Score: 1/2"), 10)
	// S c o r e : space 1 / 2
	want := (667 + 500 + 556 + 333 + 556 + 278 + 278 + 556 + 278 + 556) * 10 / 1000.0
	if got != want {
		t.Fatalf("width = %v, want %v", got, want)
	}
}

func TestBaseEncodingDifferences(t *testing.T) {
	enc := BaseEncoding("WinAnsiEncoding")
	if enc[0x80] != '€' || enc['A'] != 'A' {
		t.Fatalf("winansi table wrong: %q %q", enc[0x80], enc['A'])
	}
	enc.Apply([]any{65, "one", "period", 200, "uni2713", "g42"})
	if got := enc.Decode([]byte{65, 66, 200, 201}); got != "1.✓" {
		t.Fatalf("decode = %q", got)
	}
	mac := BaseEncoding("MacRomanEncoding")
	if mac[0x8E] != 'é' {
		t.Fatalf("macroman 0x8E = %q", mac[0x8E])
	}
}

func TestGlyphRune(t *testing.T) {
	for name, want := range map[string]rune{
		"a": 'a', "seven": '7', "parenright": ')', "uni0051": 'Q', "u1F600": 0x1F600, "one.sc": '1',
	} {
		r, ok := GlyphRune(name)
		if !ok || r != want {
			t.Fatalf("%s -> %q %v", name, r, ok)
		}
	}
	if _, ok := GlyphRune("g17"); ok {
		t.Fatalf("g17 should be unknown")
	}
}

func TestEncodeWinAnsi(t *testing.T) {
	got := EncodeWinAnsi("Café – 10€ ✓")
	want := []byte{'C', 'a', 'f', 0xE9, ' ', 0x96, ' ', '1', '0', 0x80, ' ', '?'}
	if string(got) != string(want) {
		t.Fatalf("encode = %x, want %x", got, want)
	}
}
