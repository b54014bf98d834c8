// Package fonts provides metrics and encodings for the standard 14 fonts,
// enough to measure and decode simple-font text without embedded programs.
package fonts

import "strings"

// Metrics describes a font family in 1/1000 em units.
type Metrics struct {
	Family  string
	Ascent  float64
	Descent float64
	// ascii holds widths for codes 32..126.
	ascii    *[95]int
	fallback int
}

var (
	helvetica = [95]int{
		278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
		1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
		667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
		333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
		556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
	}
	helveticaBold = [95]int{
		278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 333, 333, 584, 584, 584, 611,
		975, 722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833, 722, 778,
		667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 333, 278, 333, 584, 556,
		333, 556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889, 611, 611,
		611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500, 389, 280, 389, 584,
	}
	timesRoman = [95]int{
		250, 333, 408, 500, 500, 833, 778, 180, 333, 333, 500, 564, 250, 333, 250, 278,
		500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 278, 278, 564, 564, 564, 444,
		921, 722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889, 722, 722,
		556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611, 333, 278, 333, 469, 500,
		333, 444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778, 500, 500,
		500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444, 480, 200, 480, 541,
	}
	courier = func() (w [95]int) {
		for i := range w {
			w[i] = 600
		}
		return w
	}()
)

// Default is used for fonts that are neither standard nor described.
var Default = Metrics{Family: "", Ascent: 750, Descent: -250, fallback: 500}

// Standard returns the metrics for a standard 14 base font name. Subset
// prefixes (ABCDEF+) and common aliases (Arial, TimesNewRoman) are accepted.
func Standard(baseFont string) (Metrics, bool) {
	name := stripSubset(baseFont)
	lower := strings.ToLower(name)
	bold := strings.Contains(lower, "bold")
	switch {
	case strings.HasPrefix(lower, "helvetica"), strings.HasPrefix(lower, "arial"):
		m := Metrics{Family: "Helvetica", Ascent: 718, Descent: -207, ascii: &helvetica, fallback: 556}
		if bold {
			m.ascii = &helveticaBold
		}
		return m, true
	case strings.HasPrefix(lower, "times"):
		return Metrics{Family: "Times", Ascent: 683, Descent: -217, ascii: &timesRoman, fallback: 500}, true
	case strings.HasPrefix(lower, "courier"):
		return Metrics{Family: "Courier", Ascent: 629, Descent: -157, ascii: &courier, fallback: 600}, true
	}
	return Default, false
}

// Helvetica is the metrics of the regular Helvetica face.
func Helvetica() Metrics {
	m, _ := Standard("Helvetica")
	return m
}

func stripSubset(name string) string {
	if i := strings.IndexByte(name, '+'); i == 6 {
		return name[i+1:]
	}
	return name
}

// Width returns the advance of a WinAnsi code in 1/1000 em.
func (m Metrics) Width(code byte) float64 {
	if m.ascii != nil && code >= 32 && code <= 126 {
		return float64(m.ascii[code-32])
	}
	if m.fallback == 0 {
		return 500
	}
	return float64(m.fallback)
}

// StringWidth measures WinAnsi-encoded text at the given size.
func (m Metrics) StringWidth(text []byte, size float64) float64 {
	total := 0.0
	for _, c := range text {
		total += m.Width(c)
	}
	return total * size / 1000
}
