package locator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrInvalidTemplate is returned for persisted templates that fail validation.
var ErrInvalidTemplate = errors.New("invalid template")

// Anchor is one detected question. X and Y are the top-left corner of the
// marker text in page-local units (origin top-left, y down).
type Anchor struct {
	Number int     `json:"number"`
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Text   string  `json:"text"`
}

// Template maps question numbers to anchors. It is immutable once built and
// safe to share between goroutines.
type Template struct {
	anchors  []Anchor
	index    map[int]int
	rejected int
	pages    int
	built    bool
}

// LineSlack is how far, in page units, a question may sit above the previous
// question on the same page and still count as following it. Runs that share
// a text line can differ in top edge by up to half their height.
const LineSlack = 12.0

// NewTemplate validates anchors and returns a built template. Anchors must
// have distinct positive numbers and follow reading order as the number
// grows: pages never decrease, and on one page a question never sits more
// than LineSlack above its predecessor.
func NewTemplate(anchors []Anchor, rejected, pages int) (*Template, error) {
	sorted := append([]Anchor(nil), anchors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	t := &Template{anchors: sorted, index: make(map[int]int, len(sorted)), rejected: rejected, pages: pages, built: true}
	for i, a := range sorted {
		if err := checkAnchor(a); err != nil {
			return nil, err
		}
		if _, dup := t.index[a.Number]; dup {
			return nil, fmt.Errorf("%w: question %d appears twice", ErrInvalidTemplate, a.Number)
		}
		if i > 0 && a.Page < sorted[i-1].Page {
			return nil, fmt.Errorf("%w: question %d on page %d precedes question %d on page %d",
				ErrInvalidTemplate, a.Number, a.Page, sorted[i-1].Number, sorted[i-1].Page)
		}
		if i > 0 && above(a, sorted[i-1]) {
			return nil, fmt.Errorf("%w: question %d at y=%g is above question %d at y=%g on page %d",
				ErrInvalidTemplate, a.Number, a.Y, sorted[i-1].Number, sorted[i-1].Y, a.Page)
		}
		t.index[a.Number] = i
	}
	if rejected < 0 || pages < 0 {
		return nil, fmt.Errorf("%w: negative counts", ErrInvalidTemplate)
	}
	return t, nil
}

// above reports whether a sits higher on prev's page than reading order allows.
func above(a, prev Anchor) bool {
	return a.Page == prev.Page && a.Y < prev.Y-LineSlack
}

func checkAnchor(a Anchor) error {
	switch {
	case a.Number <= 0:
		return fmt.Errorf("%w: question number %d is not positive", ErrInvalidTemplate, a.Number)
	case a.Page < 0:
		return fmt.Errorf("%w: question %d has page %d", ErrInvalidTemplate, a.Number, a.Page)
	case math.IsNaN(a.X) || math.IsInf(a.X, 0) || math.IsNaN(a.Y) || math.IsInf(a.Y, 0):
		return fmt.Errorf("%w: question %d has a non-finite anchor", ErrInvalidTemplate, a.Number)
	}
	return nil
}

// Anchors returns the anchors in ascending question order.
func (t *Template) Anchors() []Anchor { return append([]Anchor(nil), t.anchors...) }

// Lookup returns the anchor for question n.
func (t *Template) Lookup(n int) (Anchor, bool) {
	i, ok := t.index[n]
	if !ok {
		return Anchor{}, false
	}
	return t.anchors[i], true
}

// DetectedCount is the number of anchors.
func (t *Template) DetectedCount() int { return len(t.anchors) }

// Empty reports a template with zero detections. It is a valid outcome.
func (t *Template) Empty() bool { return len(t.anchors) == 0 }

// Rejected counts candidates discarded for breaking the numbering sequence.
func (t *Template) Rejected() int { return t.rejected }

// Pages is the page count of the source document, 0 when unknown.
func (t *Template) Pages() int { return t.pages }

// Built reports whether construction finished.
func (t *Template) Built() bool { return t != nil && t.built }

// Validate checks that every anchor fits a document with pageCount pages.
func (t *Template) Validate(pageCount int) error {
	for _, a := range t.anchors {
		if a.Page >= pageCount {
			return fmt.Errorf("question %d is on page %d but the document has %d pages", a.Number, a.Page, pageCount)
		}
	}
	return nil
}

// Equal reports structural equality.
func (t *Template) Equal(o *Template) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.rejected != o.rejected || t.pages != o.pages || t.built != o.built || len(t.anchors) != len(o.anchors) {
		return false
	}
	for i := range t.anchors {
		if t.anchors[i] != o.anchors[i] {
			return false
		}
	}
	return true
}

type jsonAnchor struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type jsonTemplate struct {
	Questions     map[string]jsonAnchor `json:"questions"`
	DetectedCount int                   `json:"detected_count"`
	IsProcessed   bool                  `json:"is_processed"`
	RejectedCount int                   `json:"rejected_count,omitempty"`
	Pages         int                   `json:"pages,omitempty"`
}

// MarshalJSON writes the persisted shape:
// {"questions":{"1":{"page":0,"x":50,"y":100,"text":"..."}},"detected_count":1,"is_processed":true}.
func (t *Template) MarshalJSON() ([]byte, error) {
	out := jsonTemplate{
		Questions:     make(map[string]jsonAnchor, len(t.anchors)),
		DetectedCount: len(t.anchors),
		IsProcessed:   t.built,
		RejectedCount: t.rejected,
		Pages:         t.pages,
	}
	for _, a := range t.anchors {
		out.Questions[strconv.Itoa(a.Number)] = jsonAnchor{Page: a.Page, X: a.X, Y: a.Y, Text: a.Text}
	}
	return json.Marshal(out)
}

// UnmarshalJSON validates while decoding; malformed entries are rejected
// with ErrInvalidTemplate.
func (t *Template) UnmarshalJSON(data []byte) error {
	var in jsonTemplate
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	anchors := make([]Anchor, 0, len(in.Questions))
	for key, q := range in.Questions {
		n, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("%w: question key %q is not a number", ErrInvalidTemplate, key)
		}
		anchors = append(anchors, Anchor{Number: n, Page: q.Page, X: q.X, Y: q.Y, Text: q.Text})
	}
	if in.DetectedCount != len(anchors) {
		return fmt.Errorf("%w: detected_count %d but %d questions", ErrInvalidTemplate, in.DetectedCount, len(anchors))
	}
	if !in.IsProcessed {
		return fmt.Errorf("%w: template is not processed", ErrInvalidTemplate)
	}
	built, err := NewTemplate(anchors, in.RejectedCount, in.Pages)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}

// Decode parses a persisted template.
func Decode(data []byte) (*Template, error) {
	t := &Template{}
	if err := t.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return t, nil
}
