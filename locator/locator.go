// Package locator detects sequentially numbered question markers in
// extracted text and records where they are.
package locator

import (
	"iter"
	"math"
	"unicode/utf8"

	"github.com/wudi/pdfmark/extractor"
	"github.com/wudi/pdfmark/observability"
)

const maxSnippet = 120

// Config controls detection. The zero value uses every rule.
type Config struct {
	// Rules overrides the rule set; order is priority.
	Rules  []Rule
	Logger observability.Logger
}

type Locator struct {
	cfg Config
}

func New(cfg Config) *Locator {
	if len(cfg.Rules) == 0 {
		cfg.Rules = Rules
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Locator{cfg: cfg}
}

// Build consumes runs in order and accepts a marker only when its number is
// the successor of the last accepted one. Other matches are counted as
// rejected. pages is recorded on the template; 0 means one past the last
// page seen. An error from the sequence aborts the build.
func (l *Locator) Build(runs iter.Seq2[extractor.TextRun, error], pages int) (*Template, error) {
	var anchors []Anchor
	last, rejected, seen := 0, 0, 0
	for run, err := range runs {
		if err != nil {
			return nil, err
		}
		seen = max(seen, run.Page+1)
		n, rule, ok := Detect(run.Text, l.cfg.Rules)
		if !ok {
			continue
		}
		if n != last+1 {
			rejected++
			l.cfg.Logger.Debug("candidate rejected",
				observability.Int("number", n),
				observability.Int("expected", last+1),
				observability.Int("page", run.Page),
				observability.String("rule", rule.String()))
			continue
		}
		a := Anchor{
			Number: n,
			Page:   run.Page,
			X:      round2(run.Box.X),
			Y:      round2(run.Box.Y),
			Text:   snippet(run.Text),
		}
		if len(anchors) > 0 && above(a, anchors[len(anchors)-1]) {
			rejected++
			l.cfg.Logger.Debug("candidate above previous question",
				observability.Int("number", n),
				observability.Int("page", run.Page))
			continue
		}
		anchors = append(anchors, a)
		last = n
	}
	if pages == 0 {
		pages = seen
	}
	return NewTemplate(anchors, rejected, pages)
}

// BuildRuns is Build over a slice.
func (l *Locator) BuildRuns(runs []extractor.TextRun, pages int) (*Template, error) {
	return l.Build(func(yield func(extractor.TextRun, error) bool) {
		for _, r := range runs {
			if !yield(r, nil) {
				return
			}
		}
	}, pages)
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

func snippet(s string) string {
	if utf8.RuneCountInString(s) <= maxSnippet {
		return s
	}
	r := []rune(s)
	return string(r[:maxSnippet])
}
