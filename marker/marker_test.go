package marker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfmark/contentstream"
	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/locator"
)

var letter = coords.PageSpace{Frame: coords.Rect{URX: 612, URY: 792}}

func template(t *testing.T, anchors ...locator.Anchor) *locator.Template {
	t.Helper()
	tpl, err := locator.NewTemplate(anchors, 0, 0)
	require.NoError(t, err)
	return tpl
}

func TestVerdictSetLastWins(t *testing.T) {
	s := NewVerdictSet(
		Verdict{Question: 3, Correct: true},
		Verdict{Question: 1, Correct: false},
		Verdict{Question: 3, Correct: false, Note: "changed"},
	)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int{1, 3}, s.Numbers())
	v, ok := s.Get(3)
	require.True(t, ok)
	assert.False(t, v.Correct)
	assert.Equal(t, "changed", v.Note)

	m := FromMap(map[int]bool{2: true, 1: false})
	assert.Equal(t, []Verdict{{Question: 1}, {Question: 2, Correct: true}}, m.Verdicts())
}

func TestParseVerdicts(t *testing.T) {
	s, err := ParseVerdicts([]byte(`{"2": false, "1": true}`))
	require.NoError(t, err)
	assert.Equal(t, []Verdict{{Question: 1, Correct: true}, {Question: 2}}, s.Verdicts())

	s, err = ParseVerdicts([]byte(` [{"question": 4, "correct": true, "note": "good"}, {"question": 4, "correct": false}]`))
	require.NoError(t, err)
	assert.Equal(t, []Verdict{{Question: 4}}, s.Verdicts())

	for _, bad := range []string{`{"a": true}`, `{"0": true}`, `[{"question": -1}]`, `[1, 2]`, `true`} {
		_, err := ParseVerdicts([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestPlanScenario(t *testing.T) {
	tpl := template(t,
		locator.Anchor{Number: 1, Page: 0, X: 50, Y: 100},
		locator.Anchor{Number: 2, Page: 0, X: 50, Y: 150},
	)
	plan, err := NewPlan(tpl, FromMap(map[int]bool{1: true, 2: false}), []coords.PageSpace{letter}, Style{})
	require.NoError(t, err)

	assert.Equal(t, []Mark{
		{Question: 1, Correct: true, Page: 0, Box: coords.Box{X: 30, Y: 98, Width: 16, Height: 16}},
		{Question: 2, Correct: false, Page: 0, Box: coords.Box{X: 30, Y: 148, Width: 16, Height: 16}},
	}, plan.Marks)
	assert.Empty(t, plan.Unmatched)
	assert.Equal(t, 1, plan.Correct)
	assert.Equal(t, 2, plan.Total)
	assert.Equal(t, []int{0}, plan.Pages())
}

func TestPlanPartialVerdicts(t *testing.T) {
	tpl := template(t,
		locator.Anchor{Number: 1, Page: 0, X: 50, Y: 100},
		locator.Anchor{Number: 2, Page: 0, X: 50, Y: 150},
	)
	plan, err := NewPlan(tpl, FromMap(map[int]bool{1: true, 3: false, 9: true}), []coords.PageSpace{letter}, Style{})
	require.NoError(t, err)
	assert.Len(t, plan.Marks, 1)
	assert.Equal(t, []int{3, 9}, plan.Unmatched)
	assert.Equal(t, 1, plan.Correct)
	assert.Equal(t, 1, plan.Total)
}

func TestPlanEmptyInputs(t *testing.T) {
	empty := template(t)
	plan, err := NewPlan(empty, FromMap(map[int]bool{1: true}), []coords.PageSpace{letter}, Style{})
	require.NoError(t, err)
	assert.Zero(t, plan.Total)
	assert.Equal(t, []int{1}, plan.Unmatched)

	plan, err = NewPlan(template(t, locator.Anchor{Number: 1}), NewVerdictSet(), []coords.PageSpace{letter}, Style{})
	require.NoError(t, err)
	assert.Zero(t, plan.Total)
	assert.Empty(t, plan.Pages())
	assert.Empty(t, plan.PageOps(0, letter))
}

func TestPlanPageOutOfRange(t *testing.T) {
	tpl := template(t,
		locator.Anchor{Number: 1, Page: 0, X: 50, Y: 100},
		locator.Anchor{Number: 2, Page: 2, X: 50, Y: 100},
	)
	_, err := NewPlan(tpl, FromMap(map[int]bool{1: true}), []coords.PageSpace{letter, letter}, Style{})
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = NewPlan(nil, NewVerdictSet(), nil, Style{})
	assert.Error(t, err)

	mirrored := DefaultStyle()
	mirrored.GlyphSize = -4
	_, err = NewPlan(template(t, locator.Anchor{Number: 1}), FromMap(map[int]bool{1: true}), []coords.PageSpace{letter}, mirrored)
	assert.ErrorContains(t, err, "glyph_size")
}

func TestPlanClampsGlyphsToPage(t *testing.T) {
	tpl := template(t,
		locator.Anchor{Number: 1, Page: 0, X: 5, Y: 1},
		locator.Anchor{Number: 2, Page: 0, X: 700, Y: 800},
	)
	plan, err := NewPlan(tpl, FromMap(map[int]bool{1: true, 2: true}), []coords.PageSpace{letter}, Style{})
	require.NoError(t, err)
	assert.Equal(t, coords.Box{X: 0, Y: 0, Width: 16, Height: 16}, plan.Marks[0].Box)
	assert.Equal(t, coords.Box{X: 596, Y: 776, Width: 16, Height: 16}, plan.Marks[1].Box)
}

func TestGlyphOps(t *testing.T) {
	box := coords.Box{X: 30, Y: 98, Width: 16, Height: 16}
	check := string(contentstream.Serialize(GlyphOps(true, box, letter, DefaultStyle())))
	assert.Equal(t, "q\n0 0.6 0 RG\n2 w\n1 J\n1 j\n32.4 685.2 m\n36.4 681.2 l\n43.6 690.8 l\nS\nQ\n", check)

	cross := string(contentstream.Serialize(GlyphOps(false, box, letter, DefaultStyle())))
	assert.Equal(t, "q\n0.8 0 0 RG\n2 w\n1 J\n1 j\n33.2 690.8 m\n42.8 681.2 l\n42.8 690.8 m\n33.2 681.2 l\nS\nQ\n", cross)
}

func TestGlyphStaysInsideItsBox(t *testing.T) {
	space := coords.PageSpace{Frame: coords.Rect{LLX: 20, LLY: 30, URX: 420, URY: 630}}
	box := coords.Box{X: 100, Y: 200, Width: 16, Height: 16}
	for _, correct := range []bool{true, false} {
		bboxes, err := contentstream.NewTracer().Trace(context.Background(), GlyphOps(correct, box, space, DefaultStyle()))
		require.NoError(t, err)
		require.Len(t, bboxes, 1)
		got := space.BoxFromUser(bboxes[0].Rect)
		// Stroke bounds include half the line width on every side.
		assert.GreaterOrEqual(t, got.X, box.X-1)
		assert.GreaterOrEqual(t, got.Y, box.Y-1)
		assert.LessOrEqual(t, got.Right(), box.Right()+1)
		assert.LessOrEqual(t, got.Bottom(), box.Bottom()+1)
	}
}

func TestStyleValidate(t *testing.T) {
	assert.NoError(t, DefaultStyle().Validate())

	bad := DefaultStyle()
	bad.GlyphSize = -1
	assert.ErrorContains(t, bad.Validate(), "glyph_size")

	bad = DefaultStyle()
	bad.Incorrect.R = 1.5
	assert.ErrorContains(t, bad.Validate(), "incorrect")
}

func TestRenderErrorUnwraps(t *testing.T) {
	err := error(&RenderError{Stage: StagePlan, Job: "j1", Err: ErrPageOutOfRange})
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, StagePlan, re.Stage)
	assert.Equal(t, "render job j1: plan: template page out of range", err.Error())
}
