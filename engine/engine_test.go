package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfmark/assembler"
	"github.com/wudi/pdfmark/extractor"
	"github.com/wudi/pdfmark/internal/pdftest"
	"github.com/wudi/pdfmark/locator"
	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/observability"
	"github.com/wudi/pdfmark/parser"
	"github.com/wudi/pdfmark/summary"
)

var labels = summary.Labels{
	Owner:     "Jane Driver",
	Subject:   "Road Safety",
	Timestamp: time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
}

func build(t *testing.T, e *Engine, data []byte) *locator.Template {
	t.Helper()
	tpl, err := e.BuildTemplate(context.Background(), data)
	require.NoError(t, err)
	return tpl
}

func texts(t *testing.T, data []byte) []string {
	t.Helper()
	pages, err := extractor.New(extractor.Config{}).Pages(context.Background(), data)
	require.NoError(t, err)
	var out []string
	for _, p := range pages {
		for _, r := range p.Runs {
			out = append(out, r.Text)
		}
	}
	return out
}

func containsRun(runs []string, s string) bool {
	for _, r := range runs {
		if strings.Contains(r, s) {
			return true
		}
	}
	return false
}

func TestScenario(t *testing.T) {
	e := New(Config{})
	src := pdftest.Exam("1. Hello", "2. World")
	tpl := build(t, e, src)
	require.Equal(t, 2, tpl.DetectedCount())

	res := e.Render(context.Background(), src, tpl, Job{
		ID:       "s1",
		Verdicts: marker.FromMap(map[int]bool{1: true, 2: false}),
		Labels:   labels,
	})
	require.NoError(t, res.Err)
	assert.True(t, res.Generated)
	assert.Equal(t, "s1", res.Job)
	assert.Equal(t, 2, res.Matched)
	assert.Empty(t, res.Unmatched)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 50.0, res.Percentage)
	require.Len(t, res.Marks, 2)
	assert.InDelta(t, 30, res.Marks[0].Box.X, 0.01)
	assert.InDelta(t, 98, res.Marks[0].Box.Y, 0.01)
	assert.InDelta(t, 148, res.Marks[1].Box.Y, 0.01)
	assert.True(t, bytes.HasPrefix(res.Bytes, src))

	runs := texts(t, res.Bytes)
	assert.True(t, containsRun(runs, "Score: 1/2 (50.0%)"), "runs: %q", runs)
	assert.True(t, containsRun(runs, "Candidate: Jane Driver"))
	assert.True(t, containsRun(runs, "Hello"))

	// The marked copy still yields the same questions.
	again := build(t, e, res.Bytes)
	assert.True(t, tpl.Equal(again))
}

func TestRenderIsDeterministic(t *testing.T) {
	e := New(Config{})
	src := pdftest.Exam("1. a", "2. b", "3. c")
	tpl := build(t, e, src)
	job := Job{ID: "same", Verdicts: marker.FromMap(map[int]bool{1: true, 2: true, 3: false}), Labels: labels}
	a := e.Render(context.Background(), src, tpl, job)
	b := e.Render(context.Background(), src, tpl, job)
	require.True(t, a.Generated)
	require.True(t, b.Generated)
	assert.Equal(t, a.Bytes, b.Bytes)
}

func TestScoring(t *testing.T) {
	e := New(Config{})
	src := pdftest.Exam("1. a", "2. b", "3. c", "4. d")
	tpl := build(t, e, src)

	cases := []struct {
		verdicts  map[int]bool
		correct   int
		total     int
		pct       float64
		unmatched []int
	}{
		{map[int]bool{1: true, 2: true, 3: true, 4: true}, 4, 4, 100, []int{}},
		{map[int]bool{1: false, 2: false, 3: false, 4: false}, 0, 4, 0, []int{}},
		{map[int]bool{1: true, 3: false}, 1, 2, 50, []int{}},
		{map[int]bool{2: true, 9: true, 7: false}, 1, 1, 100, []int{7, 9}},
		{map[int]bool{1: true, 2: false, 3: false}, 1, 3, 33.3, []int{}},
	}
	for i, tc := range cases {
		res := e.Render(context.Background(), src, tpl, Job{Verdicts: marker.FromMap(tc.verdicts)})
		require.True(t, res.Generated, "case %d: %v", i, res.Err)
		assert.Equal(t, tc.correct, res.Correct, "case %d", i)
		assert.Equal(t, tc.total, res.Total, "case %d", i)
		assert.Equal(t, tc.pct, res.Percentage, "case %d", i)
		assert.Equal(t, tc.unmatched, res.Unmatched, "case %d", i)
		assert.NotEmpty(t, res.Job, "case %d", i)

		runs := texts(t, res.Bytes)
		assert.True(t, containsRun(runs, "Score: "+summary.ScoreText(tc.correct, tc.total)), "case %d: %q", i, runs)
	}
}

func TestEmptyTemplateStillGenerates(t *testing.T) {
	e := New(Config{})
	src := pdftest.Exam("No numbering on this page")
	tpl := build(t, e, src)
	assert.True(t, tpl.Empty())

	res := e.Render(context.Background(), src, tpl, Job{Verdicts: marker.FromMap(map[int]bool{1: true})})
	require.True(t, res.Generated, "%v", res.Err)
	assert.Zero(t, res.Matched)
	assert.Equal(t, []int{1}, res.Unmatched)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Marks)
	assert.False(t, containsRun(texts(t, res.Bytes), "Score:"))
}

func TestBatchRendersConcurrently(t *testing.T) {
	e := New(Config{Concurrency: 8})
	src := pdftest.Exam("1. a", "2. b", "3. c", "4. d", "5. e")
	tpl := build(t, e, src)
	require.Equal(t, 5, tpl.DetectedCount())

	type expect struct {
		correct, total int
		unmatched      []int
	}
	rng := rand.New(rand.NewPCG(7, 11))
	jobs := make([]Job, 50)
	want := make([]expect, len(jobs))
	for i := range jobs {
		verdicts := map[int]bool{}
		// Questions 6..8 do not exist in the template.
		for q := 1; q <= 8; q++ {
			if rng.IntN(3) == 0 {
				continue
			}
			ok := rng.IntN(2) == 0
			verdicts[q] = ok
			if q > 5 {
				want[i].unmatched = append(want[i].unmatched, q)
				continue
			}
			want[i].total++
			if ok {
				want[i].correct++
			}
		}
		jobs[i] = Job{ID: fmt.Sprintf("job-%02d", i), Verdicts: marker.FromMap(verdicts), Labels: labels}
	}

	results := e.RenderBatch(context.Background(), src, tpl, jobs, 0)
	require.Len(t, results, len(jobs))
	for i, res := range results {
		require.True(t, res.Generated, "%s: %v", jobs[i].ID, res.Err)
		assert.Equal(t, jobs[i].ID, res.Job)
		assert.Equal(t, want[i].correct, res.Correct, jobs[i].ID)
		assert.Equal(t, want[i].total, res.Total, jobs[i].ID)
		assert.Equal(t, want[i].total, res.Matched, jobs[i].ID)
		if len(want[i].unmatched) == 0 {
			assert.Empty(t, res.Unmatched, jobs[i].ID)
		} else {
			assert.Equal(t, want[i].unmatched, res.Unmatched, jobs[i].ID)
		}

		single := e.Render(context.Background(), src, tpl, jobs[i])
		assert.Equal(t, single.Bytes, res.Bytes, jobs[i].ID)
	}
}

func TestBuildTemplateExtractionErrors(t *testing.T) {
	e := New(Config{})
	encrypted := pdftest.Build([]pdftest.Page{pdftest.Letter(pdftest.Line(1, 1, "1. x"))}, pdftest.Options{Encrypt: true})

	_, err := e.BuildTemplate(context.Background(), encrypted)
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
	assert.ErrorIs(t, err, parser.ErrEncrypted)

	_, err = e.BuildTemplate(context.Background(), []byte("this is not a pdf"))
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
	assert.False(t, IsRenderError(err))
}

func TestRenderFailures(t *testing.T) {
	e := New(Config{})
	twoPages := pdftest.Build([]pdftest.Page{
		pdftest.Letter(pdftest.Line(50, 100, "1. a")),
		pdftest.Letter(pdftest.Line(50, 100, "2. b")),
	}, pdftest.Options{})
	tpl := build(t, e, twoPages)

	t.Run("page out of range", func(t *testing.T) {
		res := e.Render(context.Background(), pdftest.Exam("1. a"), tpl, Job{ID: "short", Verdicts: marker.FromMap(map[int]bool{1: true})})
		assert.False(t, res.Generated)
		assert.Nil(t, res.Bytes)
		var re *marker.RenderError
		require.ErrorAs(t, res.Err, &re)
		assert.Equal(t, marker.StagePlan, re.Stage)
		assert.Equal(t, "short", re.Job)
		assert.ErrorIs(t, res.Err, marker.ErrPageOutOfRange)
		assert.True(t, IsRenderError(res.Err))
	})

	t.Run("unreadable source", func(t *testing.T) {
		res := e.Render(context.Background(), []byte("garbage"), tpl, Job{})
		assert.False(t, res.Generated)
		var re *marker.RenderError
		require.ErrorAs(t, res.Err, &re)
		assert.Equal(t, marker.StageOpen, re.Stage)
	})

	t.Run("template not built", func(t *testing.T) {
		res := e.Render(context.Background(), twoPages, nil, Job{})
		assert.False(t, res.Generated)
		var re *marker.RenderError
		require.ErrorAs(t, res.Err, &re)
		assert.Equal(t, marker.StagePlan, re.Stage)
	})

	t.Run("invalid layout", func(t *testing.T) {
		bad := New(Config{Layout: summary.Layout{Width: -1}})
		res := bad.Render(context.Background(), twoPages, tpl, Job{Verdicts: marker.FromMap(map[int]bool{1: true})})
		assert.False(t, res.Generated)
		var re *marker.RenderError
		require.ErrorAs(t, res.Err, &re)
		assert.Equal(t, marker.StageSummary, re.Stage)
		assert.Equal(t, 1, res.Total)
	})

	t.Run("invalid style", func(t *testing.T) {
		bad := New(Config{Style: marker.Style{GlyphSize: -4}})
		res := bad.Render(context.Background(), twoPages, tpl, Job{Verdicts: marker.FromMap(map[int]bool{1: true})})
		assert.False(t, res.Generated)
		assert.Nil(t, res.Bytes)
		var re *marker.RenderError
		require.ErrorAs(t, res.Err, &re)
		assert.Equal(t, marker.StagePlan, re.Stage)
		assert.ErrorContains(t, res.Err, "glyph_size")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := e.Render(ctx, twoPages, tpl, Job{Verdicts: marker.FromMap(map[int]bool{1: true})})
		assert.False(t, res.Generated)
		assert.Nil(t, res.Bytes)
		assert.ErrorIs(t, res.Err, context.Canceled)
	})
}

func TestRenderToFile(t *testing.T) {
	e := New(Config{})
	src := pdftest.Exam("1. a", "2. b")
	tpl := build(t, e, src)
	dir := t.TempDir()
	job := Job{ID: "42", Verdicts: marker.FromMap(map[int]bool{1: true, 2: true}), Labels: labels}

	path := filepath.Join(dir, assembler.ArtifactName(job.ID, labels.Timestamp))
	res := e.RenderToFile(context.Background(), src, tpl, job, path)
	require.True(t, res.Generated, "%v", res.Err)
	assert.Equal(t, path, res.Path)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, written)

	// A render that cannot be persisted leaves what was there before.
	busy := filepath.Join(dir, "busy")
	require.NoError(t, os.MkdirAll(filepath.Join(busy, "keep"), 0o755))
	res = e.RenderToFile(context.Background(), src, tpl, job, busy)
	assert.False(t, res.Generated)
	assert.Nil(t, res.Bytes)
	assert.Empty(t, res.Path)
	var re *marker.RenderError
	require.ErrorAs(t, res.Err, &re)
	assert.Equal(t, marker.StagePersist, re.Stage)
	_, err = os.Stat(filepath.Join(busy, "keep"))
	assert.NoError(t, err)

	// Render failures never touch the target.
	res = e.RenderToFile(context.Background(), []byte("garbage"), tpl, job, path)
	assert.False(t, res.Generated)
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, written, again)
}

func TestStats(t *testing.T) {
	results := []assembler.RenderResult{
		{Generated: true, Correct: 1, Total: 2, Percentage: 50},
		{Generated: true, Correct: 2, Total: 2, Percentage: 100},
		{Generated: true},
		{Err: errors.New("boom")},
	}
	s := Stats(results)
	assert.Equal(t, BatchStats{Jobs: 4, Generated: 3, Failed: 1, MeanPercentage: 75, Correct: 3, Questions: 4}, s)
	assert.Equal(t, BatchStats{}, Stats(nil))
}

func TestLogsThroughLogrus(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	e := New(Config{Logger: observability.NewLogrus(l)})
	src := pdftest.Exam("1. a")
	tpl := build(t, e, src)
	e.Render(context.Background(), src, tpl, Job{ID: "log", Verdicts: marker.FromMap(map[int]bool{1: true})})
	e.Render(context.Background(), []byte("garbage"), tpl, Job{ID: "bad"})

	byMsg := map[string]*logrus.Entry{}
	for _, entry := range hook.AllEntries() {
		byMsg[entry.Message] = entry
	}
	built := byMsg["template built"]
	require.NotNil(t, built)
	assert.Equal(t, 1, built.Data["detected"])

	done := byMsg["render finished"]
	require.NotNil(t, done)
	assert.Equal(t, "log", done.Data["job"])
	assert.Equal(t, 1, done.Data["correct"])

	failed := byMsg["render failed"]
	require.NotNil(t, failed)
	assert.Equal(t, logrus.ErrorLevel, failed.Level)
	assert.Equal(t, "bad", failed.Data["job"])
	assert.IsType(t, "", failed.Data["error"])
}
