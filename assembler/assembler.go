// Package assembler packages the outcome of a render job and persists
// artifacts without exposing partial output.
package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wudi/pdfmark/marker"
	"github.com/wudi/pdfmark/summary"
)

// RenderResult is the outcome of one render job. Failed jobs have
// Generated false, no bytes and Error set.
type RenderResult struct {
	Job        string        `json:"job"`
	Bytes      []byte        `json:"-"`
	Path       string        `json:"path,omitempty"`
	Matched    int           `json:"matched"`
	Unmatched  []int         `json:"unmatched"`
	Correct    int           `json:"total_correct"`
	Total      int           `json:"total_questions"`
	Percentage float64       `json:"percentage"`
	Marks      []marker.Mark `json:"marks,omitempty"`
	Generated  bool          `json:"is_generated"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded builds the result of a finished job from its plan.
func Succeeded(job string, plan *marker.Plan, data []byte) RenderResult {
	unmatched := append([]int{}, plan.Unmatched...)
	return RenderResult{
		Job:        job,
		Bytes:      data,
		Matched:    plan.Total,
		Unmatched:  unmatched,
		Correct:    plan.Correct,
		Total:      plan.Total,
		Percentage: summary.Percentage(plan.Correct, plan.Total),
		Marks:      plan.Marks,
		Generated:  true,
	}
}

// Failed tags a job as not generated. Counts from plan are kept when the
// failure happened after planning.
func Failed(job string, plan *marker.Plan, err error) RenderResult {
	r := RenderResult{Job: job, Err: err, Unmatched: []int{}}
	if plan != nil {
		r.Matched = plan.Total
		r.Unmatched = append(r.Unmatched, plan.Unmatched...)
		r.Correct = plan.Correct
		r.Total = plan.Total
		r.Percentage = summary.Percentage(plan.Correct, plan.Total)
	}
	return r
}

// ErrorMessage is the human-readable failure text, empty on success.
func (r RenderResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Metadata is the persisted summary of an artifact.
type Metadata struct {
	TotalCorrect    int     `json:"total_correct"`
	TotalQuestions  int     `json:"total_questions"`
	IsGenerated     bool    `json:"is_generated"`
	GenerationError *string `json:"generation_error"`
}

func (r RenderResult) Metadata() Metadata {
	m := Metadata{TotalCorrect: r.Correct, TotalQuestions: r.Total, IsGenerated: r.Generated}
	if msg := r.ErrorMessage(); msg != "" {
		m.GenerationError = &msg
	}
	return m
}

// ArtifactName is the file name for a marked submission:
// marked_<id>_<YYYYmmdd_HHMMSS>.pdf.
func ArtifactName(submissionID string, at time.Time) string {
	return fmt.Sprintf("marked_%s_%s.pdf", submissionID, at.Format("20060102_150405"))
}

// WriteFile replaces path with data atomically: data goes to a temporary
// file in the same directory, is synced, then renamed over path. On any
// failure the temporary file is removed and an existing file at path is
// left untouched.
func WriteFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(name)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(name, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
