package marker

import (
	"errors"
	"fmt"
)

// ErrPageOutOfRange reports a template anchor on a page the document does not have.
var ErrPageOutOfRange = errors.New("template page out of range")

// Stage names the step of a render job that failed.
type Stage string

const (
	StageOpen    Stage = "open"
	StagePlan    Stage = "plan"
	StageSummary Stage = "summary"
	StageWrite   Stage = "write"
	StagePersist Stage = "persist"
	StagePanic   Stage = "panic"
)

// RenderError is the failure of one render job. It never affects other jobs
// or the template.
type RenderError struct {
	Stage Stage
	Job   string
	Err   error
}

func (e *RenderError) Error() string {
	if e.Job == "" {
		return fmt.Sprintf("render %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("render job %s: %s: %v", e.Job, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
