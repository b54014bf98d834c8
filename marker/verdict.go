package marker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Verdict is a caller-supplied judgment for one question.
type Verdict struct {
	Question int    `json:"question"`
	Correct  bool   `json:"correct"`
	Note     string `json:"note,omitempty"`
}

// VerdictSet holds at most one verdict per question number.
type VerdictSet struct {
	byNumber map[int]Verdict
}

// NewVerdictSet collects verdicts; a later verdict for the same question
// replaces an earlier one.
func NewVerdictSet(verdicts ...Verdict) VerdictSet {
	s := VerdictSet{byNumber: make(map[int]Verdict, len(verdicts))}
	for _, v := range verdicts {
		s.byNumber[v.Question] = v
	}
	return s
}

// FromMap builds a set from question number to correctness.
func FromMap(m map[int]bool) VerdictSet {
	s := VerdictSet{byNumber: make(map[int]Verdict, len(m))}
	for n, ok := range m {
		s.byNumber[n] = Verdict{Question: n, Correct: ok}
	}
	return s
}

func (s VerdictSet) Len() int { return len(s.byNumber) }

func (s VerdictSet) Get(n int) (Verdict, bool) {
	v, ok := s.byNumber[n]
	return v, ok
}

// Numbers returns the question numbers in ascending order.
func (s VerdictSet) Numbers() []int {
	out := make([]int, 0, len(s.byNumber))
	for n := range s.byNumber {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Verdicts returns the verdicts in ascending question order.
func (s VerdictSet) Verdicts() []Verdict {
	nums := s.Numbers()
	out := make([]Verdict, len(nums))
	for i, n := range nums {
		out[i] = s.byNumber[n]
	}
	return out
}

// ParseVerdicts reads verdicts as either an object from question number to
// correctness, {"1": true, "2": false}, or a list of verdict records,
// [{"question": 1, "correct": true, "note": "..."}].
func ParseVerdicts(data []byte) (VerdictSet, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []Verdict
		if err := json.Unmarshal(data, &list); err != nil {
			return VerdictSet{}, fmt.Errorf("parse verdicts: %w", err)
		}
		for _, v := range list {
			if v.Question <= 0 {
				return VerdictSet{}, fmt.Errorf("parse verdicts: question number %d is not positive", v.Question)
			}
		}
		return NewVerdictSet(list...), nil
	}
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return VerdictSet{}, fmt.Errorf("parse verdicts: %w", err)
	}
	out := make(map[int]bool, len(m))
	for k, v := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n <= 0 {
			return VerdictSet{}, fmt.Errorf("parse verdicts: key %q is not a question number", k)
		}
		out[n] = v
	}
	return FromMap(out), nil
}
