package locator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rule is one numbering convention. Rules are tried in the order of Rules
// and the first match wins.
type Rule int

const (
	// RuleDot matches "N." where the dot is not followed by a digit.
	RuleDot Rule = iota
	// RuleParen matches "N)".
	RuleParen
	// RuleQ matches "QN" or "qN".
	RuleQ
	// RuleBracketed matches "(N)".
	RuleBracketed
	// RuleQuestion matches "Question N" in any case.
	RuleQuestion
)

// Rules lists every rule in priority order.
var Rules = []Rule{RuleDot, RuleParen, RuleQ, RuleBracketed, RuleQuestion}

var patterns = [...]*regexp.Regexp{
	RuleDot:       regexp.MustCompile(`^(\d+)\.(?:\D|$)`),
	RuleParen:     regexp.MustCompile(`^(\d+)\)`),
	RuleQ:         regexp.MustCompile(`^[Qq](\d+)`),
	RuleBracketed: regexp.MustCompile(`^\((\d+)\)`),
	RuleQuestion:  regexp.MustCompile(`(?i)^question\s*(\d+)`),
}

func (r Rule) String() string {
	switch r {
	case RuleDot:
		return "N."
	case RuleParen:
		return "N)"
	case RuleQ:
		return "QN"
	case RuleBracketed:
		return "(N)"
	case RuleQuestion:
		return "Question N"
	}
	return "unknown"
}

// Match reports the question number at the start of text.
func (r Rule) Match(text string) (int, bool) {
	if r < 0 || int(r) >= len(patterns) {
		return 0, false
	}
	m := patterns[r].FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Detect applies rules in order and returns the first match.
func Detect(text string, rules []Rule) (n int, rule Rule, ok bool) {
	for _, r := range rules {
		if n, ok := r.Match(text); ok {
			return n, r, true
		}
	}
	return 0, 0, false
}

var ruleNames = map[string]Rule{
	"dot":       RuleDot,
	"paren":     RuleParen,
	"q":         RuleQ,
	"bracketed": RuleBracketed,
	"question":  RuleQuestion,
}

// ParseRules maps comma separated rule names (dot, paren, q, bracketed,
// question) to rules, keeping priority order. An empty list means all rules.
func ParseRules(list string) ([]Rule, error) {
	want := map[Rule]bool{}
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		r, ok := ruleNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown rule %q", name)
		}
		want[r] = true
	}
	if len(want) == 0 {
		return append([]Rule(nil), Rules...), nil
	}
	var out []Rule
	for _, r := range Rules {
		if want[r] {
			out = append(out, r)
		}
	}
	return out, nil
}
