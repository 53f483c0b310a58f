package harness

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter decides whether a case runs.
type Filter func(CaseID) bool

// namePattern selects cases by name. A pattern written as "suite/case" is
// split at its first unescaped slash and each half is matched against that
// part of the ID; an empty half matches anything. A pattern without a slash
// is matched against the whole "suite/case" name. Write `\/` for a literal
// slash inside either half.
type namePattern struct {
	raw   string
	whole *regexp.Regexp
	suite *regexp.Regexp
	kase  *regexp.Regexp
}

func compileNamePattern(s string) (namePattern, error) {
	p := namePattern{raw: s}
	suite, kase, split := cutSlash(s)
	if !split {
		re, err := regexp.Compile(s)
		if err != nil {
			return p, err
		}
		p.whole = re
		return p, nil
	}
	var err error
	if p.suite, err = regexp.Compile(suite); err != nil {
		return p, fmt.Errorf("suite part: %w", err)
	}
	if p.kase, err = regexp.Compile(kase); err != nil {
		return p, fmt.Errorf("case part: %w", err)
	}
	return p, nil
}

func cutSlash(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '/':
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// QuotePart escapes s so it matches itself exactly as one half of a
// "suite/case" pattern.
func QuotePart(s string) string {
	return "^" + strings.ReplaceAll(regexp.QuoteMeta(s), "/", `\/`) + "$"
}

func (p namePattern) matches(id CaseID) bool {
	if p.whole != nil {
		return p.whole.MatchString(id.String())
	}
	return p.suite.MatchString(id.Suite) && p.kase.MatchString(id.Case)
}

// CasePatterns is a repeatable command line flag of case name patterns.
type CasePatterns struct {
	patterns []namePattern
}

func (c *CasePatterns) String() string {
	raw := make([]string, len(c.patterns))
	for i, p := range c.patterns {
		raw[i] = fmt.Sprintf("%q", p.raw)
	}
	return strings.Join(raw, ", ")
}

func (c *CasePatterns) Set(value string) error {
	p, err := compileNamePattern(value)
	if err != nil {
		return fmt.Errorf("invalid case pattern %q: %w", value, err)
	}
	c.patterns = append(c.patterns, p)
	return nil
}

func (c *CasePatterns) Type() string {
	return "pattern"
}

func (c CasePatterns) Len() int {
	return len(c.patterns)
}

func (c CasePatterns) Any(id CaseID) bool {
	for _, p := range c.patterns {
		if p.matches(id) {
			return true
		}
	}
	return false
}

// CaseSelection keeps the cases matching any Include pattern, or every case
// when there are none, minus those matching an Exclude pattern.
type CaseSelection struct {
	Include CasePatterns
	Exclude CasePatterns
}

func (s CaseSelection) Selects(id CaseID) bool {
	if s.Include.Len() > 0 && !s.Include.Any(id) {
		return false
	}
	return !s.Exclude.Any(id)
}

func (s CaseSelection) Active() bool {
	return s.Include.Len() > 0 || s.Exclude.Len() > 0
}

// Describe summarizes the selection for logs, e.g.
// `include "^functional/" exclude "menu"`.
func (s CaseSelection) Describe() string {
	var parts []string
	if s.Include.Len() > 0 {
		parts = append(parts, "include "+s.Include.String())
	}
	if s.Exclude.Len() > 0 {
		parts = append(parts, "exclude "+s.Exclude.String())
	}
	if len(parts) == 0 {
		return "all cases"
	}
	return strings.Join(parts, " ")
}
