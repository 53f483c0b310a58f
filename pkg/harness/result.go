package harness

import (
	"time"

	"github.com/kidandcat/bankcheck/pkg/browser"
)

type Outcome int

const (
	Passed Outcome = iota
	AssertionFailed
	InfraFailed
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case AssertionFailed:
		return "failed"
	case InfraFailed:
		return "infra-failed"
	}
	return "unknown"
}

type CaseID struct {
	Suite string
	Case  string
}

func (id CaseID) String() string {
	if id.Suite == "" {
		return id.Case
	}
	return id.Suite + "/" + id.Case
}

type Result struct {
	ID       CaseID
	Outcome  Outcome
	Errors   []error
	Duration time.Duration
	StepsRun int
	Console  []browser.ConsoleError
}

func (r Result) Passed() bool {
	return r.Outcome == Passed
}

// Results are kept in declaration order regardless of execution order.
type Results struct {
	Cases []Result
}

func (r Results) OK() bool {
	return len(r.Failures()) == 0
}

func (r Results) Failures() []Result {
	var failures []Result
	for _, c := range r.Cases {
		if !c.Passed() {
			failures = append(failures, c)
		}
	}
	return failures
}

func (r Results) Count(o Outcome) int {
	n := 0
	for _, c := range r.Cases {
		if c.Outcome == o {
			n++
		}
	}
	return n
}
