package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kidandcat/bankcheck/pkg/browser"
)

// AssertionError is a failed expectation about page state.
type AssertionError struct {
	Message  string
	Locator  string
	Expected string
	Actual   string
	Soft     bool
	// Detail carries extra lines such as a diff of expected and actual.
	Detail string
	Err    error
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	if e.Soft {
		b.WriteString("soft ")
	}
	b.WriteString(e.Message)
	if e.Locator != "" {
		fmt.Fprintf(&b, " (%s)", e.Locator)
	}
	fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	if e.Detail != "" {
		b.WriteString("\n")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *AssertionError) Unwrap() error {
	return e.Err
}

// InfraError is a failure of the machinery around a case rather than of the
// application under test.
type InfraError struct {
	Phase string
	Err   error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unexpected panic in test: %+v\n%s", e.Value, e.Stack)
}

type ConsoleErrorsError struct {
	Errors []browser.ConsoleError
}

func (e *ConsoleErrorsError) Error() string {
	lines := []string{fmt.Sprintf("console errors detected: %d errors", len(e.Errors))}
	for _, ce := range e.Errors {
		lines = append(lines, fmt.Sprintf("  - %s at %s", ce.Message, ce.URL))
	}
	return strings.Join(lines, "\n")
}

// IsInfra reports whether err is or wraps an InfraError.
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}
