package eyes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotOpen       = errors.New("eyes not open")
	ErrSessionClosed = errors.New("session already closed")
)

type Status string

const (
	Running    Status = "Running"
	Passed     Status = "Passed"
	Unresolved Status = "Unresolved"
	Failed     Status = "Failed"
)

type CheckpointResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	IsNew  bool   `json:"isNew,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TestResults is the verdict of one remote session, that is one render
// target of one Eyes session.
type TestResults struct {
	SessionID   string             `json:"id"`
	Batch       BatchInfo          `json:"batch"`
	AppName     string             `json:"appName"`
	TestName    string             `json:"testName"`
	Target      RenderTarget       `json:"target"`
	Status      Status             `json:"status"`
	IsNew       bool               `json:"isNew,omitempty"`
	Aborted     bool               `json:"aborted,omitempty"`
	Checkpoints []CheckpointResult `json:"checkpoints,omitempty"`
}

func (r TestResults) Resolved() bool {
	return r.Status != Running && r.Status != ""
}

// Mismatches counts checkpoints that did not pass.
func (r TestResults) Mismatches() int {
	n := 0
	for _, cp := range r.Checkpoints {
		if cp.Status != Passed {
			n++
		}
	}
	return n
}

type TestResultsContainer struct {
	Target  RenderTarget
	Results *TestResults
	// Err is set when the session could not be opened, uploaded to or read
	// back.
	Err error
}

type TestResultsSummary struct {
	Containers []TestResultsContainer
}

func (s *TestResultsSummary) count(status Status) int {
	n := 0
	for _, c := range s.Containers {
		if c.Results != nil && c.Results.Status == status {
			n++
		}
	}
	return n
}

func (s *TestResultsSummary) Passed() int     { return s.count(Passed) }
func (s *TestResultsSummary) Unresolved() int { return s.count(Unresolved) }
func (s *TestResultsSummary) Failed() int     { return s.count(Failed) }

func (s *TestResultsSummary) Errors() []error {
	var errs []error
	for _, c := range s.Containers {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Target, c.Err))
		}
	}
	return errs
}

func (s *TestResultsSummary) String() string {
	return fmt.Sprintf("%d sessions: %d passed, %d unresolved, %d failed, %d errors",
		len(s.Containers), s.Passed(), s.Unresolved(), s.Failed(), len(s.Errors()))
}

// DiffsFoundError is returned on request when a verdict is not Passed.
type DiffsFoundError struct {
	Results []TestResults
	Errors  []error
}

func (e *DiffsFoundError) Error() string {
	var parts []string
	for _, r := range e.Results {
		if r.Status != Passed {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Target, r.Status))
		}
	}
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return "visual differences found: " + strings.Join(parts, "; ")
}

func newDiffsFound(results []TestResults, errs []error) error {
	var bad []TestResults
	for _, r := range results {
		if r.Status != Passed {
			bad = append(bad, r)
		}
	}
	if len(bad) == 0 && len(errs) == 0 {
		return nil
	}
	return &DiffsFoundError{Results: bad, Errors: errs}
}

// APIError is a non-success response from the visual service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("visual service: %d %s", e.StatusCode, e.Message)
}

// StartSessionRequest opens a remote session for one render target.
type StartSessionRequest struct {
	Batch      BatchInfo    `json:"batch"`
	AppName    string       `json:"appName"`
	TestName   string       `json:"testName"`
	Target     RenderTarget `json:"target"`
	MatchLevel MatchLevel   `json:"matchLevel"`
}

type SessionInfo struct {
	ID string `json:"id"`
}

// Checkpoint is one captured snapshot uploaded to a remote session.
type Checkpoint struct {
	Name       string     `json:"name"`
	MatchLevel MatchLevel `json:"matchLevel"`
	Fully      bool       `json:"fully,omitempty"`
	Region     string     `json:"region,omitempty"`
	DOM        string     `json:"dom"`
	Image      []byte     `json:"image,omitempty"`
}
