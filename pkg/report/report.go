// Package report prints case results to a terminal as they finish.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/kidandcat/bankcheck/pkg/harness"
)

type Reporter struct {
	out     io.Writer
	program string
	spin    *spinner.Spinner

	pass, fail, infra, dim *color.Color

	mu    sync.Mutex
	total int
	done  int
}

type Option func(*Reporter)

// WithColor forces colored output on or off.
func WithColor(enabled bool) Option {
	return func(r *Reporter) {
		for _, c := range []*color.Color{r.pass, r.fail, r.infra, r.dim} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// WithSpinner shows a spinner with the progress between results.
func WithSpinner(enabled bool) Option {
	return func(r *Reporter) {
		if !enabled {
			r.spin = nil
			return
		}
		r.spin = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(r.out))
	}
}

// WithProgram sets the command printed in rerun hints.
func WithProgram(program string) Option {
	return func(r *Reporter) {
		r.program = program
	}
}

func New(out io.Writer, opts ...Option) *Reporter {
	r := &Reporter{
		out:     out,
		program: "bankcheck run",
		pass:    color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		infra:   color.New(color.FgYellow),
		dim:     color.New(color.Faint),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start announces the run and starts the spinner.
func (r *Reporter) Start(cases, files int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = cases
	what := fmt.Sprintf("Running %d cases", cases)
	if files > 0 {
		what += fmt.Sprintf(" from %d files", files)
	}
	r.infra.Fprintf(r.out, "%s...\n\n", what)
	if r.spin != nil {
		r.spin.Suffix = r.progress()
		r.spin.Start()
	}
}

func (r *Reporter) progress() string {
	return fmt.Sprintf(" %d/%d", r.done, r.total)
}

// Case prints one finished case. It has the signature of the runner's
// onResult callback.
func (r *Reporter) Case(res harness.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spin != nil {
		r.spin.Stop()
	}
	r.done++

	duration := res.Duration.Round(time.Millisecond)
	switch res.Outcome {
	case harness.Passed:
		fmt.Fprintf(r.out, "%s %s (%s)\n", r.pass.Sprint("✓ PASS"), res.ID, duration)
	case harness.AssertionFailed:
		fmt.Fprintf(r.out, "%s %s (%s)\n", r.fail.Sprint("✗ FAIL"), res.ID, duration)
	default:
		fmt.Fprintf(r.out, "%s %s (%s)\n", r.infra.Sprint("! INFRA"), res.ID, duration)
	}
	for _, err := range res.Errors {
		r.fail.Fprintln(r.out, indent(err.Error(), "    "))
	}
	if len(res.Console) > 0 {
		fmt.Fprintln(r.out, "  Console errors:")
		for _, ce := range res.Console {
			r.dim.Fprintf(r.out, "    - %s at %s\n", ce.Message, ce.URL)
		}
	}

	if r.spin != nil && r.done < r.total {
		r.spin.Suffix = r.progress()
		r.spin.Start()
	}
}

// Summary stops the spinner and prints the counts and a rerun command for
// every case that did not pass.
func (r *Reporter) Summary(results harness.Results) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spin != nil {
		r.spin.Stop()
	}

	fmt.Fprintf(r.out, "\n%s passed, %s failed, %s infra\n",
		r.pass.Sprint(results.Count(harness.Passed)),
		r.fail.Sprint(results.Count(harness.AssertionFailed)),
		r.infra.Sprint(results.Count(harness.InfraFailed)))

	failures := results.Failures()
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(r.out, "\nTo rerun failing cases:")
	for _, res := range failures {
		r.dim.Fprintf(r.out, "  %s\n", RerunCommand(r.program, res.ID))
	}
}

// RerunCommand is a shell command selecting exactly id.
func RerunCommand(program string, id harness.CaseID) string {
	filter := harness.QuotePart(id.Suite) + "/" + harness.QuotePart(id.Case)
	return program + " --run " + shellescape.Quote(filter)
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
