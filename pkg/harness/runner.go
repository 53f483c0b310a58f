package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/bankcheck/pkg/browser"
)

type Mode int

const (
	Serial Mode = iota
	Parallel
)

// Hook runs before or after every case of a suite. A setup hook that fails
// aborts its case as an infrastructure failure.
type Hook func(t *T) error

type Step struct {
	Name string
	Do   func(t *T)
}

type Case struct {
	Name  string
	Steps []Step
}

type Suite struct {
	Name     string
	Mode     Mode
	Setup    []Hook
	Teardown []Hook
	Cases    []Case
}

type Config struct {
	// Workers bounds how many cases of a parallel suite run at once.
	Workers            int
	CaseTimeout        time.Duration
	FailOnConsoleError bool
	// ConsoleFilter returns true for console errors that should be ignored.
	ConsoleFilter func(browser.ConsoleError) bool
	Filter        Filter
	Logger        zerolog.Logger
}

type Runner struct {
	driver  browser.Driver
	config  *Config
	suites  []Suite
	results Results
	mu      sync.Mutex
}

const (
	DefaultWorkers     = 4
	DefaultCaseTimeout = 2 * time.Minute
)

// NewRunner copies config, filling zero Workers and CaseTimeout with the
// defaults. A negative CaseTimeout disables the case deadline. A nil config
// selects the defaults with logging off.
func NewRunner(driver browser.Driver, config *Config) *Runner {
	cfg := Config{Logger: zerolog.Nop()}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CaseTimeout == 0 {
		cfg.CaseTimeout = DefaultCaseTimeout
	}
	return &Runner{
		driver: driver,
		config: &cfg,
	}
}

func (r *Runner) AddSuite(suite Suite) {
	r.suites = append(r.suites, suite)
}

// Run executes every added suite in order. onResult, when set, is called once
// per finished case; calls are serialized.
func (r *Runner) Run(ctx context.Context, onResult func(Result)) Results {
	r.results = Results{}
	for i := range r.suites {
		results := r.runSuite(ctx, &r.suites[i], onResult)
		r.results.Cases = append(r.results.Cases, results...)
	}
	return r.results
}

func (r *Runner) runSuite(ctx context.Context, suite *Suite, onResult func(Result)) []Result {
	var cases []Case
	for _, c := range suite.Cases {
		id := CaseID{Suite: suite.Name, Case: c.Name}
		if r.config.Filter != nil && !r.config.Filter(id) {
			r.config.Logger.Debug().Str("case", id.String()).Msg("excluded by filter")
			continue
		}
		cases = append(cases, c)
	}

	results := make([]Result, len(cases))
	report := func(i int, res Result) {
		results[i] = res
		if onResult != nil {
			r.mu.Lock()
			onResult(res)
			r.mu.Unlock()
		}
	}

	if suite.Mode != Parallel {
		for i, c := range cases {
			report(i, r.runCase(ctx, suite, c))
		}
		return results
	}

	// Cases never return an error, so one failing case cannot cancel its
	// siblings.
	var g errgroup.Group
	g.SetLimit(r.config.Workers)
	for i, c := range cases {
		g.Go(func() error {
			report(i, r.runCase(ctx, suite, c))
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Runner) runCase(ctx context.Context, suite *Suite, c Case) Result {
	start := time.Now()
	id := CaseID{Suite: suite.Name, Case: c.Name}
	logger := r.config.Logger.With().Str("suite", id.Suite).Str("case", id.Case).Logger()

	if r.config.CaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.CaseTimeout)
		defer cancel()
	}
	t := newT(logger.WithContext(ctx), id, logger)
	logger.Debug().Msg("case started")

	if r.driver == nil {
		t.recordInfra("new page", fmt.Errorf("browser not started"))
		return r.finish(t, start)
	}
	page, err := r.driver.NewPage(ctx)
	if err != nil {
		t.recordInfra("new page", err)
		return r.finish(t, start)
	}
	t.page = page

	func() {
		defer t.release()

		if !r.setup(t, suite) {
			return
		}
		r.body(t, c)
		r.checkConsole(t)
		r.teardown(t, suite)
	}()

	return r.finish(t, start)
}

func (r *Runner) setup(t *T, suite *Suite) bool {
	for i, h := range suite.Setup {
		phase := fmt.Sprintf("setup hook %d", i+1)
		ok := t.protect(func() {
			if err := h(t); err != nil {
				t.recordInfra(phase, err)
			}
		}, func(err error) { t.recordInfra(phase, err) })

		if !ok || t.Failed() {
			// A FailNow or soft failure during setup still means the case
			// never got a usable context.
			if !t.isInfra() {
				t.recordInfra(phase, fmt.Errorf("setup failed"))
			}
			r.teardown(t, suite)
			return false
		}
	}
	return true
}

func (r *Runner) body(t *T, c Case) {
	for _, step := range c.Steps {
		if err := t.ctx.Err(); err != nil {
			t.Fail(&browser.TimeoutError{Action: "case", Bound: r.config.CaseTimeout})
			return
		}
		t.steps++
		t.logger.Trace().Str("step", step.Name).Msg("step")
		if !t.protect(func() { step.Do(t) }, t.Fail) {
			return
		}
	}
}

func (r *Runner) teardown(t *T, suite *Suite) {
	for i, h := range suite.Teardown {
		phase := fmt.Sprintf("teardown hook %d", i+1)
		t.protect(func() {
			if err := h(t); err != nil {
				t.recordTeardown(phase, err)
			}
		}, func(err error) { t.recordTeardown(phase, err) })
	}
}

func (r *Runner) checkConsole(t *T) {
	var kept []browser.ConsoleError
	for _, ce := range t.page.ConsoleErrors() {
		if r.config.ConsoleFilter == nil || !r.config.ConsoleFilter(ce) {
			kept = append(kept, ce)
		}
	}
	t.Set(consoleKey{}, kept)
	if r.config.FailOnConsoleError && len(kept) > 0 {
		t.Fail(&ConsoleErrorsError{Errors: kept})
	}
}

type consoleKey struct{}

func (r *Runner) finish(t *T, start time.Time) Result {
	t.mu.Lock()
	res := Result{
		ID:       t.id,
		Errors:   append([]error(nil), t.errors...),
		Duration: time.Since(start),
		StepsRun: t.steps,
	}
	switch {
	case t.infra:
		res.Outcome = InfraFailed
	case t.failed || len(t.errors) > 0:
		res.Outcome = AssertionFailed
	default:
		res.Outcome = Passed
	}
	t.mu.Unlock()

	if console, ok := t.Value(consoleKey{}).([]browser.ConsoleError); ok {
		res.Console = console
	}

	t.logger.Info().
		Str("outcome", res.Outcome.String()).
		Int("errors", len(res.Errors)).
		Dur("duration", res.Duration).
		Msg("case finished")
	return res
}
