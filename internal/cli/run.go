package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kidandcat/bankcheck/pkg/browser"
	"github.com/kidandcat/bankcheck/pkg/config"
	"github.com/kidandcat/bankcheck/pkg/demobank"
	"github.com/kidandcat/bankcheck/pkg/eyes"
	"github.com/kidandcat/bankcheck/pkg/harness"
	"github.com/kidandcat/bankcheck/pkg/parser"
	"github.com/kidandcat/bankcheck/pkg/report"
	"github.com/kidandcat/bankcheck/pkg/steps"
)

type runFlags struct {
	suite              string
	pattern            string
	selection          harness.CaseSelection
	driver             string
	headless           bool
	timeout            time.Duration
	expectTimeout      time.Duration
	workers            int
	baseURL            string
	visualURL          string
	failOnConsoleError bool
	noColor            bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [suite files or directories...]",
		Short: "Run the built-in suites or suites from files",
		Long: `Runs the functional and visual suites against the demo banking app.
DEMO_SITE selects the site variant: unset, empty or "original" for the
original page, anything else for the alternate one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			f.apply(cmd, &s)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, s, f, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.suite, "suite", "all", "Built-in suite to run when no files are given: functional, visual or all")
	flags.StringVar(&f.pattern, "pattern", "*.test", "File pattern for suite files in directories")
	flags.Var(&f.selection.Include, "run", "Only run cases matching a pattern; suite/case patterns match each part (repeatable)")
	flags.Var(&f.selection.Exclude, "skip", "Skip cases matching a pattern; suite/case patterns match each part (repeatable)")
	flags.StringVar(&f.driver, "driver", "", "Browser driver: chromedp, playwright, rod or static")
	flags.BoolVar(&f.headless, "headless", true, "Run browser in headless mode")
	flags.DurationVar(&f.timeout, "timeout", 0, "Action timeout")
	flags.DurationVar(&f.expectTimeout, "expect-timeout", 0, "Assertion retry timeout")
	flags.IntVar(&f.workers, "workers", 0, "Cases of a parallel suite run at once")
	flags.StringVar(&f.baseURL, "base-url", "", "Demo app base URL")
	flags.StringVar(&f.visualURL, "visual-url", "", "Visual service URL")
	flags.BoolVar(&f.failOnConsoleError, "fail-on-console-error", false, "Fail cases when console errors occur")
	flags.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	return cmd
}

// apply overrides settings with the flags given on the command line.
func (f *runFlags) apply(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("driver") {
		s.Driver = f.driver
	}
	if flags.Changed("headless") {
		s.Headless = f.headless
	}
	if flags.Changed("timeout") {
		s.Timeout = f.timeout
	}
	if flags.Changed("expect-timeout") {
		s.ExpectTimeout = f.expectTimeout
	}
	if flags.Changed("workers") {
		s.Workers = f.workers
	}
	if flags.Changed("base-url") {
		s.BaseURL = f.baseURL
	}
	if flags.Changed("visual-url") {
		s.Visual.ServerURL = f.visualURL
	}
	if flags.Changed("fail-on-console-error") {
		s.FailOnConsoleError = f.failOnConsoleError
	}
}

func suiteOptions(s config.Settings) demobank.Options {
	return demobank.Options{
		BaseURL:       s.BaseURL,
		Width:         s.ViewportWidth,
		Height:        s.ViewportHeight,
		ExpectTimeout: s.ExpectTimeout,
		Visual: demobank.VisualOptions{
			Client:       eyes.NewClient(s.Visual.ServerURL, s.Visual.APIKey, nil),
			Batch:        eyes.NewBatchInfo(s.Visual.Batch),
			Concurrency:  s.Visual.Concurrency,
			PollInterval: s.Visual.PollInterval,
		},
	}
}

func builtinSuites(name string, opts demobank.Options) ([]harness.Suite, error) {
	switch name {
	case "functional":
		return []harness.Suite{demobank.Functional(opts)}, nil
	case "visual":
		return []harness.Suite{demobank.Visual(opts)}, nil
	case "all", "":
		return []harness.Suite{demobank.Functional(opts), demobank.Visual(opts)}, nil
	}
	return nil, fmt.Errorf("unknown suite: %s", name)
}

func loadSuites(files []string, opts demobank.Options) ([]harness.Suite, error) {
	p := parser.New()
	var suites []harness.Suite
	for _, file := range files {
		parsed, err := p.ParseFile(file)
		if err != nil {
			return nil, err
		}
		compiled, err := steps.Compile(parsed, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		suites = append(suites, compiled...)
	}
	return suites, nil
}

func run(ctx context.Context, cmd *cobra.Command, s config.Settings, f runFlags, args []string) error {
	logger := newLogger(cmd, s)
	opts := suiteOptions(s)
	opts.Visual.Logger = logger

	var suites []harness.Suite
	var files []string
	var err error
	if len(args) == 0 {
		suites, err = builtinSuites(f.suite, opts)
	} else {
		files, err = findSuiteFiles(f.pattern, args)
		if err == nil && len(files) == 0 {
			err = fmt.Errorf("no suite files found")
		}
		if err == nil {
			suites, err = loadSuites(files, opts)
		}
	}
	if err != nil {
		return err
	}

	var filter harness.Filter
	if f.selection.Active() {
		filter = f.selection.Selects
		logger.Info().Str("selection", f.selection.Describe()).Msg("filtering cases")
	}

	driver, err := browser.Open(s.Driver, browser.Options{
		Headless:       s.Headless,
		Timeout:        s.Timeout,
		ActionTimeouts: s.ActionTimeouts,
	})
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing browser")
		}
	}()

	runner := harness.NewRunner(driver, &harness.Config{
		Workers:            s.Workers,
		CaseTimeout:        s.CaseTimeout,
		FailOnConsoleError: s.FailOnConsoleError,
		Filter:             filter,
		Logger:             logger,
	})
	for _, suite := range suites {
		runner.AddSuite(suite)
	}

	out := cmd.OutOrStdout()
	interactive := out == os.Stdout && !color.NoColor
	rep := report.New(out,
		report.WithColor(interactive && !f.noColor),
		report.WithSpinner(interactive),
		report.WithProgram(cmd.CommandPath()))

	rep.Start(countCases(suites, filter), len(files))
	results := runner.Run(ctx, rep.Case)
	rep.Summary(results)

	if !results.OK() {
		return ErrCasesFailed
	}
	return nil
}

func countCases(suites []harness.Suite, filter harness.Filter) int {
	n := 0
	for _, s := range suites {
		for _, c := range s.Cases {
			if filter == nil || filter(harness.CaseID{Suite: s.Name, Case: c.Name}) {
				n++
			}
		}
	}
	return n
}

// findSuiteFiles takes files as given and matches pattern inside
// directories. Without arguments it matches pattern in the working directory.
func findSuiteFiles(pattern string, args []string) ([]string, error) {
	if len(args) == 0 {
		return filepath.Glob(pattern)
	}
	var files []string
	for _, arg := range args {
		if strings.HasSuffix(arg, ".test") {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}
