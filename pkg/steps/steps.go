// Package steps turns parsed suite files into runnable harness suites.
package steps

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kidandcat/bankcheck/pkg/demobank"
	"github.com/kidandcat/bankcheck/pkg/expect"
	"github.com/kidandcat/bankcheck/pkg/eyes"
	"github.com/kidandcat/bankcheck/pkg/harness"
	"github.com/kidandcat/bankcheck/pkg/parser"
	"github.com/kidandcat/bankcheck/pkg/site"
)

// Compile builds one harness suite per parsed suite. Every suite gets the
// viewport and site hooks; suites that use eyes_* steps also get the visual
// setup.
func Compile(parsed []parser.Suite, opts demobank.Options) ([]harness.Suite, error) {
	suites := make([]harness.Suite, 0, len(parsed))
	for _, ps := range parsed {
		s, err := compileSuite(ps, opts)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}

func compileSuite(ps parser.Suite, opts demobank.Options) (harness.Suite, error) {
	suite := harness.Suite{Name: ps.Name, Mode: harness.Serial}
	if ps.Parallel {
		suite.Mode = harness.Parallel
	}

	if ps.Width > 0 && ps.Height > 0 {
		opts.Width, opts.Height = ps.Width, ps.Height
	}
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = demobank.DefaultWidth, demobank.DefaultHeight
	}
	suite.Setup = []harness.Hook{
		demobank.Viewport(w, h),
		demobank.ResolveSite(opts.BaseURL, opts.Lookup),
	}
	if opts.ExpectTimeout > 0 {
		suite.Setup = append(suite.Setup, expect.Configure(opts.ExpectTimeout))
	}
	if usesEyes(ps) {
		suite.Setup = append(suite.Setup, demobank.VisualSetup(opts.Visual))
	}

	for _, pt := range ps.Tests {
		c := harness.Case{Name: pt.Name}
		for _, step := range pt.Steps {
			do, err := compileStep(step, opts)
			if err != nil {
				return harness.Suite{}, fmt.Errorf("suite %q, test %q, line %d: %w", ps.Name, pt.Name, step.Line, err)
			}
			c.Steps = append(c.Steps, harness.Step{Name: describe(step), Do: do})
		}
		suite.Cases = append(suite.Cases, c)
	}
	return suite, nil
}

func usesEyes(ps parser.Suite) bool {
	for _, t := range ps.Tests {
		for _, s := range t.Steps {
			if strings.HasPrefix(s.Action, "eyes_") {
				return true
			}
		}
	}
	return false
}

func describe(step parser.Step) string {
	parts := []string{step.Action}
	if step.Soft {
		parts = []string{"soft", step.Action}
	}
	for _, a := range step.Args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}

func values(args []parser.Arg) []string {
	vs := make([]string, len(args))
	for i, a := range args {
		vs[i] = a.Value
	}
	return vs
}

// pattern compiles a /pattern/ argument as is and a quoted one literally.
func pattern(arg parser.Arg) (*regexp.Regexp, error) {
	if arg.Pattern {
		return regexp.Compile(arg.Value)
	}
	return regexp.Compile(regexp.QuoteMeta(arg.Value))
}

func compileStep(step parser.Step, opts demobank.Options) (func(t *harness.T), error) {
	args := step.Args

	switch step.Action {
	case "open_site":
		if len(args) == 0 {
			return demobank.OpenSite, nil
		}
		base := opts.BaseURL
		if base == "" {
			base = site.DefaultBaseURL
		}
		url := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(args[0].Value, "/")
		return func(t *harness.T) {
			if err := t.Page().Navigate(t.Context(), url); err != nil {
				t.Infra("open site", err)
			}
		}, nil

	case "navigate":
		url := args[0].Value
		return func(t *harness.T) {
			t.Must(t.Page().Navigate(t.Context(), url))
		}, nil

	case "viewport":
		w, err := strconv.Atoi(args[0].Value)
		if err != nil {
			return nil, err
		}
		h, err := strconv.Atoi(args[1].Value)
		if err != nil {
			return nil, err
		}
		return func(t *harness.T) {
			t.Must(t.Page().SetViewport(t.Context(), w, h))
		}, nil

	case "fill":
		selector, value := args[0].Value, args[1].Value
		return func(t *harness.T) {
			t.Must(t.Page().Fill(t.Context(), selector, value))
		}, nil

	case "click":
		selector := args[0].Value
		return func(t *harness.T) {
			t.Must(t.Page().Click(t.Context(), selector))
		}, nil

	case "eyes_open":
		app, test := args[0].Value, args[1].Value
		return func(t *harness.T) {
			demobank.OpenEyes(t, app, test)
		}, nil

	case "eyes_check":
		mods, err := parser.ParseCheckModifiers(args[1:])
		if err != nil {
			return nil, err
		}
		name, settings := args[0].Value, checkSettings(mods)
		return func(t *harness.T) {
			demobank.Check(t, name, settings)
		}, nil

	case "eyes_close":
		throwEx := len(args) == 1 && args[0].Value == "throw"
		return func(t *harness.T) {
			demobank.CloseEyes(t, throwEx)
		}, nil
	}

	return compileAssertion(step)
}

func checkSettings(m parser.CheckModifiers) eyes.CheckSettings {
	settings := eyes.Window()
	if m.Region != "" {
		settings = eyes.Region(m.Region)
	}
	if m.Fully {
		settings = settings.Fully()
	}
	if m.Layout {
		settings = settings.MatchLevel(eyes.Layout)
	}
	return settings
}

func compileAssertion(step parser.Step) (func(t *harness.T), error) {
	args := step.Args
	assertions := expect.Hard
	if step.Soft {
		assertions = expect.Soft
	}
	selector := args[0].Value

	switch step.Action {
	case "visible":
		return func(t *harness.T) {
			assertions(t).Visible(selector)
		}, nil

	case "count":
		n, err := strconv.Atoi(args[1].Value)
		if err != nil {
			return nil, fmt.Errorf("count expects a number, got %s", args[1].Value)
		}
		return func(t *harness.T) {
			assertions(t).Count(selector, n)
		}, nil

	case "text":
		want := args[1].Value
		return func(t *harness.T) {
			assertions(t).Text(selector, want)
		}, nil

	case "texts":
		want := values(args[1:])
		return func(t *harness.T) {
			assertions(t).Texts(selector, want...)
		}, nil

	case "contain_text", "match_text":
		re, err := pattern(args[1])
		if err != nil {
			return nil, err
		}
		if step.Action == "match_text" {
			return func(t *harness.T) {
				assertions(t).MatchText(selector, re)
			}, nil
		}
		return func(t *harness.T) {
			assertions(t).ContainText(selector, re)
		}, nil

	case "each_in":
		allowed := values(args[1:])
		return func(t *harness.T) {
			assertions(t).EachTextIn(selector, allowed...)
		}, nil
	}

	return nil, fmt.Errorf("unknown action: %s", step.Action)
}
