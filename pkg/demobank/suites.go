package demobank

import (
	"errors"
	"regexp"

	"github.com/kidandcat/bankcheck/pkg/expect"
	"github.com/kidandcat/bankcheck/pkg/eyes"
	"github.com/kidandcat/bankcheck/pkg/harness"
)

var (
	closingTime = regexp.MustCompile(`Your nearest branch closes in:( \d+[hms])+`)

	menuLabels = []string{"Card types", "Credit cards", "Debit cards", "Lending", "Loans", "Mortgages"}
	statuses   = []string{"Complete", "Pending", "Declined"}
	actions    = []string{"Add Account", "Make Payment", "View Statement", "Request Increase", "Pay Now"}
)

func setup(opts Options) []harness.Hook {
	w, h := opts.viewport()
	hooks := []harness.Hook{Viewport(w, h), ResolveSite(opts.BaseURL, opts.Lookup)}
	if opts.ExpectTimeout > 0 {
		hooks = append(hooks, expect.Configure(opts.ExpectTimeout))
	}
	return hooks
}

// Functional checks the login page and the main page element by element.
func Functional(opts Options) harness.Suite {
	return harness.Suite{
		Name:  FunctionalSuite,
		Mode:  harness.Parallel,
		Setup: setup(opts),
		Cases: []harness.Case{{
			Name: CaseName,
			Steps: []harness.Step{
				{Name: "load login page", Do: OpenSite},
				{Name: "verify login page", Do: func(t *harness.T) {
					a := expect.Hard(t)
					a.Visible("div.logo-w")
					a.Visible("id=username")
					a.Visible("id=password")
					a.Visible("id=log-in")
					a.Visible("input.form-check-input")
				}},
				{Name: "perform login", Do: Login},
				{Name: "check page elements", Do: func(t *harness.T) {
					a := expect.Soft(t)
					a.Visible("div.logo-w")
					a.Visible("div.element-search.autosuggest-search-activator > input")
					a.Visible("ul.main-menu")
					a.Count("div.avatar-w img", 2)
					for _, label := range actions {
						a.Visible("text=" + label)
					}
				}},
				{Name: "check time message", Do: func(t *harness.T) {
					expect.Soft(t).ContainText("id=time", closingTime)
				}},
				{Name: "check menu element names", Do: func(t *harness.T) {
					expect.Soft(t).Texts("ul.main-menu li span", menuLabels...)
				}},
				{Name: "check transaction statuses", Do: func(t *harness.T) {
					expect.Soft(t).EachTextIn("span.status-pill + span", statuses...)
				}},
			},
		}},
	}
}

// Visual checks the login page and the main page on every render target of
// Matrix.
func Visual(opts Options) harness.Suite {
	return harness.Suite{
		Name:  VisualSuite,
		Mode:  harness.Parallel,
		Setup: append(setup(opts), VisualSetup(opts.Visual)),
		Cases: []harness.Case{{
			Name: CaseName,
			Steps: []harness.Step{
				{Name: "open eyes", Do: func(t *harness.T) {
					OpenEyes(t, AppName, TestName)
				}},
				{Name: "load login page", Do: OpenSite},
				{Name: "check login page", Do: func(t *harness.T) {
					Check(t, "Login page", eyes.Window().Fully())
				}},
				{Name: "perform login", Do: Login},
				{Name: "check main page", Do: func(t *harness.T) {
					Check(t, "Main page", eyes.Window().MatchLevel(eyes.Layout).Fully())
				}},
				{Name: "close eyes", Do: func(t *harness.T) {
					CloseEyes(t, false)
				}},
			},
		}},
	}
}

// OpenEyes starts the case's visual sessions on its page.
func OpenEyes(t *harness.T, app, test string) {
	if err := EyesFrom(t).Open(t.Context(), t.Page(), app, test); err != nil {
		t.Infra("eyes open", err)
	}
}

func Check(t *harness.T, name string, settings eyes.CheckSettings) {
	if err := EyesFrom(t).Check(t.Context(), name, settings); err != nil {
		t.Infra("eyes check", err)
	}
}

// CloseEyes closes the case's visual sessions. With throwEx, differences
// fail the case; otherwise they are only reported once collected.
func CloseEyes(t *harness.T, throwEx bool) []eyes.TestResults {
	results, err := EyesFrom(t).Close(t.Context(), throwEx)
	var diffs *eyes.DiffsFoundError
	switch {
	case err == nil:
	case errors.As(err, &diffs):
		t.Fail(diffs)
	default:
		t.Infra("eyes close", err)
	}
	return results
}
