package demobank_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidandcat/bankcheck/internal/visualgrid"
	"github.com/kidandcat/bankcheck/pkg/browser"
	"github.com/kidandcat/bankcheck/pkg/browser/browsertest"
	"github.com/kidandcat/bankcheck/pkg/demobank"
	"github.com/kidandcat/bankcheck/pkg/eyes"
	"github.com/kidandcat/bankcheck/pkg/harness"
	"github.com/kidandcat/bankcheck/pkg/site"
)

func demoSite(t *testing.T) string {
	srv := httptest.NewServer(http.FileServer(http.Dir("testdata/site")))
	t.Cleanup(srv.Close)
	return srv.URL
}

func env(value string) site.LookupFunc {
	return func(key string) (string, bool) {
		if key == site.EnvVar {
			return value, true
		}
		return "", false
	}
}

func run(t *testing.T, suite harness.Suite) harness.Result {
	t.Helper()
	driver, err := browser.Open("static", browser.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer driver.Close()

	r := harness.NewRunner(driver, &harness.Config{Workers: 2, CaseTimeout: time.Minute})
	r.AddSuite(suite)
	results := r.Run(context.Background(), nil)
	require.Len(t, results.Cases, 1)
	return results.Cases[0]
}

func TestFunctionalPassesOnOriginalSite(t *testing.T) {
	res := run(t, demobank.Functional(demobank.Options{
		BaseURL:       demoSite(t),
		Lookup:        env("original"),
		ExpectTimeout: 200 * time.Millisecond,
	}))

	for _, err := range res.Errors {
		t.Log(err)
	}
	assert.Equal(t, harness.Passed, res.Outcome)
	assert.Equal(t, 7, res.StepsRun)
	assert.Equal(t, demobank.FunctionalSuite+"/"+demobank.CaseName, res.ID.String())
}

func TestFunctionalReportsEverySoftFailure(t *testing.T) {
	res := run(t, demobank.Functional(demobank.Options{
		BaseURL:       demoSite(t),
		Lookup:        env("v2"),
		ExpectTimeout: 100 * time.Millisecond,
	}))

	assert.Equal(t, harness.AssertionFailed, res.Outcome)
	assert.Equal(t, 7, res.StepsRun, "soft failures must not stop later steps")
	require.Len(t, res.Errors, 3)

	var messages []string
	for _, err := range res.Errors {
		var ae *harness.AssertionError
		require.ErrorAs(t, err, &ae)
		assert.True(t, ae.Soft)
		messages = append(messages, ae.Locator+" "+ae.Actual)
	}
	assert.Contains(t, messages[0], "text=Make Payment")
	assert.Contains(t, messages[1], "ul.main-menu li span")
	assert.Contains(t, messages[2], `"Bogus"`)
}

func TestFunctionalHardFailureStops(t *testing.T) {
	driver := browsertest.NewDriver()
	driver.Set("div.logo-w", browsertest.Visible("")...)

	r := harness.NewRunner(driver, &harness.Config{Workers: 1})
	r.AddSuite(demobank.Functional(demobank.Options{Lookup: env(""), ExpectTimeout: 50 * time.Millisecond}))
	res := r.Run(context.Background(), nil).Cases[0]

	assert.Equal(t, harness.AssertionFailed, res.Outcome)
	assert.Equal(t, 2, res.StepsRun)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "id=username")

	page := driver.Pages()[0]
	w, h := page.Viewport()
	assert.Equal(t, 1600, w)
	assert.Equal(t, 1200, h)
	assert.Equal(t, site.DefaultBaseURL, page.Actions()[1].Target)
}

func TestUnreachableSiteIsInfra(t *testing.T) {
	res := run(t, demobank.Functional(demobank.Options{BaseURL: "http://127.0.0.1:1", Lookup: env("")}))

	assert.Equal(t, harness.InfraFailed, res.Outcome)
	assert.Equal(t, 1, res.StepsRun)
}

func TestErrorPageIsInfra(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := run(t, demobank.Functional(demobank.Options{BaseURL: srv.URL, Lookup: env("")}))

	assert.Equal(t, harness.InfraFailed, res.Outcome)
	assert.Equal(t, 1, res.StepsRun)
	require.Len(t, res.Errors, 1)
	var ne *browser.NavigationError
	require.ErrorAs(t, res.Errors[0], &ne)
	assert.Equal(t, http.StatusServiceUnavailable, ne.Status)
}

type collected struct {
	mu        sync.Mutex
	summaries []*eyes.TestResultsSummary
}

func (c *collected) add(_ harness.CaseID, s *eyes.TestResultsSummary) {
	c.mu.Lock()
	c.summaries = append(c.summaries, s)
	c.mu.Unlock()
}

func TestVisualSuite(t *testing.T) {
	service := visualgrid.New(visualgrid.WithAPIKey("key"))
	srv := httptest.NewServer(service.Handler())
	defer func() {
		srv.Close()
		service.Wait()
	}()
	base := demoSite(t)

	var got collected
	opts := func(variant string) demobank.Options {
		return demobank.Options{
			BaseURL: base,
			Lookup:  env(variant),
			Visual: demobank.VisualOptions{
				Client:       eyes.NewClient(srv.URL, "key", srv.Client()),
				Batch:        eyes.NewBatchInfo(demobank.BatchName),
				PollInterval: time.Millisecond,
				OnResults:    got.add,
			},
		}
	}

	res := run(t, demobank.Visual(opts("original")))
	assert.Equal(t, harness.Passed, res.Outcome)
	assert.Equal(t, 6, res.StepsRun)
	require.Len(t, got.summaries, 1)
	first := got.summaries[0]
	require.Len(t, first.Containers, 10)
	for _, c := range first.Containers {
		require.NotNil(t, c.Results, c.Target.String())
		assert.Equal(t, eyes.Passed, c.Results.Status)
		assert.True(t, c.Results.IsNew)
		assert.Len(t, c.Results.Checkpoints, 2)
	}

	res = run(t, demobank.Visual(opts("v2")))
	assert.Equal(t, harness.Passed, res.Outcome, "visual differences do not fail the case")
	require.Len(t, got.summaries, 2)
	second := got.summaries[1]
	require.Len(t, second.Containers, 10)
	assert.Equal(t, 10, second.Unresolved())
	for _, c := range second.Containers {
		require.NotNil(t, c.Results)
		assert.Equal(t, 2, c.Results.Mismatches())
	}
}

func TestVisualSetupNeedsService(t *testing.T) {
	res := run(t, demobank.Visual(demobank.Options{BaseURL: demoSite(t)}))
	assert.Equal(t, harness.InfraFailed, res.Outcome)
	assert.Equal(t, 0, res.StepsRun)
}
