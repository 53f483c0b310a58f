package eyes_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kidandcat/bankcheck/internal/visualgrid"
	"github.com/kidandcat/bankcheck/pkg/browser"
	"github.com/kidandcat/bankcheck/pkg/browser/browsertest"
	"github.com/kidandcat/bankcheck/pkg/eyes"
)

const loginPage = `<html><body><div class="logo-w"></div><form><input id="username"></form></body></html>`

type fixture struct {
	service *visualgrid.Server
	client  *eyes.Client
	driver  *browsertest.Driver
}

func newFixture(t *testing.T) *fixture {
	service := visualgrid.New(visualgrid.WithAPIKey("key"), visualgrid.WithEvaluationDelay(20*time.Millisecond))
	srv := httptest.NewServer(service.Handler())
	t.Cleanup(func() {
		srv.Close()
		service.Wait()
	})
	driver := browsertest.NewDriver()
	driver.HTML = loginPage
	return &fixture{
		service: service,
		client:  eyes.NewClient(srv.URL, "key", srv.Client()),
		driver:  driver,
	}
}

func matrix() *eyes.Configuration {
	return eyes.NewConfiguration().
		SetBatch(eyes.NewBatchInfo("Modern Cross Browser Testing in Go")).
		AddBrowser(800, 600, eyes.Chrome).
		AddBrowser(700, 500, eyes.Firefox).
		AddBrowser(1600, 1200, eyes.IE11).
		AddDeviceEmulation(eyes.IPhoneX, eyes.Portrait).
		AddDeviceEmulation(eyes.IPadPro, eyes.Landscape)
}

func (f *fixture) open(t *testing.T, runner *eyes.VisualGridRunner) *eyes.Eyes {
	t.Helper()
	page, err := f.driver.NewPage(context.Background())
	require.NoError(t, err)
	e := eyes.New(runner)
	e.SetConfiguration(matrix())
	require.NoError(t, e.Open(context.Background(), page, "Applitools Demo App", "Login"))
	return e
}

func (f *fixture) runner() *eyes.VisualGridRunner {
	return eyes.NewVisualGridRunner(f.client, 2, eyes.WithPollInterval(time.Millisecond))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOneCheckYieldsOneVerdictPerTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	runner := f.runner()
	e := f.open(t, runner)

	require.NoError(t, e.Check(ctx, "Login page", eyes.Window().Fully()))
	results, err := e.Close(ctx, false)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	summary, err := runner.GetAllTestResults(ctx, false)
	require.NoError(t, err)
	require.Len(t, summary.Containers, 5)
	targets := map[string]bool{}
	for _, c := range summary.Containers {
		require.NoError(t, c.Err)
		require.NotNil(t, c.Results)
		assert.Equal(t, eyes.Passed, c.Results.Status)
		assert.True(t, c.Results.IsNew)
		assert.Equal(t, "Modern Cross Browser Testing in Go", c.Results.Batch.Name)
		targets[c.Target.String()] = true
	}
	assert.Len(t, targets, 5)
	assert.True(t, targets["iPad Pro landscape"])
	assert.Equal(t, 5, summary.Passed())
}

func TestDiffsAreReportedByRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	baseline := f.open(t, f.runner())
	require.NoError(t, baseline.Check(ctx, "Login page", eyes.Window()))
	_, err := baseline.Close(ctx, true)
	require.NoError(t, err)

	f.driver.HTML = `<html><body><div class="logo-w"></div><p>moved</p></body></html>`

	runner := f.runner()
	changed := f.open(t, runner)
	require.NoError(t, changed.Check(ctx, "Login page", eyes.Window()))
	results, err := changed.Close(ctx, false)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	summary, err := runner.GetAllTestResults(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Unresolved())

	_, err = runner.GetAllTestResults(ctx, true)
	var diffs *eyes.DiffsFoundError
	require.ErrorAs(t, err, &diffs)
	assert.Len(t, diffs.Results, 5)
}

func TestLayoutCheckIgnoresText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.open(t, f.runner())
	require.NoError(t, first.Check(ctx, "Main page", eyes.Window().Fully().Layout()))
	_, err := first.Close(ctx, true)
	require.NoError(t, err)

	f.driver.HTML = `<html><body><div class="logo-w">hi</div><form><input id="username" value="andy"></form></body></html>`
	second := f.open(t, f.runner())
	require.NoError(t, second.Check(ctx, "Main page", eyes.Window().Fully().MatchLevel(eyes.Layout)))
	_, err = second.Close(ctx, true)
	assert.NoError(t, err)
}

func TestAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	runner := f.runner()
	e := f.open(t, runner)
	require.NoError(t, e.Check(ctx, "Login page", eyes.Window()))

	require.NoError(t, e.Abort(ctx))
	assert.False(t, e.IsOpen())
	require.NoError(t, e.Abort(ctx))

	summary, err := runner.GetAllTestResults(ctx, false)
	require.NoError(t, err)
	require.Len(t, summary.Containers, 5)
	for _, c := range summary.Containers {
		require.NotNil(t, c.Results)
		assert.Equal(t, eyes.Failed, c.Results.Status)
		assert.True(t, c.Results.Aborted)
	}
	_, err = e.Close(ctx, false)
	assert.ErrorIs(t, err, eyes.ErrNotOpen)
}

func TestAbortAfterCloseIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	runner := f.runner()
	e := f.open(t, runner)
	require.NoError(t, e.Check(ctx, "Login page", eyes.Window()))
	_, err := e.Close(ctx, false)
	require.NoError(t, err)

	require.NoError(t, e.Abort(ctx))
	summary, err := runner.GetAllTestResults(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Passed())
}

func TestAbortBeforeOpenIsNoOp(t *testing.T) {
	f := newFixture(t)
	e := eyes.New(f.runner())
	assert.NoError(t, e.Abort(context.Background()))
	assert.ErrorIs(t, e.Check(context.Background(), "x", eyes.Window()), eyes.ErrNotOpen)
}

func TestOpenErrors(t *testing.T) {
	f := newFixture(t)
	page, err := f.driver.NewPage(context.Background())
	require.NoError(t, err)

	e := eyes.New(f.runner())
	assert.Error(t, e.Open(context.Background(), page, "app", "test"), "no render targets")

	bad := eyes.NewClient(f.client.BaseURL(), "wrong", nil)
	e = eyes.New(eyes.NewVisualGridRunner(bad, 1))
	e.SetConfiguration(matrix())
	err = e.Open(context.Background(), page, "app", "test")
	var apiErr *eyes.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.False(t, e.IsOpen())
}

type brokenPage struct {
	browser.Page
}

func (brokenPage) Content(ctx context.Context) (string, error) {
	return "", errors.New("target crashed")
}

func TestCaptureError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page, err := f.driver.NewPage(ctx)
	require.NoError(t, err)

	e := eyes.New(f.runner())
	e.SetConfiguration(matrix())
	require.NoError(t, e.Open(ctx, brokenPage{page}, "Applitools Demo App", "Login"))
	assert.ErrorContains(t, e.Check(ctx, "Login page", eyes.Window()), "target crashed")
	require.NoError(t, e.Abort(ctx))
}

type blindPage struct {
	browser.Page
}

func (blindPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return nil, errors.New("gpu process gone")
}

func TestRegionCheckTakesNoScreenshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page, err := f.driver.NewPage(ctx)
	require.NoError(t, err)

	e := eyes.New(f.runner())
	e.SetConfiguration(matrix())
	require.NoError(t, e.Open(ctx, blindPage{page}, "Applitools Demo App", "Login"))
	require.NoError(t, e.Check(ctx, "Logo", eyes.Region("div.logo-w")))
	assert.ErrorContains(t, e.Check(ctx, "Login page", eyes.Window()), "gpu process gone")
	_, err = e.Close(ctx, true)
	require.NoError(t, err)
}
