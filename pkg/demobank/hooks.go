// Package demobank holds the suites run against the demo banking app and the
// hooks they share with suites compiled from files.
package demobank

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kidandcat/bankcheck/pkg/eyes"
	"github.com/kidandcat/bankcheck/pkg/harness"
	"github.com/kidandcat/bankcheck/pkg/site"
)

const (
	FunctionalSuite = "A traditional test"
	VisualSuite     = "A visual test"
	CaseName        = "should log into the demo app"

	AppName   = "Applitools Demo App"
	TestName  = "Login"
	BatchName = "Modern Cross Browser Testing in Go"

	Username = "andy"
	Password = "i<3pandas"

	DefaultWidth       = 1600
	DefaultHeight      = 1200
	DefaultConcurrency = 5
)

type Options struct {
	// BaseURL defaults to the public demo site.
	BaseURL string
	// Lookup reads DEMO_SITE; nil reads the process environment.
	Lookup        site.LookupFunc
	Width, Height int
	ExpectTimeout time.Duration
	Visual        VisualOptions
}

type VisualOptions struct {
	Client       *eyes.Client
	Batch        eyes.BatchInfo
	Concurrency  int
	PollInterval time.Duration
	Logger       zerolog.Logger
	// OnResults receives every case's verdicts after its cleanup collected
	// them.
	OnResults func(harness.CaseID, *eyes.TestResultsSummary)
}

func (o Options) viewport() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 || h <= 0 {
		return DefaultWidth, DefaultHeight
	}
	return w, h
}

// Viewport sizes the case's page.
func Viewport(width, height int) harness.Hook {
	return func(t *harness.T) error {
		return t.Page().SetViewport(t.Context(), width, height)
	}
}

type siteKey struct{}

// ResolveSite picks the site variant from DEMO_SITE and records the login
// page URL for OpenSite.
func ResolveSite(base string, lookup site.LookupFunc) harness.Hook {
	if base == "" {
		base = site.DefaultBaseURL
	}
	return func(t *harness.T) error {
		variant := site.FromEnv(lookup)
		url := variant.URL(base)
		t.Set(siteKey{}, url)
		t.Logger().Debug().Str("variant", variant.String()).Str("url", url).Msg("site resolved")
		return nil
	}
}

// SiteURL is the login page URL chosen by ResolveSite.
func SiteURL(t *harness.T) string {
	url, _ := t.Value(siteKey{}).(string)
	if url == "" {
		return site.Original.URL(site.DefaultBaseURL)
	}
	return url
}

// OpenSite loads the login page. An unreachable site stops the case as an
// infrastructure failure.
func OpenSite(t *harness.T) {
	if err := t.Page().Navigate(t.Context(), SiteURL(t)); err != nil {
		t.Infra("load login page", err)
	}
}

func Login(t *harness.T) {
	ctx, page := t.Context(), t.Page()
	t.Must(page.Fill(ctx, "id=username", Username))
	t.Must(page.Fill(ctx, "id=password", Password))
	t.Must(page.Click(ctx, "id=log-in"))
}

// Matrix is the set of render targets every visual checkpoint is rendered on.
func Matrix(batch eyes.BatchInfo) *eyes.Configuration {
	return eyes.NewConfiguration().
		SetBatch(batch).
		AddBrowser(800, 600, eyes.Chrome).
		AddBrowser(700, 500, eyes.Firefox).
		AddBrowser(1600, 1200, eyes.IE11).
		AddBrowser(1024, 768, eyes.EdgeChromium).
		AddBrowser(800, 600, eyes.Safari).
		AddDeviceEmulation(eyes.IPhoneX, eyes.Portrait).
		AddDeviceEmulation(eyes.Pixel2, eyes.Portrait).
		AddDeviceEmulation(eyes.GalaxyS5, eyes.Portrait).
		AddDeviceEmulation(eyes.Nexus10, eyes.Portrait).
		AddDeviceEmulation(eyes.IPadPro, eyes.Landscape)
}

type visualKey struct{}

type visualSession struct {
	runner *eyes.VisualGridRunner
	eyes   *eyes.Eyes
}

const collectTimeout = 2 * time.Minute

// VisualSetup gives the case its own runner and Eyes. The cleanup it
// registers aborts whatever was left open and logs the verdicts.
func VisualSetup(opts VisualOptions) harness.Hook {
	return func(t *harness.T) error {
		if opts.Client == nil {
			return errors.New("no visual service configured")
		}
		concurrency := opts.Concurrency
		if concurrency <= 0 {
			concurrency = DefaultConcurrency
		}
		batch := opts.Batch
		if batch.ID == "" {
			name := batch.Name
			if name == "" {
				name = BatchName
			}
			batch = eyes.NewBatchInfo(name)
		}

		runnerOpts := []eyes.RunnerOption{eyes.WithLogger(*t.Logger())}
		if opts.PollInterval > 0 {
			runnerOpts = append(runnerOpts, eyes.WithPollInterval(opts.PollInterval))
		}
		runner := eyes.NewVisualGridRunner(opts.Client, concurrency, runnerOpts...)
		e := eyes.New(runner)
		e.SetConfiguration(Matrix(batch))
		t.Set(visualKey{}, &visualSession{runner: runner, eyes: e})

		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(t.Context()), collectTimeout)
			defer cancel()
			if err := e.Abort(ctx); err != nil {
				t.Logger().Warn().Err(err).Msg("aborting visual session")
			}
			summary, err := runner.GetAllTestResults(ctx, false)
			if err != nil {
				t.Logger().Warn().Err(err).Msg("collecting visual results")
				return
			}
			logResults(t.Logger(), summary)
			if opts.OnResults != nil {
				opts.OnResults(t.ID(), summary)
			}
		})
		return nil
	}
}

func logResults(logger *zerolog.Logger, summary *eyes.TestResultsSummary) {
	for _, c := range summary.Containers {
		ev := logger.Info().Str("target", c.Target.String())
		if c.Results != nil {
			ev = ev.Str("status", string(c.Results.Status)).
				Bool("new", c.Results.IsNew).
				Int("mismatches", c.Results.Mismatches())
		}
		if c.Err != nil {
			ev = ev.AnErr("error", c.Err)
		}
		ev.Msg("Visual test results")
	}
	logger.Info().
		Int("passed", summary.Passed()).
		Int("unresolved", summary.Unresolved()).
		Int("failed", summary.Failed()).
		Msg("Visual test summary")
}

// EyesFrom returns the Eyes created by VisualSetup, stopping the case when
// the suite has none.
func EyesFrom(t *harness.T) *eyes.Eyes {
	s, ok := t.Value(visualKey{}).(*visualSession)
	if !ok {
		t.Infra("eyes", errors.New("suite has no visual setup"))
	}
	return s.eyes
}
